package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/authapi"
	"github.com/chinmina/channel-auth-bridge/internal/channel"
	"github.com/chinmina/channel-auth-bridge/internal/config"
	"github.com/chinmina/channel-auth-bridge/internal/observe"
	"github.com/chinmina/channel-auth-bridge/internal/server"
	"github.com/chinmina/channel-auth-bridge/internal/token"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// The request body size is fairly limited to prevent accidental or deliberate
// abuse: requests only ever carry a channel ID or a token.
const requestLimitBytes = int64(20 << 10) // 20 KB

func configureServerRoutes(provider *token.Provider, identity token.IdentitySource) http.Handler {
	// routes registered on the mux are instrumented by default
	mux := observe.NewMux()

	standardRouteMiddleware := alice.New(maxRequestSize(requestLimitBytes))

	mux.Handle("POST /auth/token", standardRouteMiddleware.Then(handlePostToken(provider)))
	mux.Handle("POST /auth/token/expired", standardRouteMiddleware.Then(handlePostTokenExpired(provider)))
	mux.Handle("GET /channel", standardRouteMiddleware.Then(handleGetChannel(identity)))

	// healthchecks are not included in telemetry
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	identity, err := configureChannelIdentity(ctx, cfg.Channel, hooks)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return fmt.Errorf("channel identity configuration failed: %w", err)
	}

	api, err := authapi.New(cfg.API, authapi.WithHTTPClient(http.DefaultClient))
	if err != nil {
		_ = hooks.Execute(ctx)
		_ = shutdownTelemetry(ctx)
		return fmt.Errorf("auth API configuration failed: %w", err)
	}

	provider := token.NewProvider(identity, api)

	// telemetry is flushed last so that shutdown of everything else is recorded
	hooks.Add("telemetry", shutdownTelemetry)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		_ = hooks.Execute(ctx)
		return fmt.Errorf("listen failed: %w", err)
	}

	httpServer := &http.Server{
		Handler:           configureServerRoutes(provider, identity),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	err = server.Serve(ctx, httpServer, listener, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// configureChannelIdentity supplies the live channel identifier, either fixed
// from configuration or kept up to date from a file.
func configureChannelIdentity(ctx context.Context, cfg config.ChannelConfig, hooks *server.ShutdownHooks) (*channel.Store, error) {
	if cfg.IDFile == "" {
		log.Info().Str("channel", cfg.ID).Msg("channel identity: fixed from configuration")
		return channel.NewStore(cfg.ID), nil
	}

	interval := time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	watcher, err := channel.NewWatcher(ctx, cfg.IDFile, interval)
	if err != nil {
		return nil, err
	}
	hooks.AddCloser("channel-watcher", watcher)

	return watcher.Store(), nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
