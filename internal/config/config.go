package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	API     APIConfig
	Channel ChannelConfig
	Observe ObserveConfig
	Server  ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// APIConfig specifies how channel auth tokens are requested.
type APIConfig struct {
	// URL is the base URL of the device auth API.
	URL string `env:"AUTH_API_URL, default=https://device-api.urbanairship.com"`

	// AppKey identifies the application to the API.
	AppKey string `env:"AUTH_APP_KEY, required"`

	// AppSecret signs token requests. It is never sent to the API.
	AppSecret string `env:"AUTH_APP_SECRET, required"`

	// RequestTimeoutSeconds bounds a single token request.
	RequestTimeoutSeconds int `env:"AUTH_REQUEST_TIMEOUT_SECS, default=30"`
}

// ChannelConfig specifies where the live channel identifier comes from. Exactly
// one of ID or IDFile must be set.
type ChannelConfig struct {
	// ID is a fixed channel identifier.
	ID string `env:"CHANNEL_ID"`

	// IDFile is a file holding the channel identifier, re-read periodically so
	// that re-registration under a new channel is picked up.
	IDFile string `env:"CHANNEL_ID_FILE"`

	RefreshIntervalSeconds int `env:"CHANNEL_REFRESH_INTERVAL_SECS, default=60"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=channel-auth-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.API.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid auth API configuration: %w", err)
	}

	err = cfg.Channel.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid channel configuration: %w", err)
	}

	err = cfg.Observe.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid observe configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the API configuration is usable.
func (c *APIConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("AUTH_API_URL is not a valid URL: %w", err)
	}

	if !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("AUTH_API_URL must be an absolute http(s) URL")
	}

	if c.RequestTimeoutSeconds <= 0 {
		return errors.New("AUTH_REQUEST_TIMEOUT_SECS must be positive")
	}

	return nil
}

// Validate checks that exactly one channel source is configured.
func (c *ChannelConfig) Validate() error {
	if c.ID == "" && c.IDFile == "" {
		return errors.New("one of CHANNEL_ID or CHANNEL_ID_FILE is required")
	}

	if c.ID != "" && c.IDFile != "" {
		return errors.New("CHANNEL_ID and CHANNEL_ID_FILE cannot both be set")
	}

	if c.IDFile != "" && c.RefreshIntervalSeconds <= 0 {
		return errors.New("CHANNEL_REFRESH_INTERVAL_SECS must be positive")
	}

	return nil
}

// Validate checks the exporter type is known.
func (c *ObserveConfig) Validate() error {
	switch c.Type {
	case "grpc", "stdout":
		return nil
	default:
		return fmt.Errorf("OBSERVE_TYPE must be one of grpc, stdout: %q", c.Type)
	}
}
