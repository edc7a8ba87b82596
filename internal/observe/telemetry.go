package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/config"
	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the telemetry providers.
type ShutdownFunc func(context.Context) error

// Configure sets up the global OpenTelemetry providers. When telemetry is
// disabled the globals are left as no-ops and the returned shutdown does
// nothing.
func Configure(ctx context.Context, cfg config.ObserveConfig) (ShutdownFunc, error) {
	configureSDKLogging(cfg.SDKLogLevel)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		log.Info().Msg("telemetry: disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource creation failed: %w", err)
	}

	var shutdowns []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	traceExporter, err := newTraceExporter(ctx, cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("trace exporter creation failed: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(time.Duration(cfg.TraceBatchTimeoutSeconds)*time.Second),
		),
	)
	otel.SetTracerProvider(tracerProvider)
	shutdowns = append(shutdowns, tracerProvider.Shutdown)

	if cfg.MetricsEnabled {
		metricExporter, err := newMetricExporter(ctx, cfg.Type)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("metric exporter creation failed: %w", err)
		}

		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(time.Duration(cfg.MetricReadIntervalSeconds)*time.Second),
			)),
		)
		otel.SetMeterProvider(meterProvider)
		shutdowns = append(shutdowns, meterProvider.Shutdown)
	}

	log.Info().
		Str("type", cfg.Type).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("telemetry: configured")

	return shutdown, nil
}

func newTraceExporter(ctx context.Context, exporterType string) (sdktrace.SpanExporter, error) {
	switch exporterType {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "grpc":
		return otlptracegrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %q", exporterType)
	}
}

func newMetricExporter(ctx context.Context, exporterType string) (sdkmetric.Exporter, error) {
	switch exporterType {
	case "stdout":
		return stdoutmetric.New()
	case "grpc":
		return otlpmetricgrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %q", exporterType)
	}
}

// configureSDKLogging routes the OTel SDK's internal logging through zerolog.
func configureSDKLogging(level string) {
	// level filtering is done by the zerolog logger below
	zerologr.SetMaxV(8)

	sdkLogger := log.Logger.
		With().Str("component", "otel").Logger().
		Level(sdkLogLevel(level))

	var sdkLog logr.Logger = zerologr.New(&sdkLogger)
	otel.SetLogger(sdkLog)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		sdkLogger.Warn().Err(err).Msg("telemetry: SDK error")
	}))
}

// sdkLogLevel maps a level name to the zerolog level admitting the matching
// logr verbosity used by the OTel SDK (warn V(1), info V(4), debug V(8)).
// zerologr maps V(n) to zerolog level 1-n.
func sdkLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.Level(1 - 8)
	case "info":
		return zerolog.Level(1 - 4)
	case "warn":
		return zerolog.Level(1 - 1)
	default:
		return zerolog.ErrorLevel
	}
}

// HTTPTransport instruments outgoing requests made through wrapped, when
// telemetry and transport instrumentation are both enabled.
func HTTPTransport(wrapped http.RoundTripper, cfg config.ObserveConfig) http.RoundTripper {
	if !cfg.Enabled || !cfg.HTTPTransportEnabled {
		return wrapped
	}

	var opts []otelhttp.Option
	if cfg.HTTPConnectionTraceEnabled {
		opts = append(opts, otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}))
	}

	return otelhttp.NewTransport(wrapped, opts...)
}
