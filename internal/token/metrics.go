package token

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chinmina/channel-auth-bridge/internal/token"

// resolve outcomes
const (
	outcomeHit         = "hit"
	outcomeRefreshed   = "refreshed"
	outcomeStale       = "stale_identity"
	outcomeFetchFailed = "fetch_failed"
)

// fetch statuses
const (
	fetchStatusSuccess = "success"
	fetchStatusFailure = "failure"
	fetchStatusError   = "error"
)

type providerMetrics struct {
	resolves      metric.Int64Counter
	fetchDuration metric.Float64Histogram
	invalidations metric.Int64Counter
}

func newProviderMetrics(mp metric.MeterProvider) providerMetrics {
	meter := mp.Meter(instrumentationName)

	var (
		m   providerMetrics
		err error
	)

	m.resolves, err = meter.Int64Counter(
		"token.resolve",
		metric.WithDescription("Auth token resolutions by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.fetchDuration, err = meter.Float64Histogram(
		"token.fetch.duration",
		metric.WithDescription("Remote auth token fetch duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.invalidations, err = meter.Int64Counter(
		"token.invalidate",
		metric.WithDescription("Auth token invalidation requests"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return m
}

func (m providerMetrics) recordResolve(ctx context.Context, outcome string) {
	if m.resolves == nil {
		return
	}
	m.resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("token.outcome", outcome)))
}

func (m providerMetrics) recordFetch(ctx context.Context, status string, duration time.Duration) {
	if m.fetchDuration == nil {
		return
	}
	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("token.fetch.status", status)))
}

func (m providerMetrics) recordInvalidate(ctx context.Context, cleared bool) {
	if m.invalidations == nil {
		return
	}
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("token.cleared", cleared)))
}
