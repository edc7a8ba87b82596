package token

import (
	"context"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/clock"
	"github.com/chinmina/channel-auth-bridge/internal/expiring"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Provider resolves the auth token for the live channel. One token is cached
// at a time; it is served while it has at least ExpiryMargin of validity left,
// and otherwise replaced by a token fetched from the Source.
//
// Concurrent resolves that miss the cache for the same channel share a single
// fetch. No lock is held while the fetch is in progress.
type Provider struct {
	identity IdentitySource
	source   Source
	clock    clock.Clock
	tracer   trace.Tracer
	metrics  providerMetrics

	cached  *expiring.Slot[AuthToken]
	flights singleflight.Group
}

type providerOptions struct {
	clock          clock.Clock
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

// WithClock sets the time source used for expiry. Defaults to the system clock.
func WithClock(c clock.Clock) ProviderOption {
	return func(o *providerOptions) {
		o.clock = c
	}
}

// WithMeterProvider sets the meter provider for provider metrics. Defaults to
// the global provider.
func WithMeterProvider(mp metric.MeterProvider) ProviderOption {
	return func(o *providerOptions) {
		o.meterProvider = mp
	}
}

// WithTracerProvider sets the tracer provider used to trace fetches. Defaults
// to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ProviderOption {
	return func(o *providerOptions) {
		o.tracerProvider = tp
	}
}

// NewProvider creates a provider with an empty cache.
func NewProvider(identity IdentitySource, source Source, opts ...ProviderOption) *Provider {
	options := &providerOptions{
		clock:          clock.System,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Provider{
		identity: identity,
		source:   source,
		clock:    options.clock,
		tracer:   options.tracerProvider.Tracer(instrumentationName),
		metrics:  newProviderMetrics(options.meterProvider),
		cached:   expiring.NewSlot[AuthToken](options.clock),
	}
}

// ResolveAuth returns a usable token for the given channel. It fails with
// ErrStaleIdentity if the channel is not the live channel, and with
// ErrFetchFailed if a new token was needed and could not be fetched.
func (p *Provider) ResolveAuth(ctx context.Context, identifier string) (string, error) {
	if p.identity.Identifier() != identifier {
		p.metrics.recordResolve(ctx, outcomeStale)
		return "", StaleIdentityError{Requested: identifier}
	}

	if cached, ok := p.usable(identifier); ok {
		log.Ctx(ctx).Debug().
			Str("channel", identifier).
			Time("expiry", cached.Expiration).
			Msg("hit: cached auth token found for channel")

		p.metrics.recordResolve(ctx, outcomeHit)
		return cached.Token, nil
	}

	// A token for another channel can never be served again.
	if p.cached.ClearIf(func(t AuthToken) bool { return t.Identifier != identifier }) {
		log.Ctx(ctx).Debug().
			Str("channel", identifier).
			Msg("invalid: cached auth token issued for different channel")
	}

	// The shared fetch is detached from the cancellation of whichever caller
	// starts it; each caller still stops waiting when its own context ends.
	fetchCtx := context.WithoutCancel(ctx)
	flight := p.flights.DoChan(identifier, func() (any, error) {
		return p.refresh(fetchCtx, identifier)
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			p.metrics.recordResolve(ctx, outcomeFetchFailed)
			return "", res.Err
		}

		p.metrics.recordResolve(ctx, outcomeRefreshed)
		return res.Val.(AuthToken).Token, nil

	case <-ctx.Done():
		p.metrics.recordResolve(ctx, outcomeFetchFailed)
		return "", FetchFailedError{Identifier: identifier, Cause: ctx.Err()}
	}
}

// Invalidate removes the cached token if it is the given token. A token that
// has already been replaced, or an empty cache, is left alone.
func (p *Provider) Invalidate(ctx context.Context, token string) {
	cleared := p.cached.ClearIf(func(t AuthToken) bool {
		return t.Token == token
	})

	log.Ctx(ctx).Debug().Bool("cleared", cleared).Msg("auth token invalidation requested")
	p.metrics.recordInvalidate(ctx, cleared)
}

// Cached returns the currently cached token, if any, regardless of expiry.
func (p *Provider) Cached() (AuthToken, bool) {
	return p.cached.Get()
}

// usable returns the cached token if it belongs to the channel and will stay
// valid for at least the expiry margin.
func (p *Provider) usable(identifier string) (AuthToken, bool) {
	cached, remaining, ok := p.cached.Snapshot()
	if !ok || cached.Identifier != identifier || remaining < ExpiryMargin {
		return AuthToken{}, false
	}

	return cached, true
}

// refresh runs inside a single flight: it fetches and caches a new token for
// the channel. The slot is only written on success.
func (p *Provider) refresh(ctx context.Context, identifier string) (AuthToken, error) {
	// a flight that finished just before this one started may already have
	// cached a token
	if cached, ok := p.usable(identifier); ok {
		return cached, nil
	}

	ctx, span := p.tracer.Start(ctx, "token.fetch",
		trace.WithAttributes(attribute.String("channel.id", identifier)),
	)
	defer span.End()

	log.Ctx(ctx).Debug().Str("channel", identifier).Msg("miss: fetching auth token for channel")

	start := time.Now()
	result, err := p.source.Fetch(ctx, identifier)
	duration := time.Since(start)

	if err != nil {
		p.metrics.recordFetch(ctx, fetchStatusError, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return AuthToken{}, FetchFailedError{Identifier: identifier, Cause: err}
	}

	// cached tokens must expire in the future
	if !result.Success || result.Token == "" || result.TTL <= 0 {
		p.metrics.recordFetch(ctx, fetchStatusFailure, duration)
		span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
		span.SetStatus(codes.Error, "unsuccessful response")
		return AuthToken{}, FetchFailedError{Identifier: identifier, StatusCode: result.StatusCode}
	}

	p.metrics.recordFetch(ctx, fetchStatusSuccess, duration)

	token := AuthToken{
		Identifier: identifier,
		Token:      result.Token,
		Expiration: p.clock.Now().Add(result.TTL),
	}
	p.cached.Set(token, token.Expiration)

	return token, nil
}
