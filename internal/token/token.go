package token

import (
	"context"
	"time"
)

// ExpiryMargin is the minimum remaining validity a cached token must have to
// be served without a refresh. It covers the time the caller needs to present
// the token downstream before it lapses.
const ExpiryMargin = 30 * time.Second

// AuthToken is a credential issued for exactly one channel, valid until
// Expiration.
type AuthToken struct {
	Identifier string
	Token      string
	Expiration time.Time
}

// IdentitySource reports the live channel identifier. It is owned and updated
// elsewhere: the provider only reads it.
type IdentitySource interface {
	Identifier() string
}

// FetchResult is the outcome of a request that reached the remote token API.
// Success is false when the API answered but did not issue a token; StatusCode
// then records what it answered.
type FetchResult struct {
	Success    bool
	StatusCode int
	Token      string
	TTL        time.Duration
}

// Source fetches a new token for a channel from the remote API. Errors are
// returned for requests that could not be completed at all.
type Source interface {
	Fetch(ctx context.Context, identifier string) (FetchResult, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context, identifier string) (FetchResult, error)

func (f SourceFunc) Fetch(ctx context.Context, identifier string) (FetchResult, error) {
	return f(ctx, identifier)
}
