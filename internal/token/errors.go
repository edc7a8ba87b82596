package token

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStaleIdentity indicates a token was requested for a channel that is
	// no longer the live channel.
	ErrStaleIdentity = errors.New("stale channel identity")

	// ErrFetchFailed indicates the remote API did not supply a token.
	ErrFetchFailed = errors.New("auth token fetch failed")
)

// StaleIdentityError is returned when the requested channel does not match the
// live channel. The caller should look up the current channel rather than
// retrying the same request.
type StaleIdentityError struct {
	Requested string
}

func (e StaleIdentityError) Error() string {
	return fmt.Sprintf("unable to resolve auth for stale channel %q", e.Requested)
}

func (e StaleIdentityError) Is(target error) bool {
	return target == ErrStaleIdentity
}

func (e StaleIdentityError) Status() (int, string) {
	return http.StatusConflict, "stale channel identity"
}

// FetchFailedError is returned when a token could not be obtained from the
// remote API. Nothing is cached as a result of the failed attempt.
type FetchFailedError struct {
	Identifier string
	// StatusCode is set when the API answered with an unsuccessful response.
	StatusCode int
	// Cause is set when the request itself failed.
	Cause error
}

func (e FetchFailedError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("failed to fetch auth token for channel %q: %v", e.Identifier, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("failed to fetch auth token for channel %q: status %d", e.Identifier, e.StatusCode)
	default:
		return fmt.Sprintf("failed to fetch auth token for channel %q", e.Identifier)
	}
}

func (e FetchFailedError) Unwrap() error {
	return e.Cause
}

func (e FetchFailedError) Is(target error) bool {
	return target == ErrFetchFailed
}

func (e FetchFailedError) Status() (int, string) {
	return http.StatusBadGateway, "auth token unavailable"
}
