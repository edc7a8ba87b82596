package tokentest

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/token"
)

// Result is a scripted response from Source.
type Result struct {
	token.FetchResult
	Err error
}

// Success is a result issuing tok valid for ttl.
func Success(tok string, ttl time.Duration) Result {
	return Result{FetchResult: token.FetchResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Token:      tok,
		TTL:        ttl,
	}}
}

// Unsuccessful is a result where the API answered without issuing a token.
func Unsuccessful(statusCode int) Result {
	return Result{FetchResult: token.FetchResult{StatusCode: statusCode}}
}

// Failure is a result where the request could not be completed.
func Failure(err error) Result {
	return Result{Err: err}
}

// Source is a scripted token.Source. Each Fetch returns the next result in
// sequence; the final result repeats once the sequence is exhausted.
type Source struct {
	mu          sync.Mutex
	results     []Result
	next        int
	identifiers []string
	calls       atomic.Int32

	// Latency delays every fetch.
	Latency time.Duration
	// Gate, when set, holds every fetch until it is closed.
	Gate chan struct{}
}

// NewSource creates a source answering with results in order.
func NewSource(results ...Result) *Source {
	return &Source{results: results}
}

func (s *Source) Fetch(ctx context.Context, identifier string) (token.FetchResult, error) {
	s.calls.Add(1)

	s.mu.Lock()
	s.identifiers = append(s.identifiers, identifier)
	var r Result
	if len(s.results) > 0 {
		r = s.results[min(s.next, len(s.results)-1)]
		s.next++
	}
	s.mu.Unlock()

	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return token.FetchResult{}, ctx.Err()
		}
	}

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return token.FetchResult{}, ctx.Err()
		}
	}

	return r.FetchResult, r.Err
}

// Calls is the number of fetches started.
func (s *Source) Calls() int {
	return int(s.calls.Load())
}

// Identifiers lists the channel of every fetch, in call order.
func (s *Source) Identifiers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.identifiers...)
}

// Identity is a mutable token.IdentitySource.
type Identity struct {
	v atomic.Value
}

// NewIdentity returns an identity source reporting identifier.
func NewIdentity(identifier string) *Identity {
	i := &Identity{}
	i.Set(identifier)
	return i
}

func (i *Identity) Identifier() string {
	s, _ := i.v.Load().(string)
	return s
}

// Set changes the live identifier.
func (i *Identity) Set(identifier string) {
	i.v.Store(identifier)
}
