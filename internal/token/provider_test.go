package token_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/clock/clocktest"
	"github.com/chinmina/channel-auth-bridge/internal/token"
	"github.com/chinmina/channel-auth-bridge/internal/token/tokentest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const channelID = "chan-1"

func newProvider(t *testing.T, src token.Source, opts ...token.ProviderOption) (*token.Provider, *tokentest.Identity, *clocktest.Clock) {
	t.Helper()

	identity := tokentest.NewIdentity(channelID)
	clk := clocktest.New()

	opts = append([]token.ProviderOption{token.WithClock(clk)}, opts...)
	return token.NewProvider(identity, src, opts...), identity, clk
}

func TestResolveAuth_StaleIdentity(t *testing.T) {
	cases := []struct {
		name   string
		cached bool
	}{
		{name: "empty cache", cached: false},
		{name: "cached token for live channel", cached: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := tokentest.NewSource(tokentest.Success("abc", time.Minute))
			p, _, _ := newProvider(t, src)

			if tc.cached {
				_, err := p.ResolveAuth(context.Background(), channelID)
				require.NoError(t, err)
			}

			_, err := p.ResolveAuth(context.Background(), "chan-2")

			require.ErrorIs(t, err, token.ErrStaleIdentity)
			assert.NotErrorIs(t, err, token.ErrFetchFailed)

			var stale token.StaleIdentityError
			require.ErrorAs(t, err, &stale)
			assert.Equal(t, "chan-2", stale.Requested)

			expectedCalls := 0
			if tc.cached {
				expectedCalls = 1
			}
			assert.Equal(t, expectedCalls, src.Calls(), "stale requests never reach the source")
		})
	}
}

func TestResolveAuth_CacheMissFetches(t *testing.T) {
	src := tokentest.NewSource(tokentest.Success("abc", time.Minute))
	p, _, clk := newProvider(t, src)

	tok, err := p.ResolveAuth(context.Background(), channelID)

	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, 1, src.Calls())
	assert.Equal(t, []string{channelID}, src.Identifiers())

	cached, ok := p.Cached()
	require.True(t, ok)
	assert.Equal(t, token.AuthToken{
		Identifier: channelID,
		Token:      "abc",
		Expiration: clk.Now().Add(time.Minute),
	}, cached)
}

func TestResolveAuth_CacheHitWithinMargin(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", 60*time.Second),
		tokentest.Success("def", 60*time.Second),
	)
	p, _, clk := newProvider(t, src)

	first, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	// exactly the margin remaining is still served
	clk.Advance(30 * time.Second)

	second, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	assert.Equal(t, "abc", first)
	assert.Equal(t, "abc", second)
	assert.Equal(t, 1, src.Calls())
}

func TestResolveAuth_NearExpiryRefreshes(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", 60*time.Second),
		tokentest.Success("def", 60*time.Second),
	)
	p, _, clk := newProvider(t, src)

	first, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "abc", first)

	// 60-35 = 25s remaining, inside the margin
	clk.Advance(35 * time.Second)

	second, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "def", second)
	assert.Equal(t, 2, src.Calls())

	// the refreshed token is now the cached one
	third, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "def", third)
	assert.Equal(t, 2, src.Calls())

	cached, ok := p.Cached()
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(60*time.Second), cached.Expiration)
}

func TestResolveAuth_ExpiredRefreshes(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", 60*time.Second),
		tokentest.Success("def", 60*time.Second),
	)
	p, _, clk := newProvider(t, src)

	_, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	tok, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "def", tok)
	assert.Equal(t, 2, src.Calls())
}

func TestResolveAuth_IdentityChangeDiscardsCachedToken(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", time.Hour),
		tokentest.Unsuccessful(http.StatusServiceUnavailable),
		tokentest.Success("def", time.Hour),
	)
	p, identity, _ := newProvider(t, src)

	_, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	identity.Set("chan-2")

	// the old channel is now stale, even though its token is cached and valid
	_, err = p.ResolveAuth(context.Background(), channelID)
	require.ErrorIs(t, err, token.ErrStaleIdentity)

	// a failed fetch for the new channel still leaves no trace of the old token
	_, err = p.ResolveAuth(context.Background(), "chan-2")
	require.ErrorIs(t, err, token.ErrFetchFailed)
	_, ok := p.Cached()
	assert.False(t, ok)

	tok, err := p.ResolveAuth(context.Background(), "chan-2")
	require.NoError(t, err)
	assert.Equal(t, "def", tok)
	assert.Equal(t, []string{channelID, "chan-2", "chan-2"}, src.Identifiers())
}

func TestResolveAuth_FetchFailures(t *testing.T) {
	transportErr := errors.New("connection reset")

	cases := []struct {
		name           string
		result         tokentest.Result
		expectedStatus int
		expectedCause  error
	}{
		{
			name:          "transport error",
			result:        tokentest.Failure(transportErr),
			expectedCause: transportErr,
		},
		{
			name:           "unsuccessful response",
			result:         tokentest.Unsuccessful(http.StatusUnauthorized),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "success without token",
			result:         tokentest.Success("", time.Minute),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "success already expired",
			result:         tokentest.Success("abc", 0),
			expectedStatus: http.StatusOK,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := tokentest.NewSource(tc.result)
			p, _, _ := newProvider(t, src)

			tok, err := p.ResolveAuth(context.Background(), channelID)

			assert.Empty(t, tok)
			require.ErrorIs(t, err, token.ErrFetchFailed)
			assert.NotErrorIs(t, err, token.ErrStaleIdentity)

			var failed token.FetchFailedError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, channelID, failed.Identifier)
			assert.Equal(t, tc.expectedStatus, failed.StatusCode)
			if tc.expectedCause != nil {
				assert.ErrorIs(t, err, tc.expectedCause)
			}

			_, ok := p.Cached()
			assert.False(t, ok, "failed fetches leave nothing in the cache")
		})
	}
}

func TestResolveAuth_FailedRefreshKeepsPreviousEntry(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", 60*time.Second),
		tokentest.Failure(context.DeadlineExceeded),
		tokentest.Success("def", 60*time.Second),
	)
	p, _, clk := newProvider(t, src)

	_, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	clk.Advance(40 * time.Second)

	_, err = p.ResolveAuth(context.Background(), channelID)
	require.ErrorIs(t, err, token.ErrFetchFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	cached, ok := p.Cached()
	require.True(t, ok)
	assert.Equal(t, "abc", cached.Token)

	// next resolve retries from scratch
	tok, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "def", tok)
	assert.Equal(t, 3, src.Calls())
}

func TestInvalidate_MatchingTokenClearsCache(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", time.Hour),
		tokentest.Success("def", time.Hour),
	)
	p, _, _ := newProvider(t, src)

	tok, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	p.Invalidate(context.Background(), tok)

	_, ok := p.Cached()
	assert.False(t, ok)

	tok, err = p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "def", tok)
	assert.Equal(t, 2, src.Calls())
}

func TestInvalidate_NonMatchingTokenIsIgnored(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Success("abc", time.Hour),
		tokentest.Success("def", time.Hour),
	)
	p, _, _ := newProvider(t, src)

	_, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)

	p.Invalidate(context.Background(), "superseded")

	cached, ok := p.Cached()
	require.True(t, ok)
	assert.Equal(t, "abc", cached.Token)

	tok, err := p.ResolveAuth(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, 1, src.Calls())
}

func TestInvalidate_EmptyCache(t *testing.T) {
	src := tokentest.NewSource()
	p, _, _ := newProvider(t, src)

	assert.NotPanics(t, func() {
		p.Invalidate(context.Background(), "abc")
	})

	_, ok := p.Cached()
	assert.False(t, ok)
}

func TestResolveAuth_ConcurrentMissesShareOneFetch(t *testing.T) {
	src := tokentest.NewSource(tokentest.Success("abc", time.Minute))
	src.Latency = 50 * time.Millisecond
	p, _, _ := newProvider(t, src)

	const callers = 25

	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = p.ResolveAuth(context.Background(), channelID)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "abc", tokens[i])
	}
	assert.Equal(t, 1, src.Calls())
}

func TestResolveAuth_ConcurrentFailureSharedByWaiters(t *testing.T) {
	src := tokentest.NewSource(
		tokentest.Unsuccessful(http.StatusInternalServerError),
		tokentest.Success("abc", time.Minute),
	)
	src.Gate = make(chan struct{})
	p, _, _ := newProvider(t, src)

	const callers = 5

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.ResolveAuth(context.Background(), channelID)
		}()
	}

	require.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, time.Millisecond)
	close(src.Gate)
	wg.Wait()

	// waiters that joined the flight share its failure; any that arrived after
	// it completed start a fresh fetch
	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, token.ErrFetchFailed)
			failures++
		}
	}
	assert.GreaterOrEqual(t, failures, 1)
	assert.LessOrEqual(t, src.Calls(), 2)
}

func TestResolveAuth_CallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	src := tokentest.NewSource(tokentest.Success("abc", time.Minute))
	src.Gate = make(chan struct{})
	p, _, _ := newProvider(t, src)

	ctx, cancel := context.WithCancel(context.Background())

	cancelledErr := make(chan error, 1)
	go func() {
		_, err := p.ResolveAuth(ctx, channelID)
		cancelledErr <- err
	}()

	require.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, time.Millisecond)

	waiter := make(chan string, 1)
	go func() {
		tok, err := p.ResolveAuth(context.Background(), channelID)
		assert.NoError(t, err)
		waiter <- tok
	}()

	cancel()
	err := <-cancelledErr
	require.ErrorIs(t, err, token.ErrFetchFailed)
	require.ErrorIs(t, err, context.Canceled)

	close(src.Gate)

	assert.Equal(t, "abc", <-waiter)
	assert.Equal(t, 1, src.Calls())

	cached, ok := p.Cached()
	require.True(t, ok)
	assert.Equal(t, "abc", cached.Token)
}

func TestResolveAuth_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := tokentest.NewSource(
		tokentest.Success("abc", time.Minute),
		tokentest.Unsuccessful(http.StatusForbidden),
	)
	p, _, clk := newProvider(t, src, token.WithMeterProvider(mp))
	ctx := context.Background()

	_, err := p.ResolveAuth(ctx, channelID) // refreshed
	require.NoError(t, err)
	_, err = p.ResolveAuth(ctx, channelID) // hit
	require.NoError(t, err)
	_, err = p.ResolveAuth(ctx, "chan-2") // stale
	require.Error(t, err)
	clk.Advance(time.Minute)
	_, err = p.ResolveAuth(ctx, channelID) // fetch failed
	require.Error(t, err)

	p.Invalidate(ctx, "abc")
	p.Invalidate(ctx, "unknown")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	resolves := sumByAttribute(t, rm, "token.resolve", "token.outcome")
	assert.Equal(t, map[string]int64{
		"refreshed":      1,
		"hit":            1,
		"stale_identity": 1,
		"fetch_failed":   1,
	}, resolves)

	invalidations := sumByAttribute(t, rm, "token.invalidate", "token.cleared")
	assert.Equal(t, map[string]int64{
		"true":  1,
		"false": 1,
	}, invalidations)

	fetches := histogramCountByAttribute(t, rm, "token.fetch.duration", "token.fetch.status")
	assert.Equal(t, map[string]uint64{
		"success": 1,
		"failure": 1,
	}, fetches)
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}

	require.Failf(t, "metric not found", "metric %q was not recorded", name)
	return metricdata.Metrics{}
}

func sumByAttribute(t *testing.T, rm metricdata.ResourceMetrics, name string, key attribute.Key) map[string]int64 {
	t.Helper()

	sum, ok := findMetric(t, rm, name).Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %q is not an int64 sum", name)

	result := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		result[v.Emit()] += dp.Value
	}
	return result
}

func histogramCountByAttribute(t *testing.T, rm metricdata.ResourceMetrics, name string, key attribute.Key) map[string]uint64 {
	t.Helper()

	hist, ok := findMetric(t, rm, name).Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %q is not a float64 histogram", name)

	result := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value(key)
		result[v.Emit()] += dp.Count
	}
	return result
}
