package rate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return client.Do(req)
}

func perMinute(n int) Policy {
	return Policy{Provider: "joule", Limits: map[Window]Limit{Minute: {Max: n}}}
}

func TestBucketBlocksThenRefills(t *testing.T) {
	clk := testclock.NewClock(epoch)
	srv, hits := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	client := WrapHTTP(perMinute(2), nil, WithClock(clk))

	for i := 0; i < 2; i++ {
		resp, err := get(t, client, srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	_, err := get(t, client, srv.URL)
	var limited RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, ReasonBudget, limited.Reason)
	assert.Equal(t, epoch.Add(30*time.Second), limited.RetryAt)
	assert.Equal(t, int32(2), hits.Load())

	clk.Advance(30 * time.Second)
	resp, err := get(t, client, srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), hits.Load())
}

func TestRetryAfterStartsCooldownAndServesCache(t *testing.T) {
	clk := testclock.NewClock(epoch)
	var throttle atomic.Bool
	srv, hits := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if throttle.Load() {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"devices":[]}`))
	})

	policy := perMinute(100)
	policy.CacheTTL = time.Hour
	policy.Headers = StandardHeaders()
	client := WrapHTTP(policy, nil, WithClock(clk))

	resp, err := get(t, client, srv.URL+"/devices")
	require.NoError(t, err)
	resp.Body.Close()

	throttle.Store(true)
	resp, err = get(t, client, srv.URL+"/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, err = get(t, client, srv.URL+"/devices")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, `{"devices":[]}`, string(body))
	assert.Equal(t, int32(2), hits.Load())

	_, err = get(t, client, srv.URL+"/other")
	var limited RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, ReasonCooldown, limited.Reason)
	assert.Equal(t, epoch.Add(120*time.Second), limited.RetryAt)

	clk.Advance(121 * time.Second)
	throttle.Store(false)
	resp, err = get(t, client, srv.URL+"/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), hits.Load())
}

func TestWritesAreNeverServedFromCache(t *testing.T) {
	clk := testclock.NewClock(epoch)
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	policy := perMinute(1)
	policy.CacheTTL = time.Hour
	client := WrapHTTP(policy, nil, WithClock(clk))

	patch := func() error {
		req, err := http.NewRequest(http.MethodPatch, srv.URL+"/config", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		return err
	}

	require.NoError(t, patch())
	err := patch()
	var limited RateLimitError
	assert.True(t, errors.As(err, &limited))
}

func TestReportedRemainingRespectsFloor(t *testing.T) {
	clk := testclock.NewClock(epoch)
	g := NewGuard(Policy{
		Provider: "joule",
		Limits:   map[Window]Limit{Day: {Max: 1000, Floor: 5}},
		Headers:  StandardHeaders(),
	}, WithClock(clk))

	h := http.Header{}
	h.Set("X-RateLimit-Remaining-day", "6")
	g.Observe(http.StatusOK, h)

	assert.True(t, g.Allow().Allowed)
	decision := g.Allow()
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonBudget, decision.Reason)

	clk.Advance(24 * time.Hour)
	assert.True(t, g.Allow().Allowed)
}

func TestResetHeaderOnlyBlocksWhenExhausted(t *testing.T) {
	clk := testclock.NewClock(epoch)
	g := NewGuard(Policy{
		Provider: "joule",
		Limits:   map[Window]Limit{Minute: {Max: 30}},
		Headers:  StandardHeaders(),
	}, WithClock(clk))

	h := http.Header{}
	h.Set("X-RateLimit-Remaining-minute", "10")
	h.Set("ratelimit-reset", "40")
	g.Observe(http.StatusOK, h)
	assert.True(t, g.Allow().Allowed)

	h.Set("X-RateLimit-Remaining-minute", "0")
	g.Observe(http.StatusOK, h)
	decision := g.Allow()
	assert.Equal(t, ReasonCooldown, decision.Reason)
	assert.Equal(t, epoch.Add(40*time.Second), decision.RetryAt)

	clk.Advance(40 * time.Second)
	assert.True(t, g.Allow().Allowed)
}

func TestTooManyRequestsWithoutHeaderUsesDefaultCooldown(t *testing.T) {
	clk := testclock.NewClock(epoch)
	policy := perMinute(10)
	policy.Cooldown = 5 * time.Minute
	g := NewGuard(policy, WithClock(clk))

	g.Observe(http.StatusTooManyRequests, http.Header{})
	decision := g.Allow()
	assert.False(t, decision.Allowed)
	assert.Equal(t, epoch.Add(5*time.Minute), decision.RetryAt)
}

func TestNoLimitsDisablesCalls(t *testing.T) {
	assert.Equal(t, ReasonDisabled, NewGuard(Policy{Provider: "joule"}).Allow().Reason)
	assert.Equal(t, ReasonDisabled, NewGuard(perMinute(0)).Allow().Reason)
}
