package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
)

// Reasons a call is refused.
const (
	ReasonDisabled = "disabled"
	ReasonCooldown = "cooldown"
	ReasonBudget   = "budget"
)

// RateLimitError is returned by the wrapped transport when a call is refused
// and no cached response can stand in for it.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// window tracks one accounting period. Until the server reports a remaining
// count the window is a token bucket refilled over its duration. A reported
// count is trusted until staleAt.
type window struct {
	period    time.Duration
	limit     Limit
	tokens    float64
	refilled  time.Time
	remaining int
	reported  bool
	staleAt   time.Time
}

func (w *window) take(now time.Time) (bool, time.Time) {
	if w.reported && !now.Before(w.staleAt) {
		w.reported = false
		w.tokens = float64(w.limit.Max)
		w.refilled = now
	}
	if w.reported {
		if w.remaining <= w.limit.Floor {
			return false, time.Time{}
		}
		w.remaining--
		return true, time.Time{}
	}

	perSecond := float64(w.limit.Max) / w.period.Seconds()
	w.tokens = min(float64(w.limit.Max), w.tokens+now.Sub(w.refilled).Seconds()*perSecond)
	w.refilled = now
	if w.tokens < 1 {
		return false, now.Add(w.period / time.Duration(w.limit.Max))
	}
	w.tokens--
	return true, time.Time{}
}

// Guard enforces a Policy for one upstream API.
type Guard struct {
	policy Policy
	clock  clock.Clock

	mu           sync.Mutex
	windows      map[Window]*window
	blockedUntil time.Time
	cache        *responseCache
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WrapHTTP returns a copy of base whose transport is guarded by policy.
func WrapHTTP(policy Policy, base *http.Client, opts ...Option) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	client.Transport = NewGuard(policy, opts...).Transport(client.Transport)
	return &client
}

func NewGuard(policy Policy, opts ...Option) *Guard {
	g := &Guard{
		policy:  policy,
		clock:   clock.WallClock,
		windows: make(map[Window]*window, len(policy.Limits)),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.cache = newResponseCache(policy.CacheTTL, g.clock)

	now := g.clock.Now()
	for w, limit := range policy.Limits {
		g.windows[w] = &window{
			period:    w.Duration(),
			limit:     limit,
			tokens:    float64(limit.Max),
			refilled:  now,
			remaining: limit.Max,
		}
	}
	return g
}

// Transport returns a RoundTripper that consults the guard before each call.
func (g *Guard) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return guardedTransport{base: base, guard: g}
}

type guardedTransport struct {
	base  http.RoundTripper
	guard *Guard
}

func (t guardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	provider := t.guard.policy.Provider

	decision := t.guard.Allow()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(provider, decision.Reason).Inc()
		if cached := t.guard.cache.get(req); cached != nil {
			cacheHits.WithLabelValues(provider).Inc()
			return cached, nil
		}
		return nil, RateLimitError{Provider: provider, Reason: decision.Reason, RetryAt: decision.RetryAt}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.guard.Observe(resp.StatusCode, resp.Header)
	return t.guard.cache.put(req, resp)
}

// Allow reports whether a request may go out now, spending budget in every
// window when it may.
func (g *Guard) Allow() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.windows) == 0 {
		return Decision{Reason: ReasonDisabled}
	}
	now := g.clock.Now()
	if now.Before(g.blockedUntil) {
		return Decision{Reason: ReasonCooldown, RetryAt: g.blockedUntil}
	}
	for _, w := range g.windows {
		if w.limit.Max <= 0 && !w.reported {
			return Decision{Reason: ReasonDisabled}
		}
		if ok, retryAt := w.take(now); !ok {
			return Decision{Reason: ReasonBudget, RetryAt: retryAt}
		}
	}
	return Decision{Allowed: true}
}

// Observe folds a response's status and rate-limit headers into the guard.
// The reset header only matters once a budget is spent, since gateways send
// it on every response.
func (g *Guard) Observe(status int, header http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.policy.Provider
	names := g.policy.Headers
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	now := g.clock.Now()
	reset, hasReset := headerInt(header, names.Reset)
	exhausted := false
	for period, w := range g.windows {
		remaining, ok := headerInt(header, names.Remaining[period])
		if !ok {
			continue
		}
		w.remaining = remaining
		w.reported = true
		w.staleAt = now.Add(period.Duration())
		if limit, ok := headerInt(header, names.Limit[period]); ok && limit > 0 {
			w.limit.Max = limit
		}
		if remaining <= w.limit.Floor {
			exhausted = true
			if hasReset && reset > 0 {
				w.staleAt = now.Add(time.Duration(reset) * time.Second)
			}
		}
		remainingGauge.WithLabelValues(provider, period.String()).Set(float64(remaining))
	}

	var backoff time.Duration
	if secs, ok := headerInt(header, names.RetryAfter); ok {
		backoff = time.Duration(secs) * time.Second
	} else if status == http.StatusTooManyRequests || exhausted {
		if hasReset {
			backoff = time.Duration(reset) * time.Second
		} else if status == http.StatusTooManyRequests {
			backoff = g.policy.cooldown()
		}
	}
	if backoff > 0 {
		g.blockedUntil = now.Add(backoff)
		retryAfterGauge.WithLabelValues(provider).Set(backoff.Seconds())
	}
}

// headerInt reads a non-negative integer header.
func headerInt(h http.Header, name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
