package rate

import "time"

// Window is a rate-limit accounting period.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// Duration is the refill period of the window.
func (w Window) Duration() time.Duration {
	if w == Day {
		return 24 * time.Hour
	}
	return time.Minute
}

// Limit caps requests in one window. Once the server reports its remaining
// budget, Floor requests are held back.
type Limit struct {
	Max   int
	Floor int
}

// Headers names the response headers that carry server-side budget state.
// An empty name is not read.
type Headers struct {
	Limit      map[Window]string
	Remaining  map[Window]string
	RetryAfter string
	Reset      string
}

// StandardHeaders is the X-RateLimit-* convention used by the Joule gateway.
func StandardHeaders() Headers {
	return Headers{
		Limit: map[Window]string{
			Minute: "X-RateLimit-Limit-minute",
			Day:    "X-RateLimit-Limit-day",
		},
		Remaining: map[Window]string{
			Minute: "X-RateLimit-Remaining-minute",
			Day:    "X-RateLimit-Remaining-day",
		},
		RetryAfter: "Retry-After",
		Reset:      "ratelimit-reset",
	}
}

// Policy is the client-side request budget for one upstream API. A policy
// without limits blocks every call.
type Policy struct {
	Provider string
	Limits   map[Window]Limit
	// CacheTTL keeps successful GET responses to answer blocked calls.
	CacheTTL time.Duration
	// Cooldown applies after a 429 that carries no Retry-After. Defaults to
	// one minute.
	Cooldown time.Duration
	Headers  Headers
}

func (p Policy) cooldown() time.Duration {
	if p.Cooldown <= 0 {
		return time.Minute
	}
	return p.Cooldown
}
