package rate

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
)

type cachedResponse struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// responseCache keeps successful GET responses for replay while the guard
// refuses calls. A zero TTL disables it.
type responseCache struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]cachedResponse
}

func newResponseCache(ttl time.Duration, clk clock.Clock) *responseCache {
	return &responseCache{ttl: ttl, clock: clk, entries: make(map[string]cachedResponse)}
}

func (c *responseCache) enabled(req *http.Request) bool {
	return c.ttl > 0 && req.Method == http.MethodGet
}

func (c *responseCache) get(req *http.Request) *http.Response {
	if !c.enabled(req) {
		return nil
	}
	c.mu.Lock()
	entry, ok := c.entries[req.URL.String()]
	c.mu.Unlock()
	if !ok || c.clock.Now().After(entry.expires) {
		return nil
	}
	return entry.response(req)
}

// put buffers a successful response body and hands back a replayable copy.
func (c *responseCache) put(req *http.Request, resp *http.Response) (*http.Response, error) {
	if !c.enabled(req) || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	entry := cachedResponse{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		expires: c.clock.Now().Add(c.ttl),
	}
	c.mu.Lock()
	c.entries[req.URL.String()] = entry
	c.mu.Unlock()
	return entry.response(req), nil
}

func (e cachedResponse) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    e.status,
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
	}
}
