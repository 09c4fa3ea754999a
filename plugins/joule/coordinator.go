package joule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Fetcher loads the current thermostat list from the cloud.
type Fetcher interface {
	Thermostats(ctx context.Context) ([]Thermostat, error)
}

// Snapshot is the coordinator's view after the last poll.
type Snapshot struct {
	Thermostats       []Thermostat
	LastUpdated       time.Time
	LastUpdateSuccess bool
	Err               error
}

// Thermostat looks up a thermostat by serial number.
func (s Snapshot) Thermostat(serial string) (Thermostat, bool) {
	for _, t := range s.Thermostats {
		if t.SerialNumber == serial {
			return t, true
		}
	}
	return Thermostat{}, false
}

// Coordinator polls the API on an interval and fans results out to listeners.
type Coordinator struct {
	fetcher      Fetcher
	interval     time.Duration
	timeout      time.Duration
	refreshDelay time.Duration
	clock        clock.Clock
	logger       *zap.Logger

	trigger chan struct{}

	// refreshMu keeps polls from overlapping so results land in order.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	data        map[string]Thermostat
	lastUpdated time.Time
	lastSuccess bool
	lastErr     error
	listeners   map[int]func(Snapshot)
	nextID      int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the wall clock.
func WithClock(clk clock.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clk }
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

func NewCoordinator(fetcher Fetcher, cfg Config, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		fetcher:      fetcher,
		interval:     cfg.UpdateInterval,
		timeout:      cfg.APITimeout,
		refreshDelay: cfg.RefreshDelay,
		clock:        clock.WallClock,
		logger:       zap.NewNop(),
		trigger:      make(chan struct{}, 1),
		data:         map[string]Thermostat{},
		listeners:    map[int]func(Snapshot){},
	}
	if c.interval <= 0 {
		c.interval = time.Minute
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls immediately, then on every interval or requested refresh, until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	_ = c.Refresh(ctx)

	timer := c.clock.NewTimer(c.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		case <-c.trigger:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
		}
		_ = c.Refresh(ctx)
		timer.Reset(c.interval)
	}
}

// Refresh polls once. On failure the previous data is kept. Concurrent
// callers wait for each other.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	thermostats, err := c.fetcher.Thermostats(ctx)
	now := c.clock.Now()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		c.mu.Lock()
		c.lastSuccess = false
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("joule update failed", zap.Error(err))
		return err
	}

	data := make(map[string]Thermostat, len(thermostats))
	for _, t := range thermostats {
		data[t.SerialNumber] = t
	}

	c.mu.Lock()
	c.data = data
	c.lastUpdated = now
	c.lastSuccess = true
	c.lastErr = nil
	listeners := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("joule update complete", zap.Int("thermostats", len(data)))
	snap := c.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

// RequestRefresh asks the run loop for an immediate poll. Requests made while
// one is pending are coalesced.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// ScheduleRefresh requests a poll after delay. A non-positive delay uses the
// configured refresh delay.
func (c *Coordinator) ScheduleRefresh(delay time.Duration) {
	if delay <= 0 {
		delay = c.refreshDelay
	}
	if delay <= 0 {
		c.RequestRefresh()
		return
	}
	c.clock.AfterFunc(delay, c.RequestRefresh)
}

// AddListener registers fn for every successful poll and returns a function
// that removes it.
func (c *Coordinator) AddListener(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Snapshot{
		Thermostats:       make([]Thermostat, 0, len(c.data)),
		LastUpdated:       c.lastUpdated,
		LastUpdateSuccess: c.lastSuccess,
		Err:               c.lastErr,
	}
	for _, t := range c.data {
		out.Thermostats = append(out.Thermostats, t)
	}
	sort.Slice(out.Thermostats, func(i, j int) bool {
		return out.Thermostats[i].SerialNumber < out.Thermostats[j].SerialNumber
	})
	return out
}

// Thermostat returns the last known state of one thermostat.
func (c *Coordinator) Thermostat(serial string) (Thermostat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.data[serial]
	return t, ok
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}
