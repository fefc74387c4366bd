// Package netmon tracks connectivity to the remote backend and notifies
// subscribers on state transitions. Observations from the reachability probe
// are debounced: a candidate state must stay stable for a hold-off window
// before a transition fires, so a single dropped packet never flips the
// layer offline.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clerkdesk/offline/pkg/logger"
)

const (
	defaultInterval = 15 * time.Second
	defaultHoldoff  = 5 * time.Second
	probeTimeout    = 3 * time.Second
)

// Probe reports whether the remote backend is currently reachable.
type Probe func(ctx context.Context) bool

// HTTPProbe builds a Probe that issues a HEAD request against the supplied
// URL. Any response, including an error status, proves reachability.
func HTTPProbe(url string) Probe {
	client := &http.Client{Timeout: probeTimeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}

// Monitor owns the process-wide connectivity flag.
type Monitor struct {
	mu             sync.Mutex
	online         bool
	candidate      *bool
	candidateSince time.Time
	subscribers    map[int]func(online bool)
	nextID         int

	probe    Probe
	interval time.Duration
	holdoff  time.Duration
	now      func() time.Time
	log      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises the Monitor.
type Option func(*Monitor)

// WithInterval sets the probe cadence.
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithHoldoff sets how long a candidate state must persist before the
// transition commits.
func WithHoldoff(holdoff time.Duration) Option {
	return func(m *Monitor) {
		if holdoff >= 0 {
			m.holdoff = holdoff
		}
	}
}

// WithClock overrides the clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a Monitor. The initial state is online: the first failing
// probe observation, held through the hold-off window, transitions it.
func New(probe Probe, opts ...Option) *Monitor {
	m := &Monitor{
		online:      true,
		subscribers: make(map[int]func(bool)),
		probe:       probe,
		interval:    defaultInterval,
		holdoff:     defaultHoldoff,
		now:         time.Now,
		log:         logger.WithComponent("netmon"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the probe loop. A nil probe leaves the monitor driven
// entirely by SetOnline signals from the host.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Observe(m.probe(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Observe(m.probe(ctx))
			}
		}
	}()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// IsOnline returns the current committed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback fired once per committed transition with the
// new state. The returned function unsubscribes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// SetOnline commits a connectivity state immediately. It is meant for host
// runtimes that know the state authoritatively (and for tests); the hold-off
// window only applies to probe observations.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	m.candidate = nil
	notify := m.commitLocked(online)
	m.mu.Unlock()

	for _, fn := range notify {
		fn(online)
	}
}

// Observe feeds one probe observation through the debounce filter.
func (m *Monitor) Observe(online bool) {
	m.mu.Lock()

	if online == m.online {
		m.candidate = nil
		m.mu.Unlock()
		return
	}

	now := m.now()
	if m.candidate == nil || *m.candidate != online {
		candidate := online
		m.candidate = &candidate
		m.candidateSince = now
		if m.holdoff > 0 {
			m.mu.Unlock()
			return
		}
	}

	if m.holdoff > 0 && now.Sub(m.candidateSince) < m.holdoff {
		m.mu.Unlock()
		return
	}

	m.candidate = nil
	notify := m.commitLocked(online)
	m.mu.Unlock()

	for _, fn := range notify {
		fn(online)
	}
}

// commitLocked flips the state and snapshots subscribers to call outside the
// lock. Returns nil when the state did not change, so each transition
// notifies exactly once.
func (m *Monitor) commitLocked(online bool) []func(bool) {
	if online == m.online {
		return nil
	}
	m.online = online
	m.log.Info("connectivity changed", zap.Bool("online", online))

	notify := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		notify = append(notify, fn)
	}
	return notify
}
