// Package connectivity tracks whether the network is reachable and notifies
// subscribers on transitions.
//
// The state is either pushed by the host (Set) or discovered by a probe that
// issues HEAD requests against a health URL at a fixed interval. Subscribers
// fire only when the state actually changes.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

// DefaultProbeInterval is used when a probe is configured without an interval.
const DefaultProbeInterval = 5 * time.Second

// Monitor reports online state and transitions.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run on
// the goroutine that observed the transition, outside the monitor's lock.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	nextID   int
	restored map[int]func()
	lost     map[int]func()

	probeURL string
	interval time.Duration
	client   *http.Client
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbe enables probing of url every interval when Run is called.
func WithProbe(url string, interval time.Duration) Option {
	return func(m *Monitor) {
		m.probeURL = url
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithHTTPClient sets the client used by the probe.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) {
		m.client = c
	}
}

// New creates a Monitor with the given initial state.
func New(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		online:   online,
		restored: make(map[int]func()),
		lost:     make(map[int]func()),
		interval: DefaultProbeInterval,
		client:   &http.Client{Timeout: 3 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnRestored registers fn to run on every offline → online transition.
// The returned function unregisters it.
func (m *Monitor) OnRestored(fn func()) (cancel func()) {
	return m.subscribe(m.restored, fn)
}

// OnLost registers fn to run on every online → offline transition.
func (m *Monitor) OnLost(fn func()) (cancel func()) {
	return m.subscribe(m.lost, fn)
}

func (m *Monitor) subscribe(set map[int]func(), fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	set[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(set, id)
			m.mu.Unlock()
		})
	}
}

// Set records the current state. Subscribers are notified only if the
// state changed. Reports whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online

	src := m.lost
	if online {
		src = m.restored
	}
	ids := make([]int, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, src[id])
	}
	m.mu.Unlock()

	if online {
		slog.Info("connectivity restored")
	} else {
		slog.Warn("connectivity lost")
	}
	for _, fn := range fns {
		fn()
	}
	return true
}

// Probe checks reachability once and updates the state.
// Any response from the server, including an error status, counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.IsOnline()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		slog.Error("build probe request", "url", m.probeURL, "error", err)
		return m.IsOnline()
	}
	online := true
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return m.IsOnline()
		}
		slog.Debug("probe failed", "url", m.probeURL, "error", err)
		online = false
	} else {
		resp.Body.Close()
	}
	m.Set(online)
	return online
}

// Run probes at the configured interval until ctx is cancelled.
// Without a probe URL it blocks until ctx is done, leaving state to Set.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probeURL == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
