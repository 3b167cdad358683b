// Package health exposes liveness and readiness of the supervisor loop over HTTP.
package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrStalled is reported by the liveness check when the loop stopped ticking.
	ErrStalled = errors.New("supervisor loop stalled")
	// ErrNotReady is reported by the readiness check until control is established.
	ErrNotReady = errors.New("control channel not established")
)

// Monitor records loop progress. The loop writes to it, HTTP handlers read from it
// concurrently.
type Monitor struct {
	staleAfter time.Duration
	now        func() time.Time
	started    time.Time
	lastTick   atomic.Int64
	ready      atomic.Bool
	lastSeen   cmap.ConcurrentMap[string, time.Time]
	handler    healthcheck.Handler
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRegistry publishes the check results as gauges on reg.
func WithRegistry(reg prometheus.Registerer, namespace string) Option {
	return func(m *Monitor) { m.handler = healthcheck.NewMetricsHandler(reg, namespace) }
}

// NewMonitor returns a Monitor whose liveness check fails once no tick has been
// recorded for staleAfter.
func NewMonitor(staleAfter time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		staleAfter: staleAfter,
		now:        time.Now,
		lastSeen:   cmap.New[time.Time](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.handler == nil {
		m.handler = healthcheck.NewHandler()
	}
	m.started = m.now()
	m.handler.AddLivenessCheck("supervisor-tick", m.checkTick)
	m.handler.AddReadinessCheck("control-established", m.checkReady)
	return m
}

// Tick records one iteration of the loop.
func (m *Monitor) Tick() {
	m.lastTick.Store(m.now().UnixNano())
}

// Seen records that a message arrived on channel role.
func (m *Monitor) Seen(role string) {
	m.lastSeen.Set(role, m.now())
}

// SetReady marks control as established (or lost).
func (m *Monitor) SetReady(ready bool) {
	m.ready.Store(ready)
}

// LastSeen returns when a message last arrived on role.
func (m *Monitor) LastSeen(role string) (time.Time, bool) {
	return m.lastSeen.Get(role)
}

// Snapshot copies the last-seen times of every role that has received a message.
func (m *Monitor) Snapshot() map[string]time.Time {
	return m.lastSeen.Items()
}

func (m *Monitor) checkTick() error {
	last := m.started
	if n := m.lastTick.Load(); n != 0 {
		last = time.Unix(0, n)
	}
	if age := m.now().Sub(last); age > m.staleAfter {
		return fmt.Errorf("%w: last tick %s ago", ErrStalled, age)
	}
	return nil
}

func (m *Monitor) checkReady() error {
	if !m.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Live runs the liveness check.
func (m *Monitor) Live() error { return m.checkTick() }

// Ready runs the readiness check.
func (m *Monitor) Ready() error { return m.checkReady() }

// Handler serves /live and /ready.
func (m *Monitor) Handler() http.Handler {
	return m.handler
}

// ChannelsHandler serves the last-seen snapshot as JSON.
func (m *Monitor) ChannelsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
