// Package connectivity tracks whether the device can reach the network and
// notifies subscribers on each change.
//
// The Monitor does the edge detection; signal sources (FileSignal, Prober or
// a platform callback) only report raw observations through Observe.
// Reachability is a local signal, not proof that the remote service is
// answering.
package connectivity

import (
	"sync"
	"time"
)

// State is a reachability snapshot.
type State struct {
	Reachable bool
	Since     time.Time // when the current state began
}

// Handler is called once per transition with the new state.
type Handler func(State)

// StateSource is the read side used by the submission router.
type StateSource interface {
	State() State
}

// Notifier lets components subscribe to transitions.
type Notifier interface {
	OnTransition(h Handler) (unsubscribe func())
}

// Monitor holds the reachable flag and fans out transitions.
//
// Thread-safety: all methods are safe for concurrent use. Handlers run on
// the goroutine that called Observe, outside the state lock, in registration
// order. Transitions are delivered one at a time in the order they were
// applied, so a handler never sees a state older than one it already saw.
// Handlers may unsubscribe but must not call Observe.
type Monitor struct {
	dispatch sync.Mutex // held across apply and delivery; ordered before mu
	mu       sync.Mutex
	state    State
	handlers map[uint64]Handler
	order    []uint64
	nextID   uint64
	now      func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithNow overrides time.Now for State.Since.
func WithNow(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a monitor in the given initial state. The initial state
// is not reported as a transition.
func NewMonitor(reachable bool, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		handlers: make(map[uint64]Handler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = State{Reachable: reachable, Since: m.now()}
	return m
}

// State returns the current reachability snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reachable is shorthand for State().Reachable.
func (m *Monitor) Reachable() bool {
	return m.State().Reachable
}

// Observe records a raw observation. It returns true and notifies handlers
// only if the observation differs from the current state; repeated
// observations of the same state are ignored.
func (m *Monitor) Observe(reachable bool) bool {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.state.Reachable == reachable {
		m.mu.Unlock()
		return false
	}
	m.state = State{Reachable: reachable, Since: m.now()}
	st := m.state
	handlers := make([]Handler, 0, len(m.order))
	for _, id := range m.order {
		handlers = append(handlers, m.handlers[id])
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(st)
	}
	return true
}

// OnTransition registers h and returns a function that unregisters it.
// Calling the returned function more than once is harmless.
func (m *Monitor) OnTransition(h Handler) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.handlers[id] = h
	m.order = append(m.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(id) })
	}
}

// Subscribers returns the number of registered handlers.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func (m *Monitor) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.handlers, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
