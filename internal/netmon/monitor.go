// Package netmon observes connectivity and exposes an online/offline
// signal with edge-triggered transitions.
package netmon

import (
	"sync"
	"time"

	"github.com/spectile/fieldsync/internal/logger"
)

type state int

const (
	// stateUnknown is the initial, indeterminate link state. It reads as
	// offline: network work is never attempted for an uncertain link.
	stateUnknown state = iota
	stateOffline
	stateOnline
)

// Monitor holds the shared connectivity state. An offline-to-online
// transition fires each subscriber exactly once; the reverse transition
// is recorded but triggers nothing.
type Monitor struct {
	mu    sync.Mutex
	state state
	subs  []func()
}

// New creates a monitor in the unknown (treated as offline) state.
func New() *Monitor {
	return &Monitor{state: stateUnknown}
}

// Online reports the current state. Unknown counts as offline.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateOnline
}

// OnOnline registers a callback fired once per offline-to-online edge.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnlineStatus updates the shared state. Repeated reports of the same
// state are no-ops; only the offline-to-online edge fires callbacks.
func (m *Monitor) SetOnlineStatus(online bool) {
	m.mu.Lock()
	wasOnline := m.state == stateOnline
	if online {
		m.state = stateOnline
	} else {
		m.state = stateOffline
	}
	var fire []func()
	if online && !wasOnline {
		fire = append(fire, m.subs...)
	}
	m.mu.Unlock()

	if len(fire) > 0 {
		logger.Debug("netmon: connectivity regained, notifying %d subscriber(s)", len(fire))
	}
	for _, fn := range fire {
		fn()
	}
}

// Watch polls the probe at the given interval and feeds the result into
// SetOnlineStatus until stopCh is closed. A probe error or false result
// reads as offline. The first probe runs immediately.
func (m *Monitor) Watch(interval time.Duration, probe func() bool, stopCh <-chan struct{}) {
	m.SetOnlineStatus(probe())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.SetOnlineStatus(probe())
		}
	}
}
