// Package state tracks the connection state of one account's protocol
// session.
package state

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rafaelmp/conversa/internal/bus"
)

// State is one position in the per-account connection lifecycle.
type State string

const (
	// Inactive means the account is disabled; no automatic reconnect.
	Inactive State = "INACTIVE"
	// Disconnected means no stream is up but the account is active.
	Disconnected State = "DISCONNECTED"
	// Connecting means a login attempt has been submitted.
	Connecting State = "CONNECTING"
	// Established means a fresh session was fully negotiated.
	Established State = "ESTABLISHED"
	// Resumed means a prior stream was resumed instead.
	Resumed State = "RESUMED"
)

// Connected reports whether the state is one of the connected pair.
func (s State) Connected() bool {
	return s == Established || s == Resumed
}

var validTransitions = map[State][]State{
	Inactive:     {Disconnected},
	Disconnected: {Connecting, Inactive},
	Connecting:   {Established, Resumed, Disconnected, Inactive},
	Established:  {Disconnected, Inactive},
	Resumed:      {Disconnected, Inactive},
}

// Machine tracks and enforces one account's connection state.
type Machine struct {
	mu        sync.RWMutex
	accountID int64
	current   State
	bus       *bus.Bus
}

// NewMachine creates a machine for an active account, starting in
// Disconnected.
func NewMachine(accountID int64, b *bus.Bus) *Machine {
	return &Machine{
		accountID: accountID,
		current:   Disconnected,
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("account %d: invalid transition from %s to %s", m.accountID, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSessionStateChanged,
			Timestamp: time.Now(),
			Payload: Change{
				AccountID: m.accountID,
				From:      from,
				To:        to,
			},
		})
	}
	return nil
}

// Change is the payload for session.state_changed events.
type Change struct {
	AccountID int64
	From      State
	To        State
}
