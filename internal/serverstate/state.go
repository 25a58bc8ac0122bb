// Package serverstate tracks the relay's lifecycle status and the last known
// health of the image engine. The state lives in memory by default or in
// Redis when several relays should share it.
package serverstate

import (
	"sync/atomic"
	"time"
)

// Lifecycle statuses.
const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
	StatusUnknown  = "unknown"
)

// Engine health values.
const (
	EngineUnknown     = ""
	EngineReachable   = "reachable"
	EngineUnreachable = "unreachable"
)

// State is updated as a whole so readers always see a consistent snapshot.
type State struct {
	Status          string    `json:"status"`
	Draining        bool      `json:"draining"`
	Engine          string    `json:"engine,omitempty"`
	EngineCheckedAt time.Time `json:"engine_checked_at,omitempty"`
}

// Store persists State.
type Store interface {
	Load() State
	Store(State)
}

var active Store = NewMemoryStore()

// UseStore replaces the active Store.
func UseStore(s Store) {
	if s != nil {
		active = s
	}
}

type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to not_ready.
func NewMemoryStore() *memoryStore {
	ms := &memoryStore{}
	ms.v.Store(State{Status: StatusNotReady})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: StatusUnknown}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// Snapshot returns the full current state.
func Snapshot() State { return active.Load() }

// SetState updates the status string.
func SetState(status string) {
	st := active.Load()
	st.Status = status
	active.Store(st)
}

// GetState returns the current status.
func GetState() string {
	return active.Load().Status
}

// StartDrain marks the relay as draining.
func StartDrain() {
	st := active.Load()
	st.Draining = true
	st.Status = StatusDraining
	active.Store(st)
}

// IsDraining reports whether the relay is draining.
func IsDraining() bool {
	return active.Load().Draining
}

// RecordEngine stores the outcome of the latest engine reachability check.
func RecordEngine(reachable bool) {
	st := active.Load()
	st.Engine = EngineUnreachable
	if reachable {
		st.Engine = EngineReachable
	}
	st.EngineCheckedAt = time.Now().UTC()
	active.Store(st)
}
