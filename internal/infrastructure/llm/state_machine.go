package llm

import (
	"fmt"
	"sync"
	"time"
)

// DispatchState represents the discrete states of a single dispatch.
type DispatchState string

const (
	StateReady               DispatchState = "ready"
	StateTranslating         DispatchState = "translating"
	StateAwaiting            DispatchState = "awaiting"
	StateTranslatingBack     DispatchState = "translating_back"
	StateFallbackTranslating DispatchState = "fallback_translating"
	StateFallbackAwaiting    DispatchState = "fallback_awaiting"
	StateDone                DispatchState = "done"
	StateFailed              DispatchState = "failed"
)

// validTransitions defines the allowed dispatch state transitions.
// Key = from state, value = set of allowed target states.
var validTransitions = map[DispatchState]map[DispatchState]bool{
	StateReady: {
		StateTranslating:         true,
		StateFallbackTranslating: true, // breaker open before any work, diverting
		StateFailed:              true,
	},
	StateTranslating: {
		StateAwaiting: true,
		StateFailed:   true,
	},
	StateAwaiting: {
		StateTranslatingBack:     true,
		StateDone:                true, // streaming: handle returned untranslated
		StateFallbackTranslating: true,
		StateFailed:              true,
	},
	StateTranslatingBack: {
		StateDone:   true,
		StateFailed: true,
	},
	StateFallbackTranslating: {
		StateFallbackAwaiting: true,
		StateFailed:           true,
	},
	StateFallbackAwaiting: {
		StateTranslatingBack: true,
		StateDone:            true,
		StateFailed:          true,
	},
	// Terminal states, no transitions out.
	StateDone:   {},
	StateFailed: {},
}

// DispatchMachine tracks one dispatch's lifecycle. Thread-safe; the HTTP
// layer may snapshot it while the dispatch goroutine advances it.
type DispatchMachine struct {
	mu        sync.RWMutex
	state     DispatchState
	provider  string
	fallback  bool
	startTime time.Time
}

// NewDispatchMachine starts a machine in the ready state.
func NewDispatchMachine(provider string) *DispatchMachine {
	return &DispatchMachine{
		state:     StateReady,
		provider:  provider,
		startTime: time.Now(),
	}
}

// State returns the current state.
func (m *DispatchMachine) State() DispatchState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition attempts to move to a new state; invalid edges error.
func (m *DispatchMachine) Transition(to DispatchState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed, ok := validTransitions[m.state]
	if !ok || !allowed[to] {
		return fmt.Errorf("invalid dispatch transition: %s → %s", m.state, to)
	}
	if to == StateFallbackTranslating {
		m.fallback = true
	}
	m.state = to
	return nil
}

// UsedFallback reports whether the dispatch entered the fallback path.
func (m *DispatchMachine) UsedFallback() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fallback
}

// Elapsed returns time since dispatch start.
func (m *DispatchMachine) Elapsed() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// IsTerminal reports whether the machine reached done or failed.
func (m *DispatchMachine) IsTerminal() bool {
	s := m.State()
	return s == StateDone || s == StateFailed
}
