package player

import (
	"fmt"
	"sync"
)

// State is the player's lifecycle state.
type State int

// Player states.
const (
	StateIdle State = iota
	StateLoaded
	StatePlaying
	StatePaused
	StateUnloaded
	StateFlushing
	StateStepping
	StateEOS
	stateCount
)

var stateNames = [stateCount]string{
	"idle", "loaded", "playing", "paused", "unloaded", "flushing", "stepping", "eos",
}

func (s State) String() string {
	if s >= 0 && s < stateCount {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	o = true
	x = false
)

// transitions[from][to] reports whether a transition is legal.
var transitions = [stateCount][stateCount]bool{
	//               idle loaded playing paused unloaded flushing stepping eos
	StateIdle:     {o, o, x, x, x, o, x, x},
	StateLoaded:   {x, x, o, o, o, o, x, x},
	StatePlaying:  {x, x, o, o, o, o, x, x},
	StatePaused:   {x, x, o, o, o, o, o, x},
	StateUnloaded: {x, x, x, x, o, o, x, x},
	StateFlushing: {x, x, o, o, o, o, x, x},
	StateStepping: {x, x, o, o, o, x, x, x},
	StateEOS:      {x, x, x, x, o, o, x, x},
}

// CanTransit reports whether the matrix allows moving from one state to
// another.
func CanTransit(from, to State) bool {
	if from < 0 || from >= stateCount || to < 0 || to >= stateCount {
		return false
	}
	return transitions[from][to]
}

// StateHandler is called once for every change to a distinct state.
type StateHandler func(State)

type stateMachine struct {
	mu      sync.Mutex
	current State
	handler StateHandler
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) canTransit(to State) bool {
	return CanTransit(m.get(), to)
}

// transit moves to s. Callers check legality with canTransit before their
// first side effect; internal restores (flush, step) move back without a
// second check. The handler runs only when the state actually changes.
func (m *stateMachine) transit(s State) {
	m.mu.Lock()
	changed := m.current != s
	m.current = s
	handler := m.handler
	m.mu.Unlock()

	if changed && handler != nil {
		handler(s)
	}
}
