package fsm

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of an engine.
type State string

const (
	StateNone      State = "none"
	StateCreated   State = "created"
	StateStarted   State = "started"
	StateStopped   State = "stopped"
	StateDestroyed State = "destroyed"
	StateError     State = "error"
)

// Op is an engine operation subject to the transition table.
type Op string

const (
	OpCreate    Op = "create"
	OpStart     Op = "start"
	OpStop      Op = "stop"
	OpSend      Op = "send"
	OpInterrupt Op = "interrupt"
	OpFail      Op = "fail"
	OpDestroy   Op = "destroy"
)

// States lists every state, for exhaustive iteration.
var States = []State{StateNone, StateCreated, StateStarted, StateStopped, StateDestroyed, StateError}

// Ops lists every operation, for exhaustive iteration.
var Ops = []Op{OpCreate, OpStart, OpStop, OpSend, OpInterrupt, OpFail, OpDestroy}

// ErrInvalidState reports an operation outside its valid states.
var ErrInvalidState = errors.New("invalid state")

// table maps state and op to the resulting state. Missing entries are
// rejected. Entries mapping a state to itself are allowed without a
// transition.
var table = map[State]map[Op]State{
	StateNone: {
		OpCreate:  StateCreated,
		OpDestroy: StateNone,
	},
	StateCreated: {
		OpStart:     StateStarted,
		OpInterrupt: StateCreated,
		OpDestroy:   StateDestroyed,
	},
	StateStarted: {
		OpStop:      StateStopped,
		OpSend:      StateStarted,
		OpInterrupt: StateStarted,
		OpFail:      StateError,
		OpDestroy:   StateDestroyed,
	},
	StateStopped: {
		OpStart:     StateStarted,
		OpInterrupt: StateStopped,
		OpDestroy:   StateDestroyed,
	},
	StateError: {
		OpDestroy: StateDestroyed,
	},
	StateDestroyed: {
		OpDestroy: StateDestroyed,
	},
}

// Next returns the state op leads to from s.
func Next(s State, op Op) (State, bool) {
	next, ok := table[s][op]
	return next, ok
}

// Machine holds one engine's state.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a machine in StateNone.
func New() *Machine {
	return &Machine{state: StateNone}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Check reports whether op is valid now, without applying it.
func (m *Machine) Check(op Op) error {
	m.mu.RLock()
	s := m.state
	m.mu.RUnlock()
	if _, ok := Next(s, op); !ok {
		return invalid(s, op)
	}
	return nil
}

// Apply performs op and returns the state it left.
func (m *Machine) Apply(op Op) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.state
	next, ok := Next(from, op)
	if !ok {
		return from, invalid(from, op)
	}
	m.state = next
	return from, nil
}

func invalid(s State, op Op) error {
	return fmt.Errorf("%w: %s not allowed in %s", ErrInvalidState, op, s)
}
