package fsm

import (
	"errors"
	"testing"
)

func TestMachineDefault(t *testing.T) {
	m := New()
	if got := m.State(); got != StateNone {
		t.Fatalf("state=%s, want %s", got, StateNone)
	}
}

func TestMachineLifecycle(t *testing.T) {
	m := New()
	for _, op := range []Op{OpCreate, OpStart, OpSend, OpStop, OpStart, OpStop, OpDestroy} {
		if _, err := m.Apply(op); err != nil {
			t.Fatalf("Apply(%s) returned error: %v", op, err)
		}
	}
	if got := m.State(); got != StateDestroyed {
		t.Fatalf("state=%s, want %s", got, StateDestroyed)
	}
}

func TestMachineStartTwiceRejected(t *testing.T) {
	m := New()
	_, _ = m.Apply(OpCreate)
	_, _ = m.Apply(OpStart)
	from, err := m.Apply(OpStart)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err=%v, want ErrInvalidState", err)
	}
	if from != StateStarted || m.State() != StateStarted {
		t.Fatalf("state=%s, want %s", m.State(), StateStarted)
	}
}

func TestMachineErrorOnlyDestroy(t *testing.T) {
	m := New()
	_, _ = m.Apply(OpCreate)
	_, _ = m.Apply(OpStart)
	if _, err := m.Apply(OpFail); err != nil {
		t.Fatalf("Apply(fail) returned error: %v", err)
	}
	for _, op := range Ops {
		err := m.Check(op)
		if op == OpDestroy {
			if err != nil {
				t.Fatalf("Check(destroy) in error returned %v", err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("Check(%s) in error=%v, want ErrInvalidState", op, err)
		}
	}
}

func TestTransitionTableExhaustive(t *testing.T) {
	want := map[State]map[Op]State{
		StateNone:      {OpCreate: StateCreated, OpDestroy: StateNone},
		StateCreated:   {OpStart: StateStarted, OpInterrupt: StateCreated, OpDestroy: StateDestroyed},
		StateStarted:   {OpStop: StateStopped, OpSend: StateStarted, OpInterrupt: StateStarted, OpFail: StateError, OpDestroy: StateDestroyed},
		StateStopped:   {OpStart: StateStarted, OpInterrupt: StateStopped, OpDestroy: StateDestroyed},
		StateError:     {OpDestroy: StateDestroyed},
		StateDestroyed: {OpDestroy: StateDestroyed},
	}
	for _, s := range States {
		for _, op := range Ops {
			m := &Machine{state: s}
			from, err := m.Apply(op)
			if from != s {
				t.Fatalf("%s/%s: from=%s", s, op, from)
			}
			next, ok := want[s][op]
			if !ok {
				if !errors.Is(err, ErrInvalidState) {
					t.Fatalf("%s/%s: err=%v, want ErrInvalidState", s, op, err)
				}
				if m.State() != s {
					t.Fatalf("%s/%s: rejected op changed state to %s", s, op, m.State())
				}
				continue
			}
			if err != nil {
				t.Fatalf("%s/%s: unexpected error %v", s, op, err)
			}
			if m.State() != next {
				t.Fatalf("%s/%s: state=%s, want %s", s, op, m.State(), next)
			}
		}
	}
}
