package reliability

import "sync/atomic"

// State is the orchestrator run state.
type State uint32

const (
	Idle State = iota
	Running
	Stopping
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AtomicState holds a State. Transitions are compare-and-swap so only legal edges are taken.
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

func (st *AtomicState) IsIdle() bool {
	return st.Get() == Idle
}

func (st *AtomicState) IsRunning() bool {
	return st.Get() == Running
}

// ToRunning moves Idle to Running.
func (st *AtomicState) ToRunning() bool {
	return st.state.CompareAndSwap(uint32(Idle), uint32(Running))
}

// ToStopping moves Running to Stopping.
func (st *AtomicState) ToStopping() bool {
	return st.state.CompareAndSwap(uint32(Running), uint32(Stopping))
}

// ToFaulted moves Running to Faulted.
func (st *AtomicState) ToFaulted() bool {
	return st.state.CompareAndSwap(uint32(Running), uint32(Faulted))
}

// ToIdle moves Stopping or Faulted back to Idle.
func (st *AtomicState) ToIdle() bool {
	if st.state.CompareAndSwap(uint32(Stopping), uint32(Idle)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(Faulted), uint32(Idle))
}
