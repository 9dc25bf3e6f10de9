package supervisor

import "sync/atomic"

// State is the outer state of the supervisor.
type State uint32

const (
	StateRunning State = iota
	StateRecovering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateRecovering:
		return "Recovering"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

type atomicState struct {
	state atomic.Uint32
}

func (st *atomicState) Get() State { return State(st.state.Load()) }

func (st *atomicState) Set(s State) { st.state.Store(uint32(s)) }
