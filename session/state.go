package session

import "sync/atomic"

// State is the lifecycle state of a Session.
type State uint32

const (
	StateClosed State = iota
	StateConfiguring
	StateReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateConfiguring:
		return "Configuring"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// atomicState lets observers such as the health endpoint read the state while the
// supervisor goroutine drives it.
type atomicState struct {
	state atomic.Uint32
}

func (st *atomicState) Get() State {
	return State(st.state.Load())
}

func (st *atomicState) Set(s State) {
	st.state.Store(uint32(s))
}

func (st *atomicState) ToConfiguring() bool {
	return st.state.CompareAndSwap(uint32(StateClosed), uint32(StateConfiguring))
}

func (st *atomicState) ToReady() bool {
	return st.state.CompareAndSwap(uint32(StateConfiguring), uint32(StateReady))
}

// ToClosing moves Ready or Configuring to Closing.
func (st *atomicState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(StateReady), uint32(StateClosing)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(StateConfiguring), uint32(StateClosing))
}

func (st *atomicState) ToClosed() bool {
	if st.Get() == StateClosed {
		return true
	}

	return st.state.CompareAndSwap(uint32(StateClosing), uint32(StateClosed))
}
