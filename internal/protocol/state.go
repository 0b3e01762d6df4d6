package protocol

import "sync/atomic"

// State is the position of a handler in the tools/call lifecycle:
//
//	Idle -> Validating -> Invoking -> Responding -> Idle
//	Idle -> Validating -> Rejected -> Idle
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateInvoking
	StateResponding
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateInvoking:
		return "invoking"
	case StateResponding:
		return "responding"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State   { return State(c.v.Load()) }
func (c *stateCell) store(s State) { c.v.Store(int32(s)) }
