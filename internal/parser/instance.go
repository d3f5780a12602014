package parser

import (
	"fmt"
	"sync/atomic"
)

// State is a position in the per-instance lifecycle:
// Unbound -> Bound -> Initialized -> Active -> Shutdown.
type State int32

const (
	StateUnbound State = iota
	StateBound
	StateInitialized
	StateActive
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Instance is a cached parser plus its lifecycle state.
type Instance struct {
	parser Parser
	kind   string
	seq    int
	source string
	state  atomic.Int32
}

func newInstance(p Parser, kind, source string, seq int) *Instance {
	return &Instance{parser: p, kind: kind, source: source, seq: seq}
}

func (i *Instance) Parser() Parser { return i.parser }
func (i *Instance) Name() string   { return i.parser.Name() }
func (i *Instance) Priority() int  { return i.parser.Priority() }

// Kind is the catalog registration the instance was built from.
func (i *Instance) Kind() string { return i.kind }

// Source is the manifest path, or "catalog" for registrations loaded directly.
func (i *Instance) Source() string { return i.source }

func (i *Instance) State() State { return State(i.state.Load()) }

// Active reports whether hooks may be dispatched to the instance.
func (i *Instance) Active() bool { return i.State() == StateActive }

// transition moves from one state to the next; any other move is a contract violation.
func (i *Instance) transition(from, to State) error {
	if !i.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s while %s", ErrContractViolation, from, to, i.State())
	}
	return nil
}

// less orders instances by ascending priority, then discovery order.
func (i *Instance) less(o *Instance) int {
	if d := i.Priority() - o.Priority(); d != 0 {
		return d
	}
	return i.seq - o.seq
}
