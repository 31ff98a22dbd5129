package l7

import "github.com/qingchen1984/peafowl/memview"

// Dissector is one candidate protocol's recogniser. It holds no reference
// back to the dispatcher or the flow table; all state it needs between
// calls lives in the State value it returns from NewState and receives
// back on every subsequent OnBytes call for the same flow and direction.
//
// Grounded on the teacher's gnet.TCPParserFactory/TCPParser split
// (Accepts returns an AcceptDecision, a live parser then consumes bytes);
// collapsed here into a single stateful method per the dispatcher's
// MATCH/NO_MATCH/MORE_DATA contract.
type Dissector interface {
	// Name identifies the protocol for configuration (enable masks,
	// accuracy map, skip-port overrides).
	Name() Protocol

	// NewState returns a fresh opaque state block for a flow that just
	// added this dissector to its candidate set.
	NewState() State

	// OnBytes looks at the next contiguous span delivered for one
	// direction of a flow and reports a Verdict. On Match or MoreData it
	// may write into fields, subject to accuracy; fields is reused
	// across calls for the same flow.
	OnBytes(st State, view memview.MemView, isEnd bool, accuracy Accuracy, fields *FieldSet) Verdict
}

// State is a dissector's private per-flow, per-direction scratch space.
// The dispatcher never inspects it.
type State interface{}
