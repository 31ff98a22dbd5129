package l7

import (
	"github.com/qingchen1984/peafowl/memview"
	"github.com/qingchen1984/peafowl/sets"
)

// pending is the identified-protocol sentinel for a flow that has not yet
// produced a MATCH and has not yet exhausted its trial budget.
const pending Protocol = "\x00pending"

// FlowState is the per-flow L7 guess state the dispatcher threads through
// every OnBytes call: candidate protocols remaining, the confirmed (or
// pending/unknown) protocol, one opaque State block per still-live
// candidate, a trial counter, and the extracted-field store.
type FlowState struct {
	candidates sets.Set[Protocol]
	identified Protocol
	states     map[Protocol]State
	trials     int
	Fields     FieldSet
}

// newFlowState seeds a flow's candidate set from the dissectors plausible
// for its L4 protocol/port hints, as resolved by the Dispatcher.
func newFlowState(candidates []Protocol, dissectors map[Protocol]Dissector) *FlowState {
	fs := &FlowState{
		candidates: sets.NewSet(candidates...),
		identified: pending,
		states:     make(map[Protocol]State, len(candidates)),
	}
	for _, p := range candidates {
		fs.states[p] = dissectors[p].NewState()
	}
	return fs
}

// IdentifiedProtocol reports the flow's confirmed protocol, or Unknown both
// when identification failed and while it is still undetermined (use
// Pending to tell the two apart).
func (fs *FlowState) IdentifiedProtocol() Protocol {
	if fs.identified == pending {
		return Unknown
	}
	return fs.identified
}

// Pending reports whether identification is still undecided (candidate set
// non-empty, trial budget not exhausted).
func (fs *FlowState) Pending() bool {
	return fs.identified == pending
}

// Dispatcher owns the registry of known dissectors, the per-protocol
// accuracy map, and the trial budget; it is State Root's L7 component.
type Dispatcher struct {
	dissectors map[Protocol]Dissector
	accuracy   map[Protocol]Accuracy
	maxTrials  int
}

// NewDispatcher builds a dispatcher with the given trial budget (spec.md
// §4.4's "configured trial budget"; 0 means unbounded).
func NewDispatcher(maxTrials int) *Dispatcher {
	return &Dispatcher{
		dissectors: make(map[Protocol]Dissector),
		accuracy:   make(map[Protocol]Accuracy),
		maxTrials:  maxTrials,
	}
}

// Register enables a dissector for candidacy with a given default accuracy.
func (d *Dispatcher) Register(diss Dissector, accuracy Accuracy) {
	d.dissectors[diss.Name()] = diss
	d.accuracy[diss.Name()] = accuracy
}

// SetAccuracy overrides a registered protocol's accuracy level.
func (d *Dispatcher) SetAccuracy(p Protocol, a Accuracy) {
	d.accuracy[p] = a
}

// NewFlow seeds candidate-protocol state for a freshly observed flow, given
// the plausible candidates (already narrowed by L4 protocol and port hints
// by the caller).
func (d *Dispatcher) NewFlow(candidates []Protocol) *FlowState {
	live := make([]Protocol, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := d.dissectors[p]; ok {
			live = append(live, p)
		}
	}
	return newFlowState(live, d.dissectors)
}

// Dispatch runs one delivered byte span through every remaining candidate
// dissector for fs, applying the MATCH/NO_MATCH/MORE_DATA contract from
// spec.md §4.4. It mutates fs in place and returns the verdict for this
// call (Match once identification lands, MoreData while still undecided,
// NoMatch once the candidate set empties or the trial budget is spent).
func (d *Dispatcher) Dispatch(fs *FlowState, view memview.MemView, isEnd bool) Verdict {
	if !fs.Pending() {
		if fs.identified == Unknown || fs.identified == "" {
			return NoMatch
		}
		// Already matched: only re-invoke under HIGH accuracy so the
		// dissector can keep extracting fields.
		if d.accuracy[fs.identified] != HIGH {
			return Match
		}
		diss := d.dissectors[fs.identified]
		diss.OnBytes(fs.states[fs.identified], view, isEnd, HIGH, &fs.Fields)
		return Match
	}

	fs.trials++

	for _, p := range sets.AsOrderedSet(fs.candidates).AsSlice() {
		diss, ok := d.dissectors[p]
		if !ok {
			fs.candidates.Delete(p)
			continue
		}
		v := diss.OnBytes(fs.states[p], view, isEnd, d.accuracy[p], &fs.Fields)
		switch v {
		case Match:
			fs.identified = p
			fs.candidates = sets.NewSet(p)
			return Match
		case NoMatch:
			fs.candidates.Delete(p)
			delete(fs.states, p)
		case MoreData:
			// stays a candidate
		}
	}

	if fs.candidates.IsEmpty() || (d.maxTrials > 0 && fs.trials >= d.maxTrials) {
		fs.identified = Unknown
		fs.candidates = sets.NewSet[Protocol]()
		return NoMatch
	}
	return MoreData
}
