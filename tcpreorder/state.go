package tcpreorder

import (
	"github.com/qingchen1984/peafowl/mempool"
	"github.com/qingchen1984/peafowl/memview"
)

// ConnState is the lifecycle of one TCP connection as seen by the
// reordering engine, independent of either direction's byte delivery.
type ConnState int

const (
	StateNone ConnState = iota
	StateSynSent
	StateSynAcked
	StateEstablished
	StateFinWait
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateSynSent:
		return "SYN_SENT"
	case StateSynAcked:
		return "SYN_ACKED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "NONE"
	}
}

// Direction identifies which side of a canonicalised flow a segment
// travelled from; it mirrors the direction bit flowtable.Canonicalize
// returns.
type Direction int

const (
	DirLowToHigh Direction = 0
	DirHighToLow Direction = 1
)

func (d Direction) other() Direction {
	return 1 - d
}

// Flags carries the TCP control bits relevant to reordering.
type Flags struct {
	SYN, ACK, FIN, RST bool
}

// Status classifies what Process did with one segment.
type Status int

const (
	Duplicate Status = iota
	OutOfOrder
	Delivered
	Terminated
)

// Result is returned from every call to Process.
type Result struct {
	Status    Status
	Delivered memview.MemView
}

type directionState struct {
	haveInitialSeq bool
	initialSeq     uint32
	expectedSeq    uint32
	buffer         *segment
	finSeen        bool
}

// State tracks one TCP connection's reordering progress in both
// directions. Callers are expected to serialise access externally (the
// flow table's per-partition lock does this in practice), so State itself
// holds no lock.
type State struct {
	conn ConnState
	dirs [2]directionState
	pool mempool.BufferPool
}

// New creates reordering state for a freshly observed TCP flow. pool, if
// non-nil, backs the out-of-order buffer so buffered segments draw from
// the flow's partition budget instead of the heap; pass nil to disable
// pooling for this flow.
func New(pool mempool.BufferPool) *State {
	return &State{pool: pool}
}

// Close releases any pool-backed storage still held by buffered
// out-of-order segments in either direction. Called once when the owning
// flow is evicted or torn down; safe to call on a State with no pool
// configured (release is then a no-op per segment).
func (s *State) Close() {
	for i := range s.dirs {
		for seg := s.dirs[i].buffer; seg != nil; seg = seg.next {
			seg.release()
		}
		s.dirs[i].buffer = nil
	}
}

// Process runs one segment through the per-segment rules: RST handling,
// SYN/SYN-ACK handshake tracking, duplicate/overlap resolution, in-order
// delivery with drain-on-arrival, and FIN half-close tracking.
func (s *State) Process(dir Direction, seq uint32, payload []byte, flags Flags) Result {
	if flags.RST {
		s.conn = StateClosed
		return Result{Status: Terminated}
	}

	d := &s.dirs[dir]

	switch {
	case flags.SYN && !flags.ACK:
		if !d.haveInitialSeq {
			d.haveInitialSeq = true
			d.initialSeq = seq
			d.expectedSeq = seq + 1
		}
		if s.conn == StateNone {
			s.conn = StateSynSent
		}
	case flags.SYN && flags.ACK:
		if !d.haveInitialSeq {
			d.haveInitialSeq = true
			d.initialSeq = seq
			d.expectedSeq = seq + 1
		}
		if s.conn == StateSynSent {
			s.conn = StateSynAcked
		}
	case flags.ACK && s.conn == StateSynAcked:
		s.conn = StateEstablished
	default:
		if !d.haveInitialSeq {
			d.haveInitialSeq = true
			d.initialSeq = seq
			d.expectedSeq = seq
		}
	}

	end := seq + uint32(len(payload))

	var delivered []byte
	status := OutOfOrder

	switch {
	case len(payload) == 0:
		// Pure control segment (e.g. bare ACK); nothing to reorder.
		status = Delivered
	case seqLessEq(end, d.expectedSeq):
		status = Duplicate
	case seqLessEq(seq, d.expectedSeq) && seqLess(d.expectedSeq, end):
		trimStart := d.expectedSeq - seq
		delivered = append(delivered, payload[trimStart:]...)
		d.expectedSeq = end
		var drained []byte
		d.buffer, d.expectedSeq, drained = drainContiguous(d.buffer, d.expectedSeq)
		delivered = append(delivered, drained...)
		status = Delivered
	default:
		d.buffer = insertSegment(s.pool, d.buffer, payload, seq, end)
		status = OutOfOrder
	}

	if flags.FIN {
		d.finSeen = true
		if s.dirs[dir.other()].finSeen {
			s.conn = StateClosed
			return Result{Status: Terminated}
		}
		s.conn = StateFinWait
	}

	if status == Delivered && len(delivered) > 0 {
		return Result{Status: Delivered, Delivered: memview.New(delivered)}
	}
	return Result{Status: status}
}

// ConnState reports the connection's current lifecycle state.
func (s *State) ConnState() ConnState {
	return s.conn
}
