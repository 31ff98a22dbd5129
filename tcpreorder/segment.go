package tcpreorder

import (
	"github.com/qingchen1984/peafowl/mempool"
	"github.com/qingchen1984/peafowl/memview"
)

// segment is a buffered out-of-order byte range [Seq, End) in absolute TCP
// sequence-number space, threaded in a singly linked list ordered by Seq.
// An out-of-order segment can sit buffered across many packets before it
// drains, so its bytes are always copied out of the triggering packet's
// buffer up front rather than aliased — the caller's payload slice may
// alias a capture buffer that gets reused or overwritten as soon as this
// call returns. When a pool is configured the copy is pool-backed (buf
// non-nil); otherwise it's a plain heap copy.
type segment struct {
	seq, end uint32
	view     memview.MemView
	buf      mempool.Buffer
	next     *segment
}

// newSegment copies src (payload[g.start-seq:g.end-seq] from the caller's
// perspective) into owned storage, preferring pool if it can hold the
// whole span.
func newSegment(pool mempool.BufferPool, src []byte, seq, end uint32) *segment {
	if pool != nil {
		buf := pool.NewBuffer()
		if n, err := buf.Write(src); err == nil && n == len(src) {
			return &segment{seq: seq, end: end, view: buf.Bytes(), buf: buf}
		}
		buf.Release()
	}
	owned := append([]byte(nil), src...)
	return &segment{seq: seq, end: end, view: memview.New(owned)}
}

// release returns the segment's pool-backed storage, if any. Safe to call
// on an unpooled segment (no-op).
func (s *segment) release() {
	if s.buf != nil {
		s.buf.Release()
	}
}

// insertSegment splices [seq,end) into the ordered buffer headed by head,
// trimming the overlap against whichever bytes are already buffered so the
// same first-seen-wins rule applies here as in datagram reassembly.
func insertSegment(pool mempool.BufferPool, head *segment, payload []byte, seq, end uint32) *segment {
	pos := seq
	var gaps []segRange
	for cur := head; cur != nil && seqLess(cur.seq, end); cur = cur.next {
		if seqLessEq(cur.end, pos) {
			continue
		}
		if seqLess(pos, cur.seq) {
			gaps = append(gaps, segRange{pos, cur.seq})
		}
		if seqLess(pos, cur.end) {
			pos = cur.end
		}
	}
	if seqLess(pos, end) {
		gaps = append(gaps, segRange{pos, end})
	}

	for _, g := range gaps {
		head = sortedInsertSegment(head, newSegment(pool, payload[g.start-seq:g.end-seq], g.start, g.end))
	}
	return head
}

type segRange struct{ start, end uint32 }

func sortedInsertSegment(head *segment, s *segment) *segment {
	if head == nil || seqLess(s.seq, head.seq) {
		s.next = head
		return s
	}
	prev := head
	for prev.next != nil && seqLessEq(prev.next.seq, s.seq) {
		prev = prev.next
	}
	s.next = prev.next
	prev.next = s
	return head
}

// drainContiguous removes and concatenates every buffered segment that is
// now contiguous with expectedSeq, advancing it as it goes. It returns the
// new buffer head, the advanced expectedSeq, and the concatenated bytes
// (nil if nothing drained). Each drained segment's bytes are copied out
// before its pool-backed storage is released, since the pool may hand the
// same chunk to a new buffer (and zero it) as soon as release returns.
func drainContiguous(head *segment, expectedSeq uint32) (*segment, uint32, []byte) {
	var out []byte
	var drained []*segment
	for head != nil && seqLessEq(head.seq, expectedSeq) && seqLess(expectedSeq, head.end) {
		start := int64(expectedSeq - head.seq)
		out = append(out, []byte(head.view.SubView(start, head.view.Len()).String())...)
		expectedSeq = head.end
		drained = append(drained, head)
		head = head.next
	}
	for _, s := range drained {
		s.release()
	}
	return head, expectedSeq, out
}

// seqLess reports whether a precedes b in TCP sequence-number space,
// correctly handling wraparound near 2^32-1.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

func seqLessEq(a, b uint32) bool {
	return a == b || seqLess(a, b)
}
