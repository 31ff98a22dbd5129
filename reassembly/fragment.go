package reassembly

// Fragment is a contiguous byte range [Offset, End) belonging to one
// in-flight datagram. Fragments of a flow are threaded in a singly linked
// list ordered by Offset; Next is nil at the tail.
type Fragment struct {
	Offset, End uint32
	Payload     []byte
	Next        *Fragment
}

type gapRange struct {
	start, end uint32
}

// uncoveredGaps returns the sub-ranges of [offset, end) not already
// covered by some fragment in the ordered list headed by head.
func uncoveredGaps(head *Fragment, offset, end uint32) []gapRange {
	var gaps []gapRange
	pos := offset
	for cur := head; cur != nil && cur.Offset < end; cur = cur.Next {
		if cur.End <= pos {
			continue
		}
		if cur.Offset > pos {
			gaps = append(gaps, gapRange{pos, cur.Offset})
		}
		if cur.End > pos {
			pos = cur.End
		}
	}
	if pos < end {
		gaps = append(gaps, gapRange{pos, end})
	}
	return gaps
}

// sortedInsert splices frag into the ordered list headed by head, keeping
// Offset order, and returns the (possibly new) head.
func sortedInsert(head *Fragment, frag *Fragment) *Fragment {
	if head == nil || frag.Offset < head.Offset {
		frag.Next = head
		return frag
	}
	prev := head
	for prev.Next != nil && prev.Next.Offset < frag.Offset {
		prev = prev.Next
	}
	frag.Next = prev.Next
	prev.Next = frag
	return head
}

// insertFragment inserts payload[0:end-offset) — representing the bytes
// at [offset, end) of the datagram — into the ordered fragment list headed
// by head, trusting the bytes already present for any overlap (classic BSD
// reassembly policy: the first-seen bytes in an overlapping region win).
// It returns the new head and the number of payload bytes that were
// actually inserted, i.e. the complement of what was already covered.
//
// No existing fragment is ever shortened or removed by this call, so bytes
// removed under the policy is always zero; process_fragment's caller only
// needs the inserted count to keep its memory accounting exact.
func insertFragment(head *Fragment, payload []byte, offset, end uint32) (*Fragment, uint32) {
	var inserted uint32
	for _, g := range uncoveredGaps(head, offset, end) {
		head = sortedInsert(head, &Fragment{
			Offset:  g.start,
			End:     g.end,
			Payload: payload[g.start-offset : g.end-offset],
		})
		inserted += g.end - g.start
	}
	return head, inserted
}

// isContiguous reports whether the fragment list, starting at offset 0,
// covers [0, length) without a gap; fragments past length are ignored.
func isContiguous(head *Fragment, length uint32) bool {
	if head == nil {
		return length == 0
	}
	if head.Offset != 0 {
		return false
	}
	next := head.End
	for cur := head.Next; cur != nil && next < length; cur = cur.Next {
		if cur.Offset > next {
			return false
		}
		if cur.End > next {
			next = cur.End
		}
	}
	return next >= length
}

// compact copies the ordered, contiguous fragment list into a single
// buffer of the given length. Returns nil if the list does not actually
// cover [0, length) contiguously (callers are expected to have verified
// this with isContiguous first; compact re-checks defensively).
func compact(head *Fragment, length uint32) []byte {
	out := make([]byte, length)
	var next uint32
	for cur := head; cur != nil && next < length; cur = cur.Next {
		if cur.Offset > next {
			return nil
		}
		end := cur.End
		if end > length {
			end = length
		}
		if end <= cur.Offset {
			continue
		}
		copy(out[cur.Offset:end], cur.Payload)
		if end > next {
			next = end
		}
	}
	if next < length {
		return nil
	}
	return out
}
