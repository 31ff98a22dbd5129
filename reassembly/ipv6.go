package reassembly

import (
	"sync"
)

// ipv6Flow is a specific <Source, Dest, Protocol, Identifier> in flight.
// Mirrors ipv4Flow; any modification here should be reflected in ipv4.go.
type ipv6Flow struct {
	header     []byte
	headerLen  uint8
	length     uint32
	id         uint32 // IPv6 fragment identification is 32 bits
	dstAddr    [16]byte
	protocol   uint8
	fragments  *Fragment
	prev, next *ipv6Flow
	tmr        timer
	source     *ipv6Source
}

// ipv6Source holds every flow in flight from one source IPv6 address.
type ipv6Source struct {
	addr       [16]byte
	usedMem    uint32
	row        uint16
	flows      *ipv6Flow
	prev, next *ipv6Source
}

// IPv6Header is the subset of an IPv6 fragment header process_fragment
// needs. Raw must hold exactly HeaderLen bytes of the fixed header plus
// any extension headers preceding the fragment header; the caller decodes
// it (L3 decode is an external collaborator, not reimplemented here).
type IPv6Header struct {
	Raw      []byte
	HeaderLen uint8
	ID        uint32
	PayloadLen uint16
	Protocol  uint8
	SrcAddr   [16]byte
	DstAddr   [16]byte
}

// IPv6Engine reassembles fragmented IPv6 datagrams. Structurally identical
// to IPv4Engine except for the wider address and fragment identifier.
type IPv6Engine struct {
	mu sync.Mutex

	table     []*ipv6Source
	tableSize uint16

	timers timerQueue

	perSourceLimit uint32
	totalLimit     uint32
	timeoutSeconds int64

	totalUsedMem uint32
}

func NewIPv6Engine(tableSize uint16) *IPv6Engine {
	return &IPv6Engine{
		table:          make([]*ipv6Source, tableSize),
		tableSize:      tableSize,
		perSourceLimit: defaultPerSourceLimit,
		totalLimit:     defaultTotalLimit,
		timeoutSeconds: defaultTimeoutSeconds,
	}
}

func (e *IPv6Engine) SetPerSourceLimit(limit uint32) { e.perSourceLimit = limit }
func (e *IPv6Engine) SetTotalLimit(limit uint32)     { e.totalLimit = limit }
func (e *IPv6Engine) SetTimeout(seconds uint8)       { e.timeoutSeconds = int64(seconds) }

// ipv6Hash folds the 16-byte address down to 32 bits with the same
// avalanche mix used for IPv4 before reducing mod tableSize.
func ipv6Hash(addr [16]byte, tableSize uint16) uint16 {
	var folded uint32
	for i := 0; i < 16; i += 4 {
		folded ^= uint32(addr[i])<<24 | uint32(addr[i+1])<<16 | uint32(addr[i+2])<<8 | uint32(addr[i+3])
	}
	folded = (folded + 0x7ed55d16) + (folded << 12)
	folded = (folded ^ 0xc761c23c) ^ (folded >> 19)
	folded = (folded + 0x165667b1) + (folded << 5)
	folded = (folded + 0xd3a2646c) ^ (folded << 9)
	folded = (folded + 0xfd7046c5) + (folded << 3)
	folded = (folded ^ 0xb55a4f09) ^ (folded >> 16)
	return uint16(folded % uint32(tableSize))
}

func (e *IPv6Engine) findOrCreateSource(addr [16]byte) *ipv6Source {
	row := ipv6Hash(addr, e.tableSize)
	for s := e.table[row]; s != nil; s = s.next {
		if s.addr == addr {
			return s
		}
	}
	s := &ipv6Source{addr: addr, row: row}
	s.next = e.table[row]
	if s.next != nil {
		s.next.prev = s
	}
	e.table[row] = s
	return s
}

func (e *IPv6Engine) deleteFlow(f *ipv6Flow) {
	source := f.source

	source.usedMem -= uint32(len(f.header))
	e.totalUsedMem -= uint32(len(f.header))

	for frag := f.fragments; frag != nil; frag = frag.Next {
		sz := frag.End - frag.Offset
		source.usedMem -= sz
		e.totalUsedMem -= sz
	}

	e.timers.remove(&f.tmr)

	if f.prev == nil {
		source.flows = f.next
		if source.flows != nil {
			source.flows.prev = nil
		}
	} else {
		f.prev.next = f.next
		if f.next != nil {
			f.next.prev = f.prev
		}
	}
}

func (e *IPv6Engine) deleteSource(s *ipv6Source) {
	for f := s.flows; f != nil; {
		next := f.next
		e.deleteFlow(f)
		f = next
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		e.table[s.row] = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
}

func (e *IPv6Engine) findOrCreateFlow(source *ipv6Source, hdr IPv6Header) *ipv6Flow {
	for f := source.flows; f != nil; f = f.next {
		if f.id == hdr.ID && f.dstAddr == hdr.DstAddr && f.protocol == hdr.Protocol {
			return f
		}
	}

	f := &ipv6Flow{
		id:       hdr.ID,
		dstAddr:  hdr.DstAddr,
		protocol: hdr.Protocol,
		source:   source,
	}
	f.next = source.flows
	if f.next != nil {
		f.next.prev = f
	}
	source.flows = f
	f.tmr.flow = f
	e.timers.add(&f.tmr)
	return f
}

// ProcessFragment mirrors IPv4Engine.ProcessFragment; see its comments for
// the rationale behind each check and the evicted-source fix.
func (e *IPv6Engine) ProcessFragment(hdr IPv6Header, payload []byte, offset uint32, moreFragments bool, now int64) Result {
	fragmentSize := uint32(len(payload))
	end := offset + fragmentSize

	if uint32(hdr.HeaderLen)+uint32(hdr.PayloadLen) < minimumMTU {
		return Result{Outcome: Discarded}
	}
	if end > maxDatagramSize {
		return Result{Outcome: Discarded}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	source := e.findOrCreateSource(hdr.SrcAddr)

	for source.flows != nil && source.usedMem > e.perSourceLimit {
		victim := source.flows
		e.deleteFlow(victim)
		if source.flows == nil {
			e.deleteSource(source)
			return Result{Outcome: Discarded}
		}
	}

	for e.timers.head != nil && (e.timers.head.expiration < now || e.totalUsedMem >= e.totalLimit) {
		victim := e.timers.head.flow.(*ipv6Flow)
		victimSource := victim.source
		e.deleteFlow(victim)
		if victimSource.flows == nil {
			e.deleteSource(victimSource)
		}
	}
	if source.flows == nil {
		alive := false
		for s := e.table[ipv6Hash(hdr.SrcAddr, e.tableSize)]; s != nil; s = s.next {
			if s == source {
				alive = true
				break
			}
		}
		if !alive {
			source = e.findOrCreateSource(hdr.SrcAddr)
		}
	}

	flow := e.findOrCreateFlow(source, hdr)
	e.timers.remove(&flow.tmr)
	flow.tmr.expiration = now + e.timeoutSeconds
	e.timers.add(&flow.tmr)

	if flow.length != 0 && offset > flow.length {
		return Result{Outcome: Discarded}
	}

	if offset == 0 && flow.header == nil {
		flow.header = append([]byte(nil), hdr.Raw...)
		flow.headerLen = hdr.HeaderLen
		e.totalUsedMem += uint32(len(flow.header))
		source.usedMem += uint32(len(flow.header))
	}

	if !moreFragments {
		if flow.length != 0 {
			return Result{Outcome: Discarded}
		}
		flow.length = end
	}

	newFragments, inserted := insertFragment(flow.fragments, payload, offset, end)
	flow.fragments = newFragments
	e.totalUsedMem += inserted
	source.usedMem += inserted

	if flow.length != 0 && isContiguous(flow.fragments, flow.length) {
		return e.completeDatagram(flow)
	}

	return Result{Outcome: Incomplete}
}

func (e *IPv6Engine) completeDatagram(flow *ipv6Flow) Result {
	source := flow.source
	headerLen := uint32(flow.headerLen)
	length := flow.length

	if headerLen+length > maxDatagramSize {
		e.deleteFlow(flow)
		if source.flows == nil {
			e.deleteSource(source)
		}
		return Result{Outcome: Discarded}
	}

	payload := compact(flow.fragments, length)
	if payload == nil {
		e.deleteFlow(flow)
		if source.flows == nil {
			e.deleteSource(source)
		}
		return Result{Outcome: Discarded}
	}

	datagram := make([]byte, headerLen+length)
	copy(datagram, flow.header)
	copy(datagram[headerLen:], payload)
	patchIPv6Length(datagram, length)
	// The fragment header is not part of the rebuilt datagram, so a bare
	// fixed header takes over the fragment header's Next Header value.
	if headerLen == 40 {
		datagram[6] = flow.protocol
	}

	e.deleteFlow(flow)
	if source.flows == nil {
		e.deleteSource(source)
	}

	return Result{Outcome: Completed, Datagram: datagram}
}

// patchIPv6Length rewrites the reassembled datagram's Payload Length field
// (bytes 4-5 of the fixed IPv6 header) to the rebuilt size.
func patchIPv6Length(datagram []byte, length uint32) {
	if len(datagram) < 40 {
		return
	}
	datagram[4] = byte(length >> 8)
	datagram[5] = byte(length)
}
