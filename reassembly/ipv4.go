package reassembly

import (
	"sync"
)

// ipv4Flow is a specific <Source, Dest, Protocol, Identifier> in flight.
type ipv4Flow struct {
	header    []byte // cached IHL bytes of the first-seen fragment's header
	ihl       uint8
	length    uint32 // total payload length; 0 until the final fragment arrives
	id        uint16
	dstAddr   uint32
	protocol  uint8
	fragments *Fragment
	prev, next *ipv4Flow
	tmr        timer
	source     *ipv4Source
}

// ipv4Source holds every flow in flight from one source IPv4 address.
type ipv4Source struct {
	addr       uint32
	usedMem    uint32
	row        uint16
	flows      *ipv4Flow
	prev, next *ipv4Source
}

// IPv4Header is the subset of an IPv4 header process_fragment needs. Raw
// must hold exactly IHL*4 bytes; the caller decodes it (L3 decode is an
// external collaborator, not reimplemented here).
type IPv4Header struct {
	Raw      []byte
	IHL      uint8
	ID       uint16
	TotalLen uint16
	Protocol uint8
	SrcAddr  uint32
	DstAddr  uint32
}

// IPv4Engine reassembles fragmented IPv4 datagrams within configurable
// per-source and global memory ceilings. One lock guards the whole engine;
// process_fragment holds it for its (short, bounded) duration.
//
// Any modification done here should be reflected in IPv6Engine.
type IPv4Engine struct {
	mu sync.Mutex

	table     []*ipv4Source
	tableSize uint16

	timers timerQueue

	perSourceLimit uint32
	totalLimit     uint32
	timeoutSeconds int64

	totalUsedMem uint32
}

// NewIPv4Engine creates a reassembly engine with tableSize buckets in its
// source hash table.
func NewIPv4Engine(tableSize uint16) *IPv4Engine {
	return &IPv4Engine{
		table:          make([]*ipv4Source, tableSize),
		tableSize:      tableSize,
		perSourceLimit: defaultPerSourceLimit,
		totalLimit:     defaultTotalLimit,
		timeoutSeconds: defaultTimeoutSeconds,
	}
}

func (e *IPv4Engine) SetPerSourceLimit(limit uint32) { e.perSourceLimit = limit }
func (e *IPv4Engine) SetTotalLimit(limit uint32)     { e.totalLimit = limit }
func (e *IPv4Engine) SetTimeout(seconds uint8)       { e.timeoutSeconds = int64(seconds) }

// ipv4Hash is Robert Jenkins' 32-bit integer avalanche mix over the source
// address, matching the distribution properties the original reassembly
// code relied on (any avalanche function with acceptable distribution
// satisfies the contract).
func ipv4Hash(addr uint32, tableSize uint16) uint16 {
	addr = (addr + 0x7ed55d16) + (addr << 12)
	addr = (addr ^ 0xc761c23c) ^ (addr >> 19)
	addr = (addr + 0x165667b1) + (addr << 5)
	addr = (addr + 0xd3a2646c) ^ (addr << 9)
	addr = (addr + 0xfd7046c5) + (addr << 3)
	addr = (addr ^ 0xb55a4f09) ^ (addr >> 16)
	return uint16(addr % uint32(tableSize))
}

func (e *IPv4Engine) findOrCreateSource(addr uint32) *ipv4Source {
	row := ipv4Hash(addr, e.tableSize)
	for s := e.table[row]; s != nil; s = s.next {
		if s.addr == addr {
			return s
		}
	}
	s := &ipv4Source{addr: addr, row: row}
	s.next = e.table[row]
	if s.next != nil {
		s.next.prev = s
	}
	e.table[row] = s
	return s
}

func (e *IPv4Engine) deleteFlow(f *ipv4Flow) {
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

func (e *IPv4Engine) deleteSource(s *ipv4Source) {
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

func (e *IPv4Engine) findOrCreateFlow(source *ipv4Source, hdr IPv4Header) *ipv4Flow {
	for f := source.flows; f != nil; f = f.next {
		if f.id == hdr.ID && f.dstAddr == hdr.DstAddr && f.protocol == hdr.Protocol {
			return f
		}
	}

	f := &ipv4Flow{
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

// ProcessFragment implements the nine pre-insert checks, BSD-style overlap
// trim, and completion check described for the reassembly engine.
func (e *IPv4Engine) ProcessFragment(hdr IPv4Header, payload []byte, offset uint32, moreFragments bool, now int64) Result {
	fragmentSize := uint32(len(payload))
	end := offset + fragmentSize

	// Check 1: anti-forgery minimum MTU.
	if hdr.TotalLen < minimumMTU {
		return Result{Outcome: Discarded}
	}
	// Check 2: oversize attempt.
	if end > maxDatagramSize {
		return Result{Outcome: Discarded}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Check 3: locate-or-create source.
	source := e.findOrCreateSource(hdr.SrcAddr)

	// Check 4: per-source memory pressure.
	for source.flows != nil && source.usedMem > e.perSourceLimit {
		victim := source.flows
		e.deleteFlow(victim)
		if source.flows == nil {
			e.deleteSource(source)
			return Result{Outcome: Discarded}
		}
	}

	// Check 5: global memory pressure / timer expiry. The evicted flow's
	// OWN source must be checked for emptiness here, not the source of the
	// fragment we are currently processing — using the wrong source lets a
	// just-emptied source linger in the table forever.
	for e.timers.head != nil && (e.timers.head.expiration < now || e.totalUsedMem >= e.totalLimit) {
		victim := e.timers.head.flow.(*ipv4Flow)
		victimSource := victim.source
		e.deleteFlow(victim)
		if victimSource.flows == nil {
			e.deleteSource(victimSource)
		}
	}
	// The eviction above may have deleted the very source we looked up.
	if source.flows == nil {
		alive := false
		for s := e.table[ipv4Hash(hdr.SrcAddr, e.tableSize)]; s != nil; s = s.next {
			if s == source {
				alive = true
				break
			}
		}
		if !alive {
			source = e.findOrCreateSource(hdr.SrcAddr)
		}
	}

	// Check 6: locate-or-create flow.
	flow := e.findOrCreateFlow(source, hdr)
	// Refreshing the expiry moves the timer to the tail, keeping the queue
	// in expiration order.
	e.timers.remove(&flow.tmr)
	flow.tmr.expiration = now + e.timeoutSeconds
	e.timers.add(&flow.tmr)

	// Check 7: malformed fragment starting past the known end.
	if flow.length != 0 && offset > flow.length {
		return Result{Outcome: Discarded}
	}

	// Check 8: cache the header from the first fragment.
	if offset == 0 && flow.header == nil {
		flow.header = append([]byte(nil), hdr.Raw...)
		flow.ihl = hdr.IHL
		e.totalUsedMem += uint32(len(flow.header))
		source.usedMem += uint32(len(flow.header))
	}

	// Check 9: last fragment sets the known total length.
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

func (e *IPv4Engine) completeDatagram(flow *ipv4Flow) Result {
	source := flow.source
	ihl := uint32(flow.ihl) * 4
	length := flow.length

	if ihl+length > maxDatagramSize {
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

	datagram := make([]byte, ihl+length)
	copy(datagram, flow.header)
	copy(datagram[ihl:], payload)
	patchIPv4Length(datagram, ihl, length)

	e.deleteFlow(flow)
	if source.flows == nil {
		e.deleteSource(source)
	}

	return Result{Outcome: Completed, Datagram: datagram}
}

// patchIPv4Length rewrites the reassembled datagram's frag-offset/MF bits
// to zero and its total-length field to the rebuilt size, mirroring the
// header fixups the original reassembly performed before returning the
// datagram to the caller.
func patchIPv4Length(datagram []byte, ihl, length uint32) {
	if len(datagram) < 20 {
		return
	}
	totalLen := ihl + length
	datagram[2] = byte(totalLen >> 8)
	datagram[3] = byte(totalLen)
	datagram[6] = 0
	datagram[7] = 0
}
