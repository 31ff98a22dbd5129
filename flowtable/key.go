package flowtable

import "bytes"

// Key is the canonical 5-tuple: addresses and ports are ordered so both
// directions of a bidirectional flow hash and compare equal. Addr fields
// hold IPv4 addresses left-justified in the low 4 bytes, zero-extended to
// 16 bytes, or a full IPv6 address.
type Key struct {
	AddrLow, AddrHigh [16]byte
	PortLow, PortHigh uint16
	Proto             uint8
}

// Canonicalize orders (srcAddr, srcPort) against (dstAddr, dstPort) so that
// both halves of a connection produce the same Key. It also reports the
// direction: true if the packet's source was the "low" side of the pair,
// so the caller can attribute per-direction counters correctly.
func Canonicalize(srcAddr [16]byte, srcPort uint16, dstAddr [16]byte, dstPort uint16, proto uint8) (Key, bool) {
	cmp := bytes.Compare(srcAddr[:], dstAddr[:])
	srcIsLow := cmp < 0 || (cmp == 0 && srcPort <= dstPort)

	if srcIsLow {
		return Key{
			AddrLow:  srcAddr,
			AddrHigh: dstAddr,
			PortLow:  srcPort,
			PortHigh: dstPort,
			Proto:    proto,
		}, true
	}
	return Key{
		AddrLow:  dstAddr,
		AddrHigh: srcAddr,
		PortLow:  dstPort,
		PortHigh: srcPort,
		Proto:    proto,
	}, false
}

// IPv4Addr left-justifies a 4-byte address into the 16-byte Key field
// shape used throughout the table.
func IPv4Addr(a [4]byte) [16]byte {
	var out [16]byte
	copy(out[:4], a[:])
	return out
}
