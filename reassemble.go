package peafowl

import (
	"github.com/qingchen1984/peafowl/l3decode"
	"github.com/qingchen1984/peafowl/reassembly"
)

// reassembleIfFragment routes an IP fragment through the matching
// reassembly engine. handled is false for unfragmented packets, which the
// caller should process directly. When handled is true, status reports
// whether the fragment left the datagram incomplete (IPFragment, nothing
// to deliver yet), completed it (IPDataRebuilt, with datagram holding the
// FULL rebuilt IP datagram, header included), or the fragment was
// discarded by an anti-forgery/size check (also reported as IPFragment,
// per the protocol-anomaly policy: the caller just has nothing to process
// this round).
//
// The completing fragment is rarely the first one, so it carries no L4
// header of its own (TCP/UDP framing lives only in the first fragment);
// the caller must re-decode the returned datagram from scratch rather
// than reuse the triggering fragment's (mostly absent) L4 fields.
func (sr *StateRoot) reassembleIfFragment(p l3decode.Packet, timestamp int64, info *DissectionInfo) (status Status, datagram []byte, handled bool) {
	if !p.MoreFragments && p.FragOffset == 0 {
		return OK, nil, false
	}

	switch p.IPVersion {
	case 4:
		if sr.ipv4Defrag == nil {
			return OK, nil, false
		}
		result := sr.ipv4Defrag.ProcessFragment(p.IPv4Header, p.Payload, p.FragOffset, p.MoreFragments, timestamp)
		switch result.Outcome {
		case reassembly.Completed:
			info.L3.RefragPkt = result.Datagram
			info.L3.RefragPktLen = len(result.Datagram)
			return IPDataRebuilt, result.Datagram, true
		case reassembly.Discarded:
			return IPFragment, nil, true
		default:
			return IPFragment, nil, true
		}
	case 6:
		if sr.ipv6Defrag == nil {
			return OK, nil, false
		}
		result := sr.ipv6Defrag.ProcessFragment(p.IPv6Header, p.Payload, p.FragOffset, p.MoreFragments, timestamp)
		switch result.Outcome {
		case reassembly.Completed:
			info.L3.RefragPkt = result.Datagram
			info.L3.RefragPktLen = len(result.Datagram)
			return IPDataRebuilt, result.Datagram, true
		case reassembly.Discarded:
			return IPFragment, nil, true
		default:
			return IPFragment, nil, true
		}
	default:
		return ErrWrongIPVersion, nil, true
	}
}
