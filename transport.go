package peafowl

import (
	"github.com/qingchen1984/peafowl/flowtable"
	"github.com/qingchen1984/peafowl/l3decode"
	"github.com/qingchen1984/peafowl/memview"
	"github.com/qingchen1984/peafowl/tcpreorder"
)

// processTransport is the shared tail of every dissection entrypoint once
// an L4 segment (direct, or a UDP/TCP segment sliced out of a reassembled
// IP datagram) is in hand: flow lookup, TCP reordering, and L7 dispatch.
func (sr *StateRoot) processTransport(p l3decode.Packet, timestamp int64, info DissectionInfo) (Status, DissectionInfo) {
	info.L4 = L4Info{
		Protocol:      p.Protocol,
		SrcPort:       p.SrcPort,
		DstPort:       p.DstPort,
		PayloadLength: len(p.Payload),
	}

	if p.Protocol != l3decode.L4TCP && p.Protocol != l3decode.L4UDP {
		return ErrL4Parsing, info
	}

	srcAddr := ipToKeyAddr(p.SrcIP)
	dstAddr := ipToKeyAddr(p.DstIP)
	key, srcIsLow := flowtable.Canonicalize(srcAddr, p.SrcPort, dstAddr, p.DstPort, uint8(p.Protocol))
	info.L4.Direction = srcIsLow

	flow, isNew, err := sr.flows.LookupOrCreate(key, timestamp)
	if err != nil {
		return ErrMaxFlows, info
	}
	flow.Touch(timestamp, srcIsLow, len(p.Payload))

	if isNew {
		flow.L7 = sr.dispatcher.NewFlow(sr.candidatesFor(p.DstPort))
		if p.Protocol == l3decode.L4TCP && sr.cfg.TCPReordering {
			flow.TCP = tcpreorder.New(flow.Pool)
		}
	}

	payload := p.Payload
	isEnd := p.TCPFlags.FIN || p.TCPFlags.RST

	if p.Protocol == l3decode.L4TCP && sr.cfg.TCPReordering && flow.TCP != nil {
		dir := tcpreorder.DirLowToHigh
		if !srcIsLow {
			dir = tcpreorder.DirHighToLow
		}
		result := flow.TCP.Process(dir, p.TCPSeq, p.Payload, tcpreorder.Flags{
			SYN: p.TCPFlags.SYN, ACK: p.TCPFlags.ACK, FIN: p.TCPFlags.FIN, RST: p.TCPFlags.RST,
		})
		switch result.Status {
		case tcpreorder.Terminated:
			return TCPConnectionTerminated, info
		case tcpreorder.OutOfOrder:
			return TCPOutOfOrder, info
		case tcpreorder.Duplicate:
			// State already applied the idempotent-duplicate rule (§8);
			// nothing new to deliver, but a retransmit isn't an anomaly
			// worth surfacing as out-of-order.
			return OK, info
		case tcpreorder.Delivered:
			if result.Delivered.Len() == 0 {
				return OK, info
			}
			payload = []byte(result.Delivered.String())
			info.L4.ResegmentedPkt = payload
			return sr.dispatchL7(flow, payload, isEnd, info)
		}
	}

	info.L4.ResegmentedPkt = payload
	return sr.dispatchL7(flow, payload, isEnd, info)
}

// dispatchL7 feeds delivered application-layer bytes through the L7
// dispatcher and folds the result into info.L7.
func (sr *StateRoot) dispatchL7(flow *flowtable.Flow, payload []byte, isEnd bool, info DissectionInfo) (Status, DissectionInfo) {
	if flow.L7 == nil || len(payload) == 0 {
		return OK, info
	}
	view := memview.New(payload)
	sr.dispatcher.Dispatch(flow.L7, view, isEnd)
	info.L7 = L7Info{
		Protocol: flow.L7.IdentifiedProtocol(),
		Fields:   flow.L7.Fields,
	}
	return OK, info
}
