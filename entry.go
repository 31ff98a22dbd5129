package peafowl

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/qingchen1984/peafowl/l3decode"
)

// DissectFromL2 dissects a full link-layer frame. linkType selects which
// gopacket decoder peels the L2 header (Ethernet, Linux SLL, raw IP, …);
// everything after that is handled identically to DissectFromL3.
func (sr *StateRoot) DissectFromL2(pkt []byte, timestamp int64, linkType layers.LinkType) (Status, DissectionInfo) {
	gp := gopacket.NewPacket(pkt, linkType, gopacket.NoCopy)
	var info DissectionInfo
	if l2 := gp.LinkLayer(); l2 != nil {
		info.L2 = L2Info{Type: l2.LayerType().String(), Length: len(l2.LayerContents())}
	}
	return sr.dissectPacket(gp, timestamp, info)
}

// DissectFromL3 dissects a bare network-layer packet (no link-layer
// framing): the first nibble of pkt[0] selects IPv4 vs IPv6, mirroring
// original_source's version check in pfwl_dissect_L3.
func (sr *StateRoot) DissectFromL3(pkt []byte, timestamp int64) (Status, DissectionInfo) {
	var info DissectionInfo
	if len(pkt) < 1 {
		return ErrL3Parsing, info
	}

	version := pkt[0] >> 4
	var linkType gopacket.LayerType
	switch version {
	case 4:
		linkType = layers.LayerTypeIPv4
	case 6:
		linkType = layers.LayerTypeIPv6
	default:
		return ErrWrongIPVersion, info
	}

	gp := gopacket.NewPacket(pkt, linkType, gopacket.NoCopy)
	return sr.dissectPacket(gp, timestamp, info)
}

// DissectFromL4 dissects a bare transport-layer segment, given the
// network-layer addresses and protocol already resolved by the caller
// (continuing a chain that started at DissectFromL2/L3, or fed directly by
// an adapter that only has L4 bytes, e.g. a reassembled IP fragment).
func (sr *StateRoot) DissectFromL4(proto l3decode.L4Protocol, srcIP, dstIP net.IP, pkt []byte, timestamp int64, info DissectionInfo) (Status, DissectionInfo) {
	p := l3decode.Packet{
		IPVersion: info.L3.Version,
		SrcIP:     srcIP,
		DstIP:     dstIP,
		Protocol:  proto,
	}

	switch proto {
	case l3decode.L4TCP:
		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(pkt, gopacket.NilDecodeFeedback); err != nil {
			return ErrL4Parsing, info
		}
		p.SrcPort, p.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		p.TCPSeq, p.TCPAck = tcp.Seq, tcp.Ack
		p.TCPFlags = l3decode.TCPFlags{SYN: tcp.SYN, ACK: tcp.ACK, FIN: tcp.FIN, RST: tcp.RST}
		p.Payload = tcp.Payload
	case l3decode.L4UDP:
		var udp layers.UDP
		if err := udp.DecodeFromBytes(pkt, gopacket.NilDecodeFeedback); err != nil {
			return ErrL4Parsing, info
		}
		p.SrcPort, p.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		p.Payload = udp.Payload
	default:
		return ErrL4Parsing, info
	}

	return sr.processTransport(p, timestamp, info)
}

// dissectPacket runs the shared decode-then-process pipeline for a fully
// gopacket-decoded frame (used by both DissectFromL2 and DissectFromL3).
func (sr *StateRoot) dissectPacket(gp gopacket.Packet, timestamp int64, info DissectionInfo) (Status, DissectionInfo) {
	p, ok := l3decode.Decode(gp)
	if !ok {
		return ErrL3Parsing, info
	}

	info.L3 = L3Info{
		Version: p.IPVersion,
		Src:     p.SrcIP,
		Dst:     p.DstIP,
	}

	if status, datagram, handled := sr.reassembleIfFragment(p, timestamp, &info); handled {
		if status != IPDataRebuilt {
			return status, info
		}
		var linkType gopacket.LayerType
		switch p.IPVersion {
		case 4:
			linkType = layers.LayerTypeIPv4
		case 6:
			linkType = layers.LayerTypeIPv6
		}
		rebuiltPkt := gopacket.NewPacket(datagram, linkType, gopacket.NoCopy)
		rebuiltP, ok := l3decode.Decode(rebuiltPkt)
		if !ok {
			return ErrL3Parsing, info
		}
		p = rebuiltP
	}

	return sr.processTransport(p, timestamp, info)
}
