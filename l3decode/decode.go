// Package l3decode turns gopacket-decoded network/transport layers into the
// plain header structs the reassembly and flow-table packages expect,
// keeping gopacket/layers confined to decode (not reassembly, which this
// module reimplements per spec.md §4.3).
//
// Grounded on mel2oo-go-pcap/pcap/pcap_stream.go and gnet/net_traffic.go's
// use of gopacket/layers to pull src/dst addresses and ports out of a
// decoded packet.
package l3decode

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/qingchen1984/peafowl/reassembly"
)

// L4Protocol names the transport-layer protocol of a decoded packet.
type L4Protocol int

const (
	L4Unknown L4Protocol = iota
	L4TCP
	L4UDP
)

// Packet is one fully decoded network+transport layer pair, ready to feed
// either a reassembly engine (if it is an IP fragment) or the flow table
// directly (if it is not).
type Packet struct {
	IPVersion int // 4 or 6

	IPv4Header reassembly.IPv4Header
	IPv6Header reassembly.IPv6Header

	SrcIP, DstIP net.IP

	MoreFragments bool
	FragOffset    uint32 // in bytes

	Protocol L4Protocol
	SrcPort, DstPort uint16

	TCPSeq, TCPAck uint32
	TCPFlags       TCPFlags

	Payload []byte
}

// TCPFlags mirrors the control bits this module's TCP reorder state
// machine needs; gopacket's layers.TCP carries more (ECE, CWR, NS) that no
// SPEC_FULL.md component consumes.
type TCPFlags struct {
	SYN, ACK, FIN, RST bool
}

// Decode extracts a Packet from a gopacket.Packet's network and transport
// layers. It returns ok=false if the packet carries no recognised network
// layer (e.g. ARP) or its network layer is neither IPv4 nor IPv6.
func Decode(pkt gopacket.Packet) (p Packet, ok bool) {
	netLayer := pkt.NetworkLayer()
	if netLayer == nil {
		return Packet{}, false
	}

	switch l := netLayer.(type) {
	case *layers.IPv4:
		p.IPVersion = 4
		p.SrcIP, p.DstIP = l.SrcIP, l.DstIP
		p.MoreFragments = l.Flags&layers.IPv4MoreFragments != 0
		p.FragOffset = uint32(l.FragOffset) * 8
		p.IPv4Header = reassembly.IPv4Header{
			Raw:      pkt.NetworkLayer().LayerContents(),
			IHL:      l.IHL,
			ID:       l.Id,
			TotalLen: l.Length,
			Protocol: uint8(l.Protocol),
			SrcAddr:  ipv4ToUint32(l.SrcIP),
			DstAddr:  ipv4ToUint32(l.DstIP),
		}
	case *layers.IPv6:
		p.IPVersion = 6
		p.SrcIP, p.DstIP = l.SrcIP, l.DstIP
		if frag, isFrag := pkt.Layer(layers.LayerTypeIPv6Fragment).(*layers.IPv6Fragment); isFrag {
			p.MoreFragments = frag.MoreFragments
			p.FragOffset = uint32(frag.FragmentOffset) * 8
			p.IPv6Header = reassembly.IPv6Header{
				Raw:        pkt.NetworkLayer().LayerContents(),
				HeaderLen:  ipv6BaseHeaderLen,
				ID:         frag.Identification,
				PayloadLen: l.Length,
				Protocol:   uint8(frag.NextHeader),
				SrcAddr:    ipv6To16Bytes(l.SrcIP),
				DstAddr:    ipv6To16Bytes(l.DstIP),
			}
		} else {
			p.IPv6Header = reassembly.IPv6Header{
				Raw:        pkt.NetworkLayer().LayerContents(),
				HeaderLen:  ipv6BaseHeaderLen,
				PayloadLen: l.Length,
				Protocol:   uint8(l.NextHeader),
				SrcAddr:    ipv6To16Bytes(l.SrcIP),
				DstAddr:    ipv6To16Bytes(l.DstIP),
			}
		}
	default:
		return Packet{}, false
	}

	transportLayer := pkt.TransportLayer()
	if transportLayer == nil {
		p.Payload = netLayer.LayerPayload()
		return p, true
	}

	switch t := transportLayer.(type) {
	case *layers.TCP:
		p.Protocol = L4TCP
		p.SrcPort, p.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		p.TCPSeq, p.TCPAck = t.Seq, t.Ack
		p.TCPFlags = TCPFlags{SYN: t.SYN, ACK: t.ACK, FIN: t.FIN, RST: t.RST}
		p.Payload = t.Payload
	case *layers.UDP:
		p.Protocol = L4UDP
		p.SrcPort, p.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		p.Payload = t.Payload
	default:
		p.Payload = transportLayer.LayerPayload()
	}

	return p, true
}

const ipv6BaseHeaderLen = 40

func ipv4ToUint32(ip net.IP) uint32 {
	b := ip.To4()
	if b == nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func ipv6To16Bytes(ip net.IP) [16]byte {
	var out [16]byte
	copy(out[:], ip.To16())
	return out
}
