package peafowl

import (
	"net"

	"github.com/qingchen1984/peafowl/l3decode"
	"github.com/qingchen1984/peafowl/l7"
)

// L2Info is the link-layer slice of DissectionInfo.
type L2Info struct {
	Type   string
	Length int
}

// L3Info is the network-layer slice of DissectionInfo. RefragPkt is set
// (status IPDataRebuilt) when this packet completed IP fragment
// reassembly; it is the full reassembled datagram and its length.
type L3Info struct {
	Version       int
	Src, Dst      net.IP
	Length        int
	PayloadLength int
	RefragPkt     []byte
	RefragPktLen  int
}

// L4Info is the transport-layer slice of DissectionInfo. Direction is true
// when the packet's source was the "low" side of the canonical flow key.
// ResegmentedPkt holds the bytes delivered to L7 once reordering produces
// a contiguous run (status OK with non-empty payload).
type L4Info struct {
	Protocol       l3decode.L4Protocol
	SrcPort        uint16
	DstPort        uint16
	Length         int
	PayloadLength  int
	Direction      bool
	ResegmentedPkt []byte
}

// L7Info is the application-layer slice of DissectionInfo.
type L7Info struct {
	Protocol l7.Protocol
	Fields   l7.FieldSet
}

// DissectionInfo is the nested output struct every entrypoint populates up
// to the last successfully parsed layer (spec.md §6/§7's propagation
// policy): a failed L4 parse still leaves L2/L3 populated.
type DissectionInfo struct {
	L2 L2Info
	L3 L3Info
	L4 L4Info
	L7 L7Info
}
