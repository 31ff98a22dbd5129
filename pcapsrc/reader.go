// Package pcapsrc adapts a pcap file or live interface into the byte
// stream peafowl.StateRoot.DissectFromL2 expects, replacing the teacher's
// unwired gopacket/reassembly pipeline (its tcpStreamFactory.New returned
// nil and ParseTraffic was empty) with a real source that feeds the new
// State Root directly.
package pcapsrc

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// Reader yields decoded packets from some capture source until ctx is
// cancelled or the source is exhausted.
type Reader interface {
	Packets(ctx context.Context) (<-chan gopacket.Packet, error)
	LinkType() layers.LinkType
	Close()
}

// FileReader replays a pcap/pcapng capture file once, end to end.
type FileReader struct {
	path   string
	handle *pcap.Handle
}

// NewFileReader opens path for offline replay. The underlying handle is
// opened lazily on the first Packets call so construction never panics.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

func (r *FileReader) Packets(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenOffline(r.path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening capture file %q", r.path)
	}
	r.handle = handle

	out := make(chan gopacket.Packet)
	go func() {
		defer close(out)
		src := gopacket.NewPacketSource(handle, handle.LinkType())
		for packet := range src.Packets() {
			select {
			case <-ctx.Done():
				return
			case out <- packet:
			}
		}
	}()
	return out, nil
}

func (r *FileReader) LinkType() layers.LinkType {
	if r.handle == nil {
		return layers.LinkTypeEthernet
	}
	return r.handle.LinkType()
}

func (r *FileReader) Close() {
	if r.handle != nil {
		r.handle.Close()
	}
}

// DeviceReader captures live traffic off a named network interface.
type DeviceReader struct {
	device  string
	snaplen int32
	promisc bool
	handle  *pcap.Handle
}

// NewDeviceReader opens device for live capture with the given snapshot
// length and promiscuous-mode setting. Like FileReader, the handle opens
// lazily on the first Packets call.
func NewDeviceReader(device string, snaplen int32, promisc bool) *DeviceReader {
	return &DeviceReader{device: device, snaplen: snaplen, promisc: promisc}
}

func (r *DeviceReader) Packets(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenLive(r.device, r.snaplen, r.promisc, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "opening device %q", r.device)
	}
	r.handle = handle

	out := make(chan gopacket.Packet)
	go func() {
		defer close(out)
		src := gopacket.NewPacketSource(handle, handle.LinkType())
		for packet := range src.Packets() {
			select {
			case <-ctx.Done():
				return
			case out <- packet:
			}
		}
	}()
	return out, nil
}

func (r *DeviceReader) LinkType() layers.LinkType {
	if r.handle == nil {
		return layers.LinkTypeEthernet
	}
	return r.handle.LinkType()
}

func (r *DeviceReader) Close() {
	if r.handle != nil {
		r.handle.Close()
	}
}
