// Package peafowl is the module's State Root: the handle a caller creates
// once, feeds packets into via DissectFromL2/L3/L4, and destroys when done.
//
// Grounded on original_source/src/peafowl.c's pfwl_state_t and its
// pfwl_init*/pfwl_dissect_from_L2/L3/L4/pfwl_set_* surface; the teacher's
// gnet.NetTraffic supplied the nested-struct shape for DissectionInfo.
package peafowl

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/qingchen1984/peafowl/config"
	"github.com/qingchen1984/peafowl/flowtable"
	"github.com/qingchen1984/peafowl/internal/plog"
	"github.com/qingchen1984/peafowl/l7"
	"github.com/qingchen1984/peafowl/l7/dnsd"
	"github.com/qingchen1984/peafowl/l7/httpd"
	"github.com/qingchen1984/peafowl/l7/tlssni"
	"github.com/qingchen1984/peafowl/reassembly"
	"github.com/qingchen1984/peafowl/sets"
)

// FlowCleanerFunc is invoked exactly once per evicted or torn-down flow, so
// callers can release any field storage or external state they attached.
type FlowCleanerFunc func(*flowtable.Flow)

// StateRoot holds every piece of per-process state this module needs:
// both reassembly engines, the flow table, the L7 dispatcher, and the
// resolved option set. Nothing here is package-global; callers create and
// destroy it explicitly (spec.md §9's "no global state" design note).
type StateRoot struct {
	cfg config.Config
	log *logrus.Entry

	ipv4Defrag *reassembly.IPv4Engine
	ipv6Defrag *reassembly.IPv6Engine

	flows *flowtable.Table

	dispatcher  *l7.Dispatcher
	l7Enabled   sets.OrderedSet[l7.Protocol]
	l7SkipPorts map[int]l7.Protocol
}

// New builds a StateRoot from cfg. cleaner, if non-nil, is wired into the
// flow table's eviction path.
func New(cfg config.Config, cleaner FlowCleanerFunc) (*StateRoot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := plog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := plog.New(level, nil)

	sr := &StateRoot{
		cfg:         cfg,
		log:         log,
		l7Enabled:   sets.NewOrderedSet[l7.Protocol](),
		l7SkipPorts: make(map[int]l7.Protocol),
	}

	if cfg.IPv4Defrag.Enabled {
		sr.ipv4Defrag = reassembly.NewIPv4Engine(uint16(cfg.IPv4Defrag.TableSize))
		sr.ipv4Defrag.SetPerSourceLimit(uint32(cfg.IPv4Defrag.PerHostLimit))
		sr.ipv4Defrag.SetTotalLimit(uint32(cfg.IPv4Defrag.TotalLimit))
		sr.ipv4Defrag.SetTimeout(uint8(cfg.IPv4Defrag.TimeoutS))
	}
	if cfg.IPv6Defrag.Enabled {
		sr.ipv6Defrag = reassembly.NewIPv6Engine(uint16(cfg.IPv6Defrag.TableSize))
		sr.ipv6Defrag.SetPerSourceLimit(uint32(cfg.IPv6Defrag.PerHostLimit))
		sr.ipv6Defrag.SetTotalLimit(uint32(cfg.IPv6Defrag.TotalLimit))
		sr.ipv6Defrag.SetTimeout(uint8(cfg.IPv6Defrag.TimeoutS))
	}

	var flowCleaner flowtable.CleanerFunc
	if cleaner != nil {
		flowCleaner = flowtable.CleanerFunc(cleaner)
	}
	bucketsPerPartition := cfg.ExpectedFlows / cfg.Partitions
	if bucketsPerPartition < 1 {
		bucketsPerPartition = 1
	}
	maxActivePerPartition := cfg.ExpectedFlows / cfg.Partitions
	if maxActivePerPartition < 1 {
		maxActivePerPartition = cfg.ExpectedFlows
	}
	var poolChunkBytes, poolMaxBytes int64
	if cfg.Pools.Enabled {
		poolChunkBytes, poolMaxBytes = cfg.Pools.ChunkSizeBytes, cfg.Pools.MaxPoolSizeBytes
	}
	sr.flows, err = flowtable.New(cfg.Partitions, bucketsPerPartition, maxActivePerPartition, cfg.MaxTrials, cfg.Strict, flowCleaner, poolChunkBytes, poolMaxBytes)
	if err != nil {
		return nil, err
	}

	sr.dispatcher = l7.NewDispatcher(cfg.MaxTrials)
	sr.dispatcher.Register(httpd.New(), cfg.AccuracyFor("http"))
	sr.dispatcher.Register(dnsd.New(), cfg.AccuracyFor("dns"))
	sr.dispatcher.Register(tlssni.New(), cfg.AccuracyFor("tls"))

	for _, name := range cfg.L7Enabled {
		sr.l7Enabled.Insert(l7.Protocol(name))
	}
	for port, proto := range cfg.L7SkipPorts {
		sr.l7SkipPorts[port] = l7.Protocol(proto)
	}

	return sr, nil
}

// Logger returns the State Root's structured logger, so callers can attach
// their own fields before logging alongside it.
func (sr *StateRoot) Logger() *logrus.Entry { return sr.log }

// candidatesFor resolves the plausible L7 candidate set for a flow given
// its transport protocol and port hint, honoring l7_skip_ports overrides.
// Returned in a fixed order (sets.OrderedSet.AsSlice sorts the protocol
// names) so the dissector trial order — and therefore log output — is
// stable across runs with the same config, rather than following Go's
// randomized map iteration.
func (sr *StateRoot) candidatesFor(dstPort uint16) []l7.Protocol {
	if proto, skipped := sr.l7SkipPorts[int(dstPort)]; skipped {
		without := sr.l7Enabled.Clone()
		without.Delete(proto)
		return without.AsSlice()
	}
	return sr.l7Enabled.AsSlice()
}

func ipToKeyAddr(ip net.IP) [16]byte {
	var out [16]byte
	if v4 := ip.To4(); v4 != nil {
		copy(out[:4], v4)
		return out
	}
	copy(out[:], ip.To16())
	return out
}
