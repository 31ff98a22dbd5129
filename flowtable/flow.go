package flowtable

import (
	"github.com/qingchen1984/peafowl/gid"
	"github.com/qingchen1984/peafowl/l7"
	"github.com/qingchen1984/peafowl/mempool"
	"github.com/qingchen1984/peafowl/tcpreorder"
)

// Flow is one tracked connection's full record (§3 "Flow Record"): the
// canonical key, timestamps, per-direction byte/packet counters, the TCP
// reorder state machine (nil for non-TCP flows), and L7 guess state.
type Flow struct {
	ID      gid.FlowID
	Key     Key
	Created int64
	LastSeen int64

	PacketsLowToHigh, PacketsHighToLow uint64
	BytesLowToHigh, BytesHighToLow     uint64

	TCP *tcpreorder.State
	L7  *l7.FlowState

	// Pool is the owning partition's buffer pool (spec.md §5: "memory
	// pools (optional) back flow allocations; they are per-partition to
	// avoid cross-thread contention"). Nil when pooling is disabled. TCP
	// passes it straight to tcpreorder.New so out-of-order segments are
	// copied into pool-backed storage instead of the table's own memory.
	Pool mempool.BufferPool

	partitionIdx int
	bucketIdx    int
	evicted      bool
	prevInBucket, nextInBucket *Flow
	prevLRU, nextLRU           *Flow
}

// Touch records activity on the flow at time now and in direction
// srcIsLow, updating counters; callers then move it to the LRU tail via the
// owning partition.
func (f *Flow) Touch(now int64, srcIsLow bool, n int) {
	f.LastSeen = now
	if srcIsLow {
		f.PacketsLowToHigh++
		f.BytesLowToHigh += uint64(n)
	} else {
		f.PacketsHighToLow++
		f.BytesHighToLow += uint64(n)
	}
}
