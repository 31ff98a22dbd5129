package flowtable

import (
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
	"github.com/qingchen1984/peafowl/gid"
	"github.com/qingchen1984/peafowl/mempool"
)

// ErrMaxFlows is returned by LookupOrCreate when a partition cannot admit a
// new flow: either strict mode found the table full, or non-strict mode
// found every existing flow pinned (none evictable) — spec.md §9's second
// open question, resolved here by surfacing the error in both cases rather
// than silently reusing a slot.
var ErrMaxFlows = errors.New("flow table: max flows reached")

// CleanerFunc releases caller-owned state (extracted fields, dissector
// state) before a flow is evicted or the table is torn down.
type CleanerFunc func(*Flow)

type partition struct {
	mu sync.Mutex

	buckets   []*Flow
	lruHead   *Flow // oldest
	lruTail   *Flow // most recently touched

	activeCount    int
	maxActiveFlows int
	maxTrials      int
	strict         bool
	cleaner        CleanerFunc
	pool           mempool.BufferPool
}

// Table is the partitioned flow table (§4.2): the high bits of the key
// hash pick a partition, each with an independent lock and LRU so the
// per-packet hot path never needs cross-partition coordination.
type Table struct {
	partitions []*partition
}

// New creates a table with the given number of partitions, each sized to
// hold up to maxActiveFlows flows across bucketsPerPartition buckets.
// strict controls whether a full partition rejects new flows (true) or
// evicts its LRU flow to make room (false). cleaner, if non-nil, is
// invoked on every evicted flow exactly once before it is discarded.
//
// poolChunkBytes/poolMaxBytes configure one independent mempool.BufferPool
// per partition (spec.md §5's "memory pools (optional) back flow
// allocations; they are per-partition to avoid cross-thread contention").
// poolMaxBytes <= 0 disables pooling entirely; every Flow handed out then
// carries a nil Pool, and tcpreorder falls back to unpooled copies.
func New(partitions, bucketsPerPartition, maxActiveFlows, maxTrials int, strict bool, cleaner CleanerFunc, poolChunkBytes, poolMaxBytes int64) (*Table, error) {
	t := &Table{partitions: make([]*partition, partitions)}
	for i := range t.partitions {
		p := &partition{
			buckets:        make([]*Flow, bucketsPerPartition),
			maxActiveFlows: maxActiveFlows,
			maxTrials:      maxTrials,
			strict:         strict,
			cleaner:        cleaner,
		}
		if poolMaxBytes > 0 {
			pool, err := mempool.MakeBufferPool(poolMaxBytes, poolChunkBytes)
			if err != nil {
				return nil, errors.Wrapf(err, "partition %d buffer pool", i)
			}
			p.pool = pool
		}
		t.partitions[i] = p
	}
	return t, nil
}

func hashKey(k Key) uint64 {
	h := fnv.New64a()
	h.Write(k.AddrLow[:])
	h.Write(k.AddrHigh[:])
	h.Write([]byte{byte(k.PortLow), byte(k.PortLow >> 8)})
	h.Write([]byte{byte(k.PortHigh), byte(k.PortHigh >> 8)})
	h.Write([]byte{k.Proto})
	return h.Sum64()
}

func (t *Table) partitionFor(hash uint64) *partition {
	n := uint64(len(t.partitions))
	return t.partitions[(hash>>32)%n]
}

// LookupOrCreate finds the flow for key, creating one if absent. now is the
// current timestamp used for LRU ordering and the new flow's Created/
// LastSeen fields.
func (t *Table) LookupOrCreate(key Key, now int64) (flow *Flow, isNew bool, err error) {
	hash := hashKey(key)
	p := t.partitionFor(hash)

	p.mu.Lock()
	defer p.mu.Unlock()

	bucketIdx := int(hash % uint64(len(p.buckets)))

	trials := 0
	for f := p.buckets[bucketIdx]; f != nil; f = f.nextInBucket {
		trials++
		if trials > p.maxTrials {
			break
		}
		if f.Key == key {
			p.touchLRU(f, now, true)
			return f, false, nil
		}
	}

	if p.activeCount >= p.maxActiveFlows || trials > p.maxTrials {
		if p.strict {
			return nil, false, ErrMaxFlows
		}
		if !p.evictLRU() {
			return nil, false, ErrMaxFlows
		}
	}

	f = &Flow{
		ID:           gid.GenerateFlowID(),
		Key:          key,
		Created:      now,
		LastSeen:     now,
		Pool:         p.pool,
		partitionIdx: 0,
		bucketIdx:    bucketIdx,
	}
	p.insertBucket(bucketIdx, f)
	p.appendLRU(f)
	p.activeCount++
	return f, true, nil
}

// Evict removes flow from its partition, invoking the cleaner callback if
// one is configured. Safe to call more than once on the same flow (e.g. a
// caller racing the table's own LRU eviction): every call after the first
// is a no-op, tracked via the flow's evicted flag rather than its bucket
// pointers.
func (t *Table) Evict(flow *Flow) {
	hash := hashKey(flow.Key)
	p := t.partitionFor(hash)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.remove(flow)
}

func (p *partition) touchLRU(f *Flow, now int64, bump bool) {
	f.LastSeen = now
	if !bump || f == p.lruTail {
		return
	}
	p.unlinkLRU(f)
	p.linkLRUTail(f)
}

func (p *partition) appendLRU(f *Flow) {
	p.linkLRUTail(f)
}

func (p *partition) linkLRUTail(f *Flow) {
	f.prevLRU = p.lruTail
	f.nextLRU = nil
	if p.lruTail != nil {
		p.lruTail.nextLRU = f
	} else {
		p.lruHead = f
	}
	p.lruTail = f
}

func (p *partition) unlinkLRU(f *Flow) {
	if f.prevLRU != nil {
		f.prevLRU.nextLRU = f.nextLRU
	} else {
		p.lruHead = f.nextLRU
	}
	if f.nextLRU != nil {
		f.nextLRU.prevLRU = f.prevLRU
	} else {
		p.lruTail = f.prevLRU
	}
	f.prevLRU, f.nextLRU = nil, nil
}

func (p *partition) insertBucket(idx int, f *Flow) {
	f.bucketIdx = idx
	f.nextInBucket = p.buckets[idx]
	f.prevInBucket = nil
	if p.buckets[idx] != nil {
		p.buckets[idx].prevInBucket = f
	}
	p.buckets[idx] = f
}

func (p *partition) unlinkBucket(f *Flow) {
	if f.prevInBucket != nil {
		f.prevInBucket.nextInBucket = f.nextInBucket
	} else {
		p.buckets[f.bucketIdx] = f.nextInBucket
	}
	if f.nextInBucket != nil {
		f.nextInBucket.prevInBucket = f.prevInBucket
	}
	f.prevInBucket, f.nextInBucket = nil, nil
}

// evictLRU removes the oldest flow in the partition. Reports whether a
// flow was actually evicted (false if the partition holds no flows at all,
// which signals the caller should surface ErrMaxFlows rather than loop).
func (p *partition) evictLRU() bool {
	if p.lruHead == nil {
		return false
	}
	p.remove(p.lruHead)
	return true
}

func (p *partition) remove(f *Flow) {
	if f.evicted {
		return
	}
	f.evicted = true

	if f.TCP != nil {
		f.TCP.Close()
	}
	if p.cleaner != nil {
		p.cleaner(f)
	}
	p.unlinkBucket(f)
	p.unlinkLRU(f)
	p.activeCount--
}

// ActiveCount reports how many flows are currently tracked across all
// partitions; intended for tests and metrics, not the hot path.
func (t *Table) ActiveCount() int {
	n := 0
	for _, p := range t.partitions {
		p.mu.Lock()
		n += p.activeCount
		p.mu.Unlock()
	}
	return n
}
