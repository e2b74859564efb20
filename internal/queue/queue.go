// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
	"github.com/veridianlabs/riskpipe/internal/metrics"
)

// Admission is the result of an enqueue attempt.
type Admission int

const (
	// Accepted means the item is held in memory.
	Accepted Admission = iota

	// Overflowed means memory was exhausted and the item went to the disk
	// buffer. This is a backpressure signal, not an error; callers may
	// apply their own shedding policy.
	Overflowed

	// Rejected means the disk buffer was also exhausted and the item was
	// dropped. This is the only caller-visible failure.
	Rejected
)

func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case Overflowed:
		return "overflowed"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// shard holds the memory-resident items drained by a single worker.
// Items within a shard are ordered by global sequence number.
type shard struct {
	mu    sync.Mutex
	items []event.QueueItem

	// wake signals a waiting dequeuer that items arrived. Buffered so a
	// producer never blocks on notification.
	wake chan struct{}
}

// HybridQueue is the bounded in-memory ingestion buffer with durable disk
// overflow. Enqueue is O(1) below capacity; beyond capacity items spill to
// the overflow buffer and Overflowed is returned as a backpressure signal.
//
// Ordering: items sharing a partition key keep arrival order. The key is
// hashed to a fixed shard, and once any item has spilled to disk, new items
// keep going to disk until the buffer is fully drained ("sticky spill").
// Memory items of a shard are therefore always older than disk items, so
// draining memory first preserves per-partition FIFO.
type HybridQueue struct {
	cfg    Config
	stats  *Stats
	disk   *DiskBuffer
	shards []*shard

	// admitMu serializes the admission decision (memory vs disk) so the
	// sticky-spill invariant holds under concurrent producers. The
	// critical section is O(1) except for the disk write itself.
	admitMu sync.Mutex

	seq      atomic.Uint64
	memCount atomic.Int64
	closed   atomic.Bool
}

// refillBatch bounds how many items one drain pulls off disk at a time.
const refillBatch = 256

// New opens the queue, recovering any overflowed items persisted by a
// previous run. The stats object is owned by this instance.
func New(cfg Config, stats *Stats) (*HybridQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewStats()
	}

	disk, err := OpenDiskBuffer(cfg)
	if err != nil {
		return nil, err
	}

	q := &HybridQueue{
		cfg:    cfg,
		stats:  stats,
		disk:   disk,
		shards: make([]*shard, cfg.Workers),
	}
	q.seq.Store(disk.MaxSeq())
	for i := range q.shards {
		q.shards[i] = &shard{wake: make(chan struct{}, 1)}
	}

	// Replayed entries count as resident, not as fresh enqueues.
	metrics.SetQueueDiskDepth(disk.Len())

	logging.Info().
		Int("memory_capacity", cfg.MemoryCapacity).
		Int("shards", cfg.Workers).
		Str("overflow_path", cfg.OverflowPath).
		Int64("replayed", disk.Len()).
		Msg("ingestion queue opened")
	return q, nil
}

// ShardFor returns the worker index a partition key routes to.
func (q *HybridQueue) ShardFor(partitionKey string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(partitionKey))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Enqueue validates and admits a raw event under the given partition key.
// Malformed events are rejected with a *event.ValidationError and are never
// counted as enqueued.
func (q *HybridQueue) Enqueue(ev event.RawEvent, partitionKey string) (Admission, error) {
	if q.closed.Load() {
		return Rejected, fmt.Errorf("queue is closed")
	}
	if err := ev.Validate(); err != nil {
		return Rejected, err
	}
	if partitionKey == "" {
		partitionKey = ev.ID
	}

	q.admitMu.Lock()
	defer q.admitMu.Unlock()

	item := event.QueueItem{
		Seq:          q.seq.Add(1),
		PartitionKey: partitionKey,
		Event:        ev,
		EnqueuedAt:   time.Now().UTC(),
	}

	// Sticky spill: while the disk buffer is non-empty, everything goes to
	// disk so replayed items never interleave behind fresher memory items.
	if q.disk.Len() > 0 || q.memCount.Load() >= int64(q.cfg.MemoryCapacity) {
		if err := q.disk.Append(item); err != nil {
			q.stats.enqueued.Add(1)
			q.stats.dropped.Add(1)
			metrics.RecordQueueDrop()
			logging.Error().Err(err).Str("partition", partitionKey).Msg("overflow buffer exhausted, dropping event")
			return Rejected, fmt.Errorf("overflow buffer exhausted: %w", err)
		}
		q.stats.enqueued.Add(1)
		q.stats.overflowed.Add(1)
		metrics.RecordQueueOverflow()
		metrics.SetQueueDiskDepth(q.disk.Len())
		return Overflowed, nil
	}

	sh := q.shards[q.ShardFor(partitionKey)]
	sh.mu.Lock()
	sh.items = append(sh.items, item)
	sh.mu.Unlock()

	q.memCount.Add(1)
	q.stats.enqueued.Add(1)
	metrics.SetQueueMemoryDepth(q.memCount.Load())

	select {
	case sh.wake <- struct{}{}:
	default:
	}
	return Accepted, nil
}

// DequeueBatch returns up to maxN items for the given worker, waiting up to
// maxWait to fill the batch. It returns early with a partial (possibly
// empty) batch when the wait elapses or ctx is canceled. Memory items are
// preferred; when the worker's shard is empty, items are pulled off disk in
// FIFO order and re-admitted to memory bookkeeping.
func (q *HybridQueue) DequeueBatch(ctx context.Context, worker, maxN int, maxWait time.Duration) []event.QueueItem {
	if worker < 0 || worker >= len(q.shards) || maxN < 1 {
		return nil
	}
	sh := q.shards[worker]

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var batch []event.QueueItem
	for len(batch) < maxN {
		batch = append(batch, q.take(sh, maxN-len(batch))...)
		if len(batch) >= maxN {
			break
		}

		if q.disk.Len() > 0 && q.refill() {
			continue
		}

		// No memory items and nothing refilled: wait for a producer, the
		// deadline, or cancellation. A failing disk read lands here too
		// instead of retrying in a tight loop.
		select {
		case <-ctx.Done():
			return batch
		case <-sh.wake:
		case <-timer.C:
			return batch
		}
	}
	return batch
}

// take removes up to n items from the front of a shard.
func (q *HybridQueue) take(sh *shard, n int) []event.QueueItem {
	sh.mu.Lock()
	if n > len(sh.items) {
		n = len(sh.items)
	}
	taken := make([]event.QueueItem, n)
	copy(taken, sh.items[:n])
	sh.items = sh.items[n:]
	sh.mu.Unlock()

	if n > 0 {
		q.memCount.Add(-int64(n))
		q.stats.dequeued.Add(int64(n))
		metrics.SetQueueMemoryDepth(q.memCount.Load())
	}
	return taken
}

// refill moves a bounded chunk of disk items back into the shards and
// reports whether anything was moved. It runs under the admission lock so
// fresh enqueues cannot slip in between replayed items and break arrival
// order.
func (q *HybridQueue) refill() bool {
	q.admitMu.Lock()
	defer q.admitMu.Unlock()

	items, err := q.disk.ReadBatch(refillBatch)
	if err != nil {
		logging.Error().Err(err).Msg("overflow buffer read failed")
		return false
	}
	if len(items) == 0 {
		return false
	}

	for _, item := range items {
		sh := q.shards[q.ShardFor(item.PartitionKey)]
		sh.mu.Lock()
		sh.items = append(sh.items, item)
		sh.mu.Unlock()

		select {
		case sh.wake <- struct{}{}:
		default:
		}
	}
	q.memCount.Add(int64(len(items)))
	metrics.SetQueueMemoryDepth(q.memCount.Load())
	metrics.SetQueueDiskDepth(q.disk.Len())
	return true
}

// Snapshot returns a point-in-time view of the queue counters without
// blocking producers or consumers.
func (q *HybridQueue) Snapshot() Snapshot {
	return Snapshot{
		Enqueued:       q.stats.enqueued.Load(),
		Dequeued:       q.stats.dequeued.Load(),
		Overflowed:     q.stats.overflowed.Load(),
		Dropped:        q.stats.dropped.Load(),
		MemoryResident: q.memCount.Load(),
		DiskResident:   q.disk.Len(),
	}
}

// RunMaintenance runs periodic Badger GC until the context is canceled.
// Designed to run as a supervised service.
func (q *HybridQueue) RunMaintenance(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.disk.RunGC(q.cfg.GCRatio)
		}
	}
}

// Close stops admissions and closes the overflow buffer. Memory-resident
// items are not persisted; only the disk buffer is durable.
func (q *HybridQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	snap := q.Snapshot()
	logging.Info().
		Int64("enqueued", snap.Enqueued).
		Int64("dequeued", snap.Dequeued).
		Int64("overflowed", snap.Overflowed).
		Int64("dropped", snap.Dropped).
		Int64("resident", snap.Resident()).
		Msg("ingestion queue closing")
	return q.disk.Close()
}
