// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
)

// itemPrefix namespaces overflow entries. Keys are the prefix followed by the
// item's global sequence number as 8 big-endian bytes, so Badger's
// lexicographic iteration yields items in enqueue order.
const itemPrefix = "q:"

// DiskBuffer is the durable FIFO overflow log backing the ingestion queue.
// Entries survive process restart and are replayed in original order.
type DiskBuffer struct {
	db    *badger.DB
	count atomic.Int64
	max   atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// OpenDiskBuffer opens (or creates) the overflow buffer at the configured
// path and recovers any entries left by a previous run.
func OpenDiskBuffer(cfg Config) (*DiskBuffer, error) {
	opts := badger.DefaultOptions(cfg.OverflowPath)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open overflow buffer: %w", err)
	}

	d := &DiskBuffer{db: db}
	if err := d.recover(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recover overflow buffer: %w", err)
	}

	if n := d.count.Load(); n > 0 {
		logging.Info().
			Int64("entries", n).
			Uint64("max_seq", d.max.Load()).
			Msg("overflow buffer recovered entries from previous run")
	}
	return d, nil
}

// recover scans existing keys to rebuild the entry count and the highest
// persisted sequence number.
func (d *DiskBuffer) recover() error {
	return d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: false,
			Prefix:         []byte(itemPrefix),
		})
		defer it.Close()

		var count int64
		var maxSeq uint64
		for it.Rewind(); it.Valid(); it.Next() {
			count++
			if seq, ok := seqFromKey(it.Item().Key()); ok && seq > maxSeq {
				maxSeq = seq
			}
		}
		d.count.Store(count)
		d.max.Store(maxSeq)
		return nil
	})
}

// Append persists an item at the tail of the overflow log.
func (d *DiskBuffer) Append(item event.QueueItem) error {
	val, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal overflow item: %w", err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyForSeq(item.Seq), val)
	})
	if err != nil {
		return fmt.Errorf("write overflow item: %w", err)
	}

	d.count.Add(1)
	for {
		cur := d.max.Load()
		if item.Seq <= cur || d.max.CompareAndSwap(cur, item.Seq) {
			break
		}
	}
	return nil
}

// ReadBatch removes and returns up to n of the oldest items, in enqueue
// order. An empty result means the buffer is drained.
func (d *DiskBuffer) ReadBatch(n int) ([]event.QueueItem, error) {
	if n < 1 {
		return nil, nil
	}

	var items []event.QueueItem
	err := d.db.Update(func(txn *badger.Txn) error {
		items = items[:0]
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   n,
			Prefix:         []byte(itemPrefix),
		})
		defer it.Close()

		keys := make([][]byte, 0, n)
		for it.Rewind(); it.Valid() && len(items) < n; it.Next() {
			bItem := it.Item()
			err := bItem.Value(func(v []byte) error {
				var qi event.QueueItem
				if err := json.Unmarshal(v, &qi); err != nil {
					return fmt.Errorf("decode overflow item: %w", err)
				}
				items = append(items, qi)
				return nil
			})
			if err != nil {
				return err
			}
			keys = append(keys, bItem.KeyCopy(nil))
		}

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete overflow item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.count.Add(-int64(len(items)))
	return items, nil
}

// Len returns the number of entries currently in the buffer.
func (d *DiskBuffer) Len() int64 {
	return d.count.Load()
}

// MaxSeq returns the highest sequence number ever persisted, so the queue
// can resume its counter past replayed entries after a restart.
func (d *DiskBuffer) MaxSeq() uint64 {
	return d.max.Load()
}

// RunGC runs one round of Badger value log garbage collection.
// It is safe to call periodically; ErrNoRewrite is not an error.
func (d *DiskBuffer) RunGC(ratio float64) {
	for {
		err := d.db.RunValueLogGC(ratio)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("overflow buffer GC")
			}
			return
		}
	}
}

// Close flushes and closes the underlying database.
func (d *DiskBuffer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

func keyForSeq(seq uint64) []byte {
	key := make([]byte, len(itemPrefix)+8)
	copy(key, itemPrefix)
	for i := 0; i < 8; i++ {
		key[len(itemPrefix)+i] = byte(seq >> (56 - 8*i))
	}
	return key
}

func seqFromKey(key []byte) (uint64, bool) {
	if len(key) != len(itemPrefix)+8 {
		return 0, false
	}
	var seq uint64
	for _, b := range key[len(itemPrefix):] {
		seq = seq<<8 | uint64(b)
	}
	return seq, true
}
