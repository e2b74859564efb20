// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package queue

import "sync/atomic"

// Stats tracks queue counters with atomic updates. It is owned by the queue
// instance and injected at construction, never a process-wide singleton.
//
// Invariant at every observation point:
//
//	Enqueued = Dequeued + MemoryResident + DiskResident + Dropped
type Stats struct {
	enqueued   atomic.Int64
	dequeued   atomic.Int64
	overflowed atomic.Int64
	dropped    atomic.Int64
}

// NewStats returns a zeroed stats object.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot is a point-in-time, read-only view of queue counters.
type Snapshot struct {
	// Enqueued counts every item the queue took responsibility for,
	// including items that later overflowed or were dropped.
	Enqueued int64 `json:"enqueued"`

	// Dequeued counts items handed to workers.
	Dequeued int64 `json:"dequeued"`

	// Overflowed counts items spilled to the disk buffer.
	Overflowed int64 `json:"overflowed"`

	// Dropped counts items lost because the disk buffer was exhausted.
	Dropped int64 `json:"dropped"`

	// MemoryResident is the number of items currently held in memory.
	MemoryResident int64 `json:"memory_resident"`

	// DiskResident is the number of items currently in the overflow buffer.
	DiskResident int64 `json:"disk_resident"`
}

// Resident returns the total number of items currently owned by the queue.
func (s Snapshot) Resident() int64 {
	return s.MemoryResident + s.DiskResident
}
