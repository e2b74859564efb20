// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package metrics exposes Prometheus instrumentation for the pipeline:
// queue depth and admission outcomes, batch processing latency, dead-letter
// volume, and decisions by label. All collectors are registered with the
// default registry and served by the HTTP surface at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	queueMemoryDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskpipe_queue_memory_depth",
		Help: "Current number of events held in the in-memory queue",
	})

	queueDiskDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskpipe_queue_disk_depth",
		Help: "Current number of events in the disk overflow buffer",
	})

	queueOverflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskpipe_queue_overflows_total",
		Help: "Total number of events spilled to the disk overflow buffer",
	})

	queueDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskpipe_queue_drops_total",
		Help: "Total number of events dropped because the disk buffer was exhausted",
	})

	// Processor metrics
	batchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskpipe_batch_duration_seconds",
		Help:    "Micro-batch processing duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	eventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskpipe_events_processed_total",
		Help: "Total number of events that reached a terminal pipeline outcome",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskpipe_retries_total",
		Help: "Total number of per-item retry attempts",
	})

	deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskpipe_dead_letters_total",
		Help: "Total number of events routed to the dead-letter path",
	}, []string{"stage"})

	// Decision metrics
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskpipe_decisions_total",
		Help: "Total number of risk decisions by label",
	}, []string{"decision"})

	enforcementFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskpipe_enforcement_failures_total",
		Help: "Total number of enforcement handler failures (non-fatal)",
	})
)

// SetQueueMemoryDepth records the in-memory queue depth.
func SetQueueMemoryDepth(n int64) { queueMemoryDepth.Set(float64(n)) }

// SetQueueDiskDepth records the disk overflow buffer depth.
func SetQueueDiskDepth(n int64) { queueDiskDepth.Set(float64(n)) }

// RecordQueueOverflow counts one event spilled to disk.
func RecordQueueOverflow() { queueOverflowsTotal.Inc() }

// RecordQueueDrop counts one event dropped at the disk boundary.
func RecordQueueDrop() { queueDropsTotal.Inc() }

// ObserveBatchLatency records one micro-batch processing duration.
func ObserveBatchLatency(d time.Duration) { batchLatency.Observe(d.Seconds()) }

// RecordEventOutcome counts one event reaching a terminal outcome
// ("forwarded", "dead_lettered", or "discarded").
func RecordEventOutcome(outcome string) { eventsProcessedTotal.WithLabelValues(outcome).Inc() }

// RecordRetry counts one retry attempt.
func RecordRetry() { retriesTotal.Inc() }

// RecordDeadLetter counts one dead-lettered event by pipeline stage.
func RecordDeadLetter(stage string) { deadLettersTotal.WithLabelValues(stage).Inc() }

// RecordDecision counts one risk decision by label.
func RecordDecision(label string) { decisionsTotal.WithLabelValues(label).Inc() }

// RecordEnforcementFailure counts one failed enforcement handler call.
func RecordEnforcementFailure() { enforcementFailuresTotal.Inc() }
