// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package processor drains the ingestion queue with a fixed pool of workers.
// Each worker assembles micro-batches and runs every item through
// normalize -> enrich -> dedup -> persist -> forward. Transient failures are
// retried with exponential backoff; exhausted items go to the dead-letter
// topic with full context preserved for replay. Items in a batch are
// independent: one item's failure never aborts the rest.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
	"github.com/veridianlabs/riskpipe/internal/metrics"
	"github.com/veridianlabs/riskpipe/internal/normalize"
	"github.com/veridianlabs/riskpipe/internal/queue"
)

// maxBackoff caps the exponential retry delay.
const maxBackoff = 30 * time.Second

// Enricher augments a normalized event with external context (GeoIP,
// device intelligence). Enrichment is the pipeline's flakiest dependency,
// so calls go through a circuit breaker and an optional rate limiter.
type Enricher interface {
	Enrich(ctx context.Context, ev *event.NormalizedEvent) error
}

// DuplicateChecker reports whether an event was already processed.
type DuplicateChecker interface {
	Seen(ctx context.Context, ev *event.NormalizedEvent) (bool, error)
}

// Persister stores the normalized event in long-term storage.
type Persister interface {
	Persist(ctx context.Context, ev *event.NormalizedEvent) error
}

// Forwarder hands the normalized event to the next pipeline stage.
type Forwarder interface {
	Forward(ctx context.Context, ev *event.NormalizedEvent) error
}

// Deps are the processor's collaborators. Queue, Normalizer, Forwarder and
// DeadLetter are required; the other stages are skipped when nil.
type Deps struct {
	Queue      *queue.HybridQueue
	Normalizer *normalize.Normalizer
	Enricher   Enricher
	Dedup      DuplicateChecker
	Persister  Persister
	Forwarder  Forwarder
	DeadLetter message.Publisher
}

// Processor runs the worker pool. It implements suture.Service.
type Processor struct {
	cfg     Config
	deps    Deps
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
}

// New validates cfg and returns a processor.
func New(cfg Config, deps Deps) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Queue == nil || deps.Normalizer == nil || deps.Forwarder == nil || deps.DeadLetter == nil {
		return nil, fmt.Errorf("processor: queue, normalizer, forwarder and dead letter publisher are required")
	}

	p := &Processor{cfg: cfg, deps: deps}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "enrichment",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	if cfg.EnrichRateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.EnrichRateLimit), int(cfg.EnrichRateLimit)+1)
	}
	return p, nil
}

// Serve runs the worker pool until ctx is canceled, then waits for every
// worker to drain its in-flight batch.
func (p *Processor) Serve(ctx context.Context) error {
	logging.Info().
		Int("workers", p.cfg.Workers).
		Int("batch_size", p.cfg.BatchSize).
		Dur("batch_timeout", p.cfg.BatchTimeout).
		Msg("Stream processor started")

	var wg sync.WaitGroup
	for i := range p.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, i)
		}()
	}
	wg.Wait()

	logging.Info().Msg("Stream processor stopped")
	return ctx.Err()
}

func (p *Processor) String() string { return "stream-processor" }

func (p *Processor) worker(ctx context.Context, id int) {
	for {
		batch := p.deps.Queue.DequeueBatch(ctx, id, p.cfg.BatchSize, p.cfg.BatchTimeout)
		if len(batch) > 0 {
			bctx, cancel := p.drainContext(ctx)
			p.processBatch(bctx, id, batch)
			cancel()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// drainContext returns a context that survives parent cancellation by the
// shutdown grace, so an in-flight batch can reach terminal outcomes after a
// shutdown signal.
func (p *Processor) drainContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(p.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *Processor) processBatch(ctx context.Context, worker int, batch []event.QueueItem) {
	start := time.Now()
	for i, item := range batch {
		if ctx.Err() != nil {
			// Shutdown grace expired. The remainder still gets an explicit
			// terminal outcome rather than silent abandonment.
			for _, rest := range batch[i:] {
				p.discard(rest, "shutdown grace expired")
			}
			break
		}
		p.processItem(ctx, item)
	}
	metrics.ObserveBatchLatency(time.Since(start))

	logging.Debug().
		Int("worker", worker).
		Int("batch_size", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Batch processed")
}

func (p *Processor) processItem(ctx context.Context, item event.QueueItem) {
	norm, err := p.deps.Normalizer.Normalize(item.Event)
	if err != nil {
		// Normalization failures are not transient; retrying cannot help.
		p.deadLetterItem(item, "normalize", err)
		return
	}

	if p.deps.Enricher != nil {
		err := p.withRetry(ctx, "enrich", func(c context.Context) error {
			return p.enrich(c, norm)
		})
		if err != nil {
			p.deadLetterItem(item, "enrich", err)
			return
		}
	}

	if p.deps.Dedup != nil {
		var dup bool
		err := p.withRetry(ctx, "dedup", func(c context.Context) error {
			var err error
			dup, err = p.deps.Dedup.Seen(c, norm)
			return err
		})
		if err != nil {
			p.deadLetterItem(item, "dedup", err)
			return
		}
		if dup {
			logging.Debug().
				Str("raw_event_id", item.Event.ID).
				Str("entity_id", norm.EntityID).
				Msg("Duplicate event suppressed")
			metrics.RecordEventOutcome("duplicate")
			return
		}
	}

	if p.deps.Persister != nil {
		err := p.withRetry(ctx, "persist", func(c context.Context) error {
			return p.deps.Persister.Persist(c, norm)
		})
		if err != nil {
			p.deadLetterItem(item, "persist", err)
			return
		}
	}

	err = p.withRetry(ctx, "forward", func(c context.Context) error {
		return p.deps.Forwarder.Forward(c, norm)
	})
	if err != nil {
		p.deadLetterItem(item, "forward", err)
		return
	}

	metrics.RecordEventOutcome("processed")
}

func (p *Processor) enrich(ctx context.Context, norm *event.NormalizedEvent) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.deps.Enricher.Enrich(ctx, norm)
	})
	return err
}

// withRetry runs fn under the per-call timeout, retrying transient failures
// with exponential backoff up to the configured attempt limit.
func (p *Processor) withRetry(ctx context.Context, stage string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordRetry()
			if err := sleepCtx(ctx, p.backoff(attempt)); err != nil {
				return fmt.Errorf("%s canceled during backoff: %w", stage, lastErr)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		logging.Warn().
			Err(err).
			Str("stage", stage).
			Int("attempt", attempt+1).
			Msg("Transient stage failure")

		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", stage, p.cfg.RetryMaxAttempts+1, lastErr)
}

// backoff doubles the base delay per attempt: base, 2*base, 4*base, capped.
func (p *Processor) backoff(attempt int) time.Duration {
	d := p.cfg.RetryBackoffBase << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// deadLetterRecord preserves everything needed to replay a failed item.
type deadLetterRecord struct {
	ID           string         `json:"id"`
	Stage        string         `json:"stage"`
	Reason       string         `json:"reason"`
	Seq          uint64         `json:"seq"`
	PartitionKey string         `json:"partition_key"`
	Event        event.RawEvent `json:"event"`
	FailedAt     time.Time      `json:"failed_at"`
}

func (p *Processor) deadLetterItem(item event.QueueItem, stage string, cause error) {
	rec := deadLetterRecord{
		ID:           uuid.NewString(),
		Stage:        stage,
		Reason:       cause.Error(),
		Seq:          item.Seq,
		PartitionKey: item.PartitionKey,
		Event:        item.Event,
		FailedAt:     time.Now().UTC(),
	}

	logging.Error().
		Err(cause).
		Str("stage", stage).
		Str("raw_event_id", item.Event.ID).
		Str("partition_key", item.PartitionKey).
		Msg("Event dead-lettered")
	metrics.RecordDeadLetter(stage)
	metrics.RecordEventOutcome("dead_lettered")

	payload, err := json.Marshal(rec)
	if err != nil {
		logging.Error().Err(err).Str("raw_event_id", item.Event.ID).Msg("Failed to encode dead letter record")
		return
	}
	msg := message.NewMessage(rec.ID, payload)
	msg.Metadata.Set("stage", stage)
	msg.Metadata.Set("partition_key", item.PartitionKey)
	if err := p.deps.DeadLetter.Publish(p.cfg.DeadLetterTopic, msg); err != nil {
		logging.Error().
			Err(err).
			Str("raw_event_id", item.Event.ID).
			RawJSON("record", payload).
			Msg("Failed to publish dead letter record")
	}
}

func (p *Processor) discard(item event.QueueItem, reason string) {
	logging.Error().
		Str("raw_event_id", item.Event.ID).
		Str("partition_key", item.PartitionKey).
		Str("reason", reason).
		Msg("Event discarded")
	metrics.RecordEventOutcome("discarded")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
