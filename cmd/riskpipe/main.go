// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package main is the entry point for the Riskpipe server.
//
// Riskpipe ingests behavioral telemetry from heterogeneous sources (Azure AD
// sign-ins, AWS CloudTrail, API gateway logs, generic JSON), normalizes it
// into a unified schema, and scores every event through a weighted model
// ensemble to produce enforceable risk decisions in near real time.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, RISKPIPE_* environment (Koanf v2)
//  2. Hybrid queue: in-memory shards with BadgerDB disk overflow
//  3. Transport: NATS JetStream (Watermill) or in-process pub/sub
//  4. Scoring: feature aggregator and model ensemble clients, or local stand-ins
//  5. Decision path: risk engine, explainer, enforcement dispatcher
//  6. Stream processor: per-shard workers with retries and dead-lettering
//  7. Supervisor tree: queue maintenance, processing, and API layers (Suture v4)
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables with the RISKPIPE_ prefix, an
// optional YAML file (RISKPIPE_CONFIG or the default search paths), then
// built-in defaults.
//
// # Transport Modes
//
// With NATS_ENABLED=false (the default) the pipeline is self-contained:
// decisions and normalized events flow over an in-process pub/sub, and
// deterministic local implementations stand in for the external scoring
// services. Production deployments set:
//
//	export RISKPIPE_NATS_ENABLED=true
//	export RISKPIPE_NATS_URL=nats://nats:4222
//	./riskpipe
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: ingestion stops
// accepting work, in-flight batches drain within the processor's shutdown
// grace, and enforcement actions complete before exit.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/veridianlabs/riskpipe/internal/config"
	"github.com/veridianlabs/riskpipe/internal/dedup"
	"github.com/veridianlabs/riskpipe/internal/enforce"
	"github.com/veridianlabs/riskpipe/internal/engine"
	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/explain"
	"github.com/veridianlabs/riskpipe/internal/logging"
	"github.com/veridianlabs/riskpipe/internal/normalize"
	"github.com/veridianlabs/riskpipe/internal/pipeline"
	"github.com/veridianlabs/riskpipe/internal/processor"
	"github.com/veridianlabs/riskpipe/internal/queue"
	"github.com/veridianlabs/riskpipe/internal/scoring"
	"github.com/veridianlabs/riskpipe/internal/server"
	"github.com/veridianlabs/riskpipe/internal/supervisor"
	"github.com/veridianlabs/riskpipe/internal/transport"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging)

	logging.Info().
		Bool("nats_enabled", cfg.NATS.Enabled).
		Int("workers", cfg.Processor.Workers).
		Int("queue_capacity", cfg.Queue.MemoryCapacity).
		Str("overflow_path", cfg.Queue.OverflowPath).
		Msg("Configuration loaded")

	// Hybrid ingestion queue with BadgerDB overflow
	stats := queue.NewStats()
	q, err := queue.New(cfg.Queue, stats)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open ingestion queue")
	}
	defer func() {
		if err := q.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ingestion queue")
		}
	}()
	logging.Info().Msg("Ingestion queue initialized")

	// Transport and scoring collaborators. NATS gives durable decision
	// topics and real scoring services; disabled, everything runs in
	// process with local stand-ins.
	var (
		publisher  message.Publisher
		aggregator pipeline.FeatureAggregator
		ensemble   pipeline.ModelEnsemble
		enricher   processor.Enricher
	)
	if cfg.NATS.Enabled {
		publisher, err = transport.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect NATS publisher")
		}
		nc, err := natsgo.Connect(cfg.NATS.URL,
			natsgo.Name("riskpipe-scoring"),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
		)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect NATS scoring client")
		}
		defer nc.Close()

		aggregator = scoring.NewAggregatorClient(nc, cfg.NATS.FeatureSubject)
		ensemble = scoring.NewEnsembleClient(nc, cfg.NATS.ScoreSubject)
		if cfg.NATS.EnrichSubject != "" {
			enricher = scoring.NewEnricherClient(nc, cfg.NATS.EnrichSubject)
		}
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS transport enabled")
	} else {
		publisher = transport.NewInProcessPubSub()
		aggregator = scoring.LocalAggregator{}
		ensemble = scoring.LocalEnsemble{}
		logging.Info().Msg("NATS disabled, using in-process transport and local scoring")
	}

	// Duplicate suppression store (optional)
	var dedupStore *dedup.Store
	if cfg.Dedup.Enabled {
		dedupStore, err = dedup.Open(cfg.Dedup)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open dedup store")
		}
		defer func() {
			if err := dedupStore.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing dedup store")
			}
		}()
		logging.Info().Str("path", cfg.Dedup.Path).Dur("ttl", cfg.Dedup.TTL).Msg("Duplicate suppression enabled")
	} else {
		logging.Info().Msg("Duplicate suppression disabled")
	}

	// Decision path: engine, explainer, enforcement
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build risk engine")
	}
	explainer := explain.New(cfg.Engine.Weights, explain.DefaultTopK)
	dispatcher := enforce.NewDispatcher(cfg.Enforcement.Dispatch(),
		enforce.DefaultHandlers(publisher, cfg.Enforcement.TopicPrefix))
	defer dispatcher.Close()

	stage, err := pipeline.New(cfg.Pipeline.CallTimeout, aggregator, ensemble,
		eng, explainer, dispatcher, decisionContext(cfg.Engine.Multipliers))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build decision stage")
	}

	// Normalized events fan out to the decision stage and, for external
	// consumers, the forward topic.
	forwarder := transport.Fanout{
		stage,
		transport.NewEventPublisher(publisher, cfg.NATS.ForwardTopic),
	}

	deps := processor.Deps{
		Queue:      q,
		Normalizer: normalize.New(),
		Enricher:   enricher,
		Forwarder:  forwarder,
		DeadLetter: publisher,
	}
	if dedupStore != nil {
		deps.Dedup = dedupStore
	}
	proc, err := processor.New(cfg.Processor, deps)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build stream processor")
	}

	srv, err := server.New(cfg.Server, q)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build ingest server")
	}

	// === SUPERVISOR TREE ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddQueueService(serviceFunc{name: "queue-maintenance", run: q.RunMaintenance})
	if dedupStore != nil {
		tree.AddQueueService(serviceFunc{name: "dedup-gc", run: dedupStore.RunGC})
	}
	tree.AddProcessingService(proc)
	tree.AddAPIService(srv)
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Msg("Supervisor tree assembled")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel until the supervisor finishes
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
	}

	logging.Info().Msg("Riskpipe stopped gracefully")
}

// decisionContext builds the decision stage's context function from the
// configured multipliers: each multiplier field is looked up among the
// event's source-specific attributes.
func decisionContext(multipliers []engine.Multiplier) pipeline.ContextFunc {
	fields := make([]string, 0, len(multipliers))
	for _, m := range multipliers {
		fields = append(fields, m.Field)
	}
	return func(ev *event.NormalizedEvent) engine.Context {
		if len(ev.SourceSpecific) == 0 {
			return nil
		}
		ectx := make(engine.Context, len(fields))
		for _, f := range fields {
			raw, ok := ev.SourceSpecific[f]
			if !ok {
				continue
			}
			var v string
			if err := json.Unmarshal(raw, &v); err == nil {
				ectx[f] = v
			}
		}
		return ectx
	}
}

// serviceFunc adapts a run function to suture.Service.
type serviceFunc struct {
	name string
	run  func(context.Context) error
}

func (s serviceFunc) Serve(ctx context.Context) error { return s.run(ctx) }
func (s serviceFunc) String() string                  { return s.name }
