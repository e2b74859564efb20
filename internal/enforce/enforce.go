// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package enforce dispatches risk decisions to per-label enforcement
// handlers. Enforcement side effects live behind the Handler interface; the
// dispatcher's obligation is to invoke the matching handler exactly once per
// decision and to keep handler failures non-fatal.
package enforce

import (
	"context"
	"sync"
	"time"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
	"github.com/veridianlabs/riskpipe/internal/metrics"
)

// Handler executes the side effects for one decision label.
type Handler interface {
	// Enforce applies the decision. Errors are logged and counted by the
	// dispatcher; they never propagate to the pipeline.
	Enforce(ctx context.Context, d *event.RiskDecision) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, d *event.RiskDecision) error

func (f HandlerFunc) Enforce(ctx context.Context, d *event.RiskDecision) error {
	return f(ctx, d)
}

// Config controls dispatch behavior.
type Config struct {
	// Async invokes handlers on their own goroutine instead of inline.
	// Close waits for outstanding async invocations.
	Async bool `json:"async" koanf:"async"`
	// Timeout bounds a single handler invocation.
	Timeout time.Duration `json:"timeout" koanf:"timeout"`
}

// DefaultConfig returns synchronous dispatch with a 10s handler timeout.
func DefaultConfig() Config {
	return Config{Async: false, Timeout: 10 * time.Second}
}

// Dispatcher routes decisions to the handler registered for their label.
type Dispatcher struct {
	cfg      Config
	handlers map[event.Decision]Handler
	wg       sync.WaitGroup
}

// NewDispatcher returns a dispatcher over the given label->handler table.
// Labels without a handler are logged and counted when they occur.
func NewDispatcher(cfg Config, handlers map[event.Decision]Handler) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Dispatcher{cfg: cfg, handlers: handlers}
}

// Dispatch invokes the handler for the decision's label exactly once. The
// decision is already recorded by the time Dispatch is called, so any
// failure here is logged and counted but never returned.
func (dp *Dispatcher) Dispatch(ctx context.Context, d *event.RiskDecision) {
	h, ok := dp.handlers[d.Decision]
	if !ok {
		logging.Warn().
			Str("entity_id", d.EntityID).
			Str("decision", string(d.Decision)).
			Msg("No enforcement handler registered for decision label")
		metrics.RecordEnforcementFailure()
		return
	}

	if dp.cfg.Async {
		dp.wg.Add(1)
		go func() {
			defer dp.wg.Done()
			dp.invoke(context.WithoutCancel(ctx), h, d)
		}()
		return
	}
	dp.invoke(ctx, h, d)
}

func (dp *Dispatcher) invoke(ctx context.Context, h Handler, d *event.RiskDecision) {
	ctx, cancel := context.WithTimeout(ctx, dp.cfg.Timeout)
	defer cancel()

	if err := h.Enforce(ctx, d); err != nil {
		logging.Error().
			Err(err).
			Str("entity_id", d.EntityID).
			Str("decision", string(d.Decision)).
			Float64("risk_score", d.RiskScore).
			Msg("Enforcement handler failed")
		metrics.RecordEnforcementFailure()
	}
}

// Close waits for outstanding async handler invocations to finish.
func (dp *Dispatcher) Close() {
	dp.wg.Wait()
}
