// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veridianlabs/riskpipe/internal/logging"
)

// blockingService runs until its context is canceled.
type blockingService struct {
	started atomic.Int64
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return "blocking-service" }

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	queueSvc := &blockingService{}
	procSvc := &blockingService{}
	apiSvc := &blockingService{}
	tree.AddQueueService(queueSvc)
	tree.AddProcessingService(procSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if queueSvc.started.Load() > 0 && procSvc.started.Load() > 0 && apiSvc.started.Load() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if queueSvc.started.Load() == 0 || procSvc.started.Load() == 0 || apiSvc.started.Load() == 0 {
		t.Fatal("services did not start")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(10 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeConfigZeroValuesGetDefaults(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	if tree.root == nil || tree.queue == nil || tree.processing == nil || tree.api == nil {
		t.Fatal("tree layers not built")
	}
}
