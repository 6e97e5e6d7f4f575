// Copyright 2026 Dancan Sandys
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dancan-sandys/isomanagement-sub001/internal/locks"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/approval"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/config"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/constants"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/lifecycle"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/progression"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/readmodel"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/transition"
)

// Engine bundles the wired components for the embedding API layer.
type Engine struct {
	Controller *lifecycle.Controller
	Evaluator  *progression.Evaluator
	Router     *transition.Router
	Workflow   *approval.Workflow
	Reader     *readmodel.Reader
	Store      store.Store
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine config file")
	flag.Parse()

	logger.Initialize()
	log := logger.For("mescore")
	log.Info("Starting mescore engine...")

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := buildEngine(cfg)
	if err != nil {
		log.Errorf("Failed to build engine: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Store.Close(); err != nil {
			log.Errorf("Failed to close store: %v", err)
		}
	}()

	server := metrics.SetupMetricsEndpoint(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown metrics server: %v", err)
		}
	}()

	go sweepOverdueApprovals(ctx, engine.Workflow)

	log.Infof("Engine ready, store backend %q, metrics on %s", cfg.Store.Backend, cfg.MetricsAddr)

	<-ctx.Done()
	log.Info("Shutting down...")
}

func buildEngine(cfg config.EngineConfig) (*Engine, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Store.Backend {
	case "sqlite":
		s, err = store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	default:
		s = store.NewMemoryStore()
	}

	emitter := events.NewEmitter(events.NewLogSink(logger.For(logger.ComponentEventSink)))
	signaler := monitoring.NewLogSignaler(logger.For("monitoring"))
	km := locks.NewKeyedMutex()

	evaluator := progression.NewEvaluator(s, monitoring.NewStoreEvaluator(s), cfg.Quality)
	executor := transition.NewExecutor(s, signaler, emitter, nil)
	workflow := approval.NewWorkflow(s, evaluator, executor, approval.StaticRoles(cfg.Roles), emitter, km)
	router := transition.NewRouter(s, evaluator, executor, workflow, cfg.Approval, km)
	controller := lifecycle.NewController(s, signaler, emitter, km)
	reader := readmodel.NewReader(s)

	return &Engine{
		Controller: controller,
		Evaluator:  evaluator,
		Router:     router,
		Workflow:   workflow,
		Reader:     reader,
		Store:      s,
	}, nil
}

// sweepOverdueApprovals periodically flips overdue pending requests to
// expired. Advisory only: requests are never auto-approved or auto-rejected.
func sweepOverdueApprovals(ctx context.Context, workflow *approval.Workflow) {
	log := logger.For(logger.ComponentApprovalWorkflow)
	ticker := time.NewTicker(constants.ApprovalSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := workflow.ExpireOverdue(ctx)
			if err != nil {
				log.Warnf("Approval expiry sweep failed: %v", err)

				continue
			}
			if len(expired) > 0 {
				log.Infof("Marked %d approval request(s) expired", len(expired))
			}
		}
	}
}
