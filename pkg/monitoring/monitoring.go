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

// Package monitoring defines the engine's boundary to the monitoring system:
// readiness evaluation of a stage's recorded measurements and the
// start/stop-monitoring signals raised around stage activation.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
)

// Readiness is the monitoring system's verdict on a stage.
type Readiness struct {
	OK bool `json:"ok"`
	// Gaps itemizes unmet mandatory requirements.
	Gaps []string `json:"gaps,omitempty"`
}

// Evaluator reports whether a stage's recorded measurements satisfy its
// monitoring requirements.
type Evaluator interface {
	IsReady(ctx context.Context, stageID string) (Readiness, error)
}

// Signaler receives fire-and-forget monitoring lifecycle signals. Both
// signals are idempotent so partial failures are individually retryable.
type Signaler interface {
	StartMonitoring(ctx context.Context, stageID string) error
	StopMonitoring(ctx context.Context, stageID string) error
}

// StoreEvaluator is the default Evaluator: a mandatory requirement is
// satisfied once at least one passing entry references it within the stage's
// active window.
type StoreEvaluator struct {
	store store.Store
}

var _ Evaluator = (*StoreEvaluator)(nil)

// NewStoreEvaluator builds an Evaluator over the given store.
func NewStoreEvaluator(s store.Store) *StoreEvaluator {
	return &StoreEvaluator{store: s}
}

// IsReady checks each mandatory requirement of the stage against the
// monitoring log recorded since the stage started.
func (e *StoreEvaluator) IsReady(ctx context.Context, stageID string) (Readiness, error) {
	stage, err := e.store.GetStage(ctx, stageID)
	if err != nil {
		return Readiness{}, err
	}

	since := time.Time{}
	if stage.ActualStart != nil {
		since = *stage.ActualStart
	}

	requirements, err := e.store.ListRequirements(ctx, stageID)
	if err != nil {
		return Readiness{}, err
	}

	entries, err := e.store.ListLogEntries(ctx, stageID, since)
	if err != nil {
		return Readiness{}, err
	}

	passedByRequirement := make(map[string]bool)
	for _, entry := range entries {
		if entry.Passed && entry.RequirementID != "" {
			passedByRequirement[entry.RequirementID] = true
		}
	}

	readiness := Readiness{OK: true}
	for _, req := range requirements {
		if !req.Mandatory {
			continue
		}
		if !passedByRequirement[req.ID] {
			readiness.OK = false
			readiness.Gaps = append(readiness.Gaps,
				fmt.Sprintf("no passing measurement for %s", req.ParameterName))
		}
	}

	return readiness, nil
}
