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

// Package readmodel serves display-and-reporting views of process state to
// the surrounding CRUD/API layer. Snapshots are deep copies, so callers can
// never mutate engine state, and are cached for a few seconds to keep
// dashboard polling off the store.
package readmodel

import (
	"context"
	"time"

	"github.com/tiendc/go-deepcopy"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/constants"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
)

// Snapshot is the point-in-time view of one process: the instance, its
// ordered stages and any unresolved approval requests.
type Snapshot struct {
	Process          *models.ProcessInstance   `json:"process"`
	Stages           []*models.Stage           `json:"stages"`
	PendingApprovals []*models.ApprovalRequest `json:"pendingApprovals"`
	TakenAt          time.Time                 `json:"takenAt"`
}

// CurrentStage returns the in-progress stage of the snapshot, or nil.
func (s *Snapshot) CurrentStage() *models.Stage {
	for _, stage := range s.Stages {
		if stage.Status == models.StageStatusInProgress {
			return stage
		}
	}

	return nil
}

// StageDetail is the per-stage view: the stage plus its monitoring
// requirements and full log.
type StageDetail struct {
	Stage        *models.Stage                   `json:"stage"`
	Requirements []*models.MonitoringRequirement `json:"requirements"`
	LogEntries   []*models.MonitoringLogEntry    `json:"logEntries"`
}

// Reader answers read-model queries.
type Reader struct {
	store store.Store
	cache *expiremap.ExpireMap[string, *Snapshot]

	now func() time.Time
}

// NewReader builds a Reader with a short-TTL snapshot cache.
func NewReader(s store.Store) *Reader {
	return &Reader{
		store: s,
		cache: expiremap.NewEx[string, *Snapshot](constants.SnapshotCacheTTL, constants.SnapshotCacheTTL),
		now:   time.Now,
	}
}

// WithClock replaces the reader's clock. Tests only.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// ProcessSnapshot returns the current view of a process. Results may lag
// writes by up to the cache TTL; callers needing decision-grade freshness go
// through the engine, not the read model.
func (r *Reader) ProcessSnapshot(ctx context.Context, processID string) (*Snapshot, error) {
	if cached, ok := r.cache.Load(processID); ok {
		return copySnapshot(*cached), nil
	}

	snapshot, err := r.loadSnapshot(ctx, processID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(processID, snapshot)

	return copySnapshot(snapshot), nil
}

// StageDetail returns a stage with its requirements and complete monitoring
// log. Never cached: operators record entries continuously and the log view
// must show them.
func (r *Reader) StageDetail(ctx context.Context, stageID string) (*StageDetail, error) {
	stage, err := r.store.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	requirements, err := r.store.ListRequirements(ctx, stageID)
	if err != nil {
		return nil, err
	}

	entries, err := r.store.ListLogEntries(ctx, stageID, time.Time{})
	if err != nil {
		return nil, err
	}

	detail := &StageDetail{
		Stage:        stage,
		Requirements: requirements,
		LogEntries:   entries,
	}

	out := &StageDetail{}
	deepcopy.Copy(out, detail)

	return out, nil
}

// TransitionHistory returns the audit trail of a process, oldest first.
func (r *Reader) TransitionHistory(ctx context.Context, processID string) ([]*models.TransitionRecord, error) {
	records, err := r.store.ListTransitionRecords(ctx, processID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.TransitionRecord, 0, len(records))
	deepcopy.Copy(&out, &records)

	return out, nil
}

func (r *Reader) loadSnapshot(ctx context.Context, processID string) (*Snapshot, error) {
	process, err := r.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	stages, err := r.store.ListStages(ctx, processID)
	if err != nil {
		return nil, err
	}

	pending, err := r.store.ListPendingApprovals(ctx, processID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Process:          process,
		Stages:           stages,
		PendingApprovals: pending,
		TakenAt:          r.now(),
	}, nil
}

func copySnapshot(s *Snapshot) *Snapshot {
	out := &Snapshot{}
	deepcopy.Copy(out, s)

	return out
}
