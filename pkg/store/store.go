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

// Package store provides the persistence layer behind the progression engine.
//
// Two backends implement the same Store interface: an in-memory store for
// tests and an SQLite store for deployments. Both support transactions; the
// transition executor runs all of its writes inside one so a persistence
// fault never leaves a stage flipped without its audit record (or vice
// versa).
//
// Concurrency: all methods are safe for concurrent use. Monitoring log
// appends are lock-free from the caller's perspective; process mutations are
// additionally guarded by the engine's per-process lock and an optimistic
// version check on ProcessInstance.
package store

import (
	"context"
	"time"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
)

// Ops is the set of repository operations shared by Store and Tx.
type Ops interface {
	// Processes
	InsertProcess(ctx context.Context, p *models.ProcessInstance) error
	GetProcess(ctx context.Context, id string) (*models.ProcessInstance, error)
	// FindActiveProcessByBatch returns the draft or in-progress process for
	// a batch, or models.ErrNotFound.
	FindActiveProcessByBatch(ctx context.Context, batchID string) (*models.ProcessInstance, error)
	// UpdateProcess persists p if p.Version still matches the stored row,
	// then bumps the version. Returns models.ErrVersionConflict otherwise.
	UpdateProcess(ctx context.Context, p *models.ProcessInstance) error

	// Stages
	InsertStage(ctx context.Context, s *models.Stage) error
	GetStage(ctx context.Context, id string) (*models.Stage, error)
	// ListStages returns the process's stages ordered by sequence.
	ListStages(ctx context.Context, processID string) ([]*models.Stage, error)
	UpdateStage(ctx context.Context, s *models.Stage) error

	// Monitoring requirements (immutable after creation)
	InsertRequirement(ctx context.Context, r *models.MonitoringRequirement) error
	ListRequirements(ctx context.Context, stageID string) ([]*models.MonitoringRequirement, error)

	// Monitoring log (append-only)
	AppendLogEntry(ctx context.Context, e *models.MonitoringLogEntry) error
	// ListLogEntries returns entries for the stage recorded at or after
	// since, ordered by recording time.
	ListLogEntries(ctx context.Context, stageID string, since time.Time) ([]*models.MonitoringLogEntry, error)

	// Transition records (append-only)
	InsertTransitionRecord(ctx context.Context, r *models.TransitionRecord) error
	ListTransitionRecords(ctx context.Context, processID string) ([]*models.TransitionRecord, error)

	// Approval requests
	InsertApproval(ctx context.Context, a *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error
	ListPendingApprovals(ctx context.Context, processID string) ([]*models.ApprovalRequest, error)
}

// Store is the root persistence handle.
type Store interface {
	Ops

	// BeginTx starts a transaction. All Ops on the returned Tx are applied
	// atomically on Commit and discarded on Rollback.
	BeginTx(ctx context.Context) (Tx, error)

	Close() error
}

// Tx is a transactional view of the store.
type Tx interface {
	Ops

	Commit() error
	Rollback() error
}
