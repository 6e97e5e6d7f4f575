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

package transition

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	internalfsm "github.com/dancan-sandys/isomanagement-sub001/internal/fsm"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/backoff"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
)

// BatchSink is notified when a process completes so the owning batch entity
// can move to its completed lifecycle state. Failures are logged, never
// propagated: the transition has already committed.
type BatchSink interface {
	ProcessCompleted(ctx context.Context, batchID, processID string) error
}

// ExecuteSpec describes one authorized stage move.
type ExecuteSpec struct {
	ProcessID   string
	FromStageID string
	// ToStageID is empty when the sequence is exhausted and equals
	// FromStageID for rework.
	ToStageID string

	Type      models.TransitionType
	Reason    string
	Initiator string

	ApprovalRequired bool
	ApprovalObtained bool
	ApprovalID       string

	PrerequisitesMet bool
	Notes            string
}

// Executor performs the actual stage-to-stage move. All stage, process and
// record writes happen in one store transaction: a persistence fault aborts
// the whole move with no partial mutation.
type Executor struct {
	store    store.Store
	signaler monitoring.Signaler
	emitter  *events.Emitter
	batch    BatchSink
	logger   *zap.SugaredLogger

	now func() time.Time
}

// NewExecutor builds an Executor. batch may be nil when no batch callback is
// wired.
func NewExecutor(s store.Store, signaler monitoring.Signaler, emitter *events.Emitter, batch BatchSink) *Executor {
	return &Executor{
		store:    s,
		signaler: signaler,
		emitter:  emitter,
		batch:    batch,
		logger:   logger.For(logger.ComponentTransitionExecutor),
		now:      time.Now,
	}
}

// WithClock replaces the executor's clock. Tests only.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute runs the transition described by spec and returns the persisted
// audit record. The from-stage must be in progress.
func (e *Executor) Execute(ctx context.Context, spec ExecuteSpec) (*models.TransitionRecord, error) {
	start := e.now()
	defer func() {
		metrics.ObserveOperationTime(metrics.ComponentTransitionExecutor, "execute", time.Since(start))
	}()

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, e.persistenceFault(spec.ProcessID, err)
	}

	record, completed, err := e.executeInTx(ctx, tx, spec)
	if err != nil {
		_ = tx.Rollback()

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, e.persistenceFault(spec.ProcessID, err)
	}

	e.signalMonitoring(ctx, spec, completed)
	e.emitResults(ctx, spec, record, completed)

	return record, nil
}

// executeInTx applies the move inside tx. Callers roll back on error.
func (e *Executor) executeInTx(ctx context.Context, tx store.Tx, spec ExecuteSpec) (*models.TransitionRecord, bool, error) {
	now := e.now()

	process, err := tx.GetProcess(ctx, spec.ProcessID)
	if err != nil {
		return nil, false, err
	}
	if !process.IsActive() {
		return nil, false, fmt.Errorf("process %s is %s, not in_progress: %w",
			process.ID, process.Status, models.ErrInvalidState)
	}

	fromStage, err := tx.GetStage(ctx, spec.FromStageID)
	if err != nil {
		return nil, false, err
	}

	machine, err := internalfsm.NewStageMachine(fromStage.ID, fromStage.Status, e.logger)
	if err != nil {
		return nil, false, err
	}

	if spec.Type == models.TransitionRework {
		if err := e.applyRework(ctx, tx, machine, fromStage, spec.Reason, now); err != nil {
			return nil, false, err
		}
	} else {
		if err := machine.SendEvent(ctx, internalfsm.EventComplete); err != nil {
			return nil, false, err
		}
		fromStage.Status = machine.Current()
		fromStage.ActualEnd = &now
		if err := tx.UpdateStage(ctx, fromStage); err != nil {
			return nil, false, e.persistenceFault(spec.ProcessID, err)
		}
	}

	completed := false
	switch {
	case spec.Type == models.TransitionRework:
		// Stage identity unchanged; nothing else moves.
	case spec.ToStageID != "" && spec.ToStageID != spec.FromStageID:
		if err := e.activateStage(ctx, tx, spec.ToStageID, now); err != nil {
			return nil, false, err
		}
	default:
		// Sequence exhausted: the process is done.
		process.Status = models.ProcessStatusCompleted
		process.EndTime = &now
		completed = true
	}

	// Bump the process version on every transition so concurrent
	// evaluate-then-execute races fail the optimistic check.
	if err := tx.UpdateProcess(ctx, process); err != nil {
		return nil, false, e.persistenceFault(spec.ProcessID, err)
	}

	record := &models.TransitionRecord{
		ID:               uuid.New().String(),
		ProcessID:        process.ID,
		FromStageID:      spec.FromStageID,
		ToStageID:        spec.ToStageID,
		Type:             spec.Type,
		Reason:           spec.Reason,
		Initiator:        spec.Initiator,
		Timestamp:        now,
		ApprovalRequired: spec.ApprovalRequired,
		ApprovalObtained: spec.ApprovalObtained,
		ApprovalID:       spec.ApprovalID,
		PrerequisitesMet: spec.PrerequisitesMet,
		Notes:            spec.Notes,
	}
	if err := tx.InsertTransitionRecord(ctx, record); err != nil {
		return nil, false, e.persistenceFault(spec.ProcessID, err)
	}

	return record, completed, nil
}

// applyRework resets the stage to pending, clears its runtime window and
// keeps the rework reason as a deviation note.
func (e *Executor) applyRework(ctx context.Context, tx store.Tx, machine *internalfsm.StageMachine, stage *models.Stage, reason string, now time.Time) error {
	if err := machine.SendEvent(ctx, internalfsm.EventRework); err != nil {
		return err
	}

	stage.Status = machine.Current()
	stage.ActualStart = nil
	stage.ActualEnd = nil
	if stage.DeviationNotes != "" {
		stage.DeviationNotes += "\n"
	}
	stage.DeviationNotes += fmt.Sprintf("rework at %s: %s", now.Format(time.RFC3339), reason)

	if err := tx.UpdateStage(ctx, stage); err != nil {
		return e.persistenceFault(stage.ProcessID, err)
	}

	return nil
}

// activateStage moves the target stage into progress. Pending stages are
// activated, completed ones reactivated (rollback).
func (e *Executor) activateStage(ctx context.Context, tx store.Tx, stageID string, now time.Time) error {
	stage, err := tx.GetStage(ctx, stageID)
	if err != nil {
		return err
	}

	machine, err := internalfsm.NewStageMachine(stage.ID, stage.Status, e.logger)
	if err != nil {
		return err
	}

	event := internalfsm.EventActivate
	if stage.Status == models.StageStatusCompleted {
		event = internalfsm.EventReactivate
	}
	if err := machine.SendEvent(ctx, event); err != nil {
		return err
	}

	stage.Status = machine.Current()
	stage.ActualStart = &now
	stage.ActualEnd = nil

	if err := tx.UpdateStage(ctx, stage); err != nil {
		return e.persistenceFault(stage.ProcessID, err)
	}

	return nil
}

// signalMonitoring raises the fire-and-forget stop/start signals after the
// move has committed. Both are idempotent; failures are logged so an
// external retry can pick them up.
func (e *Executor) signalMonitoring(ctx context.Context, spec ExecuteSpec, completed bool) {
	if spec.Type == models.TransitionRework {
		// The stage window was reset; monitoring of the stage stops
		// until it is activated again.
		if err := e.signaler.StopMonitoring(ctx, spec.FromStageID); err != nil {
			e.logger.Warnf("Failed to stop monitoring for stage %s: %v", spec.FromStageID, err)
		}

		return
	}

	if err := e.signaler.StopMonitoring(ctx, spec.FromStageID); err != nil {
		e.logger.Warnf("Failed to stop monitoring for stage %s: %v", spec.FromStageID, err)
	}

	if !completed && spec.ToStageID != "" {
		if err := e.signaler.StartMonitoring(ctx, spec.ToStageID); err != nil {
			e.logger.Warnf("Failed to start monitoring for stage %s: %v", spec.ToStageID, err)
		}
	}
}

func (e *Executor) emitResults(ctx context.Context, spec ExecuteSpec, record *models.TransitionRecord, completed bool) {
	e.emitter.Emit(ctx, events.TypeTransitionExecuted, spec.ProcessID, spec.FromStageID, record)

	if !completed {
		return
	}

	e.emitter.Emit(ctx, events.TypeProcessCompleted, spec.ProcessID, "", nil)
	metrics.DecActiveProcesses()

	if e.batch == nil {
		return
	}

	process, err := e.store.GetProcess(ctx, spec.ProcessID)
	if err != nil {
		e.logger.Warnf("Failed to load completed process %s for batch callback: %v", spec.ProcessID, err)

		return
	}
	if err := e.batch.ProcessCompleted(ctx, process.BatchID, process.ID); err != nil {
		e.logger.Warnf("Batch completion callback failed for batch %s: %v", process.BatchID, err)
	}
}

// persistenceFault wraps a storage error as a retryable failure without
// exposing storage internals to the caller.
func (e *Executor) persistenceFault(processID string, err error) error {
	metrics.IncErrorCount(metrics.ComponentTransitionExecutor, processID)
	e.logger.Errorf("Persistence fault during transition on process %s: %v", processID, err)

	return backoff.NewTransientError(fmt.Errorf("transition could not be persisted, try again: %w", err))
}
