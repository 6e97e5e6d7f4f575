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

// Package approval creates, tracks and resolves the approval requests that
// gate transitions. A request is a durable record resolved out-of-band at
// arbitrary delay; the quality gate is re-evaluated at decision time so the
// decision never relies on a stale snapshot.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dancan-sandys/isomanagement-sub001/internal/locks"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/progression"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/transition"
)

// RoleResolver maps a user to a role for approver eligibility checks. It is
// an external collaborator (identity system).
type RoleResolver interface {
	RoleOf(ctx context.Context, user string) (string, error)
}

// Workflow owns the approval request lifecycle.
type Workflow struct {
	store     store.Store
	evaluator *progression.Evaluator
	executor  *transition.Executor
	roles     RoleResolver
	emitter   *events.Emitter
	locks     *locks.KeyedMutex
	logger    *zap.SugaredLogger

	now func() time.Time
}

var _ transition.ApprovalCreator = (*Workflow)(nil)

// NewWorkflow builds a Workflow. The keyed mutex must be the same instance
// the router uses so approvals and direct transitions serialize per process.
func NewWorkflow(s store.Store, evaluator *progression.Evaluator, executor *transition.Executor, roles RoleResolver, emitter *events.Emitter, km *locks.KeyedMutex) *Workflow {
	return &Workflow{
		store:     s,
		evaluator: evaluator,
		executor:  executor,
		roles:     roles,
		emitter:   emitter,
		locks:     km,
		logger:    logger.For(logger.ComponentApprovalWorkflow),
		now:       time.Now,
	}
}

// WithClock replaces the workflow's clock. Tests only.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	w.now = now
	return w
}

// Create persists a pending approval request for the described transition.
// Called by the router while it holds the process lock.
func (w *Workflow) Create(ctx context.Context, spec transition.ApprovalSpec) (*models.ApprovalRequest, error) {
	fingerprint, err := w.stageFingerprint(ctx, spec.StageID)
	if err != nil {
		return nil, err
	}

	request := &models.ApprovalRequest{
		ID:             uuid.New().String(),
		ProcessID:      spec.ProcessID,
		StageID:        spec.StageID,
		TargetStageID:  spec.TargetStageID,
		Type:           spec.Type,
		RequestedBy:    spec.RequestedBy,
		Reason:         spec.Reason,
		Priority:       spec.Priority,
		RequiredRole:   spec.Role,
		Deadline:       spec.Deadline,
		Status:         models.ApprovalStatusPending,
		LogFingerprint: fingerprint,
		CreatedAt:      w.now(),
	}

	if err := w.store.InsertApproval(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	metrics.RecordApproval(models.ApprovalStatusPending)
	w.emitter.Emit(ctx, events.TypeApprovalCreated, request.ProcessID, request.StageID, request)

	return request, nil
}

// Resolve applies the approver's decision to a pending request. An approved
// request executes the parked transition; a rejection only closes the
// request. The quality gate is re-run at decision time so the transition
// record reflects current prerequisites, not the ones captured at creation.
func (w *Workflow) Resolve(ctx context.Context, requestID string, decision models.ApprovalDecision) (*models.Outcome, error) {
	request, err := w.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := w.locks.Lock(ctx, request.ProcessID); err != nil {
		return nil, err
	}
	defer w.locks.Unlock(request.ProcessID)

	// Reload under the lock: another resolver may have won the race.
	request, err = w.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.IsResolved() {
		return nil, fmt.Errorf("approval request %s is %s: %w",
			requestID, request.Status, models.ErrRequestResolved)
	}

	role, err := w.roles.RoleOf(ctx, decision.Approver)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role of %s: %w", decision.Approver, err)
	}
	if role != request.RequiredRole {
		return nil, fmt.Errorf("%w: %s has role %q, request requires %q",
			models.ErrValidation, decision.Approver, role, request.RequiredRole)
	}

	if !decision.Approved {
		return w.reject(ctx, request, decision)
	}

	return w.approve(ctx, request, decision)
}

func (w *Workflow) reject(ctx context.Context, request *models.ApprovalRequest, decision models.ApprovalDecision) (*models.Outcome, error) {
	w.markResolved(ctx, request, models.ApprovalStatusRejected, decision)

	reason := decision.Comment
	if reason == "" {
		reason = "rejected by " + decision.Approver
	}

	return &models.Outcome{Kind: models.OutcomeRejected, Reason: reason, Approval: request}, nil
}

func (w *Workflow) approve(ctx context.Context, request *models.ApprovalRequest, decision models.ApprovalDecision) (*models.Outcome, error) {
	current, err := w.stageFingerprint(ctx, request.StageID)
	switch {
	case err != nil:
		w.logger.Warnf("Staleness check for approval %s skipped, failed to read monitoring log: %v", request.ID, err)
	case current != request.LogFingerprint:
		w.logger.Infof("Approval %s decided on fresh data: monitoring log changed since request creation", request.ID)
	}

	prerequisitesMet := false
	switch request.Type {
	case models.TransitionNormal, models.TransitionSkip:
		result, evalErr := w.evaluator.Evaluate(ctx, request.ProcessID, request.StageID)
		if evalErr != nil && !errors.Is(evalErr, models.ErrInvalidState) {
			return nil, evalErr
		}
		if evalErr == nil {
			prerequisitesMet = result.CanProgress
		}
	case models.TransitionRollback, models.TransitionEmergency:
		// Backward and forced moves never claim met prerequisites.
	}

	record, err := w.executor.Execute(ctx, transition.ExecuteSpec{
		ProcessID:        request.ProcessID,
		FromStageID:      request.StageID,
		ToStageID:        request.TargetStageID,
		Type:             request.Type,
		Reason:           request.Reason,
		Initiator:        request.RequestedBy,
		ApprovalRequired: true,
		ApprovalObtained: true,
		ApprovalID:       request.ID,
		PrerequisitesMet: prerequisitesMet,
		Notes:            decision.Comment,
	})
	if err != nil {
		// The request stays pending; the approver can retry once the
		// fault clears.
		return nil, err
	}

	w.markResolved(ctx, request, models.ApprovalStatusApproved, decision)

	return &models.Outcome{Kind: models.OutcomeExecuted, Record: record, Approval: request}, nil
}

// markResolved closes the request. The transition (if any) has already
// committed, so a failure here is logged rather than propagated.
func (w *Workflow) markResolved(ctx context.Context, request *models.ApprovalRequest, status string, decision models.ApprovalDecision) {
	now := w.now()
	request.Status = status
	request.ResolvedBy = decision.Approver
	request.ResolvedAt = &now
	request.Comment = decision.Comment

	if err := w.store.UpdateApproval(ctx, request); err != nil {
		w.logger.Errorf("Failed to mark approval %s as %s: %v", request.ID, status, err)
		metrics.IncErrorCount(metrics.ComponentApprovalWorkflow, request.ProcessID)

		return
	}

	metrics.RecordApproval(status)
	w.emitter.Emit(ctx, events.TypeApprovalResolved, request.ProcessID, request.StageID, request)
}

// ExpireOverdue marks pending requests whose deadline has elapsed. The core
// never auto-approves or auto-rejects; expiry is an advisory status flip
// driven by an external scheduler.
func (w *Workflow) ExpireOverdue(ctx context.Context) ([]*models.ApprovalRequest, error) {
	pending, err := w.store.ListPendingApprovals(ctx, "")
	if err != nil {
		return nil, err
	}

	now := w.now()

	var expired []*models.ApprovalRequest
	for _, request := range pending {
		if !request.Deadline.Before(now) {
			continue
		}

		flipped, err := w.expireOne(ctx, request.ID)
		if err != nil {
			w.logger.Errorf("Failed to expire approval %s: %v", request.ID, err)

			continue
		}
		if flipped != nil {
			expired = append(expired, flipped)
		}
	}

	return expired, nil
}

// expireOne flips a single request to expired under the process lock. The
// request is re-read after the lock is held: a decision may have landed
// between the sweep's listing and this write, and a resolved request must
// never be rewritten.
func (w *Workflow) expireOne(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	request, err := w.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := w.locks.Lock(ctx, request.ProcessID); err != nil {
		return nil, err
	}
	defer w.locks.Unlock(request.ProcessID)

	request, err = w.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.IsResolved() {
		return nil, nil
	}

	request.Status = models.ApprovalStatusExpired
	if err := w.store.UpdateApproval(ctx, request); err != nil {
		return nil, err
	}

	metrics.RecordApproval(models.ApprovalStatusExpired)
	w.emitter.Emit(ctx, events.TypeApprovalExpired, request.ProcessID, request.StageID, request)

	return request, nil
}

// stageFingerprint hashes the ordered monitoring log of the stage. Two equal
// fingerprints mean no entries arrived in between.
func (w *Workflow) stageFingerprint(ctx context.Context, stageID string) (uint64, error) {
	stage, err := w.store.GetStage(ctx, stageID)
	if err != nil {
		return 0, err
	}

	since := time.Time{}
	if stage.ActualStart != nil {
		since = *stage.ActualStart
	}

	entries, err := w.store.ListLogEntries(ctx, stageID, since)
	if err != nil {
		return 0, err
	}

	return LogFingerprint(entries), nil
}

// LogFingerprint hashes monitoring log entry identities in order.
func LogFingerprint(entries []*models.MonitoringLogEntry) uint64 {
	h := xxhash.New()
	for _, e := range entries {
		_, _ = h.WriteString(e.ID)
		_, _ = h.WriteString("|")
	}

	return h.Sum64()
}
