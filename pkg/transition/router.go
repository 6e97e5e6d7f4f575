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

// Package transition routes requested stage transitions to the correct
// handling policy and executes authorized moves.
//
// Routing policy:
//   - normal: evaluate; execute immediately when the gate is open and no
//     approval is mandated, otherwise park behind an approval request
//   - skip, rollback, emergency: always approval-gated
//   - rework: executes immediately, no approval
package transition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dancan-sandys/isomanagement-sub001/internal/locks"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/config"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/progression"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
)

// Rejection reasons surfaced on approval-gated normal transitions.
const (
	ReasonQualityGatesNotMet    = "quality gates not met"
	ReasonCCPApproval           = "critical control point approval"
	ReasonStageRequiresApproval = "stage requires approval"
)

// ApprovalCreator parks a transition behind an approval request. Implemented
// by the approval workflow.
type ApprovalCreator interface {
	Create(ctx context.Context, spec ApprovalSpec) (*models.ApprovalRequest, error)
}

// ApprovalSpec describes the approval request the router wants created.
type ApprovalSpec struct {
	ProcessID     string
	StageID       string
	TargetStageID string

	Type        models.TransitionType
	RequestedBy string
	Reason      string

	Role     string
	Priority string
	Deadline time.Time
}

// Router dispatches a transition request to the correct policy.
type Router struct {
	store     store.Store
	evaluator *progression.Evaluator
	executor  *Executor
	approvals ApprovalCreator
	cfg       config.ApprovalConfig
	locks     *locks.KeyedMutex
	logger    *zap.SugaredLogger

	now func() time.Time
}

// NewRouter builds a Router. The keyed mutex serializes transitions per
// process id and is shared with the approval workflow.
func NewRouter(s store.Store, evaluator *progression.Evaluator, executor *Executor, approvals ApprovalCreator, cfg config.ApprovalConfig, km *locks.KeyedMutex) *Router {
	return &Router{
		store:     s,
		evaluator: evaluator,
		executor:  executor,
		approvals: approvals,
		cfg:       cfg,
		locks:     km,
		logger:    logger.For(logger.ComponentTransitionRouter),
		now:       time.Now,
	}
}

// WithClock replaces the router's clock. Tests only.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// RequestTransition validates, routes and (where allowed) executes the
// requested transition against the process's currently active stage.
func (r *Router) RequestTransition(ctx context.Context, req models.TransitionRequest) (*models.Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := r.locks.Lock(ctx, req.ProcessID); err != nil {
		return nil, err
	}
	defer r.locks.Unlock(req.ProcessID)

	process, err := r.store.GetProcess(ctx, req.ProcessID)
	if err != nil {
		return nil, err
	}
	if !process.IsActive() {
		return nil, fmt.Errorf("process %s is %s, not in_progress: %w",
			process.ID, process.Status, models.ErrInvalidState)
	}

	current, next, prior, err := r.locateStages(ctx, process.ID)
	if err != nil {
		return nil, err
	}

	var outcome *models.Outcome
	switch req.Type {
	case models.TransitionNormal:
		outcome, err = r.routeNormal(ctx, req, current, next)
	case models.TransitionSkip:
		outcome, err = r.routeApprovalOnly(ctx, req, current, next, req.Reason)
	case models.TransitionRollback:
		if prior == nil {
			return nil, fmt.Errorf("stage %s is the first stage: %w", current.ID, models.ErrNoPriorStage)
		}
		outcome, err = r.routeApprovalOnly(ctx, req, current, prior, req.Reason)
	case models.TransitionEmergency:
		// Forced override candidate: the evaluator is bypassed entirely.
		outcome, err = r.routeApprovalOnly(ctx, req, current, next, req.Reason)
	case models.TransitionRework:
		outcome, err = r.routeRework(ctx, req, current)
	default:
		return nil, fmt.Errorf("%w: unknown transition type %q", models.ErrValidation, req.Type)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(string(req.Type), string(outcome.Kind))

	return outcome, nil
}

// locateStages finds the single in-progress stage plus its neighbors.
func (r *Router) locateStages(ctx context.Context, processID string) (current, next, prior *models.Stage, err error) {
	stages, err := r.store.ListStages(ctx, processID)
	if err != nil {
		return nil, nil, nil, err
	}

	for i, s := range stages {
		if s.Status == models.StageStatusInProgress {
			current = s
			if i+1 < len(stages) {
				next = stages[i+1]
			}
			if i > 0 {
				prior = stages[i-1]
			}

			break
		}
	}
	if current == nil {
		return nil, nil, nil, fmt.Errorf("process %s has no stage in progress: %w",
			processID, models.ErrInvalidState)
	}

	return current, next, prior, nil
}

func (r *Router) routeNormal(ctx context.Context, req models.TransitionRequest, current, next *models.Stage) (*models.Outcome, error) {
	result, err := r.evaluator.Evaluate(ctx, req.ProcessID, current.ID)
	if err != nil {
		return nil, err
	}

	if result.CanProgress && !result.RequiresApproval {
		spec := ExecuteSpec{
			ProcessID:        req.ProcessID,
			FromStageID:      current.ID,
			Type:             req.Type,
			Reason:           req.Reason,
			Initiator:        req.Initiator,
			PrerequisitesMet: true,
		}
		if next != nil {
			spec.ToStageID = next.ID
		}

		record, err := r.executor.Execute(ctx, spec)
		if err != nil {
			return nil, err
		}

		return &models.Outcome{Kind: models.OutcomeExecuted, Record: record}, nil
	}

	reason := ReasonQualityGatesNotMet
	if result.CanProgress {
		reason = ReasonStageRequiresApproval
		if current.IsCriticalControlPoint {
			reason = ReasonCCPApproval
		}
	}

	return r.createApproval(ctx, req, current, next, reason)
}

// routeApprovalOnly covers skip, rollback and emergency: there is no
// automatic path.
func (r *Router) routeApprovalOnly(ctx context.Context, req models.TransitionRequest, current, target *models.Stage, reason string) (*models.Outcome, error) {
	return r.createApproval(ctx, req, current, target, reason)
}

func (r *Router) routeRework(ctx context.Context, req models.TransitionRequest, current *models.Stage) (*models.Outcome, error) {
	record, err := r.executor.Execute(ctx, ExecuteSpec{
		ProcessID:        req.ProcessID,
		FromStageID:      current.ID,
		ToStageID:        current.ID,
		Type:             req.Type,
		Reason:           req.Reason,
		Initiator:        req.Initiator,
		PrerequisitesMet: false,
	})
	if err != nil {
		return nil, err
	}

	return &models.Outcome{Kind: models.OutcomeExecuted, Record: record}, nil
}

func (r *Router) createApproval(ctx context.Context, req models.TransitionRequest, current, target *models.Stage, reason string) (*models.Outcome, error) {
	role, priority := ResolveApprover(r.cfg.Rules, req.Type, current)

	deadline := r.now().Add(r.cfg.DefaultDeadline)
	if priority == models.PriorityHigh {
		deadline = r.now().Add(r.cfg.HighPriorityDeadline)
	}

	spec := ApprovalSpec{
		ProcessID:   req.ProcessID,
		StageID:     current.ID,
		Type:        req.Type,
		RequestedBy: req.Initiator,
		Reason:      reason,
		Role:        role,
		Priority:    priority,
		Deadline:    deadline,
	}
	if target != nil {
		spec.TargetStageID = target.ID
	}

	approval, err := r.approvals.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	r.logger.Infof("Transition %s on stage %s parked behind approval %s (%s, due %s)",
		req.Type, current.ID, approval.ID, role, deadline.Format(time.RFC3339))

	return &models.Outcome{Kind: models.OutcomeApprovalCreated, Reason: reason, Approval: approval}, nil
}

// ResolveApprover evaluates the ordered rule table top to bottom and returns
// the approver role and priority of the first matching rule.
func ResolveApprover(rules []config.ApproverRule, t models.TransitionType, stage *models.Stage) (role, priority string) {
	for _, rule := range rules {
		if rule.TransitionType != "" && rule.TransitionType != t {
			continue
		}
		if rule.CCPOnly && !stage.IsCriticalControlPoint {
			continue
		}

		return rule.Role, rule.Priority
	}

	// The config validator guarantees a catch-all; this is unreachable
	// with a validated table.
	return models.RoleLineSupervisor, models.PriorityNormal
}
