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

// Package lifecycle takes a process from nothing to running: Initiate builds
// the durable process skeleton (stages and their monitoring requirements in
// input order), Start activates stage 1 and opens the monitoring window.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dancan-sandys/isomanagement-sub001/internal/fsm"
	"github.com/dancan-sandys/isomanagement-sub001/internal/locks"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
)

// RequirementSpec describes one monitoring requirement of a stage at
// initiation time.
type RequirementSpec struct {
	ParameterName      string
	ParameterType      string
	IsCriticalLimit    bool
	IsOperationalLimit bool
	TargetValue        float64
	Tolerance          float64
	Mandatory          bool
	MeasurementMethod  string
	Equipment          string
}

// StageSpec describes one stage at initiation time. Sequence order comes from
// position in the ProcessSpec, not from the spec itself.
type StageSpec struct {
	Name                   string
	Description            string
	IsCriticalControlPoint bool
	IsOperationalPRP       bool
	PlannedDuration        *time.Duration
	AutoAdvance            bool
	RequiresApproval       bool
	AssignedOperator       string
	Requirements           []RequirementSpec
}

// ProcessSpec is the input to Initiate.
type ProcessSpec struct {
	BatchID     string
	ProcessType string
	Stages      []StageSpec
}

// Controller drives process initiation and start.
type Controller struct {
	store    store.Store
	signaler monitoring.Signaler
	emitter  *events.Emitter
	locks    *locks.KeyedMutex
	logger   *zap.SugaredLogger

	now func() time.Time
}

// NewController builds a Controller sharing the engine's keyed mutex.
func NewController(s store.Store, signaler monitoring.Signaler, emitter *events.Emitter, km *locks.KeyedMutex) *Controller {
	return &Controller{
		store:    s,
		signaler: signaler,
		emitter:  emitter,
		locks:    km,
		logger:   logger.For(logger.ComponentLifecycleController),
		now:      time.Now,
	}
}

// WithClock replaces the controller's clock. Tests only.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Initiate persists a draft process with its immutable stage list. Stages get
// contiguous 1-based sequence order from input order. A batch can have at
// most one draft or in-progress process at a time.
func (c *Controller) Initiate(ctx context.Context, spec ProcessSpec) (*models.ProcessInstance, []*models.Stage, error) {
	if err := validateSpec(spec); err != nil {
		return nil, nil, err
	}

	// Serialize per batch so two concurrent initiations for the same batch
	// cannot both pass the active-process check.
	lockKey := "batch/" + spec.BatchID
	if err := c.locks.Lock(ctx, lockKey); err != nil {
		return nil, nil, err
	}
	defer c.locks.Unlock(lockKey)

	existing, err := c.store.FindActiveProcessByBatch(ctx, spec.BatchID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("batch %s already has process %s (%s): %w",
			spec.BatchID, existing.ID, existing.Status, models.ErrActiveProcessExists)
	}

	process := &models.ProcessInstance{
		ID:          uuid.New().String(),
		BatchID:     spec.BatchID,
		ProcessType: spec.ProcessType,
		Status:      models.ProcessStatusDraft,
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}

	stages, err := c.insertSkeleton(ctx, tx, process, spec.Stages)
	if err != nil {
		_ = tx.Rollback()

		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	c.logger.Infof("Initiated process %s for batch %s with %d stages",
		process.ID, process.BatchID, len(stages))

	return process, stages, nil
}

func (c *Controller) insertSkeleton(ctx context.Context, tx store.Tx, process *models.ProcessInstance, specs []StageSpec) ([]*models.Stage, error) {
	if err := tx.InsertProcess(ctx, process); err != nil {
		return nil, err
	}

	stages := make([]*models.Stage, 0, len(specs))
	for i, ss := range specs {
		stage := &models.Stage{
			ID:                     uuid.New().String(),
			ProcessID:              process.ID,
			SequenceOrder:          i + 1,
			Name:                   ss.Name,
			Description:            ss.Description,
			Status:                 models.StageStatusPending,
			IsCriticalControlPoint: ss.IsCriticalControlPoint,
			IsOperationalPRP:       ss.IsOperationalPRP,
			PlannedDuration:        ss.PlannedDuration,
			AutoAdvance:            ss.AutoAdvance,
			RequiresApproval:       ss.RequiresApproval,
			AssignedOperator:       ss.AssignedOperator,
		}
		if err := tx.InsertStage(ctx, stage); err != nil {
			return nil, err
		}

		for _, rs := range ss.Requirements {
			requirement := &models.MonitoringRequirement{
				ID:                 uuid.New().String(),
				StageID:            stage.ID,
				ParameterName:      rs.ParameterName,
				ParameterType:      rs.ParameterType,
				IsCriticalLimit:    rs.IsCriticalLimit,
				IsOperationalLimit: rs.IsOperationalLimit,
				TargetValue:        rs.TargetValue,
				Tolerance:          rs.Tolerance,
				Mandatory:          rs.Mandatory,
				MeasurementMethod:  rs.MeasurementMethod,
				Equipment:          rs.Equipment,
			}
			if err := tx.InsertRequirement(ctx, requirement); err != nil {
				return nil, err
			}
		}

		stages = append(stages, stage)
	}

	return stages, nil
}

// Start moves a draft process into progress: stage 1 is activated with its
// actual start timestamp and monitoring begins.
func (c *Controller) Start(ctx context.Context, processID, operator string) (*models.ProcessInstance, error) {
	if operator == "" {
		return nil, fmt.Errorf("%w: operator is required", models.ErrValidation)
	}

	if err := c.locks.Lock(ctx, processID); err != nil {
		return nil, err
	}
	defer c.locks.Unlock(processID)

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	process, first, err := c.startInTx(ctx, tx, processID, operator)
	if err != nil {
		_ = tx.Rollback()

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if err := c.signaler.StartMonitoring(ctx, first.ID); err != nil {
		c.logger.Warnf("Failed to start monitoring for stage %s: %v", first.ID, err)
	}

	metrics.IncActiveProcesses()
	c.emitter.Emit(ctx, events.TypeProcessStarted, process.ID, first.ID, process)

	return process, nil
}

func (c *Controller) startInTx(ctx context.Context, tx store.Tx, processID, operator string) (*models.ProcessInstance, *models.Stage, error) {
	process, err := tx.GetProcess(ctx, processID)
	if err != nil {
		return nil, nil, err
	}
	if process.Status != models.ProcessStatusDraft {
		return nil, nil, fmt.Errorf("process %s is %s, only draft processes can start: %w",
			process.ID, process.Status, models.ErrInvalidState)
	}

	stages, err := tx.ListStages(ctx, processID)
	if err != nil {
		return nil, nil, err
	}
	if len(stages) == 0 {
		return nil, nil, fmt.Errorf("process %s has no stages: %w", processID, models.ErrValidation)
	}

	first := stages[0]
	machine, err := fsm.NewStageMachine(first.ID, first.Status, c.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := machine.SendEvent(ctx, fsm.EventActivate); err != nil {
		return nil, nil, err
	}

	now := c.now()
	first.Status = machine.Current()
	first.ActualStart = &now
	if err := tx.UpdateStage(ctx, first); err != nil {
		return nil, nil, err
	}

	process.Operator = operator
	process.Status = models.ProcessStatusInProgress
	process.StartTime = &now
	if err := tx.UpdateProcess(ctx, process); err != nil {
		return nil, nil, err
	}

	return process, first, nil
}

func validateSpec(spec ProcessSpec) error {
	if spec.BatchID == "" {
		return fmt.Errorf("%w: batch id is required", models.ErrValidation)
	}
	if len(spec.Stages) == 0 {
		return fmt.Errorf("%w: at least one stage is required", models.ErrValidation)
	}
	for i, ss := range spec.Stages {
		if ss.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", models.ErrValidation, i+1)
		}
	}

	return nil
}
