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

// Package progression computes whether a stage is eligible to advance and
// whether human approval is mandatory regardless of eligibility. Evaluation
// is pure read/compute: it never mutates stage or process state, so calling
// it twice without new monitoring entries yields identical results.
package progression

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/config"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
)

// Time assessment status values
const (
	TimeStatusOnTrack          = "on_track"
	TimeStatusInsufficientTime = "insufficient_time"
	TimeStatusOvertime         = "overtime"
)

// TimeAssessment is the timing leg of the quality gate.
type TimeAssessment struct {
	Satisfied bool          `json:"satisfied"`
	Status    string        `json:"status"`
	Elapsed   time.Duration `json:"elapsed"`
	Planned   time.Duration `json:"planned,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// QualityAssessment is the measurement leg of the quality gate.
type QualityAssessment struct {
	Satisfied bool `json:"satisfied"`
	// Score is (1 - failure rate) * 100, or 0 with no entries.
	Score              float64 `json:"score"`
	Entries            int     `json:"entries"`
	Failed             int     `json:"failed"`
	FailureRate        float64 `json:"failureRate"`
	CriticalDeviation  bool    `json:"criticalDeviation"`
	DeviationsDetected bool    `json:"deviationsDetected"`
	Reason             string  `json:"reason,omitempty"`
}

// EvaluationResult is the full verdict on a stage.
type EvaluationResult struct {
	CanProgress      bool `json:"canProgress"`
	RequiresApproval bool `json:"requiresApproval"`

	Readiness monitoring.Readiness `json:"readiness"`
	Time      TimeAssessment       `json:"time"`
	Quality   QualityAssessment    `json:"quality"`

	// NextStage is nil when the sequence is exhausted.
	NextStage           *models.Stage           `json:"nextStage,omitempty"`
	AutoAdvanceEligible bool                    `json:"autoAdvanceEligible"`
	AvailableActions    []models.TransitionType `json:"availableActions"`
}

// Evaluator computes stage progression eligibility.
type Evaluator struct {
	store   store.Store
	monitor monitoring.Evaluator
	cfg     config.QualityConfig
	logger  *zap.SugaredLogger

	// now is replaceable in tests.
	now func() time.Time
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(s store.Store, monitor monitoring.Evaluator, cfg config.QualityConfig) *Evaluator {
	return &Evaluator{
		store:   s,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.For(logger.ComponentProgressionEvaluator),
		now:     time.Now,
	}
}

// WithClock replaces the evaluator's clock. Tests only.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate computes the progression verdict for the given stage of the given
// process. The stage must be in progress.
func (e *Evaluator) Evaluate(ctx context.Context, processID, stageID string) (*EvaluationResult, error) {
	start := e.now()
	defer func() {
		metrics.ObserveOperationTime(metrics.ComponentProgressionEvaluator, "evaluate", time.Since(start))
	}()

	process, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	stage, err := e.store.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if stage.ProcessID != process.ID {
		return nil, fmt.Errorf("stage %s does not belong to process %s: %w",
			stageID, processID, models.ErrValidation)
	}
	if stage.Status != models.StageStatusInProgress {
		return nil, fmt.Errorf("stage %s is %s, not in_progress: %w",
			stageID, stage.Status, models.ErrInvalidState)
	}

	readiness, err := e.monitor.IsReady(ctx, stageID)
	if err != nil {
		return nil, fmt.Errorf("monitoring readiness check failed: %w", err)
	}

	timeAssessment := e.assessTime(stage)

	quality, err := e.assessQuality(ctx, stage)
	if err != nil {
		return nil, err
	}

	nextStage, err := e.nextStage(ctx, process.ID, stage.SequenceOrder)
	if err != nil {
		return nil, err
	}

	result := &EvaluationResult{
		Readiness: readiness,
		Time:      timeAssessment,
		Quality:   quality,
		NextStage: nextStage,
	}

	result.CanProgress = readiness.OK && timeAssessment.Satisfied && quality.Satisfied
	result.RequiresApproval = stage.RequiresApproval ||
		!result.CanProgress ||
		quality.DeviationsDetected ||
		stage.IsCriticalControlPoint
	result.AutoAdvanceEligible = stage.AutoAdvance && result.CanProgress && !result.RequiresApproval
	result.AvailableActions = availableActions(stage)

	metrics.RecordEvaluation(result.CanProgress, result.RequiresApproval)
	e.logger.Debugf("Evaluated stage %s of process %s: canProgress=%v requiresApproval=%v",
		stageID, processID, result.CanProgress, result.RequiresApproval)

	return result, nil
}

// assessTime compares elapsed time against the planned duration. Overtime is
// a warning, not a hard block.
func (e *Evaluator) assessTime(stage *models.Stage) TimeAssessment {
	var elapsed time.Duration
	if stage.ActualStart != nil {
		elapsed = e.now().Sub(*stage.ActualStart)
	}

	if stage.PlannedDuration == nil {
		return TimeAssessment{Satisfied: true, Status: TimeStatusOnTrack, Elapsed: elapsed}
	}

	planned := *stage.PlannedDuration
	assessment := TimeAssessment{Elapsed: elapsed, Planned: planned}

	switch {
	case elapsed < planned:
		assessment.Satisfied = false
		assessment.Status = TimeStatusInsufficientTime
		assessment.Reason = "insufficient_time"
	case float64(elapsed) > e.cfg.OvertimeFactor*float64(planned):
		assessment.Satisfied = true
		assessment.Status = TimeStatusOvertime
		assessment.Reason = fmt.Sprintf("elapsed %s exceeds %.1fx planned duration", elapsed, e.cfg.OvertimeFactor)
	default:
		assessment.Satisfied = true
		assessment.Status = TimeStatusOnTrack
	}

	return assessment
}

// assessQuality scores the monitoring log recorded since the stage started.
func (e *Evaluator) assessQuality(ctx context.Context, stage *models.Stage) (QualityAssessment, error) {
	since := time.Time{}
	if stage.ActualStart != nil {
		since = *stage.ActualStart
	}

	entries, err := e.store.ListLogEntries(ctx, stage.ID, since)
	if err != nil {
		return QualityAssessment{}, err
	}

	if len(entries) == 0 {
		return QualityAssessment{
			Satisfied: false,
			Score:     0,
			Reason:    "no monitoring entries recorded",
		}, nil
	}

	assessment := QualityAssessment{Entries: len(entries)}
	for _, entry := range entries {
		if !entry.Passed {
			assessment.Failed++
		}
		if entry.Severity == models.SeverityCritical {
			assessment.CriticalDeviation = true
		}
	}

	assessment.FailureRate = float64(assessment.Failed) / float64(assessment.Entries)
	assessment.Score = (1 - assessment.FailureRate) * 100
	assessment.DeviationsDetected = assessment.Failed > 0

	switch {
	case assessment.CriticalDeviation:
		assessment.Satisfied = false
		assessment.Reason = "critical deviation recorded"
	case assessment.FailureRate > e.cfg.MaxFailureRate:
		assessment.Satisfied = false
		assessment.Reason = fmt.Sprintf("failure rate %.0f%% exceeds %.0f%% limit",
			assessment.FailureRate*100, e.cfg.MaxFailureRate*100)
	default:
		assessment.Satisfied = true
	}

	return assessment, nil
}

// nextStage returns the stage with the following sequence order, or nil when
// the process nears completion.
func (e *Evaluator) nextStage(ctx context.Context, processID string, currentOrder int) (*models.Stage, error) {
	stages, err := e.store.ListStages(ctx, processID)
	if err != nil {
		return nil, err
	}

	for _, s := range stages {
		if s.SequenceOrder == currentOrder+1 {
			return s, nil
		}
	}

	return nil, nil
}

func availableActions(stage *models.Stage) []models.TransitionType {
	actions := []models.TransitionType{
		models.TransitionNormal,
		models.TransitionSkip,
		models.TransitionEmergency,
		models.TransitionRework,
	}
	if stage.SequenceOrder > 1 {
		actions = append(actions, models.TransitionRollback)
	}

	return actions
}
