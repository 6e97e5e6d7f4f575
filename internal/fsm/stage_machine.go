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

// Package fsm holds the stage state machine. Every stage status change in the
// engine goes through a StageMachine so that illegal transitions (e.g.
// completing a pending stage) are rejected in one place.
package fsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
)

// Event constants for stage transitions
const (
	// EventActivate moves a pending stage into progress
	EventActivate = "activate"
	// EventComplete closes the active stage
	EventComplete = "complete"
	// EventFail abandons the active stage
	EventFail = "fail"
	// EventRework resets the active stage for reprocessing
	EventRework = "rework"
	// EventReactivate returns a completed stage to progress (rollback target)
	EventReactivate = "reactivate"
)

// StageMachine wraps a looplab FSM seeded from a stage's persisted status.
// It is short-lived: the executor builds one per transition, drives it, and
// persists the resulting state.
type StageMachine struct {
	// mu protects concurrent access to the underlying FSM
	mu sync.Mutex

	fsm *fsm.FSM

	// Registered "enter_state" callbacks, purely for logging or minor side-effects.
	callbacks map[string]fsm.Callback

	logger  *zap.SugaredLogger
	stageID string
}

// NewStageMachine creates a stage machine starting at the given persisted status.
func NewStageMachine(stageID, currentStatus string, logger *zap.SugaredLogger) (*StageMachine, error) {
	if !models.IsStageStatus(currentStatus) {
		return nil, fmt.Errorf("%w: unknown stage status %q", models.ErrInvalidState, currentStatus)
	}

	m := &StageMachine{
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
		stageID:   stageID,
	}

	m.fsm = fsm.NewFSM(
		currentStatus,
		fsm.Events{
			{Name: EventActivate, Src: []string{models.StageStatusPending}, Dst: models.StageStatusInProgress},
			{Name: EventComplete, Src: []string{models.StageStatusInProgress}, Dst: models.StageStatusCompleted},
			{Name: EventFail, Src: []string{models.StageStatusInProgress}, Dst: models.StageStatusFailed},
			// Rework returns the stage to its initial state without
			// treating it as a sequence change.
			{Name: EventRework, Src: []string{models.StageStatusInProgress}, Dst: models.StageStatusPending},
			// Reactivation is reserved for rollback targets.
			{Name: EventReactivate, Src: []string{models.StageStatusCompleted}, Dst: models.StageStatusInProgress},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	m.AddCallback("enter_"+models.StageStatusInProgress, func(ctx context.Context, e *fsm.Event) {
		m.logger.Infof("Stage %s entering in_progress", m.stageID)
	})
	m.AddCallback("enter_"+models.StageStatusCompleted, func(ctx context.Context, e *fsm.Event) {
		m.logger.Infof("Stage %s completed", m.stageID)
	})
	m.AddCallback("enter_"+models.StageStatusFailed, func(ctx context.Context, e *fsm.Event) {
		m.logger.Warnf("Stage %s failed", m.stageID)
	})

	return m, nil
}

// AddCallback adds a callback for a given event name
func (m *StageMachine) AddCallback(eventName string, callback fsm.Callback) {
	m.callbacks[eventName] = callback
}

// Current returns the current state of the machine.
func (m *StageMachine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsm.Current()
}

// Can reports whether the event is legal from the current state.
func (m *StageMachine) Can(eventName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsm.Can(eventName)
}

// SendEvent drives the machine. An already-cancelled context is rejected
// before the transition starts so the FSM never ends up mid-transition.
func (m *StageMachine) SendEvent(ctx context.Context, eventName string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(ctx, eventName); err != nil {
		return fmt.Errorf("%w: stage %s cannot %s from %s", models.ErrInvalidState, m.stageID, eventName, m.fsm.Current())
	}

	return nil
}
