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

package transition_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dancan-sandys/isomanagement-sub001/internal/locks"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/config"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/progression"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/transition"
)

var testNow = time.Date(2026, 3, 17, 10, 0, 0, 0, time.UTC)

// mockApprovals records approval specs and hands back pending requests.
type mockApprovals struct {
	specs []transition.ApprovalSpec
}

var _ transition.ApprovalCreator = (*mockApprovals)(nil)

func (m *mockApprovals) Create(_ context.Context, spec transition.ApprovalSpec) (*models.ApprovalRequest, error) {
	m.specs = append(m.specs, spec)

	return &models.ApprovalRequest{
		ID:            uuid.New().String(),
		ProcessID:     spec.ProcessID,
		StageID:       spec.StageID,
		TargetStageID: spec.TargetStageID,
		Type:          spec.Type,
		RequestedBy:   spec.RequestedBy,
		Reason:        spec.Reason,
		Priority:      spec.Priority,
		RequiredRole:  spec.Role,
		Deadline:      spec.Deadline,
		Status:        models.ApprovalStatusPending,
		CreatedAt:     testNow,
	}, nil
}

type fixture struct {
	store     *store.MemoryStore
	monitor   *monitoring.MockEvaluator
	signaler  *monitoring.MockSignaler
	approvals *mockApprovals
	router    *transition.Router
	process   *models.ProcessInstance
	stages    []*models.Stage
}

// newFixture seeds a three-stage process with stage 2 in progress for 35
// minutes against a 30 minute plan, quality gate open.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	ctx := context.Background()

	process := &models.ProcessInstance{
		ID:          uuid.New().String(),
		BatchID:     "batch-5",
		ProcessType: "pasteurization",
		Operator:    "op-1",
		Status:      models.ProcessStatusInProgress,
	}
	require.NoError(t, s.InsertProcess(ctx, process))

	planned := 30 * time.Minute
	started := testNow.Add(-35 * time.Minute)

	stages := []*models.Stage{
		{
			ID: uuid.New().String(), ProcessID: process.ID, SequenceOrder: 1,
			Name: "Preheat", Status: models.StageStatusCompleted,
		},
		{
			ID: uuid.New().String(), ProcessID: process.ID, SequenceOrder: 2,
			Name: "Hold", Status: models.StageStatusInProgress,
			AutoAdvance: true, PlannedDuration: &planned, ActualStart: &started,
		},
		{
			ID: uuid.New().String(), ProcessID: process.ID, SequenceOrder: 3,
			Name: "Cool", Status: models.StageStatusPending,
		},
	}
	for _, st := range stages {
		require.NoError(t, s.InsertStage(ctx, st))
	}

	clock := func() time.Time { return testNow }

	monitor := monitoring.NewMockEvaluator()
	signaler := monitoring.NewMockSignaler()
	emitter := events.NewEmitter(events.NewMockSink())
	evaluator := progression.NewEvaluator(s, monitor, config.DefaultConfig().Quality).WithClock(clock)
	executor := transition.NewExecutor(s, signaler, emitter, nil).WithClock(clock)
	approvals := &mockApprovals{}
	router := transition.NewRouter(s, evaluator, executor, approvals, config.DefaultConfig().Approval, locks.NewKeyedMutex()).
		WithClock(clock)

	return &fixture{
		store: s, monitor: monitor, signaler: signaler, approvals: approvals,
		router: router, process: process, stages: stages,
	}
}

func (f *fixture) logEntries(t *testing.T, stageID string, passing, failing int, severity string) {
	t.Helper()

	for i := 0; i < passing; i++ {
		require.NoError(t, f.store.AppendLogEntry(context.Background(), &models.MonitoringLogEntry{
			ID: uuid.New().String(), StageID: stageID,
			RecordedAt: testNow.Add(-time.Duration(i+1) * time.Minute),
			RecordedBy: "op-1", Value: 72.0, Passed: true,
		}))
	}
	for i := 0; i < failing; i++ {
		require.NoError(t, f.store.AppendLogEntry(context.Background(), &models.MonitoringLogEntry{
			ID: uuid.New().String(), StageID: stageID,
			RecordedAt: testNow.Add(-time.Duration(i+1) * time.Minute),
			RecordedBy: "op-1", Value: 55.0, Passed: false, Severity: severity,
		}))
	}
}

func (f *fixture) request(typ models.TransitionType, reason string) models.TransitionRequest {
	return models.TransitionRequest{
		ProcessID: f.process.ID,
		Type:      typ,
		Initiator: "op-1",
		Reason:    reason,
	}
}

func TestNormalTransitionAutoExecutes(t *testing.T) {
	f := newFixture(t)
	f.logEntries(t, f.stages[1].ID, 5, 0, "")

	outcome, err := f.router.RequestTransition(context.Background(), f.request(models.TransitionNormal, ""))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeExecuted, outcome.Kind)
	require.NotNil(t, outcome.Record)
	assert.False(t, outcome.Record.ApprovalRequired)
	assert.True(t, outcome.Record.PrerequisitesMet)
	assert.Empty(t, f.approvals.specs)

	ctx := context.Background()
	from, err := f.store.GetStage(ctx, f.stages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusCompleted, from.Status)
	require.NotNil(t, from.ActualEnd)

	to, err := f.store.GetStage(ctx, f.stages[2].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusInProgress, to.Status)

	assert.Equal(t, []string{f.stages[1].ID}, f.signaler.Stopped)
	assert.Equal(t, []string{f.stages[2].ID}, f.signaler.Started)
}

func TestNormalTransitionBlockedGoesToApproval(t *testing.T) {
	f := newFixture(t)
	f.logEntries(t, f.stages[1].ID, 4, 1, models.SeverityCritical)

	outcome, err := f.router.RequestTransition(context.Background(), f.request(models.TransitionNormal, ""))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApprovalCreated, outcome.Kind)
	assert.Equal(t, transition.ReasonQualityGatesNotMet, outcome.Reason)
	require.Len(t, f.approvals.specs, 1)

	spec := f.approvals.specs[0]
	assert.Equal(t, models.RoleLineSupervisor, spec.Role)
	assert.Equal(t, models.PriorityNormal, spec.Priority)
	assert.Equal(t, testNow.Add(24*time.Hour), spec.Deadline)
	assert.Equal(t, f.stages[2].ID, spec.TargetStageID)

	// The stage does not move while the request is pending.
	current, err := f.store.GetStage(context.Background(), f.stages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusInProgress, current.Status)
}

func TestNormalTransitionOnCCPRequiresQualityManager(t *testing.T) {
	f := newFixture(t)
	f.stages[1].IsCriticalControlPoint = true
	require.NoError(t, f.store.UpdateStage(context.Background(), f.stages[1]))
	f.logEntries(t, f.stages[1].ID, 5, 0, "")

	outcome, err := f.router.RequestTransition(context.Background(), f.request(models.TransitionNormal, ""))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApprovalCreated, outcome.Kind)
	assert.Equal(t, transition.ReasonCCPApproval, outcome.Reason)
	require.Len(t, f.approvals.specs, 1)
	assert.Equal(t, models.RoleQualityManager, f.approvals.specs[0].Role)
	assert.Equal(t, models.PriorityNormal, f.approvals.specs[0].Priority)
}

func TestEmergencyAlwaysHighPriorityApproval(t *testing.T) {
	f := newFixture(t)
	f.logEntries(t, f.stages[1].ID, 5, 0, "")

	outcome, err := f.router.RequestTransition(context.Background(),
		f.request(models.TransitionEmergency, "line contamination"))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApprovalCreated, outcome.Kind)
	require.Len(t, f.approvals.specs, 1)

	spec := f.approvals.specs[0]
	assert.Equal(t, models.RoleProductionManager, spec.Role)
	assert.Equal(t, models.PriorityHigh, spec.Priority)
	assert.Equal(t, testNow.Add(4*time.Hour), spec.Deadline)

	// Emergency bypasses the evaluator entirely.
	assert.Empty(t, f.monitor.Calls)
}

func TestRollbackTargetsPriorStage(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.router.RequestTransition(context.Background(),
		f.request(models.TransitionRollback, "hold temperature never reached"))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApprovalCreated, outcome.Kind)
	require.Len(t, f.approvals.specs, 1)
	assert.Equal(t, f.stages[0].ID, f.approvals.specs[0].TargetStageID)
	assert.Equal(t, models.RoleShiftSupervisor, f.approvals.specs[0].Role)
}

func TestRollbackAtFirstStageFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Rewind the fixture so stage 1 is the active stage.
	f.stages[0].Status = models.StageStatusInProgress
	require.NoError(t, f.store.UpdateStage(ctx, f.stages[0]))
	f.stages[1].Status = models.StageStatusPending
	f.stages[1].ActualStart = nil
	require.NoError(t, f.store.UpdateStage(ctx, f.stages[1]))

	_, err := f.router.RequestTransition(ctx, f.request(models.TransitionRollback, "wrong recipe loaded"))
	require.ErrorIs(t, err, models.ErrNoPriorStage)
	assert.Empty(t, f.approvals.specs)
}

func TestReworkExecutesImmediately(t *testing.T) {
	f := newFixture(t)
	f.logEntries(t, f.stages[1].ID, 0, 3, models.SeverityCritical)

	outcome, err := f.router.RequestTransition(context.Background(),
		f.request(models.TransitionRework, "temperature excursion, repeat hold"))
	require.NoError(t, err)

	// Rework never waits for approval, whatever the quality gate says.
	assert.Equal(t, models.OutcomeExecuted, outcome.Kind)
	assert.Empty(t, f.approvals.specs)

	stage, err := f.store.GetStage(context.Background(), f.stages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusPending, stage.Status)
	assert.Nil(t, stage.ActualStart)
	assert.Nil(t, stage.ActualEnd)
	assert.Contains(t, stage.DeviationNotes, "temperature excursion, repeat hold")
}

func TestConcurrentRequestsSerializePerProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Race several rework requests for the same process. The per-process
	// lock admits one at a time; the winner resets the stage to pending,
	// so every loser finds no stage in progress.
	const workers = 4

	var wg sync.WaitGroup
	outcomes := make([]*models.Outcome, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.router.RequestTransition(ctx,
				f.request(models.TransitionRework, "repeat hold"))
		}(i)
	}
	wg.Wait()

	executed := 0
	for i := 0; i < workers; i++ {
		if errs[i] == nil {
			require.NotNil(t, outcomes[i])
			assert.Equal(t, models.OutcomeExecuted, outcomes[i].Kind)
			executed++

			continue
		}
		require.ErrorIs(t, errs[i], models.ErrInvalidState)
	}
	assert.Equal(t, 1, executed)

	// At most one stage may ever be in progress; here the rework left none.
	stages, err := f.store.ListStages(ctx, f.process.ID)
	require.NoError(t, err)

	inProgress := 0
	for _, st := range stages {
		if st.Status == models.StageStatusInProgress {
			inProgress++
		}
	}
	assert.Zero(t, inProgress)
}

func TestSkipRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.logEntries(t, f.stages[1].ID, 5, 0, "")

	outcome, err := f.router.RequestTransition(context.Background(),
		f.request(models.TransitionSkip, "stage covered by upstream CIP run"))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApprovalCreated, outcome.Kind)
	require.Len(t, f.approvals.specs, 1)
	assert.Equal(t, models.RoleLineSupervisor, f.approvals.specs[0].Role)
	assert.Equal(t, f.stages[2].ID, f.approvals.specs[0].TargetStageID)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.RequestTransition(ctx, models.TransitionRequest{
		Type: models.TransitionNormal, Initiator: "op-1",
	})
	require.ErrorIs(t, err, models.ErrValidation)

	// Non-normal transitions are human decisions and must carry a reason.
	_, err = f.router.RequestTransition(ctx, f.request(models.TransitionSkip, ""))
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = f.router.RequestTransition(ctx, models.TransitionRequest{
		ProcessID: f.process.ID, Type: "teleport", Initiator: "op-1", Reason: "x",
	})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestTransitionAgainstInactiveProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.process.Status = models.ProcessStatusCompleted
	require.NoError(t, f.store.UpdateProcess(ctx, f.process))

	_, err := f.router.RequestTransition(ctx, f.request(models.TransitionNormal, ""))
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestResolveApproverRuleTable(t *testing.T) {
	rules := config.DefaultConfig().Approval.Rules
	ccp := &models.Stage{IsCriticalControlPoint: true}
	plain := &models.Stage{}

	role, priority := transition.ResolveApprover(rules, models.TransitionEmergency, plain)
	assert.Equal(t, models.RoleProductionManager, role)
	assert.Equal(t, models.PriorityHigh, priority)

	// Emergency outranks the CCP rule because it comes first in the table.
	role, _ = transition.ResolveApprover(rules, models.TransitionEmergency, ccp)
	assert.Equal(t, models.RoleProductionManager, role)

	role, priority = transition.ResolveApprover(rules, models.TransitionNormal, ccp)
	assert.Equal(t, models.RoleQualityManager, role)
	assert.Equal(t, models.PriorityNormal, priority)

	role, _ = transition.ResolveApprover(rules, models.TransitionRollback, plain)
	assert.Equal(t, models.RoleShiftSupervisor, role)

	role, _ = transition.ResolveApprover(rules, models.TransitionNormal, plain)
	assert.Equal(t, models.RoleLineSupervisor, role)
}
