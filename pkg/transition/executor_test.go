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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/transition"
)

// batchRecorder captures lifecycle callbacks on process completion.
type batchRecorder struct {
	batches []string
}

func (b *batchRecorder) ProcessCompleted(_ context.Context, batchID, _ string) error {
	b.batches = append(b.batches, batchID)
	return nil
}

func executorFixture(t *testing.T) (*transition.Executor, *fixture, *events.MockSink, *batchRecorder) {
	t.Helper()

	f := newFixture(t)
	sink := events.NewMockSink()
	batch := &batchRecorder{}
	executor := transition.NewExecutor(f.store, monitoring.NewMockSignaler(), events.NewEmitter(sink), batch).
		WithClock(func() time.Time { return testNow })

	return executor, f, sink, batch
}

func TestExecuteFinalStageCompletesProcess(t *testing.T) {
	executor, f, sink, batch := executorFixture(t)
	ctx := context.Background()

	// Move the fixture to its last stage.
	f.stages[1].Status = models.StageStatusCompleted
	require.NoError(t, f.store.UpdateStage(ctx, f.stages[1]))
	f.stages[2].Status = models.StageStatusInProgress
	started := testNow.Add(-5 * time.Minute)
	f.stages[2].ActualStart = &started
	require.NoError(t, f.store.UpdateStage(ctx, f.stages[2]))

	record, err := executor.Execute(ctx, transition.ExecuteSpec{
		ProcessID:        f.process.ID,
		FromStageID:      f.stages[2].ID,
		Type:             models.TransitionNormal,
		Initiator:        "op-1",
		PrerequisitesMet: true,
	})
	require.NoError(t, err)
	assert.Empty(t, record.ToStageID)

	process, err := f.store.GetProcess(ctx, f.process.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatusCompleted, process.Status)
	require.NotNil(t, process.EndTime)
	assert.Equal(t, testNow, *process.EndTime)

	assert.Len(t, sink.ByType(events.TypeProcessCompleted), 1)
	assert.Equal(t, []string{f.process.BatchID}, batch.batches)
}

func TestExecuteRollbackReactivatesCompletedStage(t *testing.T) {
	executor, f, _, _ := executorFixture(t)
	ctx := context.Background()

	record, err := executor.Execute(ctx, transition.ExecuteSpec{
		ProcessID:        f.process.ID,
		FromStageID:      f.stages[1].ID,
		ToStageID:        f.stages[0].ID,
		Type:             models.TransitionRollback,
		Reason:           "preheat incomplete",
		Initiator:        "op-1",
		ApprovalRequired: true,
		ApprovalObtained: true,
		ApprovalID:       "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransitionRollback, record.Type)

	prior, err := f.store.GetStage(ctx, f.stages[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusInProgress, prior.Status)
	require.NotNil(t, prior.ActualStart)
	assert.Equal(t, testNow, *prior.ActualStart)
	assert.Nil(t, prior.ActualEnd)
}

func TestExecuteBumpsProcessVersion(t *testing.T) {
	executor, f, _, _ := executorFixture(t)
	ctx := context.Background()

	before, err := f.store.GetProcess(ctx, f.process.ID)
	require.NoError(t, err)

	_, err = executor.Execute(ctx, transition.ExecuteSpec{
		ProcessID:   f.process.ID,
		FromStageID: f.stages[1].ID,
		ToStageID:   f.stages[2].ID,
		Type:        models.TransitionNormal,
		Initiator:   "op-1",
	})
	require.NoError(t, err)

	after, err := f.store.GetProcess(ctx, f.process.ID)
	require.NoError(t, err)
	assert.Greater(t, after.Version, before.Version)
}

func TestExecuteRejectsIdleFromStage(t *testing.T) {
	executor, f, _, _ := executorFixture(t)

	_, err := executor.Execute(context.Background(), transition.ExecuteSpec{
		ProcessID:   f.process.ID,
		FromStageID: f.stages[0].ID, // completed, not in progress
		ToStageID:   f.stages[1].ID,
		Type:        models.TransitionNormal,
		Initiator:   "op-1",
	})
	require.ErrorIs(t, err, models.ErrInvalidState)

	// Nothing moved.
	stage, err := f.store.GetStage(context.Background(), f.stages[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusCompleted, stage.Status)
}

func TestExecuteRecordsAuditTrail(t *testing.T) {
	executor, f, _, _ := executorFixture(t)
	ctx := context.Background()

	_, err := executor.Execute(ctx, transition.ExecuteSpec{
		ProcessID:   f.process.ID,
		FromStageID: f.stages[1].ID,
		ToStageID:   f.stages[1].ID,
		Type:        models.TransitionRework,
		Reason:      "repeat hold",
		Initiator:   "op-1",
	})
	require.NoError(t, err)

	records, err := f.store.ListTransitionRecords(ctx, f.process.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.TransitionRework, records[0].Type)
	assert.Equal(t, f.stages[1].ID, records[0].FromStageID)
	assert.Equal(t, "repeat hold", records[0].Reason)
	assert.False(t, records[0].ApprovalRequired)
}
