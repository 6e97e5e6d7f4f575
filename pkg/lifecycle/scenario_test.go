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

package lifecycle_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dancan-sandys/isomanagement-sub001/internal/locks"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/approval"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/config"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/events"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/lifecycle"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/monitoring"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/progression"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/readmodel"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/store"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/transition"
)

// scenarioRoles maps the actors of the end-to-end run to their roles.
type scenarioRoles map[string]string

func (r scenarioRoles) RoleOf(_ context.Context, user string) (string, error) {
	return r[user], nil
}

// scenarioBatches records batch completion callbacks.
type scenarioBatches struct {
	completed []string
}

func (b *scenarioBatches) ProcessCompleted(_ context.Context, batchID, _ string) error {
	b.completed = append(b.completed, batchID)
	return nil
}

var _ = Describe("Three-stage pasteurization run", func() {
	var (
		ctx context.Context
		now time.Time

		memStore   *store.MemoryStore
		sink       *events.MockSink
		batches    *scenarioBatches
		controller *lifecycle.Controller
		router     *transition.Router
		workflow   *approval.Workflow
		reader     *readmodel.Reader

		process *models.ProcessInstance
		stages  []*models.Stage
	)

	clock := func() time.Time { return now }

	recordEntry := func(stageID string, passed bool, severity string) {
		err := memStore.AppendLogEntry(ctx, &models.MonitoringLogEntry{
			ID: uuid.New().String(), StageID: stageID,
			RecordedAt: now, RecordedBy: "op-1",
			Value: 72.1, Passed: passed, Severity: severity,
		})
		Expect(err).ToNot(HaveOccurred())
	}

	activeStageCount := func() int {
		all, err := memStore.ListStages(ctx, process.ID)
		Expect(err).ToNot(HaveOccurred())

		active := 0
		for _, s := range all {
			if s.Status == models.StageStatusInProgress {
				active++
			}
		}

		return active
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 17, 6, 0, 0, 0, time.UTC)

		memStore = store.NewMemoryStore()
		sink = events.NewMockSink()
		batches = &scenarioBatches{}
		emitter := events.NewEmitter(sink)
		signaler := monitoring.NewMockSignaler()
		km := locks.NewKeyedMutex()
		cfg := config.DefaultConfig()

		evaluator := progression.NewEvaluator(memStore, monitoring.NewMockEvaluator(), cfg.Quality).
			WithClock(clock)
		executor := transition.NewExecutor(memStore, signaler, emitter, batches).WithClock(clock)
		roles := scenarioRoles{
			"op-1": models.RoleLineSupervisor,
			"qm-1": models.RoleQualityManager,
		}
		workflow = approval.NewWorkflow(memStore, evaluator, executor, roles, emitter, km).
			WithClock(clock)
		router = transition.NewRouter(memStore, evaluator, executor, workflow, cfg.Approval, km).
			WithClock(clock)
		controller = lifecycle.NewController(memStore, signaler, emitter, km).WithClock(clock)
		reader = readmodel.NewReader(memStore).WithClock(clock)

		holdDuration := 30 * time.Minute
		var err error
		process, stages, err = controller.Initiate(ctx, lifecycle.ProcessSpec{
			BatchID:     "batch-e2e",
			ProcessType: "pasteurization",
			Stages: []lifecycle.StageSpec{
				{Name: "Preheat", AutoAdvance: true},
				{
					Name: "Hold", IsCriticalControlPoint: true,
					PlannedDuration: &holdDuration,
					Requirements: []lifecycle.RequirementSpec{
						{ParameterName: "temperature", ParameterType: "numeric", TargetValue: 72, Tolerance: 0.5, Mandatory: true, IsCriticalLimit: true},
					},
				},
				{Name: "Cool"},
			},
		})
		Expect(err).ToNot(HaveOccurred())

		_, err = controller.Start(ctx, process.ID, "op-1")
		Expect(err).ToNot(HaveOccurred())
	})

	It("runs from initiation to completion through the CCP approval gate", func() {
		By("advancing the non-CCP preheat stage automatically")
		now = now.Add(10 * time.Minute)
		recordEntry(stages[0].ID, true, "")

		outcome, err := router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionNormal, Initiator: "op-1",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Kind).To(Equal(models.OutcomeExecuted))
		Expect(activeStageCount()).To(Equal(1))

		By("parking the CCP hold stage behind a quality-manager approval")
		now = now.Add(35 * time.Minute)
		recordEntry(stages[1].ID, true, "")
		recordEntry(stages[1].ID, true, "")

		outcome, err = router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionNormal, Initiator: "op-1",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Kind).To(Equal(models.OutcomeApprovalCreated))
		Expect(outcome.Approval.RequiredRole).To(Equal(models.RoleQualityManager))
		Expect(outcome.Approval.Deadline).To(Equal(now.Add(24 * time.Hour)))

		snapshot, err := reader.ProcessSnapshot(ctx, process.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(snapshot.PendingApprovals).To(HaveLen(1))
		Expect(snapshot.CurrentStage().ID).To(Equal(stages[1].ID))

		By("executing the parked transition once the quality manager approves")
		resolved, err := workflow.Resolve(ctx, outcome.Approval.ID, models.ApprovalDecision{
			Approved: true, Approver: "qm-1", Comment: "CCP log complete",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(resolved.Kind).To(Equal(models.OutcomeExecuted))
		Expect(resolved.Record.ApprovalObtained).To(BeTrue())
		Expect(activeStageCount()).To(Equal(1))

		By("completing the process when the final stage advances")
		now = now.Add(15 * time.Minute)
		recordEntry(stages[2].ID, true, "")

		outcome, err = router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionNormal, Initiator: "op-1",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Kind).To(Equal(models.OutcomeExecuted))

		final, err := memStore.GetProcess(ctx, process.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(final.Status).To(Equal(models.ProcessStatusCompleted))
		Expect(batches.completed).To(Equal([]string{"batch-e2e"}))
		Expect(sink.ByType(events.TypeProcessCompleted)).To(HaveLen(1))

		By("leaving a contiguous audit trail")
		records, err := memStore.ListTransitionRecords(ctx, process.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(3))
	})

	It("sends a critical deviation through rework instead of progression", func() {
		now = now.Add(10 * time.Minute)
		recordEntry(stages[0].ID, true, "")

		_, err := router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionNormal, Initiator: "op-1",
		})
		Expect(err).ToNot(HaveOccurred())

		By("blocking progression on the critical entry")
		now = now.Add(35 * time.Minute)
		recordEntry(stages[1].ID, false, models.SeverityCritical)

		outcome, err := router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionNormal, Initiator: "op-1",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Kind).To(Equal(models.OutcomeApprovalCreated))
		Expect(outcome.Reason).To(Equal(transition.ReasonQualityGatesNotMet))

		By("reworking the stage without any approval")
		reworked, err := router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionRework,
			Initiator: "op-1", Reason: "hold temperature excursion",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(reworked.Kind).To(Equal(models.OutcomeExecuted))

		stage, err := memStore.GetStage(ctx, stages[1].ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stage.Status).To(Equal(models.StageStatusPending))
		Expect(stage.ActualStart).To(BeNil())
		Expect(stage.ActualEnd).To(BeNil())
	})

	It("rejects rollback on the first stage", func() {
		_, err := router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionRollback,
			Initiator: "op-1", Reason: "wrong recipe",
		})
		Expect(err).To(MatchError(models.ErrNoPriorStage))
	})

	It("marks overdue approvals expired without resolving them", func() {
		now = now.Add(35 * time.Minute)

		outcome, err := router.RequestTransition(ctx, models.TransitionRequest{
			ProcessID: process.ID, Type: models.TransitionEmergency,
			Initiator: "op-1", Reason: "ammonia leak in cooling hall",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Approval.Priority).To(Equal(models.PriorityHigh))
		Expect(outcome.Approval.Deadline).To(Equal(now.Add(4 * time.Hour)))

		By("sweeping after the deadline")
		now = now.Add(5 * time.Hour)

		expired, err := workflow.ExpireOverdue(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(expired).To(HaveLen(1))

		request, err := memStore.GetApproval(ctx, outcome.Approval.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(request.Status).To(Equal(models.ApprovalStatusExpired))

		By("refusing a decision on the expired request")
		_, err = workflow.Resolve(ctx, request.ID, models.ApprovalDecision{
			Approved: true, Approver: "qm-1",
		})
		Expect(err).To(MatchError(models.ErrRequestResolved))
	})
})
