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

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
)

// memoryState is the full dataset of a MemoryStore. Transactions snapshot it
// wholesale and restore it on rollback.
type memoryState struct {
	Processes    map[string]*models.ProcessInstance
	Stages       map[string]*models.Stage
	Requirements map[string][]*models.MonitoringRequirement
	LogEntries   map[string][]*models.MonitoringLogEntry
	Records      []*models.TransitionRecord
	Approvals    map[string]*models.ApprovalRequest
}

func newMemoryState() memoryState {
	return memoryState{
		Processes:    make(map[string]*models.ProcessInstance),
		Stages:       make(map[string]*models.Stage),
		Requirements: make(map[string][]*models.MonitoringRequirement),
		LogEntries:   make(map[string][]*models.MonitoringLogEntry),
		Approvals:    make(map[string]*models.ApprovalRequest),
	}
}

// MemoryStore is the in-memory Store used by tests and as the injectable fake
// for the engine's unit tests. All values are deep-copied on the way in and
// out so callers can never mutate stored state by accident.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func cloneVal[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := new(T)
	deepcopy.Copy(out, v)
	return out
}

func cloneSlice[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		out = append(out, cloneVal(v))
	}
	return out
}

// ops holds the shared implementation; the store locks around it, the
// transaction (which already holds the lock) calls it directly.
type memOps struct {
	state *memoryState
}

func (o memOps) insertProcess(p *models.ProcessInstance) error {
	if _, exists := o.state.Processes[p.ID]; exists {
		return fmt.Errorf("process %s already exists", p.ID)
	}
	o.state.Processes[p.ID] = cloneVal(p)
	return nil
}

func (o memOps) getProcess(id string) (*models.ProcessInstance, error) {
	p, ok := o.state.Processes[id]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, models.ErrNotFound)
	}
	return cloneVal(p), nil
}

func (o memOps) findActiveProcessByBatch(batchID string) (*models.ProcessInstance, error) {
	for _, p := range o.state.Processes {
		if p.BatchID == batchID && p.Status != models.ProcessStatusCompleted {
			return cloneVal(p), nil
		}
	}
	return nil, fmt.Errorf("active process for batch %s: %w", batchID, models.ErrNotFound)
}

func (o memOps) updateProcess(p *models.ProcessInstance) error {
	stored, ok := o.state.Processes[p.ID]
	if !ok {
		return fmt.Errorf("process %s: %w", p.ID, models.ErrNotFound)
	}
	if stored.Version != p.Version {
		return fmt.Errorf("process %s at version %d, caller has %d: %w",
			p.ID, stored.Version, p.Version, models.ErrVersionConflict)
	}
	clone := cloneVal(p)
	clone.Version++
	o.state.Processes[p.ID] = clone
	p.Version = clone.Version
	return nil
}

func (o memOps) insertStage(s *models.Stage) error {
	if _, exists := o.state.Stages[s.ID]; exists {
		return fmt.Errorf("stage %s already exists", s.ID)
	}
	o.state.Stages[s.ID] = cloneVal(s)
	return nil
}

func (o memOps) getStage(id string) (*models.Stage, error) {
	s, ok := o.state.Stages[id]
	if !ok {
		return nil, fmt.Errorf("stage %s: %w", id, models.ErrNotFound)
	}
	return cloneVal(s), nil
}

func (o memOps) listStages(processID string) ([]*models.Stage, error) {
	var out []*models.Stage
	for _, s := range o.state.Stages {
		if s.ProcessID == processID {
			out = append(out, cloneVal(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (o memOps) updateStage(s *models.Stage) error {
	if _, ok := o.state.Stages[s.ID]; !ok {
		return fmt.Errorf("stage %s: %w", s.ID, models.ErrNotFound)
	}
	o.state.Stages[s.ID] = cloneVal(s)
	return nil
}

func (o memOps) insertRequirement(r *models.MonitoringRequirement) error {
	o.state.Requirements[r.StageID] = append(o.state.Requirements[r.StageID], cloneVal(r))
	return nil
}

func (o memOps) listRequirements(stageID string) ([]*models.MonitoringRequirement, error) {
	return cloneSlice(o.state.Requirements[stageID]), nil
}

func (o memOps) appendLogEntry(e *models.MonitoringLogEntry) error {
	stage, ok := o.state.Stages[e.StageID]
	if !ok {
		return fmt.Errorf("stage %s: %w", e.StageID, models.ErrNotFound)
	}
	// Entries may only reference a stage currently in progress.
	if stage.Status != models.StageStatusInProgress {
		return fmt.Errorf("stage %s is %s, not in_progress: %w",
			e.StageID, stage.Status, models.ErrInvalidState)
	}
	o.state.LogEntries[e.StageID] = append(o.state.LogEntries[e.StageID], cloneVal(e))
	return nil
}

func (o memOps) listLogEntries(stageID string, since time.Time) ([]*models.MonitoringLogEntry, error) {
	var out []*models.MonitoringLogEntry
	for _, e := range o.state.LogEntries[stageID] {
		if !e.RecordedAt.Before(since) {
			out = append(out, cloneVal(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (o memOps) insertTransitionRecord(r *models.TransitionRecord) error {
	o.state.Records = append(o.state.Records, cloneVal(r))
	return nil
}

func (o memOps) listTransitionRecords(processID string) ([]*models.TransitionRecord, error) {
	var out []*models.TransitionRecord
	for _, r := range o.state.Records {
		if r.ProcessID == processID {
			out = append(out, cloneVal(r))
		}
	}
	return out, nil
}

func (o memOps) insertApproval(a *models.ApprovalRequest) error {
	if _, exists := o.state.Approvals[a.ID]; exists {
		return fmt.Errorf("approval request %s already exists", a.ID)
	}
	o.state.Approvals[a.ID] = cloneVal(a)
	return nil
}

func (o memOps) getApproval(id string) (*models.ApprovalRequest, error) {
	a, ok := o.state.Approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", id, models.ErrNotFound)
	}
	return cloneVal(a), nil
}

func (o memOps) updateApproval(a *models.ApprovalRequest) error {
	if _, ok := o.state.Approvals[a.ID]; !ok {
		return fmt.Errorf("approval request %s: %w", a.ID, models.ErrNotFound)
	}
	o.state.Approvals[a.ID] = cloneVal(a)
	return nil
}

func (o memOps) listPendingApprovals(processID string) ([]*models.ApprovalRequest, error) {
	var out []*models.ApprovalRequest
	for _, a := range o.state.Approvals {
		if a.Status == models.ApprovalStatusPending && (processID == "" || a.ProcessID == processID) {
			out = append(out, cloneVal(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Store methods: lock, delegate to memOps.

func (m *MemoryStore) ops() memOps { return memOps{state: &m.state} }

func (m *MemoryStore) InsertProcess(ctx context.Context, p *models.ProcessInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().insertProcess(p)
}

func (m *MemoryStore) GetProcess(ctx context.Context, id string) (*models.ProcessInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().getProcess(id)
}

func (m *MemoryStore) FindActiveProcessByBatch(ctx context.Context, batchID string) (*models.ProcessInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().findActiveProcessByBatch(batchID)
}

func (m *MemoryStore) UpdateProcess(ctx context.Context, p *models.ProcessInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().updateProcess(p)
}

func (m *MemoryStore) InsertStage(ctx context.Context, s *models.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().insertStage(s)
}

func (m *MemoryStore) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().getStage(id)
}

func (m *MemoryStore) ListStages(ctx context.Context, processID string) ([]*models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().listStages(processID)
}

func (m *MemoryStore) UpdateStage(ctx context.Context, s *models.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().updateStage(s)
}

func (m *MemoryStore) InsertRequirement(ctx context.Context, r *models.MonitoringRequirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().insertRequirement(r)
}

func (m *MemoryStore) ListRequirements(ctx context.Context, stageID string) ([]*models.MonitoringRequirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().listRequirements(stageID)
}

func (m *MemoryStore) AppendLogEntry(ctx context.Context, e *models.MonitoringLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().appendLogEntry(e)
}

func (m *MemoryStore) ListLogEntries(ctx context.Context, stageID string, since time.Time) ([]*models.MonitoringLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().listLogEntries(stageID, since)
}

func (m *MemoryStore) InsertTransitionRecord(ctx context.Context, r *models.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().insertTransitionRecord(r)
}

func (m *MemoryStore) ListTransitionRecords(ctx context.Context, processID string) ([]*models.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().listTransitionRecords(processID)
}

func (m *MemoryStore) InsertApproval(ctx context.Context, a *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().insertApproval(a)
}

func (m *MemoryStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().getApproval(id)
}

func (m *MemoryStore) UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().updateApproval(a)
}

func (m *MemoryStore) ListPendingApprovals(ctx context.Context, processID string) ([]*models.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops().listPendingApprovals(processID)
}

// BeginTx snapshots the whole dataset and holds the store lock until Commit
// or Rollback. Rollback restores the snapshot, which gives the all-or-nothing
// behavior the transition executor depends on.
func (m *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()

	var snapshot memoryState
	deepcopy.Copy(&snapshot, &m.state)

	return &memoryTx{store: m, snapshot: snapshot}, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	snapshot memoryState
	done     bool
}

var _ Tx = (*memoryTx)(nil)

func (t *memoryTx) ops() memOps { return memOps{state: &t.store.state} }

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.state = t.snapshot
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) InsertProcess(ctx context.Context, p *models.ProcessInstance) error {
	return t.ops().insertProcess(p)
}

func (t *memoryTx) GetProcess(ctx context.Context, id string) (*models.ProcessInstance, error) {
	return t.ops().getProcess(id)
}

func (t *memoryTx) FindActiveProcessByBatch(ctx context.Context, batchID string) (*models.ProcessInstance, error) {
	return t.ops().findActiveProcessByBatch(batchID)
}

func (t *memoryTx) UpdateProcess(ctx context.Context, p *models.ProcessInstance) error {
	return t.ops().updateProcess(p)
}

func (t *memoryTx) InsertStage(ctx context.Context, s *models.Stage) error {
	return t.ops().insertStage(s)
}

func (t *memoryTx) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	return t.ops().getStage(id)
}

func (t *memoryTx) ListStages(ctx context.Context, processID string) ([]*models.Stage, error) {
	return t.ops().listStages(processID)
}

func (t *memoryTx) UpdateStage(ctx context.Context, s *models.Stage) error {
	return t.ops().updateStage(s)
}

func (t *memoryTx) InsertRequirement(ctx context.Context, r *models.MonitoringRequirement) error {
	return t.ops().insertRequirement(r)
}

func (t *memoryTx) ListRequirements(ctx context.Context, stageID string) ([]*models.MonitoringRequirement, error) {
	return t.ops().listRequirements(stageID)
}

func (t *memoryTx) AppendLogEntry(ctx context.Context, e *models.MonitoringLogEntry) error {
	return t.ops().appendLogEntry(e)
}

func (t *memoryTx) ListLogEntries(ctx context.Context, stageID string, since time.Time) ([]*models.MonitoringLogEntry, error) {
	return t.ops().listLogEntries(stageID, since)
}

func (t *memoryTx) InsertTransitionRecord(ctx context.Context, r *models.TransitionRecord) error {
	return t.ops().insertTransitionRecord(r)
}

func (t *memoryTx) ListTransitionRecords(ctx context.Context, processID string) ([]*models.TransitionRecord, error) {
	return t.ops().listTransitionRecords(processID)
}

func (t *memoryTx) InsertApproval(ctx context.Context, a *models.ApprovalRequest) error {
	return t.ops().insertApproval(a)
}

func (t *memoryTx) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return t.ops().getApproval(id)
}

func (t *memoryTx) UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	return t.ops().updateApproval(a)
}

func (t *memoryTx) ListPendingApprovals(ctx context.Context, processID string) ([]*models.ApprovalRequest, error) {
	return t.ops().listPendingApprovals(processID)
}
