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

package models

import (
	"time"
)

// Process status constants
const (
	// ProcessStatusDraft is the status of a process that has been initiated but not started
	ProcessStatusDraft = "draft"
	// ProcessStatusInProgress is the status of a process with an active stage
	ProcessStatusInProgress = "in_progress"
	// ProcessStatusCompleted is the status of a process whose stage sequence is exhausted
	ProcessStatusCompleted = "completed"
)

// IsProcessStatus returns whether the given string is a known process status
func IsProcessStatus(status string) bool {
	switch status {
	case ProcessStatusDraft,
		ProcessStatusInProgress,
		ProcessStatusCompleted:
		return true
	}
	return false
}

// ProcessInstance is one batch-processing run. It owns an ordered, immutable
// list of stages and is driven from draft to completed by the lifecycle
// controller. A ProcessInstance is never deleted mid-run.
type ProcessInstance struct {
	ID          string     `json:"id"`
	BatchID     string     `json:"batchId"`
	ProcessType string     `json:"processType"`
	Operator    string     `json:"operator"`
	Status      string     `json:"status"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`

	// Version is bumped on every mutation and used for optimistic
	// concurrency checks by the store.
	Version int64 `json:"version"`
}

// IsActive returns true while the process still accepts transitions.
func (p *ProcessInstance) IsActive() bool {
	return p.Status == ProcessStatusInProgress
}
