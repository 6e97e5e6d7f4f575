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

// Approval request status constants
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
	ApprovalStatusExpired  = "expired"
)

// Approval priorities
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Approver roles used by the routing rule table
const (
	RoleProductionManager = "production_manager"
	RoleQualityManager    = "quality_manager"
	RoleShiftSupervisor   = "shift_supervisor"
	RoleLineSupervisor    = "line_supervisor"
)

// ApprovalRequest is the durable coordination record created when a transition
// cannot execute immediately. It is resolved out-of-band by an approver at
// arbitrary wall-clock delay and never reused afterwards.
type ApprovalRequest struct {
	ID        string `json:"id"`
	ProcessID string `json:"processId"`
	StageID   string `json:"stageId"`
	// TargetStageID is empty when the transition completes the process.
	TargetStageID string `json:"targetStageId,omitempty"`

	Type        TransitionType `json:"type"`
	RequestedBy string         `json:"requestedBy"`
	Reason      string         `json:"reason"`
	Priority    string         `json:"priority"`

	RequiredRole string    `json:"requiredRole"`
	Deadline     time.Time `json:"deadline"`

	Status     string     `json:"status"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	Comment    string     `json:"comment,omitempty"`

	// LogFingerprint is a hash of the stage's monitoring log at creation
	// time, used to detect that new entries arrived before the decision.
	LogFingerprint uint64 `json:"logFingerprint"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsResolved returns true once the request has left the pending state.
func (a *ApprovalRequest) IsResolved() bool {
	return a.Status != ApprovalStatusPending
}

// ApprovalDecision is the approver's answer to a pending request.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Comment  string `json:"comment,omitempty"`
}
