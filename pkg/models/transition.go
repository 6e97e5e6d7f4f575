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
	"fmt"
	"time"
)

// TransitionType identifies how a stage change was requested.
type TransitionType string

const (
	// TransitionNormal advances to the next stage once the quality gate passes
	TransitionNormal TransitionType = "normal"
	// TransitionSkip jumps the current stage; always approval-gated
	TransitionSkip TransitionType = "skip"
	// TransitionRollback returns to the immediately preceding stage; always approval-gated
	TransitionRollback TransitionType = "rollback"
	// TransitionEmergency is a forced override candidate bypassing evaluation
	TransitionEmergency TransitionType = "emergency"
	// TransitionRework resets the current stage for reprocessing, no approval
	TransitionRework TransitionType = "rework"
)

// IsTransitionType returns whether the given value is a known transition type
func IsTransitionType(t TransitionType) bool {
	switch t {
	case TransitionNormal,
		TransitionSkip,
		TransitionRollback,
		TransitionEmergency,
		TransitionRework:
		return true
	}
	return false
}

// TransitionRequest is the validated boundary input to the router. One closed
// struct per request instead of a loose data map.
type TransitionRequest struct {
	ProcessID string         `json:"processId"`
	Type      TransitionType `json:"type"`
	Initiator string         `json:"initiator"`
	Reason    string         `json:"reason"`
}

// Validate rejects malformed requests before they reach the router.
func (r *TransitionRequest) Validate() error {
	if r.ProcessID == "" {
		return fmt.Errorf("%w: missing process id", ErrValidation)
	}
	if r.Initiator == "" {
		return fmt.Errorf("%w: missing initiator", ErrValidation)
	}
	if !IsTransitionType(r.Type) {
		return fmt.Errorf("%w: unknown transition type %q", ErrValidation, r.Type)
	}
	// Skip, rollback and emergency are human decisions and must carry a reason.
	if r.Reason == "" && r.Type != TransitionNormal {
		return fmt.Errorf("%w: %s transition requires a reason", ErrValidation, r.Type)
	}
	return nil
}

// TransitionRecord is the immutable audit record of every attempted or
// executed transition. Append-only.
type TransitionRecord struct {
	ID        string `json:"id"`
	ProcessID string `json:"processId"`

	FromStageID string `json:"fromStageId"`
	// ToStageID equals FromStageID for rework and is empty when the
	// sequence is exhausted.
	ToStageID string `json:"toStageId,omitempty"`

	Type      TransitionType `json:"type"`
	Reason    string         `json:"reason,omitempty"`
	Initiator string         `json:"initiator"`
	Timestamp time.Time      `json:"timestamp"`

	ApprovalRequired bool   `json:"approvalRequired"`
	ApprovalObtained bool   `json:"approvalObtained"`
	ApprovalID       string `json:"approvalId,omitempty"`

	PrerequisitesMet bool   `json:"prerequisitesMet"`
	Notes            string `json:"notes,omitempty"`
}

// OutcomeKind is the closed set of router results. Policy outcomes are data,
// not errors.
type OutcomeKind string

const (
	// OutcomeExecuted means the transition ran to completion
	OutcomeExecuted OutcomeKind = "executed"
	// OutcomeApprovalCreated means the transition is parked behind an approval request
	OutcomeApprovalCreated OutcomeKind = "approval_created"
	// OutcomeRejected means the request was refused with a reason
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the tagged result of a transition request.
type Outcome struct {
	Kind     OutcomeKind       `json:"kind"`
	Reason   string            `json:"reason,omitempty"`
	Record   *TransitionRecord `json:"record,omitempty"`
	Approval *ApprovalRequest  `json:"approval,omitempty"`
}
