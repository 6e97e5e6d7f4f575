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

// Stage status constants
const (
	// StageStatusPending is the initial status of every stage
	StageStatusPending = "pending"
	// StageStatusInProgress is the status of the single active stage of a process
	StageStatusInProgress = "in_progress"
	// StageStatusCompleted is the status of a stage that has been advanced past
	StageStatusCompleted = "completed"
	// StageStatusFailed is the status of a stage that was abandoned
	StageStatusFailed = "failed"
)

// IsStageStatus returns whether the given string is a known stage status
func IsStageStatus(status string) bool {
	switch status {
	case StageStatusPending,
		StageStatusInProgress,
		StageStatusCompleted,
		StageStatusFailed:
		return true
	}
	return false
}

// Deviation severity levels for monitoring log entries
const (
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// Stage is one ordered step of a production process. Stages are attached to a
// ProcessInstance at initiation and are never deleted; rework resets runtime
// fields but not identity.
type Stage struct {
	ID        string `json:"id"`
	ProcessID string `json:"processId"`

	// SequenceOrder is 1-based, strictly increasing and unique per process.
	SequenceOrder int    `json:"sequenceOrder"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Status        string `json:"status"`

	// Food-safety classification. A critical control point always requires
	// human approval to advance, whatever the quality gate says.
	IsCriticalControlPoint bool `json:"isCriticalControlPoint"`
	IsOperationalPRP       bool `json:"isOperationalPrp"`

	PlannedStart    *time.Time     `json:"plannedStart,omitempty"`
	PlannedEnd      *time.Time     `json:"plannedEnd,omitempty"`
	PlannedDuration *time.Duration `json:"plannedDuration,omitempty"`
	ActualStart     *time.Time     `json:"actualStart,omitempty"`
	ActualEnd       *time.Time     `json:"actualEnd,omitempty"`

	AutoAdvance      bool   `json:"autoAdvance"`
	RequiresApproval bool   `json:"requiresApproval"`
	AssignedOperator string `json:"assignedOperator,omitempty"`
	Notes            string `json:"notes,omitempty"`
	DeviationNotes   string `json:"deviationNotes,omitempty"`
}

// MonitoringRequirement describes one parameter that must be recorded during a
// stage. Immutable after creation.
type MonitoringRequirement struct {
	ID      string `json:"id"`
	StageID string `json:"stageId"`

	ParameterName string `json:"parameterName"`
	ParameterType string `json:"parameterType"`

	IsCriticalLimit    bool `json:"isCriticalLimit"`
	IsOperationalLimit bool `json:"isOperationalLimit"`

	TargetValue float64 `json:"targetValue"`
	Tolerance   float64 `json:"tolerance"`
	Mandatory   bool    `json:"mandatory"`

	MeasurementMethod    string `json:"measurementMethod,omitempty"`
	Equipment            string `json:"equipment,omitempty"`
	RequiresCalibration  bool   `json:"requiresCalibration"`
	CalibrationReference string `json:"calibrationReference,omitempty"`
}

// MonitoringLogEntry is an append-only operator measurement recorded while a
// stage is in progress. Entries are never updated or deleted; they are the
// sole input to the quality assessment.
type MonitoringLogEntry struct {
	ID            string    `json:"id"`
	StageID       string    `json:"stageId"`
	RequirementID string    `json:"requirementId,omitempty"`
	RecordedAt    time.Time `json:"recordedAt"`
	RecordedBy    string    `json:"recordedBy"`

	Value     float64 `json:"value"`
	ValueText string  `json:"valueText,omitempty"`
	Passed    bool    `json:"passed"`

	// Severity is set only on failing entries, one of SeverityMinor,
	// SeverityMajor or SeverityCritical.
	Severity string `json:"severity,omitempty"`
}
