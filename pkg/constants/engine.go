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

package constants

import "time"

const (
	// DefaultApprovalDeadline is the resolution window for normal-priority
	// approval requests.
	DefaultApprovalDeadline = 24 * time.Hour

	// HighPriorityApprovalDeadline is the resolution window for emergency
	// transitions.
	HighPriorityApprovalDeadline = 4 * time.Hour

	// OvertimeFactor marks a stage as overtime once elapsed exceeds this
	// multiple of the planned duration. Overtime is a warning, not a block.
	OvertimeFactor = 1.5

	// MaxFailureRate is the highest tolerated share of failed monitoring
	// entries before the quality gate closes.
	MaxFailureRate = 0.10

	// DefaultStoreTimeout bounds a single store round trip.
	DefaultStoreTimeout = 5 * time.Second

	// SnapshotCacheTTL bounds how stale a read-model snapshot may be.
	SnapshotCacheTTL = 5 * time.Second

	// SinkRetryMaxElapsed bounds best-effort event delivery retries.
	SinkRetryMaxElapsed = 10 * time.Second

	// ApprovalSweepInterval is how often overdue approval requests are
	// marked expired.
	ApprovalSweepInterval = time.Minute
)
