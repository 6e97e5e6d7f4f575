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

import "errors"

var (
	// ErrNotFound is returned when a process, stage or approval request does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation is the base error for malformed boundary input
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when an operation targets a stage or
	// process that is not in the required status
	ErrInvalidState = errors.New("invalid state")

	// ErrNoPriorStage is returned when a rollback is requested on the first stage
	ErrNoPriorStage = errors.New("no prior stage to roll back to")

	// ErrActiveProcessExists is returned when initiating a process for a
	// batch that already has one in flight
	ErrActiveProcessExists = errors.New("active process already exists for batch")

	// ErrRequestResolved is returned when resolving an approval request twice
	ErrRequestResolved = errors.New("approval request already resolved")

	// ErrVersionConflict is returned by the store when an optimistic
	// version check fails. Callers should reload and retry.
	ErrVersionConflict = errors.New("process version conflict")
)
