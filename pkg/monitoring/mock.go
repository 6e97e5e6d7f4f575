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

package monitoring

import (
	"context"
	"sync"
)

// MockEvaluator is a controllable Evaluator for tests.
type MockEvaluator struct {
	mu sync.Mutex

	// Result is returned for every stage unless overridden in Results.
	Result Readiness
	// Results overrides Result per stage id.
	Results map[string]Readiness
	// Err, when set, is returned by IsReady.
	Err error

	Calls []string
}

var _ Evaluator = (*MockEvaluator)(nil)

// NewMockEvaluator returns a MockEvaluator that reports every stage ready.
func NewMockEvaluator() *MockEvaluator {
	return &MockEvaluator{Result: Readiness{OK: true}}
}

func (m *MockEvaluator) IsReady(ctx context.Context, stageID string) (Readiness, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, stageID)

	if m.Err != nil {
		return Readiness{}, m.Err
	}
	if r, ok := m.Results[stageID]; ok {
		return r, nil
	}

	return m.Result, nil
}

// MockSignaler records monitoring start/stop signals for tests.
type MockSignaler struct {
	mu sync.Mutex

	Started []string
	Stopped []string
	// Err, when set, is returned by both signals.
	Err error
}

var _ Signaler = (*MockSignaler)(nil)

// NewMockSignaler returns an empty MockSignaler.
func NewMockSignaler() *MockSignaler {
	return &MockSignaler{}
}

func (m *MockSignaler) StartMonitoring(ctx context.Context, stageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.Started = append(m.Started, stageID)

	return nil
}

func (m *MockSignaler) StopMonitoring(ctx context.Context, stageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.Stopped = append(m.Stopped, stageID)

	return nil
}
