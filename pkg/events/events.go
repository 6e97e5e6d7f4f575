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

// Package events carries structured audit/notification emission. Delivery is
// best-effort: sink failures are retried briefly, then logged and swallowed.
// They never roll back the transition that produced them.
package events

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/constants"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/metrics"
)

// Event types emitted by the engine.
const (
	TypeProcessStarted     = "process.started"
	TypeProcessCompleted   = "process.completed"
	TypeTransitionExecuted = "transition.executed"
	TypeApprovalCreated    = "approval.created"
	TypeApprovalResolved   = "approval.resolved"
	TypeApprovalExpired    = "approval.expired"
)

// Event is one structured audit record.
type Event struct {
	Type      string          `json:"type"`
	ProcessID string          `json:"processId"`
	StageID   string          `json:"stageId,omitempty"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Sink receives events. Implementations live outside the core (message
// broker, notification service, audit log).
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Emitter wraps a Sink with encoding, bounded retry and swallow-on-failure
// semantics.
type Emitter struct {
	sink   Sink
	logger *zap.SugaredLogger
}

// NewEmitter builds an Emitter around sink. A nil sink disables emission.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{
		sink:   sink,
		logger: logger.For(logger.ComponentEventSink),
	}
}

// Emit encodes payload and delivers the event. Failures are logged, counted
// and swallowed.
func (e *Emitter) Emit(ctx context.Context, eventType, processID, stageID string, payload any) {
	if e.sink == nil {
		return
	}

	evt := Event{
		Type:      eventType,
		ProcessID: processID,
		StageID:   stageID,
		At:        time.Now(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			e.logger.Errorf("Failed to encode %s payload for process %s: %v", eventType, processID, err)
			metrics.IncErrorCount(metrics.ComponentEventSink, processID)

			return
		}
		evt.Payload = raw
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = constants.SinkRetryMaxElapsed

	err := backoff.Retry(func() error {
		return e.sink.Deliver(ctx, evt)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		// Best-effort: log and move on.
		e.logger.Warnf("Dropping %s event for process %s after retries: %v", eventType, processID, err)
		metrics.IncErrorCount(metrics.ComponentEventSink, processID)
	}
}
