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

package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes every event to the structured log. It is the default audit
// sink when no broker or notification service is attached.
type LogSink struct {
	logger *zap.SugaredLogger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink builds a LogSink on the given logger.
func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Deliver(_ context.Context, e Event) error {
	l.logger.Infow("audit event",
		"type", e.Type,
		"processId", e.ProcessID,
		"stageId", e.StageID,
		"at", e.At,
		"payload", string(e.Payload),
	)

	return nil
}
