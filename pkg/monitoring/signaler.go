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

	"go.uber.org/zap"
)

// LogSignaler is a Signaler that only logs the signals. Deployments without
// an attached monitoring service run with this; the signals stay visible in
// the structured log for operators.
type LogSignaler struct {
	logger *zap.SugaredLogger
}

var _ Signaler = (*LogSignaler)(nil)

// NewLogSignaler builds a LogSignaler on the given logger.
func NewLogSignaler(logger *zap.SugaredLogger) *LogSignaler {
	return &LogSignaler{logger: logger}
}

func (l *LogSignaler) StartMonitoring(ctx context.Context, stageID string) error {
	l.logger.Infof("Monitoring window opened for stage %s", stageID)
	return nil
}

func (l *LogSignaler) StopMonitoring(ctx context.Context, stageID string) error {
	l.logger.Infof("Monitoring window closed for stage %s", stageID)
	return nil
}
