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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/logger"
)

const (
	// Component labels.
	ComponentProgressionEvaluator = "progression_evaluator"
	ComponentTransitionRouter     = "transition_router"
	ComponentTransitionExecutor   = "transition_executor"
	ComponentApprovalWorkflow     = "approval_workflow"
	ComponentLifecycleController  = "lifecycle_controller"
	ComponentStore                = "store"
	ComponentEventSink            = "event_sink"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "mescore"
	subsystem = "engine"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "process"},
	)

	// Evaluation outcomes.
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluations_total",
			Help:      "Progression evaluations by outcome (can_progress true/false)",
		},
		[]string{"can_progress", "requires_approval"},
	)

	// Transition requests by type and routed outcome.
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Transition requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Approval requests by final status.
	approvalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "approvals_total",
			Help:      "Approval requests by status",
		},
		[]string{"status"},
	)

	// Operation timing.
	operationTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_milliseconds",
			Help:      "Time taken per engine operation (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "operation"},
	)

	// Processes currently in progress.
	activeProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_processes",
			Help:      "Number of processes currently in progress",
		},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, process string) {
	errorCounter.WithLabelValues(component, process).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, process string) {
	errorCounter.WithLabelValues(component, process).Add(0)
}

// RecordEvaluation records a progression evaluation outcome.
func RecordEvaluation(canProgress, requiresApproval bool) {
	evaluationsTotal.WithLabelValues(boolLabel(canProgress), boolLabel(requiresApproval)).Inc()
}

// RecordTransition records a routed transition request.
func RecordTransition(transitionType, outcome string) {
	transitionsTotal.WithLabelValues(transitionType, outcome).Inc()
}

// RecordApproval records an approval request status change.
func RecordApproval(status string) {
	approvalsTotal.WithLabelValues(status).Inc()
}

// ObserveOperationTime records the time taken for an engine operation.
func ObserveOperationTime(component, operation string, duration time.Duration) {
	operationTime.WithLabelValues(component, operation).Observe(float64(duration.Milliseconds()))
}

// SetActiveProcesses updates the active process gauge.
func SetActiveProcesses(n int) {
	activeProcesses.Set(float64(n))
}

// IncActiveProcesses increments the active process gauge.
func IncActiveProcesses() {
	activeProcesses.Inc()
}

// DecActiveProcesses decrements the active process gauge.
func DecActiveProcesses() {
	activeProcesses.Dec()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}

	return "false"
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For("metrics").Errorf("Metrics endpoint failed: %v", err)
		}
	}()

	return server
}
