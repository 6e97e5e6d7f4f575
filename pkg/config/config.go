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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/constants"
	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
)

// EngineConfig is the full configuration of the progression engine.
type EngineConfig struct {
	// Quality gate thresholds
	Quality QualityConfig `yaml:"quality"`

	// Approval workflow settings
	Approval ApprovalConfig `yaml:"approval"`

	// Store settings
	Store StoreConfig `yaml:"store"`

	// MetricsAddr is the listen address of the /metrics endpoint.
	MetricsAddr string `yaml:"metricsAddr"`

	// Roles maps users to roles for approver eligibility when no identity
	// service is attached.
	Roles map[string]string `yaml:"roles,omitempty"`
}

// QualityConfig holds the quality-gate thresholds.
type QualityConfig struct {
	// MaxFailureRate above which the quality gate closes (0..1).
	MaxFailureRate float64 `yaml:"maxFailureRate"`
	// OvertimeFactor multiplies the planned duration to flag overtime.
	OvertimeFactor float64 `yaml:"overtimeFactor"`
}

// ApprovalConfig holds deadlines and the approver-role rule table.
type ApprovalConfig struct {
	DefaultDeadline      time.Duration `yaml:"defaultDeadline"`
	HighPriorityDeadline time.Duration `yaml:"highPriorityDeadline"`

	// Rules are evaluated top to bottom; the first match wins.
	Rules []ApproverRule `yaml:"rules"`
}

// ApproverRule maps a transition condition to an approver role and priority.
// The rule table replaces ad hoc conditionals so the policy is auditable and
// independently testable.
type ApproverRule struct {
	// Matchers. A zero value matches anything.
	TransitionType models.TransitionType `yaml:"transitionType,omitempty"`
	CCPOnly        bool                  `yaml:"ccpOnly,omitempty"`

	// Result.
	Role     string `yaml:"role"`
	Priority string `yaml:"priority"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the sqlite database file, ignored for memory.
	Path string `yaml:"path,omitempty"`
	// Timeout bounds a single store round trip.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the built-in configuration, matching the documented
// policy: 24h/4h deadlines, 10% failure-rate ceiling, 1.5x overtime factor
// and the standard approver-role table.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		Quality: QualityConfig{
			MaxFailureRate: constants.MaxFailureRate,
			OvertimeFactor: constants.OvertimeFactor,
		},
		Approval: ApprovalConfig{
			DefaultDeadline:      constants.DefaultApprovalDeadline,
			HighPriorityDeadline: constants.HighPriorityApprovalDeadline,
			Rules: []ApproverRule{
				{TransitionType: models.TransitionEmergency, Role: models.RoleProductionManager, Priority: models.PriorityHigh},
				{CCPOnly: true, Role: models.RoleQualityManager, Priority: models.PriorityNormal},
				{TransitionType: models.TransitionRollback, Role: models.RoleShiftSupervisor, Priority: models.PriorityNormal},
				{Role: models.RoleLineSupervisor, Priority: models.PriorityNormal},
			},
		},
		Store: StoreConfig{
			Backend: "memory",
			Timeout: constants.DefaultStoreTimeout,
		},
		MetricsAddr: ":9090",
	}
}

// ParseConfig parses YAML bytes over the defaults.
func ParseConfig(data []byte) (EngineConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("failed to parse engine config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return EngineConfig{}, err
	}

	return cfg, nil
}

// LoadFromFile reads the config file at path, falling back to defaults when
// the file does not exist.
func LoadFromFile(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}

		return EngineConfig{}, fmt.Errorf("failed to read engine config: %w", err)
	}

	return ParseConfig(data)
}

func (c EngineConfig) validate() error {
	if c.Quality.MaxFailureRate < 0 || c.Quality.MaxFailureRate > 1 {
		return fmt.Errorf("maxFailureRate must be within [0, 1], got %v", c.Quality.MaxFailureRate)
	}
	if c.Quality.OvertimeFactor < 1 {
		return fmt.Errorf("overtimeFactor must be >= 1, got %v", c.Quality.OvertimeFactor)
	}
	if len(c.Approval.Rules) == 0 {
		return fmt.Errorf("approval rule table must not be empty")
	}
	// The last rule must be a catch-all so every request resolves to a role.
	last := c.Approval.Rules[len(c.Approval.Rules)-1]
	if last.TransitionType != "" || last.CCPOnly {
		return fmt.Errorf("last approval rule must be a catch-all")
	}

	return nil
}

// Clone creates a deep copy of EngineConfig.
func (c EngineConfig) Clone() EngineConfig {
	var clone EngineConfig
	deepcopy.Copy(&clone, &c)
	return clone
}
