// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"time"
)

// SupervisorConfig configures the delegation loop.
//
// Example:
//
//	supervisor:
//	  llm: main
//	  max_iterations: 20
//	  soft_limit: 15
//	  summary_budget: 4000
type SupervisorConfig struct {
	// LLM references an entry in the llms map by name.
	LLM string `yaml:"llm,omitempty" json:"llm,omitempty"`

	// MaxIterations is the hard cap on delegation rounds.
	// When reached, the supervisor is forced to produce a final answer.
	// Default: 20
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`

	// SoftLimit is the iteration count after which the supervisor is
	// nudged toward wrapping up. Advisory only. Default: 15
	SoftLimit int `yaml:"soft_limit,omitempty" json:"soft_limit,omitempty"`

	// SummaryBudget bounds the shared-state summary passed to the
	// supervisor, in tokens. Default: 4000
	SummaryBudget int `yaml:"summary_budget,omitempty" json:"summary_budget,omitempty"`

	// OracleTimeout bounds a single decision call. Default: 2m
	OracleTimeout time.Duration `yaml:"oracle_timeout,omitempty" json:"oracle_timeout,omitempty"`

	// WorkerTimeout bounds a single worker invocation. Default: 3m
	WorkerTimeout time.Duration `yaml:"worker_timeout,omitempty" json:"worker_timeout,omitempty"`

	// Instructions is appended to the supervisor system prompt.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// SetDefaults applies default values.
func (c *SupervisorConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 20
	}
	if c.SoftLimit == 0 {
		c.SoftLimit = 15
	}
	if c.SummaryBudget == 0 {
		c.SummaryBudget = 4000
	}
	if c.OracleTimeout == 0 {
		c.OracleTimeout = 2 * time.Minute
	}
	if c.WorkerTimeout == 0 {
		c.WorkerTimeout = 3 * time.Minute
	}
}

// Validate checks the supervisor configuration.
func (c *SupervisorConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if c.SoftLimit < 1 {
		return fmt.Errorf("soft_limit must be at least 1")
	}
	if c.SoftLimit > c.MaxIterations {
		return fmt.Errorf("soft_limit (%d) must not exceed max_iterations (%d)", c.SoftLimit, c.MaxIterations)
	}
	if c.SummaryBudget < 256 {
		return fmt.Errorf("summary_budget must be at least 256 tokens")
	}
	return nil
}

// WorkerConfig configures a single worker agent.
type WorkerConfig struct {
	// LLM references an entry in the llms map by name.
	// Empty means the supervisor's LLM is used.
	LLM string `yaml:"llm,omitempty" json:"llm,omitempty"`

	// MaxToolRounds caps the worker's internal tool-calling loop.
	// Default: 4
	MaxToolRounds int `yaml:"max_tool_rounds,omitempty" json:"max_tool_rounds,omitempty"`

	// Instructions is appended to the worker system prompt.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// SetDefaults applies default values.
func (c *WorkerConfig) SetDefaults() {
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 4
	}
}

// Validate checks the worker configuration.
func (c *WorkerConfig) Validate() error {
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be at least 1")
	}
	return nil
}

// WorkersConfig configures the three worker agents.
type WorkersConfig struct {
	Research WorkerConfig `yaml:"research,omitempty" json:"research,omitempty"`
	Tasks    WorkerConfig `yaml:"tasks,omitempty" json:"tasks,omitempty"`
	Email    WorkerConfig `yaml:"email,omitempty" json:"email,omitempty"`
}

// SetDefaults applies default values to all workers.
func (c *WorkersConfig) SetDefaults() {
	c.Research.SetDefaults()
	c.Tasks.SetDefaults()
	c.Email.SetDefaults()
}

// Validate checks all worker configurations.
func (c *WorkersConfig) Validate() error {
	if err := c.Research.Validate(); err != nil {
		return fmt.Errorf("research: %w", err)
	}
	if err := c.Tasks.Validate(); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	if err := c.Email.Validate(); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}
