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

// Package config defines the configuration surface.
//
// Configuration is loaded from YAML (file, consul, etcd, or zookeeper),
// environment variables are expanded, defaults applied, and the result
// validated before anything is constructed from it.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultLLMName is the name given to an auto-created LLM entry when
// the llms map is empty.
const DefaultLLMName = "main"

// Config is the root configuration.
type Config struct {
	// Name identifies this deployment in logs and metrics.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// LLMs maps LLM names to provider configurations. The supervisor
	// and workers reference entries by name.
	LLMs map[string]*LLMConfig `yaml:"llms,omitempty" json:"llms,omitempty"`

	// Supervisor configures the delegation loop.
	Supervisor SupervisorConfig `yaml:"supervisor,omitempty" json:"supervisor,omitempty"`

	// Workers configures the worker agents.
	Workers WorkersConfig `yaml:"workers,omitempty" json:"workers,omitempty"`

	// Tools configures external tool access.
	Tools ToolsConfig `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Memory configures the recall store.
	Memory MemoryConfig `yaml:"memory,omitempty" json:"memory,omitempty"`

	// Session configures conversation history storage.
	Session SessionConfig `yaml:"session,omitempty" json:"session,omitempty"`

	// Archive configures completed-workflow persistence.
	Archive ArchiveConfig `yaml:"archive,omitempty" json:"archive,omitempty"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Logger configures logging.
	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty"`
}

// SetDefaults applies default values to the whole tree.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "nestor"
	}

	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if len(c.LLMs) == 0 {
		c.LLMs[DefaultLLMName] = &LLMConfig{}
	}
	for name := range c.LLMs {
		if c.LLMs[name] != nil {
			c.LLMs[name].SetDefaults()
		}
	}

	c.Supervisor.SetDefaults()
	if c.Supervisor.LLM == "" {
		c.Supervisor.LLM = c.soleLLMName()
	}

	c.Workers.SetDefaults()
	c.Tools.SetDefaults()
	c.Memory.SetDefaults()
	c.Session.SetDefaults()
	c.Archive.SetDefaults()
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
}

// Validate checks the whole tree, then cross-references.
func (c *Config) Validate() error {
	for name, llm := range c.LLMs {
		if llm == nil {
			continue
		}
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}

	if err := c.Supervisor.Validate(); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if err := c.Workers.Validate(); err != nil {
		return fmt.Errorf("workers: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	return c.validateReferences()
}

// validateReferences checks that every llm reference resolves.
func (c *Config) validateReferences() error {
	if err := c.checkLLMRef("supervisor", c.Supervisor.LLM, true); err != nil {
		return err
	}
	if err := c.checkLLMRef("workers.research", c.Workers.Research.LLM, false); err != nil {
		return err
	}
	if err := c.checkLLMRef("workers.tasks", c.Workers.Tasks.LLM, false); err != nil {
		return err
	}
	if err := c.checkLLMRef("workers.email", c.Workers.Email.LLM, false); err != nil {
		return err
	}
	return nil
}

func (c *Config) checkLLMRef(section, name string, required bool) error {
	if name == "" {
		if required {
			return fmt.Errorf("%s: llm is required (available: %s)", section, c.llmNames())
		}
		return nil
	}
	if _, ok := c.LLMs[name]; !ok {
		return fmt.Errorf("%s: llm %q not found (available: %s)", section, name, c.llmNames())
	}
	return nil
}

// WorkerLLM resolves a worker's LLM name, falling back to the
// supervisor's LLM when the worker doesn't name one.
func (c *Config) WorkerLLM(worker WorkerConfig) string {
	if worker.LLM != "" {
		return worker.LLM
	}
	return c.Supervisor.LLM
}

func (c *Config) llmNames() string {
	names := make([]string, 0, len(c.LLMs))
	for name := range c.LLMs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// soleLLMName returns the only key of the LLMs map when it has exactly
// one entry, otherwise DefaultLLMName.
func (c *Config) soleLLMName() string {
	if len(c.LLMs) == 1 {
		for name := range c.LLMs {
			return name
		}
	}
	return DefaultLLMName
}
