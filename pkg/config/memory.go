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

import "fmt"

// MemoryConfig configures the recall store used by the research worker.
//
// The store is an embedded vector database. When path is empty it lives
// in memory only and is lost on restart.
type MemoryConfig struct {
	// Enabled turns the recall store on. Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Path is the persistence directory. Empty means in-memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Collection is the collection name. Default: "recall"
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	// TopK is the number of results returned per recall query.
	// Default: 4
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty"`

	// Embedder configures the embedding model.
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty"`
}

// SetDefaults applies default values.
func (c *MemoryConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Collection == "" {
		c.Collection = "recall"
	}
	if c.TopK == 0 {
		c.TopK = 4
	}
	c.Embedder.SetDefaults()
}

// Validate checks the memory configuration.
func (c *MemoryConfig) Validate() error {
	if !BoolValue(c.Enabled, true) {
		return nil
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1")
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	return nil
}

// IsEnabled reports whether the recall store should be constructed.
func (c *MemoryConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, true)
}

// EmbedderConfig configures the embedding model for the recall store.
type EmbedderConfig struct {
	// Provider is the embedding provider. Only "openai" (or any
	// OpenAI-compatible endpoint via base_url) is supported.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`

	// Model is the embedding model name.
	// Default: text-embedding-3-small
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for the embedding API. Supports ${VAR} expansion.
	// Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the embedding endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(LLMProviderOpenAI)
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	if c.Provider != "" && c.Provider != "openai" {
		return fmt.Errorf("invalid provider %q (valid: openai)", c.Provider)
	}
	return nil
}
