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

// ToolsConfig configures the external tools available to workers.
type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search,omitempty" json:"web_search,omitempty"`
	Gmail     GmailConfig     `yaml:"gmail,omitempty" json:"gmail,omitempty"`
	Asana     AsanaConfig     `yaml:"asana,omitempty" json:"asana,omitempty"`
}

// SetDefaults applies default values to all tools.
func (c *ToolsConfig) SetDefaults() {
	c.WebSearch.SetDefaults()
	c.Gmail.SetDefaults()
	c.Asana.SetDefaults()
}

// Validate checks all tool configurations.
func (c *ToolsConfig) Validate() error {
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("web_search: %w", err)
	}
	if err := c.Gmail.Validate(); err != nil {
		return fmt.Errorf("gmail: %w", err)
	}
	if err := c.Asana.Validate(); err != nil {
		return fmt.Errorf("asana: %w", err)
	}
	return nil
}

// WebSearchConfig configures the web search tool.
//
// Two engines are supported: "brave" (hosted API, requires api_key)
// and "searxng" (self-hosted, requires base_url).
type WebSearchConfig struct {
	// Engine selects the search backend: "brave" or "searxng".
	// Default: brave
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty"`

	// APIKey for the Brave Search API. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL of the search endpoint. Required for searxng,
	// optional override for brave.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// MaxResults caps results returned per query. Default: 5
	MaxResults int `yaml:"max_results,omitempty" json:"max_results,omitempty"`

	// InsecureSkipVerify disables TLS verification. Intended for
	// self-hosted searxng instances with self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`

	// CACertificate is a path to a PEM file with a custom CA.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`
}

// SetDefaults applies default values.
func (c *WebSearchConfig) SetDefaults() {
	if c.Engine == "" {
		c.Engine = "brave"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
}

// Validate checks the web search configuration.
func (c *WebSearchConfig) Validate() error {
	switch c.Engine {
	case "", "brave", "searxng":
	default:
		return fmt.Errorf("invalid engine %q (valid: brave, searxng)", c.Engine)
	}

	if c.Engine == "searxng" && c.BaseURL == "" {
		return fmt.Errorf("base_url is required for searxng")
	}

	if c.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative")
	}

	return nil
}

// GmailConfig configures the Gmail drafts tool.
type GmailConfig struct {
	// Token is the OAuth bearer token. Supports ${VAR} expansion.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// BaseURL overrides the Gmail API endpoint. Useful for testing.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// SetDefaults applies default values.
func (c *GmailConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://gmail.googleapis.com"
	}
}

// Validate checks the Gmail configuration.
func (c *GmailConfig) Validate() error {
	return nil
}

// AsanaConfig configures the Asana tool.
type AsanaConfig struct {
	// Token is the personal access token. Supports ${VAR} expansion.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// BaseURL overrides the Asana API endpoint. Useful for testing.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Workspace is the default Asana workspace GID for new tasks
	// and projects.
	Workspace string `yaml:"workspace,omitempty" json:"workspace,omitempty"`
}

// SetDefaults applies default values.
func (c *AsanaConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://app.asana.com/api/1.0"
	}
}

// Validate checks the Asana configuration.
func (c *AsanaConfig) Validate() error {
	return nil
}
