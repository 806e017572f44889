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

// StorageBackend identifies where state is persisted.
type StorageBackend string

const (
	StorageBackendInMemory StorageBackend = "inmemory"
	StorageBackendSQL      StorageBackend = "sql"
)

// SessionConfig configures conversation history storage.
//
// Example:
//
//	session:
//	  backend: sql
//	  database:
//	    driver: sqlite
//	    database: ./.nestor/nestor.db
type SessionConfig struct {
	// Backend selects the storage backend: "inmemory" or "sql".
	// Default: inmemory
	Backend StorageBackend `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Database configures the SQL connection when backend is "sql".
	Database *DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// MaxHistory caps the number of prior messages loaded per session.
	// Default: 50
	MaxHistory int `yaml:"max_history,omitempty" json:"max_history,omitempty"`
}

// SetDefaults applies default values.
func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageBackendInMemory
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = 50
	}
	if c.Backend == StorageBackendSQL && c.Database == nil {
		c.Database = DefaultDatabaseConfig("sqlite")
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
}

// Validate checks the session configuration.
func (c *SessionConfig) Validate() error {
	if c.Backend != StorageBackendInMemory && c.Backend != StorageBackendSQL {
		return fmt.Errorf("invalid backend %q (valid: inmemory, sql)", c.Backend)
	}
	if c.Backend == StorageBackendSQL {
		if c.Database == nil {
			return fmt.Errorf("database is required when backend is sql")
		}
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.MaxHistory < 1 {
		return fmt.Errorf("max_history must be at least 1")
	}
	return nil
}

// IsSQL returns true if using SQL session storage.
func (c *SessionConfig) IsSQL() bool {
	return c != nil && c.Backend == StorageBackendSQL
}

// ArchiveConfig configures persistence of completed workflows.
//
// Disabled by default. When enabled, every finished delegation loop is
// written to the configured database for later inspection.
type ArchiveConfig struct {
	// Enabled turns workflow archiving on. Default: false
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Database configures the SQL connection.
	Database *DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`
}

// SetDefaults applies default values.
func (c *ArchiveConfig) SetDefaults() {
	if c.Enabled && c.Database == nil {
		c.Database = DefaultDatabaseConfig("sqlite")
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Database == nil {
		return fmt.Errorf("database is required when archive is enabled")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}
