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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// ErrRunNotFound is returned when no archived run matches a request id.
var ErrRunNotFound = errors.New("archived run not found")

// Run is one archived delegation loop run. State is populated by Get
// and left nil by ListRecent.
type Run struct {
	RequestID  string            `json:"request_id"`
	SessionID  string            `json:"session_id,omitempty"`
	Query      string            `json:"query"`
	Response   string            `json:"response,omitempty"`
	Iterations int               `json:"iterations"`
	Complete   bool              `json:"complete"`
	CreatedAt  time.Time         `json:"created_at"`
	State      *supervisor.State `json:"state,omitempty"`
}

// Archive persists completed runs for later inspection. Archiving is
// best effort: callers log a failed Record and serve the response
// anyway.
type Archive struct {
	db      *sql.DB
	dialect string
}

const (
	archiveTableSQLite = `
CREATE TABLE IF NOT EXISTS workflow_archive (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    query TEXT NOT NULL,
    response TEXT,
    iterations INTEGER NOT NULL,
    complete BOOLEAN NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	archiveTablePostgres = `
CREATE TABLE IF NOT EXISTS workflow_archive (
    id BIGSERIAL PRIMARY KEY,
    request_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    query TEXT NOT NULL,
    response TEXT,
    iterations BIGINT NOT NULL,
    complete BOOLEAN NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	archiveTableMySQL = `
CREATE TABLE IF NOT EXISTS workflow_archive (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    request_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    query TEXT NOT NULL,
    response TEXT,
    iterations BIGINT NOT NULL,
    complete BOOLEAN NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    INDEX idx_archive_request_id (request_id),
    INDEX idx_archive_created_at (created_at)
)`

	archiveIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_archive_request_id ON workflow_archive(request_id);
CREATE INDEX IF NOT EXISTS idx_archive_created_at ON workflow_archive(created_at)`
)

// NewArchive initializes the archive schema on db.
func NewArchive(db *sql.DB, dialect string) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	a := &Archive{db: db, dialect: dialect}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var statements []string
	switch a.dialect {
	case "postgres":
		statements = []string{archiveTablePostgres, archiveIndexSQL}
	case "mysql":
		// MySQL has no CREATE INDEX IF NOT EXISTS; the indexes ride
		// along inside the table definition.
		statements = []string{archiveTableMySQL}
	default:
		statements = []string{archiveTableSQLite, archiveIndexSQL}
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record archives one completed run.
func (a *Archive) Record(ctx context.Context, state *supervisor.State) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	if state.Request.RequestID == "" {
		return fmt.Errorf("state has no request id")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
INSERT INTO workflow_archive (request_id, session_id, query, response, iterations, complete, state_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if a.dialect == "postgres" {
		query = `
INSERT INTO workflow_archive (request_id, session_id, query, response, iterations, complete, state_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}

	_, err = a.db.ExecContext(ctx, query,
		state.Request.RequestID, state.Request.SessionID, state.Request.Query,
		state.FinalResponse, state.Iteration, state.Complete, string(stateJSON),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return nil
}

// Get returns the archived run for a request id, including its full
// state. The newest row wins if a request id was archived twice.
func (a *Archive) Get(ctx context.Context, requestID string) (*Run, error) {
	if requestID == "" {
		return nil, fmt.Errorf("requestID cannot be empty")
	}

	query := `
SELECT request_id, session_id, query, response, iterations, complete, state_json, created_at
FROM workflow_archive
WHERE request_id = ?
ORDER BY id DESC
LIMIT 1`
	if a.dialect == "postgres" {
		query = `
SELECT request_id, session_id, query, response, iterations, complete, state_json, created_at
FROM workflow_archive
WHERE request_id = $1
ORDER BY id DESC
LIMIT 1`
	}

	var run Run
	var stateJSON string
	err := a.db.QueryRowContext(ctx, query, requestID).Scan(
		&run.RequestID, &run.SessionID, &run.Query, &run.Response,
		&run.Iterations, &run.Complete, &stateJSON, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query archived run: %w", err)
	}

	run.State = &supervisor.State{}
	if err := json.Unmarshal([]byte(stateJSON), run.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived state: %w", err)
	}
	return &run, nil
}

// ListRecent returns the newest archived runs without their states.
// The limit defaults to 20 and is capped at 100.
func (a *Archive) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
SELECT request_id, session_id, query, response, iterations, complete, created_at
FROM workflow_archive
ORDER BY id DESC
LIMIT ?`
	if a.dialect == "postgres" {
		query = `
SELECT request_id, session_id, query, response, iterations, complete, created_at
FROM workflow_archive
ORDER BY id DESC
LIMIT $1`
	}

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.RequestID, &run.SessionID, &run.Query, &run.Response,
			&run.Iterations, &run.Complete, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archived run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived runs: %w", err)
	}
	return runs, nil
}
