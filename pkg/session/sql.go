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

package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// SQLService persists session turns in PostgreSQL, MySQL, or SQLite.
// Every turn is kept; GetHistory reads back the most recent window.
type SQLService struct {
	db         *sql.DB
	dialect    string
	maxHistory int
}

var _ Service = (*SQLService)(nil)

const (
	turnsTableSQLite = `
CREATE TABLE IF NOT EXISTS session_turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	turnsTablePostgres = `
CREATE TABLE IF NOT EXISTS session_turns (
    id BIGSERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	turnsTableMySQL = `
CREATE TABLE IF NOT EXISTS session_turns (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    INDEX idx_turns_session_seq (session_id, sequence_num)
)`

	turnsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_turns_session_seq ON session_turns(session_id, sequence_num)`
)

// NewSQLService initializes the session schema on db.
func NewSQLService(db *sql.DB, dialect string, maxHistory int) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	if maxHistory <= 0 {
		maxHistory = 50
	}

	s := &SQLService{db: db, dialect: dialect, maxHistory: maxHistory}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var statements []string
	switch s.dialect {
	case "postgres":
		statements = []string{turnsTablePostgres, turnsIndexSQL}
	case "mysql":
		// MySQL has no CREATE INDEX IF NOT EXISTS; the index rides
		// along inside the table definition.
		statements = []string{turnsTableMySQL}
	default:
		statements = []string{turnsTableSQLite, turnsIndexSQL}
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetHistory returns the most recent turns in chronological order.
func (s *SQLService) GetHistory(ctx context.Context, sessionID string, limit int) ([]supervisor.Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if limit <= 0 || limit > s.maxHistory {
		limit = s.maxHistory
	}

	// The subquery picks the newest N turns, the outer query restores
	// chronological order.
	query := `
SELECT role, content FROM (
    SELECT role, content, sequence_num
    FROM session_turns
    WHERE session_id = ?
    ORDER BY sequence_num DESC
    LIMIT ?
) recent ORDER BY sequence_num ASC`
	if s.dialect == "postgres" {
		query = `
SELECT role, content FROM (
    SELECT role, content, sequence_num
    FROM session_turns
    WHERE session_id = $1
    ORDER BY sequence_num DESC
    LIMIT $2
) recent ORDER BY sequence_num ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var turns []supervisor.Turn
	for rows.Next() {
		var turn supervisor.Turn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// AppendTurn inserts a turn with the next sequence number. The read
// and insert run in one transaction so concurrent appends to the same
// session cannot allocate the same number.
func (s *SQLService) AppendTurn(ctx context.Context, sessionID string, turn supervisor.Turn) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seqQuery := `SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_turns WHERE session_id = ?`
	if s.dialect == "postgres" {
		seqQuery = `SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_turns WHERE session_id = $1`
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, seqQuery, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	insert := `
INSERT INTO session_turns (session_id, role, content, sequence_num, created_at)
VALUES (?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		insert = `
INSERT INTO session_turns (session_id, role, content, sequence_num, created_at)
VALUES ($1, $2, $3, $4, $5)`
	}

	if _, err := tx.ExecContext(ctx, insert, sessionID, turn.Role, turn.Content, seq, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// Count returns the number of stored turns.
func (s *SQLService) Count(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ErrEmptySessionID
	}

	query := `SELECT COUNT(*) FROM session_turns WHERE session_id = ?`
	if s.dialect == "postgres" {
		query = `SELECT COUNT(*) FROM session_turns WHERE session_id = $1`
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

// Delete removes all turns for a session.
func (s *SQLService) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	query := `DELETE FROM session_turns WHERE session_id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM session_turns WHERE session_id = $1`
	}

	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
