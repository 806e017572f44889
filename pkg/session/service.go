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

// Package session stores conversation history between requests.
//
// A session is a sequence of user and assistant turns keyed by session
// id. The in-memory backend keeps a bounded window per session; the SQL
// backend persists every turn and reads back the most recent window.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/store"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// ErrEmptySessionID is returned when an operation is called without a
// session id.
var ErrEmptySessionID = errors.New("sessionID cannot be empty")

// Service stores and retrieves conversation turns per session.
type Service interface {
	// GetHistory returns the most recent turns in chronological order.
	// A limit of zero or less uses the configured window size.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]supervisor.Turn, error)

	// AppendTurn adds one turn to the end of a session.
	AppendTurn(ctx context.Context, sessionID string, turn supervisor.Turn) error

	// Count returns the number of stored turns for a session.
	Count(ctx context.Context, sessionID string) (int, error)

	// Delete removes all turns for a session.
	Delete(ctx context.Context, sessionID string) error
}

// NewService builds the session service for the configured backend.
// SQL backends share connections through pool.
func NewService(cfg config.SessionConfig, pool *store.DBPool) (Service, error) {
	cfg.SetDefaults()

	switch cfg.Backend {
	case config.StorageBackendInMemory:
		return NewInMemoryService(cfg.MaxHistory), nil
	case config.StorageBackendSQL:
		if cfg.Database == nil {
			return nil, fmt.Errorf("sql session backend requires a database config")
		}
		if pool == nil {
			return nil, fmt.Errorf("sql session backend requires a database pool")
		}
		db, err := pool.Get(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open session database: %w", err)
		}
		return NewSQLService(db, cfg.Database.Dialect(), cfg.MaxHistory)
	default:
		return nil, fmt.Errorf("unsupported session backend: %s (supported: inmemory, sql)", cfg.Backend)
	}
}

// InMemoryService keeps session history in process memory. Each
// session holds at most maxHistory turns; older turns are evicted as
// new ones arrive. Suitable for development and single-node setups
// where history need not survive restarts.
type InMemoryService struct {
	mu         sync.RWMutex
	sessions   map[string][]supervisor.Turn
	maxHistory int
}

var _ Service = (*InMemoryService)(nil)

// NewInMemoryService creates an in-memory session service keeping at
// most maxHistory turns per session.
func NewInMemoryService(maxHistory int) *InMemoryService {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &InMemoryService{
		sessions:   make(map[string][]supervisor.Turn),
		maxHistory: maxHistory,
	}
}

// GetHistory returns the most recent turns in chronological order.
func (s *InMemoryService) GetHistory(_ context.Context, sessionID string, limit int) ([]supervisor.Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if limit <= 0 || limit > s.maxHistory {
		limit = s.maxHistory
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	if len(turns) == 0 {
		return nil, nil
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]supervisor.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// AppendTurn adds a turn, evicting the oldest when the session exceeds
// the window.
func (s *InMemoryService) AppendTurn(_ context.Context, sessionID string, turn supervisor.Turn) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[sessionID], turn)
	if len(turns) > s.maxHistory {
		turns = turns[len(turns)-s.maxHistory:]
	}
	s.sessions[sessionID] = turns
	return nil
}

// Count returns the number of stored turns.
func (s *InMemoryService) Count(_ context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ErrEmptySessionID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]), nil
}

// Delete removes a session and its turns.
func (s *InMemoryService) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
