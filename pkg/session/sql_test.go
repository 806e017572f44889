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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/store"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{Driver: "sqlite", Database: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestSQLService(t *testing.T, maxHistory int) *SQLService {
	t.Helper()
	db := openTestDB(t, filepath.Join(t.TempDir(), "sessions.db"))
	svc, err := NewSQLService(db, "sqlite", maxHistory)
	require.NoError(t, err)
	return svc
}

func TestSQLService_AppendAndGetHistory(t *testing.T) {
	svc := newTestSQLService(t, 50)
	ctx := context.Background()

	require.NoError(t, svc.AppendTurn(ctx, "s1", supervisor.Turn{Role: "user", Content: "plan my week"}))
	require.NoError(t, svc.AppendTurn(ctx, "s1", supervisor.Turn{Role: "assistant", Content: "here is a plan"}))
	require.NoError(t, svc.AppendTurn(ctx, "s1", supervisor.Turn{Role: "user", Content: "shorter please"}))

	turns, err := svc.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "plan my week", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "shorter please", turns[2].Content)
}

func TestSQLService_HistoryWindow(t *testing.T) {
	svc := newTestSQLService(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		turn := supervisor.Turn{Role: "user", Content: fmt.Sprintf("message %d", i)}
		require.NoError(t, svc.AppendTurn(ctx, "s1", turn))
	}

	// All five rows survive; the read window is what shrinks.
	count, err := svc.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	turns, err := svc.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "message 3", turns[0].Content)
	assert.Equal(t, "message 5", turns[2].Content)
}

func TestSQLService_GetHistoryLimit(t *testing.T) {
	svc := newTestSQLService(t, 50)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		turn := supervisor.Turn{Role: "user", Content: fmt.Sprintf("message %d", i)}
		require.NoError(t, svc.AppendTurn(ctx, "s1", turn))
	}

	turns, err := svc.GetHistory(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "message 3", turns[0].Content)
	assert.Equal(t, "message 4", turns[1].Content)
}

func TestSQLService_SessionsAreIsolated(t *testing.T) {
	svc := newTestSQLService(t, 50)
	ctx := context.Background()

	require.NoError(t, svc.AppendTurn(ctx, "alice", supervisor.Turn{Role: "user", Content: "alice says hi"}))
	require.NoError(t, svc.AppendTurn(ctx, "bob", supervisor.Turn{Role: "user", Content: "bob says hi"}))

	turns, err := svc.GetHistory(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "alice says hi", turns[0].Content)
}

func TestSQLService_Delete(t *testing.T) {
	svc := newTestSQLService(t, 50)
	ctx := context.Background()

	require.NoError(t, svc.AppendTurn(ctx, "s1", supervisor.Turn{Role: "user", Content: "hello"}))
	require.NoError(t, svc.AppendTurn(ctx, "s2", supervisor.Turn{Role: "user", Content: "other"}))
	require.NoError(t, svc.Delete(ctx, "s1"))

	count, err := svc.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = svc.Count(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLService_EmptySessionID(t *testing.T) {
	svc := newTestSQLService(t, 50)
	ctx := context.Background()

	_, err := svc.GetHistory(ctx, "", 0)
	assert.ErrorIs(t, err, ErrEmptySessionID)
	assert.ErrorIs(t, svc.AppendTurn(ctx, "", supervisor.Turn{}), ErrEmptySessionID)
	_, err = svc.Count(ctx, "")
	assert.ErrorIs(t, err, ErrEmptySessionID)
	assert.ErrorIs(t, svc.Delete(ctx, ""), ErrEmptySessionID)
}

func TestSQLService_PersistsAcrossReconnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	db := openTestDB(t, path)
	svc, err := NewSQLService(db, "sqlite", 50)
	require.NoError(t, err)
	require.NoError(t, svc.AppendTurn(ctx, "s1", supervisor.Turn{Role: "user", Content: "remember me"}))
	require.NoError(t, db.Close())

	db = openTestDB(t, path)
	svc, err = NewSQLService(db, "sqlite", 50)
	require.NoError(t, err)

	turns, err := svc.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "remember me", turns[0].Content)
}

func TestNewSQLService_RejectsUnknownDialect(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "sessions.db"))

	_, err := NewSQLService(db, "oracle", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")
}
