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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/nestor/pkg/config"
)

func sqliteConfig(t *testing.T, name string) *config.DatabaseConfig {
	t.Helper()
	return &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), name),
	}
}

func TestOpen_SQLite(t *testing.T) {
	db, err := Open(sqliteConfig(t, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(context.Background()))

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "nested", "deeper", "test.db"),
	}

	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(context.Background()))
}

func TestOpen_NilConfig(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)
}

func TestDBPool_SharesHandlesByDSN(t *testing.T) {
	pool := NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	cfg := sqliteConfig(t, "shared.db")

	first, err := pool.Get(cfg)
	require.NoError(t, err)
	second, err := pool.Get(cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := pool.Get(sqliteConfig(t, "other.db"))
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestDBPool_CloseResetsHandles(t *testing.T) {
	pool := NewDBPool()
	cfg := sqliteConfig(t, "reset.db")

	db, err := pool.Get(cfg)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	// Closed handles are discarded; the next Get opens fresh.
	reopened, err := pool.Get(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	assert.NotSame(t, db, reopened)
	require.NoError(t, reopened.PingContext(context.Background()))
}
