package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/adalundhe/recall/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDriver(t *testing.T) {
	d, err := ParseDriver("")
	require.NoError(t, err)
	assert.Equal(t, DriverCGO, d)

	d, err = ParseDriver("modernc")
	require.NoError(t, err)
	assert.Equal(t, DriverPure, d)

	_, err = ParseDriver("postgres")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestManager_OpenReusesPool(t *testing.T) {
	mgr := NewManager(&storage.Dirs{Data: t.TempDir()})
	defer mgr.CloseAll()

	pool, err := mgr.Open("records", DefaultPoolConfig())
	require.NoError(t, err)
	assert.Equal(t, "records.db", filepath.Base(pool.Path()))

	again, err := mgr.Open("records", DefaultPoolConfig())
	require.NoError(t, err)
	assert.Same(t, pool, again)

	got, ok := mgr.Get("records")
	assert.True(t, ok)
	assert.Same(t, pool, got)
}

func TestOpenPool_BothDrivers(t *testing.T) {
	for _, driver := range []Driver{DriverCGO, DriverPure} {
		t.Run(string(driver), func(t *testing.T) {
			cfg := DefaultPoolConfig()
			cfg.Driver = driver

			pool, err := OpenPool(filepath.Join(t.TempDir(), "x.db"), cfg)
			require.NoError(t, err)
			defer pool.Close()

			ctx := context.Background()
			_, err = pool.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
			require.NoError(t, err)
			_, err = pool.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
			require.NoError(t, err)

			var v string
			require.NoError(t, pool.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "a").Scan(&v))
			assert.Equal(t, "1", v)
			assert.NoError(t, pool.IntegrityCheck(ctx))
		})
	}
}

func TestPool_ClosedReturnsError(t *testing.T) {
	pool, err := OpenPool(filepath.Join(t.TempDir(), "x.db"), DefaultPoolConfig())
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	_, err = pool.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, pool.Close())
}

func TestMigrator_AppliesPendingOnce(t *testing.T) {
	pool, err := OpenPool(filepath.Join(t.TempDir(), "m.db"), DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	calls := 0
	migrations := []Migration{
		{Version: 2, Description: "index", Up: Statements("CREATE INDEX idx_t_name ON t(name)")},
		{Version: 1, Description: "table", Up: func(tx *sql.Tx) error {
			calls++
			return Statements("CREATE TABLE t (id TEXT PRIMARY KEY, name TEXT)")(tx)
		}},
	}

	m := NewMigrator(pool, migrations)
	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Migrate(ctx))

	version, err := pool.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, 1, calls)

	pending, err := m.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_FailureRollsBack(t *testing.T) {
	pool, err := OpenPool(filepath.Join(t.TempDir(), "m.db"), DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	m := NewMigrator(pool, []Migration{
		{Version: 1, Description: "broken", Up: Statements("CREATE TABLE ok (id TEXT)", "NOT SQL")},
	})
	assert.Error(t, m.Migrate(ctx))

	version, err := pool.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}
