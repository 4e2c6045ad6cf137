package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/recall/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirs(t *testing.T) *storage.Dirs {
	t.Helper()
	return &storage.Dirs{
		Config: t.TempDir(),
		Data:   t.TempDir(),
		Cache:  t.TempDir(),
		State:  t.TempDir(),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.6, cfg.Search.VectorShare)
	assert.Equal(t, 0.3, cfg.Search.TextShare)
	assert.Equal(t, 0.1, cfg.Search.GraphShare)
	assert.Equal(t, 50, cfg.Search.AutoVectorLength)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 0.5, cfg.Search.DefaultThreshold)
	assert.Equal(t, "modern", cfg.Vector.Backend)
	assert.Equal(t, 30*time.Second, cfg.Ingest.Timeouts.Graph)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.VectorShare = 0
	cfg.Vector.Backend = "faiss"
	cfg.Log.Level = "loud"
	cfg.Ingest.Timeouts.Vector = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "search.vector_share")
	assert.Contains(t, err.Error(), "vector.backend")
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "ingest.timeouts")
}

func TestManager_LoadLayersFiles(t *testing.T) {
	dirs := testDirs(t)
	project := t.TempDir()

	writeFile(t, dirs.ConfigDir("config.yaml"), `
search:
  default_limit: 40
  timeouts:
    vector: 750ms
vector:
  backend: legacy
ingest:
  timeouts:
    graph: 5s
`)
	writeFile(t, filepath.Join(project, ".recall", "config.yaml"), `
search:
  default_limit: 10
`)

	m := NewManager(dirs, WithProjectRoot(project))
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 750*time.Millisecond, cfg.Search.Timeouts.Vector)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeouts.Text)
	assert.Equal(t, "legacy", cfg.Vector.Backend)
	assert.Equal(t, 5*time.Second, cfg.Ingest.Timeouts.Graph)
	assert.Equal(t, 10*time.Second, cfg.Ingest.Timeouts.Vector)
}

func TestManager_EnvironmentWins(t *testing.T) {
	dirs := testDirs(t)
	writeFile(t, dirs.ConfigDir("config.yaml"), "vector:\n  backend: modern\n")

	t.Setenv("RECALL_VECTOR_BACKEND", "legacy")
	t.Setenv("RECALL_SEARCH_AUTO_VECTOR_LENGTH", "80")
	t.Setenv("RECALL_LOG_LEVEL", "DEBUG")

	m := NewManager(dirs, WithProjectRoot(t.TempDir()))
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "legacy", cfg.Vector.Backend)
	assert.Equal(t, 80, cfg.Search.AutoVectorLength)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestManager_InvalidKeepsPrevious(t *testing.T) {
	dirs := testDirs(t)
	writeFile(t, dirs.ConfigDir("config.yaml"), "embedder:\n  provider: telepathy\n")

	m := NewManager(dirs, WithProjectRoot(t.TempDir()))
	err := m.Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "local", m.Get().Embedder.Provider)
}

func TestManager_OnChangeNotified(t *testing.T) {
	m := NewManager(testDirs(t), WithProjectRoot(t.TempDir()))

	var got *Config
	m.OnChange(func(c *Config) { got = c })
	require.NoError(t, m.Load())

	assert.Same(t, m.Get(), got)
}

func TestManager_WatchReloads(t *testing.T) {
	dirs := testDirs(t)
	path := dirs.ConfigDir("config.yaml")
	writeFile(t, path, "search:\n  default_limit: 5\n")

	m := NewManager(dirs, WithProjectRoot(t.TempDir()))
	require.NoError(t, m.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	writeFile(t, path, "search:\n  default_limit: 7\n")

	assert.Eventually(t, func() bool {
		return m.Get().Search.DefaultLimit == 7
	}, 3*time.Second, 20*time.Millisecond)
}
