// Package storage resolves the on-disk locations recall uses.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName is the directory segment used under every base directory.
const AppName = "recall"

// Dirs holds the platform base directories for recall.
type Dirs struct {
	Config string // config.yaml, extractor vocabularies
	Data   string // sqlite databases, bleve index
	Cache  string // downloaded embedding models
	State  string // logs, metrics textfiles
}

// ProjectDirs are the per-project overrides kept next to a checkout.
type ProjectDirs struct {
	Root   string // .recall/
	Config string // .recall/config.yaml
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns the directories for this process. The result is
// computed once.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = resolveDirsImpl()
	})
	return globalDirs
}

func resolveDirsImpl() *Dirs {
	return &Dirs{
		Config: resolveDir("RECALL_CONFIG_DIR", "XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("RECALL_DATA_DIR", "XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("RECALL_CACHE_DIR", "XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("RECALL_STATE_DIR", "XDG_STATE_HOME", platformStateDefault()),
	}
}

// resolveDir prefers an explicit RECALL_* path, then $XDG_*/recall.
func resolveDir(overrideVar, xdgVar, fallback string) string {
	if dir := os.Getenv(overrideVar); dir != "" {
		return dir
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return fallback
}

// ResolveProjectDirs returns the project-local directories under root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+AppName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
	}
}

// EnsureDir creates path with perm (0700 when zero).
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

func (d *Dirs) CacheDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Cache}, subpath...)...)
}

func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// IndexDir is where the bleve full-text index lives.
func (d *Dirs) IndexDir() string {
	return d.DataDir("index.bleve")
}

// ModelDir is where downloaded ONNX embedding models are cached.
func (d *Dirs) ModelDir() string {
	return d.CacheDir("models")
}

// MetricsFile is the default prometheus textfile location.
func (d *Dirs) MetricsFile() string {
	return d.StateDir("metrics.prom")
}

// EnsureAll creates every base directory.
func (d *Dirs) EnsureAll() error {
	for _, dir := range []string{d.Config, d.Data, d.Cache, d.State} {
		if err := EnsureDir(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
