package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/recall/core/storage"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const watchDebounce = 200 * time.Millisecond

type Manager struct {
	config      atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	logger      *slog.Logger
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type ManagerOption func(*Manager)

// WithProjectRoot sets the directory searched for .recall/config.yaml.
func WithProjectRoot(root string) ManagerOption {
	return func(m *Manager) {
		m.projectRoot = root
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(dirs *storage.Dirs, opts ...ManagerOption) *Manager {
	m := &Manager{
		dirs:        dirs,
		projectRoot: ".",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.config.Store(DefaultConfig())
	return m
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Paths lists the config files in the order they are applied.
func (m *Manager) Paths() []string {
	return []string{
		m.dirs.ConfigDir("config.yaml"),
		storage.ResolveProjectDirs(m.projectRoot).Config,
	}
}

// Load rebuilds the config from defaults, the user file, the project file
// and RECALL_* variables, in that order. An invalid result is rejected and
// the previous config is kept.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	for _, path := range m.Paths() {
		if err := loadYAMLFile(path, cfg); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("RECALL_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("RECALL_VECTOR_BACKEND"); v != "" {
		cfg.Vector.Backend = v
	}
	if v := os.Getenv("RECALL_VECTOR_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vector.BatchSize = n
		}
	}
	if v := os.Getenv("RECALL_EMBEDDER_PROVIDER"); v != "" {
		cfg.Embedder.Provider = v
	}
	if v := os.Getenv("RECALL_EMBEDDER_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv("RECALL_EXTRACTOR_PROVIDER"); v != "" {
		cfg.Extractor.Provider = v
	}
	if v := os.Getenv("RECALL_SEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("RECALL_SEARCH_DEFAULT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.DefaultThreshold = f
		}
	}
	if v := os.Getenv("RECALL_SEARCH_AUTO_VECTOR_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.AutoVectorLength = n
		}
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

// Watch reloads the config when either file changes, until ctx is done.
// Reload errors are logged and the previous config stays active.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	targets := make(map[string]struct{})
	for _, path := range m.Paths() {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		targets[filepath.Clean(path)] = struct{}{}
	}

	go m.watchLoop(ctx, watcher, targets)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, targets map[string]struct{}) {
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, watched := targets[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, m.reloadAndLog)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reloadAndLog() {
	if err := m.Load(); err != nil {
		m.logger.Warn("config reload failed", "error", err)
		return
	}
	m.logger.Info("config reloaded")
}
