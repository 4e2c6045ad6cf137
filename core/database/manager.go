// Package database opens and migrates the sqlite files behind the text and
// graph stores.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adalundhe/recall/core/storage"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver selects the sqlite implementation.
type Driver string

const (
	// DriverCGO is mattn/go-sqlite3.
	DriverCGO Driver = "sqlite3"
	// DriverPure is modernc.org/sqlite, usable without a C toolchain.
	DriverPure Driver = "sqlite"
)

var (
	ErrUnknownDriver = errors.New("unknown sqlite driver")
	ErrPoolClosed    = errors.New("database pool closed")
)

// ParseDriver accepts the config spellings of a driver.
func ParseDriver(value string) (Driver, error) {
	switch value {
	case "", "sqlite3", "cgo", "mattn":
		return DriverCGO, nil
	case "sqlite", "pure", "modernc":
		return DriverPure, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, value)
	}
}

type Manager struct {
	dirs  *storage.Dirs
	pools map[string]*Pool
	mu    sync.RWMutex
}

type Pool struct {
	db     *sql.DB
	path   string
	config PoolConfig
	mu     sync.RWMutex
}

type PoolConfig struct {
	Driver      Driver
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
	ForeignKeys bool
	CacheSize   int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Driver:      DriverCGO,
		MaxOpen:     8,
		MaxIdle:     4,
		MaxLifetime: time.Hour,
		BusyTimeout: 5 * time.Second,
		ForeignKeys: true,
		CacheSize:   -2000,
	}
}

func NewManager(dirs *storage.Dirs) *Manager {
	return &Manager{
		dirs:  dirs,
		pools: make(map[string]*Pool),
	}
}

// Open returns the pool for name, opening it on first use. Relative names
// resolve to <data>/<name>.db.
func (m *Manager) Open(name string, config PoolConfig) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[name]; ok {
		return pool, nil
	}

	path := m.resolvePath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	pool, err := OpenPool(path, config)
	if err != nil {
		return nil, err
	}

	m.pools[name] = pool
	return pool, nil
}

func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[name]
	return pool, ok
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, pool := range m.pools {
		if err := pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(m.pools, name)
	}
	return errors.Join(errs...)
}

func (m *Manager) resolvePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return m.dirs.DataDir(name + ".db")
}

// OpenPool opens a single sqlite file outside of a Manager.
func OpenPool(path string, config PoolConfig) (*Pool, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverCGO
	}

	db, err := sql.Open(string(driver), buildDSN(driver, path, config))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{
		db:     db,
		path:   path,
		config: config,
	}, nil
}

// buildDSN renders pragmas in each driver's own query syntax.
func buildDSN(driver Driver, path string, config PoolConfig) string {
	busy := int(config.BusyTimeout.Milliseconds())
	fk := boolToInt(config.ForeignKeys)

	if driver == DriverPure {
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(%d)&_pragma=cache_size(%d)",
			path, busy, fk, config.CacheSize)
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=%d&cache_size=%d",
		path, busy, fk, config.CacheSize)
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

func (p *Pool) Path() string {
	return p.path
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Pool) handle() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db, nil
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// QueryRow panics on a closed pool the same way database/sql does on a
// closed DB; callers check Close ordering.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

func (p *Pool) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := p.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (p *Pool) Version(ctx context.Context) (int, error) {
	var version int
	err := p.QueryRow(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

func (p *Pool) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := p.QueryRow(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
