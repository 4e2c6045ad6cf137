package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration moves a database from Version-1 to Version.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Statements builds an Up func that runs each statement in order.
func Statements(stmts ...string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

type Migrator struct {
	pool       *Pool
	migrations []Migration
}

func NewMigrator(pool *Pool, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return &Migrator{
		pool:       pool,
		migrations: sorted,
	}
}

// Migrate applies every migration above the stored user_version, each in
// its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	currentVersion, err := m.pool.Version(ctx)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	return m.pool.Transaction(ctx, func(tx *sql.Tx) error {
		if err := migration.Up(tx); err != nil {
			return err
		}

		_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version))
		return err
	})
}

func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	currentVersion, err := m.pool.Version(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if migration.Version > currentVersion {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}
