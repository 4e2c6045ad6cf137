// Package textstore is the authoritative record store: rows in sqlite with a
// bleve full-text index kept alongside.
package textstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/memory"
)

var (
	ErrEmptyID  = errors.New("record id cannot be empty")
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
)

const recordColumns = "id, title, body, kind, tags, attributes, created_at, updated_at"

type Store struct {
	pool   *database.Pool
	index  *Index
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open migrates the records table and opens the full-text index. A freshly
// created index is rebuilt from the table.
func Open(ctx context.Context, pool *database.Pool, indexPath string, opts ...Option) (*Store, error) {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := database.NewMigrator(pool, migrations).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate records: %w", err)
	}

	index, err := OpenIndex(indexPath)
	if err != nil {
		return nil, err
	}
	s.index = index

	if index.Created() {
		if err := s.Reindex(ctx); err != nil {
			index.Close()
			return nil, err
		}
	}
	return s, nil
}

// Put inserts or replaces r. The row and the index entry are written
// together; if indexing fails the row is rolled back.
func (s *Store) Put(ctx context.Context, r memory.Record) error {
	err := s.write(ctx, r, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			kind = excluded.kind,
			tags = excluded.tags,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("put record %q: %w", r.ID, err)
	}
	return nil
}

// Insert stores r only if no record has its id, returning ErrExists
// otherwise. The existence check and the write share one transaction.
func (s *Store) Insert(ctx context.Context, r memory.Record) error {
	err := s.write(ctx, r, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("insert record %q: %w", r.ID, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, r memory.Record, stmt string) error {
	if r.ID == "" {
		return ErrEmptyID
	}

	tags, err := json.Marshal(nonNilTags(r.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	attrs, err := json.Marshal(nonNilAttrs(r.Attributes))
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	return s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, stmt,
			r.ID, r.Title, r.Body, string(r.Kind), string(tags), string(attrs),
			r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		if n == 0 {
			return ErrExists
		}
		return s.index.Index(ctx, r)
	})
}

func (s *Store) Get(ctx context.Context, id string) (memory.Record, bool, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, false, nil
	}
	if err != nil {
		return memory.Record{}, false, fmt.Errorf("get record %q: %w", id, err)
	}
	return r, true, nil
}

// GetMany loads the records for ids. Unknown ids are absent from the map.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]memory.Record, error) {
	out := make(map[string]memory.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.pool.Query(ctx, "SELECT "+recordColumns+" FROM records WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// Delete removes the row and its index entry. It reports false when the id
// was not stored.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	res, err := s.pool.Exec(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete record %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if err := s.index.Delete(ctx, id); err != nil {
		// the row is gone; a stale index entry is filtered out on read
		s.logger.Warn("full-text delete failed", "record_id", id, "error", err)
	}
	return true, nil
}

// FullTextQuery returns record ids ranked by the full-text index.
func (s *Store) FullTextQuery(ctx context.Context, text string, limit int, filters memory.Filters) ([]string, error) {
	return s.index.Search(ctx, text, limit, filters)
}

// FindByAttribute returns the most recently updated record whose attribute
// key equals value.
func (s *Store) FindByAttribute(ctx context.Context, key, value string) (memory.Record, bool, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM records WHERE json_extract(attributes, ?) = ? ORDER BY updated_at DESC LIMIT 1",
		"$."+key, value)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, false, nil
	}
	if err != nil {
		return memory.Record{}, false, fmt.Errorf("find by %s: %w", key, err)
	}
	return r, true, nil
}

// List returns records ordered by updated_at descending.
func (s *Store) List(ctx context.Context, limit int) ([]memory.Record, error) {
	q := "SELECT " + recordColumns + " FROM records ORDER BY updated_at DESC, id"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

// IndexedCount reports how many documents the full-text index holds.
func (s *Store) IndexedCount() (uint64, error) {
	return s.index.DocCount()
}

// Reindex rebuilds the full-text index from the table.
func (s *Store) Reindex(ctx context.Context) error {
	records, err := s.List(ctx, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	if err := s.index.Rebuild(ctx, records, 500); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	s.logger.Info("full-text index rebuilt", "records", len(records), "duration", time.Since(start))
	return nil
}

func (s *Store) Close() error {
	return s.index.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (memory.Record, error) {
	var (
		r                 memory.Record
		kind, tags, attrs string
		created, updated  int64
	)
	if err := row.Scan(&r.ID, &r.Title, &r.Body, &kind, &tags, &attrs, &created, &updated); err != nil {
		return memory.Record{}, err
	}
	r.Kind = memory.Kind(kind)
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return memory.Record{}, fmt.Errorf("decode tags for %q: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
		return memory.Record{}, fmt.Errorf("decode attributes for %q: %w", r.ID, err)
	}
	if len(r.Tags) == 0 {
		r.Tags = nil
	}
	if len(r.Attributes) == 0 {
		r.Attributes = nil
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return attrs
}
