package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/memory"
	"github.com/adalundhe/recall/core/vectorstore/embedder"
)

var migrations = []database.Migration{
	{
		Version:     1,
		Description: "vectors table",
		Up: database.Statements(
			`CREATE TABLE IF NOT EXISTS vectors (
				id         TEXT PRIMARY KEY,
				dimension  INTEGER NOT NULL,
				embedding  BLOB NOT NULL,
				metadata   TEXT NOT NULL DEFAULT '{}'
			)`,
		),
	},
}

// SQLiteStore is the modern backend: vectors persist in sqlite and are
// searched from an in-memory copy loaded at open.
type SQLiteStore struct {
	pool     *database.Pool
	embedder embedder.Embedder
	index    *flatIndex
	logger   *slog.Logger
}

func OpenSQLiteStore(ctx context.Context, pool *database.Pool, emb embedder.Embedder, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := database.NewMigrator(pool, migrations).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate vectors: %w", err)
	}

	s := &SQLiteStore{
		pool:     pool,
		embedder: emb,
		index:    newFlatIndex(emb.Dimension()),
		logger:   logger,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads every stored vector. Rows written with a different embedding
// dimension are skipped; they are replaced on the record's next upsert.
func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, "SELECT id, dimension, embedding, metadata FROM vectors")
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var (
			id, metaJSON string
			dim          int
			blob         []byte
		)
		if err := rows.Scan(&id, &dim, &blob, &metaJSON); err != nil {
			return fmt.Errorf("scan vector: %w", err)
		}
		if dim != s.index.dimension {
			skipped++
			continue
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return fmt.Errorf("decode metadata for %q: %w", id, err)
		}
		if err := s.index.put(id, decodeVector(blob), meta); err != nil {
			return fmt.Errorf("load %q: %w", id, err)
		}
	}
	if skipped > 0 {
		s.logger.Warn("skipped vectors with stale dimension", "count", skipped, "dimension", s.index.dimension)
	}
	return rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, id, text string, meta Metadata) error {
	return s.UpsertBatch(ctx, []Item{{ID: id, Text: text, Meta: meta}})
}

// UpsertBatch embeds all items in one call and writes them in one
// transaction before publishing them to the in-memory index.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, items []Item) error {
	vectors, err := embedItems(ctx, s.embedder, items)
	if err != nil {
		return err
	}
	for i, vec := range vectors {
		if len(vec) != s.index.dimension {
			return fmt.Errorf("upsert %q: %w", items[i].ID, ErrDimensionMismatch)
		}
	}

	err = s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vectors (id, dimension, embedding, metadata) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				dimension = excluded.dimension,
				embedding = excluded.embedding,
				metadata = excluded.metadata`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, item := range items {
			meta, err := json.Marshal(item.Meta)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, item.ID, len(vectors[i]), encodeVector(vectors[i]), string(meta)); err != nil {
				return fmt.Errorf("write %q: %w", item.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}

	for i, item := range items {
		_ = s.index.put(item.ID, vectors[i], item.Meta)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM vectors WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete vector %q: %w", id, err)
	}
	s.index.remove(id)
	return nil
}

func (s *SQLiteStore) SimilarityQuery(ctx context.Context, text string, k int, threshold float64, filters memory.Filters) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.index.search(vec, k, threshold, filters)
}

func (s *SQLiteStore) Len() int {
	return s.index.len()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
