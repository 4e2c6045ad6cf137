// Package graphstore persists the entity/relationship graph extracted from
// records.
package graphstore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/memory"
	"github.com/google/uuid"
)

var (
	ErrEmptyName        = errors.New("entity name cannot be empty")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrMissingEndpoints = errors.New("relationship endpoints required")
)

// EntityMatch is an entity search result.
type EntityMatch struct {
	Entity    memory.Entity
	Relevance float64
}

type Store struct {
	pool *database.Pool
	now  func() time.Time
}

func Open(ctx context.Context, pool *database.Pool) (*Store, error) {
	if err := database.NewMigrator(pool, migrations).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate graph: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// NameKey is the case- and space-insensitive form entities are matched on.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// =============================================================================
// Entities
// =============================================================================

// UpsertEntity creates the entity or, when one with the same name exists,
// attaches e.MemoryIDs to it. Confidence only grows, and a typed entity is
// never downgraded to "other".
func (s *Store) UpsertEntity(ctx context.Context, e memory.Entity) (memory.Entity, error) {
	key := NameKey(e.Name)
	if key == "" {
		return memory.Entity{}, ErrEmptyName
	}
	if !e.Type.IsValid() {
		e.Type = memory.EntityOther
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now().UnixNano()

	var id string
	err := s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, name_key, type, confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name_key) DO UPDATE SET
				confidence = max(entities.confidence, excluded.confidence),
				type = CASE WHEN entities.type = 'other' THEN excluded.type ELSE entities.type END,
				updated_at = excluded.updated_at`,
			e.ID, strings.TrimSpace(e.Name), key, string(e.Type), memory.Clamp01(e.Confidence), now, now)
		if err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}

		if err := tx.QueryRowContext(ctx, "SELECT id FROM entities WHERE name_key = ?", key).Scan(&id); err != nil {
			return fmt.Errorf("resolve entity id: %w", err)
		}

		for _, memoryID := range e.MemoryIDs {
			if memoryID == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO entity_memories (entity_id, memory_id) VALUES (?, ?)", id, memoryID); err != nil {
				return fmt.Errorf("link memory %q: %w", memoryID, err)
			}
		}
		return nil
	})
	if err != nil {
		return memory.Entity{}, err
	}

	out, ok, err := s.GetEntity(ctx, id)
	if err != nil {
		return memory.Entity{}, err
	}
	if !ok {
		return memory.Entity{}, ErrEntityNotFound
	}
	return out, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (memory.Entity, bool, error) {
	return s.getEntityWhere(ctx, "id = ?", id)
}

// FindEntityByName looks an entity up by NameKey.
func (s *Store) FindEntityByName(ctx context.Context, name string) (memory.Entity, bool, error) {
	key := NameKey(name)
	if key == "" {
		return memory.Entity{}, false, nil
	}
	return s.getEntityWhere(ctx, "name_key = ?", key)
}

func (s *Store) getEntityWhere(ctx context.Context, where string, arg any) (memory.Entity, bool, error) {
	row := s.pool.QueryRow(ctx, "SELECT id, name, type, confidence FROM entities WHERE "+where, arg)

	var (
		e   memory.Entity
		typ string
	)
	err := row.Scan(&e.ID, &e.Name, &typ, &e.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Entity{}, false, nil
	}
	if err != nil {
		return memory.Entity{}, false, fmt.Errorf("get entity: %w", err)
	}
	e.Type = memory.ParseEntityType(typ)

	ids, err := s.memoryIDs(ctx, e.ID)
	if err != nil {
		return memory.Entity{}, false, err
	}
	e.MemoryIDs = ids
	return e, true, nil
}

// memoryIDs returns linked record ids in link order.
func (s *Store) memoryIDs(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT memory_id FROM entity_memories WHERE entity_id = ? ORDER BY rowid", entityID)
	if err != nil {
		return nil, fmt.Errorf("memory ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EntitiesForMemory returns the entities linked to a record.
func (s *Store) EntitiesForMemory(ctx context.Context, memoryID string) ([]memory.Entity, error) {
	ids, err := s.queryIDs(ctx,
		"SELECT e.id FROM entities e JOIN entity_memories m ON m.entity_id = e.id WHERE m.memory_id = ? ORDER BY e.name_key",
		memoryID)
	if err != nil {
		return nil, err
	}
	return s.loadEntities(ctx, ids)
}

// ListEntities returns entities ordered by name. limit <= 0 means all.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]memory.Entity, error) {
	q := "SELECT id FROM entities ORDER BY name_key"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	ids, err := s.queryIDs(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return s.loadEntities(ctx, ids)
}

func (s *Store) queryIDs(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) loadEntities(ctx context.Context, ids []string) ([]memory.Entity, error) {
	out := make([]memory.Entity, 0, len(ids))
	for _, id := range ids {
		e, ok, err := s.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// Search
// =============================================================================

const (
	relevanceExact    = 1.0
	relevanceContains = 0.9
	relevancePrefix   = 0.8
	relevancePartial  = 0.6
)

// SearchEntities finds entities whose name equals the query, appears as a
// whole phrase inside it, or contains it. Results are ordered by relevance,
// then confidence, then name.
func (s *Store) SearchEntities(ctx context.Context, text string, limit int) ([]EntityMatch, error) {
	query := NameKey(text)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name_key, confidence FROM entities
		WHERE name_key = ?1
		   OR instr(?1, name_key) > 0
		   OR name_key LIKE ?2 ESCAPE '\'`,
		query, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	type candidate struct {
		id         string
		key        string
		confidence float64
		relevance  float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.key, &c.confidence); err != nil {
			rows.Close()
			return nil, err
		}
		c.relevance = relevance(query, c.key)
		if c.relevance > 0 {
			candidates = append(candidates, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.relevance, a.relevance); c != 0 {
			return c
		}
		if c := cmp.Compare(b.confidence, a.confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]EntityMatch, 0, len(candidates))
	for _, c := range candidates {
		e, ok, err := s.GetEntity(ctx, c.id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, EntityMatch{Entity: e, Relevance: c.relevance})
		}
	}
	return out, nil
}

// relevance scores an entity key against a query key. Substring hits inside
// a word ("go" in "mongo") score zero.
func relevance(query, key string) float64 {
	switch {
	case query == key:
		return relevanceExact
	case containsPhrase(query, key):
		return relevanceContains
	case strings.HasPrefix(key, query) && wordBoundary(key, len(query)):
		return relevancePrefix
	case containsPhrase(key, query):
		return relevancePartial
	default:
		return 0
	}
}

// containsPhrase reports whether needle occurs in haystack on word
// boundaries.
func containsPhrase(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if wordBoundary(haystack, start) && wordBoundary(haystack, end) {
			return true
		}
		from = start + 1
	}
}

func wordBoundary(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	return !isWordByte(s[i-1]) || !isWordByte(s[i])
}

func isWordByte(b byte) bool {
	return b >= 0x80 || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b)) || b == '_'
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// Relationships
// =============================================================================

// UpsertRelationship stores r keyed by (from, to, type). It reports false,
// without error, when either endpoint entity does not exist. Strength and
// confidence keep the larger of the stored and new values.
func (s *Store) UpsertRelationship(ctx context.Context, r memory.Relationship) (memory.Relationship, bool, error) {
	if r.FromEntityID == "" || r.ToEntityID == "" {
		return memory.Relationship{}, false, ErrMissingEndpoints
	}
	if !r.Type.IsValid() {
		r.Type = memory.RelationRelatedTo
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	var (
		out   memory.Relationship
		found bool
	)
	err := s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM entities WHERE id IN (?, ?)", r.FromEntityID, r.ToEntityID).Scan(&n); err != nil {
			return err
		}
		want := 2
		if r.FromEntityID == r.ToEntityID {
			want = 1
		}
		if n < want {
			return nil
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (id, from_entity_id, to_entity_id, type, strength, confidence)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(from_entity_id, to_entity_id, type) DO UPDATE SET
				strength = max(relationships.strength, excluded.strength),
				confidence = max(relationships.confidence, excluded.confidence)`,
			r.ID, r.FromEntityID, r.ToEntityID, string(r.Type),
			memory.Clamp01(r.Strength), memory.Clamp01(r.Confidence))
		if err != nil {
			return fmt.Errorf("upsert relationship: %w", err)
		}

		rows, err := tx.QueryContext(ctx, relationshipSelect+
			" WHERE from_entity_id = ? AND to_entity_id = ? AND type = ?",
			r.FromEntityID, r.ToEntityID, string(r.Type))
		if err != nil {
			return err
		}
		defer rows.Close()
		rels, err := scanRelationships(rows)
		if err != nil {
			return err
		}
		if len(rels) == 1 {
			out, found = rels[0], true
		}
		return nil
	})
	if err != nil {
		return memory.Relationship{}, false, err
	}
	return out, found, nil
}

const relationshipSelect = "SELECT id, from_entity_id, to_entity_id, type, strength, confidence FROM relationships"

// ListRelationshipsForEntity returns the entity's edges in the given
// direction, strongest first.
func (s *Store) ListRelationshipsForEntity(ctx context.Context, id string, dir memory.Direction) ([]memory.Relationship, error) {
	var (
		where string
		args  []any
	)
	switch dir {
	case memory.DirectionOutgoing:
		where, args = "from_entity_id = ?", []any{id}
	case memory.DirectionIncoming:
		where, args = "to_entity_id = ?", []any{id}
	default:
		where, args = "from_entity_id = ? OR to_entity_id = ?", []any{id, id}
	}

	rows, err := s.pool.Query(ctx, relationshipSelect+" WHERE "+where+" ORDER BY strength DESC, id", args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// ListRelationships returns every relationship. limit <= 0 means all.
func (s *Store) ListRelationships(ctx context.Context, limit int) ([]memory.Relationship, error) {
	q := relationshipSelect + " ORDER BY from_entity_id, to_entity_id, type"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func scanRelationships(rows *sql.Rows) ([]memory.Relationship, error) {
	var out []memory.Relationship
	for rows.Next() {
		var (
			r   memory.Relationship
			typ string
		)
		if err := rows.Scan(&r.ID, &r.FromEntityID, &r.ToEntityID, &typ, &r.Strength, &r.Confidence); err != nil {
			return nil, err
		}
		r.Type = memory.ParseRelationType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns the number of entities and relationships.
func (s *Store) Counts(ctx context.Context) (entities, relationships int, err error) {
	if err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM entities").Scan(&entities); err != nil {
		return 0, 0, err
	}
	if err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM relationships").Scan(&relationships); err != nil {
		return 0, 0, err
	}
	return entities, relationships, nil
}
