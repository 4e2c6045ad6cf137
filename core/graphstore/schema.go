package graphstore

import "github.com/adalundhe/recall/core/database"

var migrations = []database.Migration{
	{
		Version:     1,
		Description: "entities, memory links and relationships",
		Up: database.Statements(
			`CREATE TABLE IF NOT EXISTS entities (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				name_key    TEXT NOT NULL UNIQUE,
				type        TEXT NOT NULL,
				confidence  REAL NOT NULL,
				created_at  INTEGER NOT NULL,
				updated_at  INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS entity_memories (
				entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				memory_id  TEXT NOT NULL,
				PRIMARY KEY (entity_id, memory_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_entity_memories_memory ON entity_memories(memory_id)`,
			`CREATE TABLE IF NOT EXISTS relationships (
				id              TEXT PRIMARY KEY,
				from_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				to_entity_id    TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
				type            TEXT NOT NULL,
				strength        REAL NOT NULL,
				confidence      REAL NOT NULL,
				UNIQUE (from_entity_id, to_entity_id, type)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_entity_id)`,
		),
	},
}
