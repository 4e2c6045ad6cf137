package textstore

import "github.com/adalundhe/recall/core/database"

var migrations = []database.Migration{
	{
		Version:     1,
		Description: "records table",
		Up: database.Statements(
			`CREATE TABLE IF NOT EXISTS records (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL,
				body        TEXT NOT NULL DEFAULT '',
				kind        TEXT NOT NULL,
				tags        TEXT NOT NULL DEFAULT '[]',
				attributes  TEXT NOT NULL DEFAULT '{}',
				created_at  INTEGER NOT NULL,
				updated_at  INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind)`,
		),
	},
}
