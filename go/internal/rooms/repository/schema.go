package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects SQL flavour differences between the supported drivers.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	voting_system TEXT NOT NULL,
	time_units TEXT NOT NULL,
	complexity_values JSONB NOT NULL,
	time_values JSONB NOT NULL,
	dual_voting BOOLEAN NOT NULL DEFAULT TRUE,
	auto_reveal BOOLEAN NOT NULL DEFAULT FALSE,
	current_round INTEGER NOT NULL DEFAULT 1,
	current_description TEXT NOT NULL DEFAULT '',
	is_revealed BOOLEAN NOT NULL DEFAULT FALSE,
	created_by TEXT,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	is_creator BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at TIMESTAMPTZ NOT NULL,
	token TEXT NOT NULL DEFAULT ''
);

ALTER TABLE participants ADD COLUMN IF NOT EXISTS token TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_one_creator ON participants(room_id) WHERE is_creator;

CREATE TABLE IF NOT EXISTS votes (
	id BIGSERIAL PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	participant_id TEXT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
	round INTEGER NOT NULL,
	complexity_value TEXT,
	time_value TEXT,
	voted_at TIMESTAMPTZ NOT NULL,
	UNIQUE (participant_id, round)
);

CREATE INDEX IF NOT EXISTS idx_votes_room_round ON votes(room_id, round);

CREATE TABLE IF NOT EXISTS voting_history (
	id BIGSERIAL PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	round INTEGER NOT NULL,
	description TEXT NOT NULL,
	complexity_consensus TEXT,
	complexity_average TEXT,
	complexity_min TEXT,
	complexity_max TEXT,
	time_consensus TEXT,
	time_average TEXT,
	time_min TEXT,
	time_max TEXT,
	completed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (room_id, round)
);

CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	voting_system TEXT NOT NULL,
	time_units TEXT NOT NULL,
	complexity_values TEXT NOT NULL,
	time_values TEXT NOT NULL,
	dual_voting BOOLEAN NOT NULL DEFAULT 1,
	auto_reveal BOOLEAN NOT NULL DEFAULT 0,
	current_round INTEGER NOT NULL DEFAULT 1,
	current_description TEXT NOT NULL DEFAULT '',
	is_revealed BOOLEAN NOT NULL DEFAULT 0,
	created_by TEXT,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	is_creator BOOLEAN NOT NULL DEFAULT 0,
	joined_at TIMESTAMP NOT NULL,
	token TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_one_creator ON participants(room_id) WHERE is_creator;

CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	participant_id TEXT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
	round INTEGER NOT NULL,
	complexity_value TEXT,
	time_value TEXT,
	voted_at TIMESTAMP NOT NULL,
	UNIQUE (participant_id, round)
);

CREATE INDEX IF NOT EXISTS idx_votes_room_round ON votes(room_id, round);

CREATE TABLE IF NOT EXISTS voting_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	round INTEGER NOT NULL,
	description TEXT NOT NULL,
	complexity_consensus TEXT,
	complexity_average TEXT,
	complexity_min TEXT,
	complexity_max TEXT,
	time_consensus TEXT,
	time_average TEXT,
	time_min TEXT,
	time_max TEXT,
	completed_at TIMESTAMP NOT NULL,
	UNIQUE (room_id, round)
);

CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at);
`

// CreateSchema creates the tables and indexes if they do not exist yet.
func CreateSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var schema string
	switch dialect {
	case DialectPostgres:
		schema = postgresSchema
	case DialectSQLite:
		schema = sqliteSchema
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
