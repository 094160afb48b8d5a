package calls

import (
	"context"
	"fmt"

	"call-signaling/pkg/utils"
)

// The calls table references users(id); run identity.Migrate first.
var callsSchema = map[utils.Dialect][]string{
	utils.DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	caller_id   TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	receiver_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	room_id     TEXT NOT NULL,
	call_type   TEXT NOT NULL DEFAULT 'video' CHECK (call_type IN ('audio', 'video')),
	status      TEXT NOT NULL DEFAULT 'initiated'
	            CHECK (status IN ('initiated', 'ringing', 'accepted', 'rejected', 'ended', 'missed')),
	started_at  TIMESTAMPTZ,
	ended_at    TIMESTAMPTZ,
	duration    INTEGER,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	CONSTRAINT calls_room_id_key UNIQUE (room_id),
	CONSTRAINT calls_distinct_participants CHECK (caller_id <> receiver_id)
)`,
		`CREATE INDEX IF NOT EXISTS calls_caller_receiver_idx ON calls (caller_id, receiver_id)`,
		`CREATE INDEX IF NOT EXISTS calls_receiver_idx ON calls (receiver_id)`,
		`CREATE INDEX IF NOT EXISTS calls_status_idx ON calls (status)`,
		`CREATE INDEX IF NOT EXISTS calls_created_at_idx ON calls (created_at)`,
	},
	utils.DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	caller_id   TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	receiver_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	room_id     TEXT NOT NULL UNIQUE,
	call_type   TEXT NOT NULL DEFAULT 'video' CHECK (call_type IN ('audio', 'video')),
	status      TEXT NOT NULL DEFAULT 'initiated'
	            CHECK (status IN ('initiated', 'ringing', 'accepted', 'rejected', 'ended', 'missed')),
	started_at  DATETIME,
	ended_at    DATETIME,
	duration    INTEGER,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	CHECK (caller_id <> receiver_id)
)`,
		`CREATE INDEX IF NOT EXISTS calls_caller_receiver_idx ON calls (caller_id, receiver_id)`,
		`CREATE INDEX IF NOT EXISTS calls_receiver_idx ON calls (receiver_id)`,
		`CREATE INDEX IF NOT EXISTS calls_status_idx ON calls (status)`,
		`CREATE INDEX IF NOT EXISTS calls_created_at_idx ON calls (created_at)`,
	},
}

// Migrate creates the calls table and its indexes.
func Migrate(ctx context.Context, db *utils.DB) error {
	stmts, ok := callsSchema[db.Dialect]
	if !ok {
		return fmt.Errorf("calls: unsupported dialect %q", db.Dialect)
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("calls: migrate: %w", err)
		}
	}
	return nil
}
