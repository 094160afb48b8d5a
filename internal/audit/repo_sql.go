package audit

import (
	"context"
	"database/sql"
	"fmt"

	"call-signaling/pkg/utils"
)

// SQLRepo stores events in call_events. It only ever INSERTs.
type SQLRepo struct {
	db *utils.DB
}

func NewSQLRepo(db *utils.DB) *SQLRepo { return &SQLRepo{db: db} }

var eventsSchema = map[utils.Dialect][]string{
	utils.DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS call_events (
	id            TEXT PRIMARY KEY,
	call_id       TEXT NOT NULL,
	type          TEXT NOT NULL,
	actor_user_id TEXT,
	ip_address    TEXT,
	from_status   TEXT,
	to_status     TEXT NOT NULL,
	message       TEXT,
	metadata      TEXT,
	created_at    TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS call_events_call_id_idx ON call_events (call_id, created_at)`,
	},
	utils.DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS call_events (
	id            TEXT PRIMARY KEY,
	call_id       TEXT NOT NULL,
	type          TEXT NOT NULL,
	actor_user_id TEXT,
	ip_address    TEXT,
	from_status   TEXT,
	to_status     TEXT NOT NULL,
	message       TEXT,
	metadata      TEXT,
	created_at    DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS call_events_call_id_idx ON call_events (call_id, created_at)`,
	},
}

// Migrate creates the call_events table.
func Migrate(ctx context.Context, db *utils.DB) error {
	stmts, ok := eventsSchema[db.Dialect]
	if !ok {
		return fmt.Errorf("audit: unsupported dialect %q", db.Dialect)
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, call_id, type, actor_user_id, ip_address, from_status, to_status, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(q),
		e.ID,
		e.CallID,
		string(e.Type),
		nullable(e.ActorUserID),
		nullable(e.IPAddress),
		nullable(e.FromStatus),
		e.ToStatus,
		nullable(e.Message),
		nullable(e.Metadata),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *SQLRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, call_id, type, actor_user_id, ip_address, from_status, to_status, message, metadata, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(q), callID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                                  Event
			actor, ip, from, message, metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.Type, &actor, &ip, &from, &e.ToStatus, &message, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.ActorUserID = actor.String
		e.IPAddress = ip.String
		e.FromStatus = from.String
		e.Message = message.String
		e.Metadata = metadata.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
