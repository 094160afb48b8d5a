package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-signaling/pkg/utils"
)

// SQLRepo stores calls in Postgres or SQLite.
//
// UpdateIfStatus is a compare-and-swap (UPDATE ... WHERE id = $1 AND status = $2)
// and a read of the row in the same transaction. The winner's row lock is held
// until commit, so the read returns exactly what it wrote.
type SQLRepo struct {
	db *utils.DB
}

func NewSQLRepo(db *utils.DB) *SQLRepo { return &SQLRepo{db: db} }

const callColumns = `id, room_id, caller_id, receiver_id, call_type, status, started_at, ended_at, duration, metadata, created_at, updated_at`

func (r *SQLRepo) q(query string) string { return r.db.Dialect.Rebind(query) }

func (r *SQLRepo) Create(ctx context.Context, c Call) (Call, error) {
	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	meta := string(c.Metadata)
	if meta == "" {
		meta = "{}"
	}
	_, err := r.db.ExecContext(ctx, r.q(q),
		c.ID,
		c.RoomID,
		c.CallerID,
		c.ReceiverID,
		string(c.Type),
		string(c.Status),
		nullTime(c.StartedAt),
		nullTime(c.EndedAt),
		nullInt(c.Duration),
		meta,
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	if err != nil {
		if utils.IsUniqueViolation(err) && strings.Contains(err.Error(), "room_id") {
			return Call{}, ErrDuplicateRoomID
		}
		return Call{}, fmt.Errorf("insert call: %w", err)
	}
	return r.FindByID(ctx, c.ID)
}

func (r *SQLRepo) FindByID(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return r.findOne(ctx, q, id)
}

func (r *SQLRepo) FindByRoomID(ctx context.Context, roomID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE room_id = $1`
	return r.findOne(ctx, q, roomID)
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepo) findOne(ctx context.Context, q string, arg string) (Call, error) {
	return r.findOneIn(ctx, r.db, q, arg)
}

func (r *SQLRepo) findOneIn(ctx context.Context, db rowQuerier, q string, arg string) (Call, error) {
	c, err := scanCall(db.QueryRowContext(ctx, r.q(q), arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, fmt.Errorf("find call: %w", err)
	}
	return c, nil
}

func (r *SQLRepo) UpdateIfStatus(ctx context.Context, id string, expected Status, p Patch) (Call, error) {
	const q = `
UPDATE calls
SET status = $3,
    started_at = COALESCE($4, started_at),
    ended_at = COALESCE($5, ended_at),
    duration = COALESCE($6, duration),
    updated_at = $7
WHERE id = $1 AND status = $2
`
	const byID = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`

	var out Call
	err := utils.WithTx(ctx, r.db.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(q),
			id,
			string(expected),
			string(p.Status),
			nullTime(p.StartedAt),
			nullTime(p.EndedAt),
			nullInt(p.Duration),
			p.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("update call: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update call: %w", err)
		}

		current, err := r.findOneIn(ctx, tx, byID, id)
		if err != nil {
			return err
		}
		if n != 1 {
			// Someone else moved it first.
			return ErrConflict
		}
		out = current
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (r *SQLRepo) ListActiveForUser(ctx context.Context, userID string) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls
WHERE (caller_id = $1 OR receiver_id = $1) AND status IN (` + activeStatusList() + `)
ORDER BY created_at DESC, id DESC`
	return r.list(ctx, q, userID)
}

func (r *SQLRepo) ListHistoryForUser(ctx context.Context, userID string, page Page) (PageResult, error) {
	page = page.Normalize()

	const countQ = `SELECT COUNT(*) FROM calls WHERE caller_id = $1 OR receiver_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, r.q(countQ), userID).Scan(&total); err != nil {
		return PageResult{}, fmt.Errorf("count calls: %w", err)
	}

	const q = `SELECT ` + callColumns + ` FROM calls
WHERE caller_id = $1 OR receiver_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	data, err := r.list(ctx, q, userID, page.PerPage, page.Offset())
	if err != nil {
		return PageResult{}, err
	}
	return PageResult{Data: data, Page: page.Page, PerPage: page.PerPage, Total: total}, nil
}

func (r *SQLRepo) ListStaleInitiated(ctx context.Context, cutoff time.Time, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + callColumns + ` FROM calls
WHERE status = $1 AND created_at < $2
ORDER BY created_at ASC, id ASC
LIMIT $3`
	return r.list(ctx, q, string(StatusInitiated), cutoff.UTC(), limit)
}

func (r *SQLRepo) list(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, r.q(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := []Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c                  Call
		callType, status   string
		startedAt, endedAt sql.NullTime
		duration           sql.NullInt64
		metadata           sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.RoomID,
		&c.CallerID,
		&c.ReceiverID,
		&callType,
		&status,
		&startedAt,
		&endedAt,
		&duration,
		&metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	c.Type = CallType(callType)
	c.Status = Status(status)
	c.StartedAt = timePtr(startedAt)
	c.EndedAt = timePtr(endedAt)
	if duration.Valid {
		d := int(duration.Int64)
		c.Duration = &d
	}
	c.Metadata = json.RawMessage("{}")
	if metadata.Valid && metadata.String != "" {
		c.Metadata = json.RawMessage(metadata.String)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func activeStatusList() string {
	parts := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		parts[i] = "'" + string(s) + "'"
	}
	return strings.Join(parts, ", ")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
