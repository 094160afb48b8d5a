package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-signaling/pkg/utils"
)

// SQLDirectory reads and writes the users table.
type SQLDirectory struct {
	db    *utils.DB
	clock func() time.Time
}

func NewSQLDirectory(db *utils.DB) *SQLDirectory {
	return &SQLDirectory{db: db, clock: time.Now}
}

var usersSchema = map[utils.Dialect][]string{
	utils.DialectPostgres: {`
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	email             TEXT,
	profile_photo_url TEXT,
	device_token      TEXT,
	device_platform   TEXT CHECK (device_platform IN ('ios', 'android', 'web')),
	is_online         BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen         TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	utils.DialectSQLite: {`
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	email             TEXT,
	profile_photo_url TEXT,
	device_token      TEXT,
	device_platform   TEXT CHECK (device_platform IN ('ios', 'android', 'web')),
	is_online         INTEGER NOT NULL DEFAULT 0,
	last_seen         DATETIME,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
}

// Migrate creates the users table if it does not exist.
func Migrate(ctx context.Context, db *utils.DB) error {
	stmts, ok := usersSchema[db.Dialect]
	if !ok {
		return fmt.Errorf("identity: unsupported dialect %q", db.Dialect)
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("identity: migrate: %w", err)
		}
	}
	return nil
}

// Create inserts a user. Used for seeding and tests; user management lives elsewhere.
func (d *SQLDirectory) Create(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Name) == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO users (id, name, email, profile_photo_url, device_token, device_platform, is_online, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	var lastSeen any
	if u.LastSeen != nil {
		lastSeen = u.LastSeen.UTC()
	}
	_, err := d.db.ExecContext(ctx, d.db.Dialect.Rebind(q),
		u.ID,
		u.Name,
		nullString(u.Email),
		nullString(u.PhotoURL),
		nullString(u.DeviceToken),
		nullString(string(u.Platform)),
		u.IsOnline,
		lastSeen,
	)
	if err != nil {
		return fmt.Errorf("identity: create user: %w", err)
	}
	return nil
}

func (d *SQLDirectory) FindByID(ctx context.Context, id string) (User, error) {
	const q = `
SELECT id, name, email, profile_photo_url, device_token, device_platform, is_online, last_seen
FROM users
WHERE id = $1
`
	var (
		u                             User
		email, photo, token, platform sql.NullString
		lastSeen                      sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, d.db.Dialect.Rebind(q), id).Scan(
		&u.ID,
		&u.Name,
		&email,
		&photo,
		&token,
		&platform,
		&u.IsOnline,
		&lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("identity: find user: %w", err)
	}
	u.Email = email.String
	u.PhotoURL = photo.String
	u.DeviceToken = token.String
	u.Platform = Platform(platform.String)
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		u.LastSeen = &t
	}
	return u, nil
}

func (d *SQLDirectory) SetPushAddress(ctx context.Context, id, token string, platform Platform) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" || !platform.Valid() {
		return User{}, ErrInvalidArgument
	}
	const q = `
UPDATE users
SET device_token = $2, device_platform = $3, is_online = $4, last_seen = $5
WHERE id = $1
`
	if err := d.update(ctx, q, id, token, string(platform), true, d.clock().UTC()); err != nil {
		return User{}, err
	}
	return d.FindByID(ctx, id)
}

func (d *SQLDirectory) SetOnlineStatus(ctx context.Context, id string, online bool) (User, error) {
	const q = `
UPDATE users
SET is_online = $2, last_seen = $3
WHERE id = $1
`
	if err := d.update(ctx, q, id, online, d.clock().UTC()); err != nil {
		return User{}, err
	}
	return d.FindByID(ctx, id)
}

func (d *SQLDirectory) update(ctx context.Context, q string, args ...any) error {
	res, err := d.db.ExecContext(ctx, d.db.Dialect.Rebind(q), args...)
	if err != nil {
		return fmt.Errorf("identity: update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("identity: update user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
