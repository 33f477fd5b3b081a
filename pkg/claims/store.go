package claims

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// Document is the stored state of a user document.
type Document struct {
	UID                   string
	EmailVerified         bool
	TokenRefreshedAt      time.Time
	LastVerificationCheck time.Time
}

// SQLiteDocuments stores user documents in a SQLite table.
type SQLiteDocuments struct {
	db *sql.DB
}

// NewSQLiteDocuments ensures the users table exists on the connection.
func NewSQLiteDocuments(ctx context.Context, db *sql.DB) (*SQLiteDocuments, error) {
	_, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS users (
			uid TEXT NOT NULL PRIMARY KEY,
			email_verified INTEGER NOT NULL DEFAULT 0,
			token_refreshed_at INTEGER,
			last_verification_check INTEGER
		) WITHOUT ROWID;`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create users table")
	}
	return &SQLiteDocuments{db: db}, nil
}

func (s *SQLiteDocuments) Update(ctx context.Context, uid string, u DocumentUpdate) error {
	// COALESCE keeps the current value for fields that aren't part of the update
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (uid, email_verified, token_refreshed_at, last_verification_check)
		VALUES (?, COALESCE(?, 0), ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			email_verified = COALESCE(?, email_verified),
			token_refreshed_at = COALESCE(?, token_refreshed_at),
			last_verification_check = COALESCE(?, last_verification_check)`,
		uid, nullBool(u.EmailVerified), nullMillis(u.TokenRefreshedAt), nullMillis(u.LastVerificationCheck),
		nullBool(u.EmailVerified), nullMillis(u.TokenRefreshedAt), nullMillis(u.LastVerificationCheck),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update user document %s", uid)
	}
	return nil
}

// Get returns the user document, or nil if there's none.
func (s *SQLiteDocuments) Get(ctx context.Context, uid string) (*Document, error) {
	var (
		doc                  Document
		verified             int64
		refreshed, lastCheck sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, email_verified, token_refreshed_at, last_verification_check FROM users WHERE uid = ?`,
		uid,
	).Scan(&doc.UID, &verified, &refreshed, &lastCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load user document %s", uid)
	}
	doc.EmailVerified = verified != 0
	if refreshed.Valid {
		doc.TokenRefreshedAt = time.UnixMilli(refreshed.Int64)
	}
	if lastCheck.Valid {
		doc.LastVerificationCheck = time.UnixMilli(lastCheck.Int64)
	}
	return &doc, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
