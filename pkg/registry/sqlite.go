package registry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"medremind/pkg/reminders"
)

const busyTimeoutMs = 2000

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file and ensures the schema exists.
func OpenSQLite(ctx context.Context, file string) (*SQLite, error) {
	db, err := ConnectDB(file)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an existing connection and ensures the reminders table exists.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db, now: time.Now}
	err := s.ensureTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reminders table")
	}
	return s, nil
}

// ConnectDB opens a SQLite database with WAL journaling and a busy timeout.
func ConnectDB(file string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", getConnectionString(file))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", file)
	}
	// SQLite prefers a single writer
	db.SetMaxOpenConns(1)
	return db, nil
}

func getConnectionString(file string) string {
	qs := url.Values{
		"_txlock": []string{"immediate"},
		"_pragma": []string{
			"journal_mode(WAL)",
			fmt.Sprintf("busy_timeout(%d)", busyTimeoutMs),
		},
	}

	return "file:" + file + "?" + qs.Encode()
}

func (s *SQLite) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER NOT NULL PRIMARY KEY,
			medicine_name TEXT NOT NULL,
			dosage TEXT NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			fire_time INTEGER NOT NULL,
			needs_rearm INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS fire_time_idx ON reminders (fire_time ASC);
		`,
	)
	return err
}

// DB returns the underlying connection so other tables can share the file.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Put(ctx context.Context, r reminders.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, medicine_name, dosage, instructions, fire_time, needs_rearm, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			medicine_name = excluded.medicine_name,
			dosage = excluded.dosage,
			instructions = excluded.instructions,
			fire_time = excluded.fire_time,
			needs_rearm = 0,
			updated_at = excluded.updated_at`,
		r.ID, r.MedicineName, r.Dosage, r.Instructions, r.FireTimeMillis(), s.now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to store reminder %d", r.ID)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id int64) (*reminders.Reminder, error) {
	res, err := s.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return &res[0], nil
}

func (s *SQLite) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete reminder %d", id)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]reminders.Reminder, error) {
	return s.query(ctx, ``)
}

func (s *SQLite) MarkAllForRearm(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET needs_rearm = 1, updated_at = ?`, s.now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark reminders for re-arm")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLite) ListNeedingRearm(ctx context.Context) ([]reminders.Reminder, error) {
	return s.query(ctx, `WHERE needs_rearm = 1`)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) query(ctx context.Context, where string, args ...any) ([]reminders.Reminder, error) {
	q := `SELECT id, medicine_name, dosage, instructions, fire_time
		FROM reminders ` + where + `
		ORDER BY fire_time ASC, id ASC`
	dbRes, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query reminders")
	}
	defer dbRes.Close()

	var list []reminders.Reminder
	for dbRes.Next() {
		var (
			r        reminders.Reminder
			fireTime int64
		)
		err = dbRes.Scan(&r.ID, &r.MedicineName, &r.Dosage, &r.Instructions, &fireTime)
		if err != nil {
			return nil, err
		}
		r.FireTime = time.UnixMilli(fireTime)
		list = append(list, r)
	}
	return list, dbRes.Err()
}
