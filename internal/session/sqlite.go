package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS location_sessions (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	seq        INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS push_dead_letters (
	id             TEXT PRIMARY KEY,
	payload        TEXT NOT NULL,
	endpoint       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	attempts       INTEGER NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_push_dead_letters_created_at ON push_dead_letters(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	var (
		value string
		seq   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, seq FROM location_sessions WHERE key = ?`, StorageKey,
	).Scan(&value, &seq)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return Record{Session: model.DefaultSession()}, nil
		}
		return Record{}, eris.Wrap(err, "sqlite: load session")
	}

	var sess model.LocationSession
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		// A corrupt blob falls back to the default record rather than
		// locking the agent out of its own store.
		return Record{Session: model.DefaultSession(), Seq: seq}, nil
	}
	return Record{Session: sess, Seq: seq}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess model.LocationSession, seq int64) (Record, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return Record{}, eris.Wrap(err, "sqlite: marshal session")
	}
	now := time.Now().UTC()

	// RETURNING ties the new sequence to this statement's write, so a
	// concurrent writer bumping the row cannot slip between the CAS and the
	// read-back.
	var newSeq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO location_sessions (key, value, seq, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE
			SET value = excluded.value, seq = location_sessions.seq + 1, updated_at = excluded.updated_at
			WHERE location_sessions.seq = ?
		RETURNING seq`,
		StorageKey, string(data), now, seq,
	).Scan(&newSeq)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return Record{}, ErrSequenceConflict
		}
		return Record{}, eris.Wrap(err, "sqlite: save session")
	}
	return Record{Session: sess, Seq: newSeq}, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM location_sessions WHERE key = ?`, StorageKey,
	)
	return eris.Wrap(err, "sqlite: clear session")
}

func (s *SQLiteStore) AppendDeadLetter(ctx context.Context, dl resilience.PushDeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dead letter payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO push_dead_letters (id, payload, endpoint, error, error_type, attempts, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, string(payload), dl.Endpoint, dl.Error, dl.ErrorType, dl.Attempts,
		dl.CreatedAt.UTC(), dl.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert dead letter")
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]resilience.PushDeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, endpoint, error, error_type, attempts, created_at, last_failed_at
		 FROM push_dead_letters ORDER BY created_at LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	defer rows.Close()

	var out []resilience.PushDeadLetter
	for rows.Next() {
		var (
			dl      resilience.PushDeadLetter
			payload string
		)
		if err := rows.Scan(&dl.ID, &payload, &dl.Endpoint, &dl.Error, &dl.ErrorType,
			&dl.Attempts, &dl.CreatedAt, &dl.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		if err := json.Unmarshal([]byte(payload), &dl.Payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dead letter payload")
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate dead letters")
	}
	return out, nil
}

func (s *SQLiteStore) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_dead_letters WHERE id = ?`, id,
	)
	return eris.Wrapf(err, "sqlite: delete dead letter %s", id)
}
