package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS location_sessions (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	seq        BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS push_dead_letters (
	id             TEXT PRIMARY KEY,
	payload        JSONB NOT NULL,
	endpoint       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	attempts       INT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	last_failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_push_dead_letters_created_at ON push_dead_letters(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Record, error) {
	var (
		value []byte
		seq   int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT value, seq FROM location_sessions WHERE key = $1`, StorageKey,
	).Scan(&value, &seq)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return Record{Session: model.DefaultSession()}, nil
		}
		return Record{}, eris.Wrap(err, "postgres: load session")
	}

	var sess model.LocationSession
	if err := json.Unmarshal(value, &sess); err != nil {
		return Record{Session: model.DefaultSession(), Seq: seq}, nil
	}
	return Record{Session: sess, Seq: seq}, nil
}

func (s *PostgresStore) Save(ctx context.Context, sess model.LocationSession, seq int64) (Record, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return Record{}, eris.Wrap(err, "postgres: marshal session")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO location_sessions (key, value, seq, updated_at) VALUES ($1, $2, 1, now())
		ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, seq = location_sessions.seq + 1, updated_at = now()
			WHERE location_sessions.seq = $3`,
		StorageKey, data, seq,
	)
	if err != nil {
		return Record{}, eris.Wrap(err, "postgres: save session")
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrSequenceConflict
	}

	var newSeq int64
	err = s.pool.QueryRow(ctx,
		`SELECT seq FROM location_sessions WHERE key = $1`, StorageKey,
	).Scan(&newSeq)
	if err != nil {
		return Record{}, eris.Wrap(err, "postgres: read back seq")
	}
	return Record{Session: sess, Seq: newSeq}, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM location_sessions WHERE key = $1`, StorageKey,
	)
	return eris.Wrap(err, "postgres: clear session")
}

func (s *PostgresStore) AppendDeadLetter(ctx context.Context, dl resilience.PushDeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dead letter payload")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO push_dead_letters (id, payload, endpoint, error, error_type, attempts, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dl.ID, payload, dl.Endpoint, dl.Error, dl.ErrorType, dl.Attempts,
		dl.CreatedAt.UTC(), dl.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert dead letter")
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, limit int) ([]resilience.PushDeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, payload, endpoint, error, error_type, attempts, created_at, last_failed_at
		 FROM push_dead_letters ORDER BY created_at LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	defer rows.Close()

	var out []resilience.PushDeadLetter
	for rows.Next() {
		var (
			dl      resilience.PushDeadLetter
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &payload, &dl.Endpoint, &dl.Error, &dl.ErrorType,
			&dl.Attempts, &dl.CreatedAt, &dl.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		if err := json.Unmarshal(payload, &dl.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dead letter payload")
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate dead letters")
	}
	return out, nil
}

func (s *PostgresStore) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM push_dead_letters WHERE id = $1`, id,
	)
	return eris.Wrapf(err, "postgres: delete dead letter %s", id)
}
