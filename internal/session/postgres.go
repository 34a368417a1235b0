package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps sessions in the portal_sessions table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureTable creates portal_sessions if it does not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS portal_sessions (
  id TEXT PRIMARY KEY,
  data JSONB NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_portal_sessions_expires_at ON portal_sessions(expires_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Data, error) {
	var raw []byte
	query := `SELECT data FROM portal_sessions WHERE id = $1 AND expires_at > NOW()`
	if err := s.db.QueryRowxContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(raw)
}

func (s *PostgresStore) Save(ctx context.Context, id string, d *Data, ttl time.Duration) error {
	raw, err := encode(d)
	if err != nil {
		return err
	}
	query := `INSERT INTO portal_sessions (id, data, expires_at) VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`
	_, err = s.db.ExecContext(ctx, query, id, raw, ttl.Seconds())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
