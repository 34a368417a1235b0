package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

const userColumns = `id, username, email, password, name, first_name, last_name, role, status,
	profile_picture, twofa_secret, twofa_enabled, twofa_last_used_timestep, created_at, updated_at`

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT UNIQUE,
  email CITEXT NOT NULL UNIQUE,
  password TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  first_name TEXT,
  last_name TEXT,
  role TEXT NOT NULL DEFAULT 'Student',
  status TEXT NOT NULL DEFAULT 'Active',
  profile_picture TEXT,
  twofa_secret TEXT,
  twofa_enabled BOOLEAN NOT NULL DEFAULT false,
  twofa_last_used_timestep BIGINT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT users_twofa_enabled_needs_secret CHECK (NOT twofa_enabled OR COALESCE(twofa_secret, '') <> '')
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row and fills in ID and timestamps.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (username,email,password,name,first_name,last_name,role,status,profile_picture,twofa_secret,twofa_enabled)
		  VALUES (:username,:email,:password,:name,:first_name,:last_name,:role,:status,:profile_picture,:twofa_secret,:twofa_enabled)
		  RETURNING id, created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateEmail
		}
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("no id returned")
}

// FindByEmail returns a user matched by email (case-insensitive due to citext).
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

// FindByID always reads the row; caching is the caller's concern.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Update writes the set fields of p in a single statement. It reports
// false when the patch is empty or no row matched.
func (r *UserRepo) Update(ctx context.Context, id int64, p entity.Patch) (bool, error) {
	if p.Empty() {
		return false, nil
	}
	sets := make([]string, 0, 8)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.PasswordHash.Set {
		add("password", p.PasswordHash.Value)
	}
	if p.Name.Set {
		add("name", p.Name.Value)
	}
	if p.FirstName.Set {
		add("first_name", p.FirstName.Value)
	}
	if p.LastName.Set {
		add("last_name", p.LastName.Value)
	}
	if p.Role.Set {
		add("role", string(p.Role.Value))
	}
	if p.Status.Set {
		add("status", string(p.Status.Value))
	}
	if p.ProfilePicture.Set {
		add("profile_picture", p.ProfilePicture.Value)
	}
	if p.TwoFASecret.Set {
		add("twofa_secret", p.TwoFASecret.Value)
	}
	if p.TwoFAEnabled.Set {
		add("twofa_enabled", p.TwoFAEnabled.Value)
	}
	if p.TwoFALastUsedTimestep.Set {
		add("twofa_last_used_timestep", p.TwoFALastUsedTimestep.Value)
	}
	q := `UPDATE users SET ` + strings.Join(sets, ", ") + `, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompareAndSetTOTPWatermark stores next only if the current watermark still
// equals expected (NULL when expected is nil) and next moves it forward.
func (r *UserRepo) CompareAndSetTOTPWatermark(ctx context.Context, id int64, expected *int64, next int64) (bool, error) {
	if expected != nil && next <= *expected {
		return false, nil
	}
	const q = `UPDATE users SET twofa_last_used_timestep=$2, updated_at=NOW()
		WHERE id=$1 AND twofa_last_used_timestep IS NOT DISTINCT FROM $3::BIGINT`
	res, err := r.db.ExecContext(ctx, q, id, next, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListCredentials returns id, email and stored password of every user.
func (r *UserRepo) ListCredentials(ctx context.Context) ([]entity.Credential, error) {
	var out []entity.Credential
	if err := r.db.SelectContext(ctx, &out, `SELECT id, email, password FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns users matching f ordered by id.
func (r *UserRepo) List(ctx context.Context, f entity.Filter) ([]*entity.User, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Role != "" {
		add("role=$%d", string(f.Role))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		add("(name ILIKE $%[1]d OR email ILIKE $%[1]d OR COALESCE(username, '') ILIKE $%[1]d)", "%"+likeEscaper.Replace(term)+"%")
	}
	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`

	var out []*entity.User
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the user row. It reports false when no row matched.
func (r *UserRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
