// Package postgres implements history.Store backed by PostgreSQL.
//
// The logins table carries one row per finished login with a unique
// session_id, mirroring the key space of the in-memory backend. All
// statements go through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okulov/passport/history"
)

// Store implements history.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*Store)(nil)

// New returns a Store over the given pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromDSN creates a connection pool from a DSN, ensures the schema
// exists, and returns a new Store.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const loginColumns = `id, principal, broker_id, session_id, user_agent, ip, device, location, created_at, expires_at`

func scanLogin(row pgx.Row) (history.Login, error) {
	var l history.Login
	err := row.Scan(&l.ID, &l.Principal, &l.BrokerID, &l.SessionID,
		&l.UserAgent, &l.IP, &l.Device, &l.Location, &l.CreatedAt, &l.ExpiresAt)
	return l, err
}

func (s *Store) Record(ctx context.Context, login history.Login) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO logins (`+loginColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id)
		 DO UPDATE SET expires_at = $10`,
		login.ID, login.Principal, login.BrokerID, login.SessionID,
		login.UserAgent, login.IP, login.Device, login.Location,
		login.CreatedAt, login.ExpiresAt)
	return err
}

func (s *Store) ByID(ctx context.Context, id string) (history.Login, error) {
	login, err := scanLogin(s.pool.QueryRow(ctx,
		`SELECT `+loginColumns+` FROM logins WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Login{}, fmt.Errorf("id %s: %w", id, history.ErrNotFound)
	}
	return login, err
}

func (s *Store) BySession(ctx context.Context, sessionID string) (history.Login, error) {
	login, err := scanLogin(s.pool.QueryRow(ctx,
		`SELECT `+loginColumns+` FROM logins WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Login{}, fmt.Errorf("session %s: %w", sessionID, history.ErrNotFound)
	}
	return login, err
}

func (s *Store) ByPrincipal(ctx context.Context, principal string) ([]history.Login, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+loginColumns+` FROM logins
		 WHERE principal = $1 ORDER BY created_at DESC`, principal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Login
	for rows.Next() {
		login, err := scanLogin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, login)
	}
	return out, rows.Err()
}

func (s *Store) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE logins SET expires_at = $2 WHERE session_id = $1`, sessionID, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, history.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM logins WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("id %s: %w", id, history.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteByPrincipal(ctx context.Context, principal, exceptSession string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM logins
		 WHERE principal = $1 AND ($2 = '' OR session_id <> $2)
		 RETURNING session_id`, principal, exceptSession)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, err
		}
		sessions = append(sessions, sessionID)
	}
	return sessions, rows.Err()
}

func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM logins WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
