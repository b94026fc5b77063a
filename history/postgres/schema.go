package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS logins (
	id         TEXT PRIMARY KEY,
	principal  TEXT NOT NULL,
	broker_id  TEXT NOT NULL,
	session_id TEXT NOT NULL UNIQUE,
	user_agent TEXT NOT NULL DEFAULT '',
	ip         TEXT NOT NULL DEFAULT '',
	device     TEXT NOT NULL DEFAULT '',
	location   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS logins_principal_idx ON logins (principal, created_at DESC);
CREATE INDEX IF NOT EXISTS logins_expires_at_idx ON logins (expires_at);
`

// EnsureSchema creates the logins table and its indexes if they do not
// exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
