// Package history records finished logins so the server can show a user
// their active sessions and revoke them individually, collectively, or all
// but the current one. The session-sharing core depends only on the Store
// interface; the memory and postgres subpackages are reference backends.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no login record matches the query.
var ErrNotFound = errors.New("login record not found")

// Login is one finished login: which principal logged in through which
// broker, from where, and until when. Device and location are optional
// display strings supplied by an enrichment collaborator; the core never
// depends on them.
type Login struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	BrokerID  string    `json:"broker_id"`
	SessionID string    `json:"-"` // bridge local handle; never serialized to clients
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Device    string    `json:"device,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists login records. The core needs only record, lookup by id or
// session, and delete; the bulk operations back the logout modes.
type Store interface {
	// Record inserts a login.
	Record(ctx context.Context, login Login) error
	// ByID returns the login with the given record id.
	ByID(ctx context.Context, id string) (Login, error)
	// BySession returns the login bound to the given local session handle.
	BySession(ctx context.Context, sessionID string) (Login, error)
	// ByPrincipal returns all live logins for a principal, newest first.
	ByPrincipal(ctx context.Context, principal string) ([]Login, error)
	// Touch extends the expiry of the login bound to sessionID.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error
	// Delete removes the login with the given record id.
	Delete(ctx context.Context, id string) error
	// DeleteByPrincipal removes all logins for principal except the one
	// bound to exceptSession (pass "" to remove every one). It returns the
	// session handles of the removed logins so the caller can revoke their
	// bridge entries.
	DeleteByPrincipal(ctx context.Context, principal, exceptSession string) ([]string, error)
	// Prune removes logins that expired at or before now and reports how
	// many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
}
