package server

import (
	"context"
	"time"

	"github.com/okulov/passport"
	"github.com/okulov/passport/users"
)

// Credentials carry the fields a broker forwards on login. Beyond
// username and password a deployment may pass arbitrary extra fields
// to its Authenticator.
type Credentials map[string]string

func (c Credentials) Username() string { return c["username"] }
func (c Credentials) Password() string { return c["password"] }

// Payload is the session state shared with an authenticated broker.
// UserInfo produces it; the profile endpoint returns it verbatim.
type Payload = map[string]any

// Authenticator verifies forwarded credentials and returns the
// principal identifier on success. Return passport.ErrUnauthorized
// for bad credentials.
type Authenticator func(ctx context.Context, creds Credentials, rc RequestContext) (principal string, err error)

// UserInfo builds the payload shared with brokers for a principal.
type UserInfo func(ctx context.Context, principal string) (Payload, error)

// AfterAuthenticating runs after a successful login, before the
// payload is stored. It may mutate the payload.
type AfterAuthenticating func(ctx context.Context, principal string, payload Payload, rc RequestContext) error

// CommandHandler serves a named custom command for an authenticated
// session.
type CommandHandler func(ctx context.Context, principal string, args map[string]string) (any, error)

// DirectoryAuthenticator adapts a users.Directory to the Authenticator
// contract.
func DirectoryAuthenticator(dir *users.Directory) Authenticator {
	return func(ctx context.Context, creds Credentials, rc RequestContext) (string, error) {
		u, ok := dir.Authenticate(creds.Username(), creds.Password())
		if !ok {
			return "", passport.ErrUnauthorized
		}
		return u.Username, nil
	}
}

// DirectoryUserInfo serves directory attributes as the session payload.
func DirectoryUserInfo(dir *users.Directory) UserInfo {
	return func(ctx context.Context, principal string) (Payload, error) {
		u, ok := dir.Lookup(principal)
		if !ok {
			return nil, passport.ErrUnauthorized
		}
		payload := Payload{"username": u.Username}
		for k, v := range u.Attributes {
			payload[k] = v
		}
		return payload, nil
	}
}

// sessionLifetime bounds how long a login survives without activity.
// It tracks the bridge TTL so history expiry and cache expiry agree.
func sessionLifetime(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		// Forever-cached sessions still get a bounded history row.
		return 30 * 24 * time.Hour
	}
	return ttl
}
