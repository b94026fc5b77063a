package broker

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/okulov/passport"
)

// Guard resolves the authenticated principal for a broker. It
// memoizes the server payload so repeated User calls within a process
// cost one round trip, and it fires lifecycle events for the broker
// application to react to.
type Guard struct {
	client *Client
	tokens *TokenStore

	mu        sync.Mutex
	cached    map[string]any
	cachedSID string

	resolve    func(payload map[string]any) string
	createUser CreateUser
	listeners  []Listener
}

// CreateUser auto-provisions a local account for a payload the
// principal resolver does not recognize. It receives the server
// payload, the broker id and the forwarded request context and returns
// the provisioned principal identifier.
type CreateUser func(payload map[string]any, brokerID string, fwd Forwarded) (string, error)

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithBearerTokens enables bearer token authentication alongside the
// session flow.
func WithBearerTokens(ts *TokenStore) GuardOption {
	return func(g *Guard) { g.tokens = ts }
}

// WithListener subscribes to lifecycle events.
func WithListener(l Listener) GuardOption {
	return func(g *Guard) { g.listeners = append(g.listeners, l) }
}

// WithPrincipalResolver overrides how the principal identifier is read
// off the server payload. The default takes the username field.
func WithPrincipalResolver(fn func(payload map[string]any) string) GuardOption {
	return func(g *Guard) { g.resolve = fn }
}

// WithCreateUser installs the auto-provisioning strategy, invoked when
// the principal resolver finds no match for a payload. Without it an
// unresolvable payload is treated as unauthorized.
func WithCreateUser(fn CreateUser) GuardOption {
	return func(g *Guard) { g.createUser = fn }
}

// NewGuard builds a guard over a broker client.
func NewGuard(client *Client, opts ...GuardOption) *Guard {
	g := &Guard{
		client: client,
		resolve: func(payload map[string]any) string {
			principal, _ := payload["username"].(string)
			return principal
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) fire(event Event, principal string, payload map[string]any) {
	for _, l := range g.listeners {
		l(event, principal, payload)
	}
}

// User returns the payload of the signed-in principal, fetching it
// from the server on first use. ErrUnauthorized means nobody is
// signed in.
func (g *Guard) User(ctx context.Context, fwd Forwarded) (map[string]any, error) {
	g.mu.Lock()
	s, err := g.client.SessionID()
	if err == nil && g.cached != nil && g.cachedSID == s {
		payload := g.cached
		g.mu.Unlock()
		return payload, nil
	}
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	payload, err := g.client.Profile(ctx, fwd)
	if err != nil {
		return nil, err
	}
	g.remember(s, payload)
	return payload, nil
}

// Check reports whether a principal is signed in.
func (g *Guard) Check(ctx context.Context, fwd Forwarded) bool {
	_, err := g.User(ctx, fwd)
	return err == nil
}

// Principal returns the identifier of the signed-in principal,
// provisioning a local account through the create-user strategy when
// the resolver does not recognize the payload.
func (g *Guard) Principal(ctx context.Context, fwd Forwarded) (string, error) {
	payload, err := g.User(ctx, fwd)
	if err != nil {
		return "", err
	}
	return g.principal(payload, fwd)
}

// principal maps a payload to a principal id. A resolver miss with no
// create-user strategy fails as unauthorized rather than minting an
// empty principal.
func (g *Guard) principal(payload map[string]any, fwd Forwarded) (string, error) {
	if p := g.resolve(payload); p != "" {
		return p, nil
	}
	if g.createUser == nil {
		return "", passport.ErrUnauthorized
	}
	return g.createUser(payload, g.client.ID(), fwd)
}

// Attempt logs in with the given credentials. On success the payload
// is memoized and EventAuthenticated fires; a rejected attempt fires
// EventUnauthenticated carrying the attempted username for audit.
func (g *Guard) Attempt(ctx context.Context, credentials url.Values, fwd Forwarded) (map[string]any, error) {
	payload, err := g.client.Login(ctx, credentials, fwd)
	if err != nil {
		if errors.Is(err, passport.ErrUnauthorized) {
			g.fire(EventUnauthenticated, credentials.Get("username"), nil)
		}
		return nil, err
	}
	principal, err := g.principal(payload, fwd)
	if err != nil {
		return nil, err
	}
	s, sidErr := g.client.SessionID()
	if sidErr == nil {
		g.remember(s, payload)
	}
	g.fire(EventAuthenticated, principal, payload)
	return payload, nil
}

// Logout revokes the current session and forgets the memoized
// principal. The method semantics match Client.Logout.
func (g *Guard) Logout(ctx context.Context, method, loginID string, fwd Forwarded) (bool, error) {
	principal := ""
	g.mu.Lock()
	if g.cached != nil {
		principal = g.resolve(g.cached)
	}
	g.mu.Unlock()

	ok, err := g.client.Logout(ctx, method, loginID, fwd)
	if err != nil {
		return false, err
	}
	if ok && method != "id" && method != "others" {
		g.forget()
		g.fire(EventLoggedOut, principal, nil)
	}
	return ok, nil
}

// UserByBearer resolves a bearer token to its payload without a server
// round trip. The payload is synthesized from the token record.
func (g *Guard) UserByBearer(plaintext string) (map[string]any, error) {
	if g.tokens == nil {
		return nil, errors.New("bearer tokens are not enabled")
	}
	token, ok := g.tokens.Check(plaintext)
	if !ok {
		return nil, passport.ErrUnauthorized
	}
	return map[string]any{
		"username":   token.Principal,
		"token_name": token.Name,
	}, nil
}

func (g *Guard) remember(s string, payload map[string]any) {
	g.mu.Lock()
	g.cached = payload
	g.cachedSID = s
	g.mu.Unlock()
}

func (g *Guard) forget() {
	g.mu.Lock()
	g.cached = nil
	g.cachedSID = ""
	g.mu.Unlock()
}
