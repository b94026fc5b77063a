package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/okulov/passport"
	"github.com/okulov/passport/checksum"
	"github.com/okulov/passport/sid"
	"github.com/okulov/passport/storage"
)

var tokenKeySanitizer = regexp.MustCompile(`[^a-z\d\-_:]`)

// Client is an SSO broker: it attaches its local session to the
// server-owned login session and performs authenticated calls on the
// user's behalf. The broker secret lives in a memguard enclave and is
// only decrypted for the moment a checksum is computed.
type Client struct {
	id          string
	secret      *memguard.Enclave
	tokens      storage.Store
	req         *Requester
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int
}

// Option configures a Client.
type Option func(*Client)

// WithTokenTTL bounds how long an attach token is kept. Zero keeps
// tokens until logout.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMaxAttachAttempts bounds the attach redirect loop guard.
func WithMaxAttachAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// New builds a broker client. The secret string is wiped from regular
// memory once sealed; tokens persist in the given store under a key
// derived from the broker id.
func New(id, secret string, req *Requester, tokens storage.Store, opts ...Option) (*Client, error) {
	if id == "" || secret == "" {
		return nil, fmt.Errorf("broker id and secret are required: %w", passport.ErrInvalidClient)
	}
	c := &Client{
		id:          id,
		secret:      memguard.NewEnclave([]byte(secret)),
		tokens:      tokens,
		req:         req,
		logger:      slog.Default(),
		maxAttempts: defaultAttachAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the broker identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) tokenKey() string {
	return "sso_token_" + tokenKeySanitizer.ReplaceAllString(strings.ToLower(c.id), "_")
}

// Token returns the current attach token, if any.
func (c *Client) Token() (string, bool) {
	return c.tokens.Get(c.tokenKey())
}

// Attached reports whether the broker holds an attach token. It says
// nothing about the server side; an expired server session still
// requires a new attach round trip to discover.
func (c *Client) Attached() bool {
	return c.tokens.Has(c.tokenKey())
}

// ClearToken drops the attach token, forcing a fresh attach on the
// next call.
func (c *Client) ClearToken() {
	c.tokens.Delete(c.tokenKey())
}

// mintToken replaces the stored attach token with a fresh one. Every
// attach handshake starts from a new token, so a sid leaked from an
// earlier handshake dies with it.
func (c *Client) mintToken() (string, error) {
	token, err := checksum.RandomToken()
	if err != nil {
		return "", fmt.Errorf("minting attach token: %w", err)
	}
	c.tokens.Set(c.tokenKey(), token, c.ttl)
	return token, nil
}

// withSecret runs fn with the decrypted broker secret. The plaintext
// buffer is destroyed before returning.
func (c *Client) withSecret(fn func(secret string) error) error {
	buf, err := c.secret.Open()
	if err != nil {
		return fmt.Errorf("opening broker secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// SessionID computes the signed session id for the current token.
func (c *Client) SessionID() (string, error) {
	token, ok := c.Token()
	if !ok {
		return "", passport.ErrNotAttached
	}
	var s string
	err := c.withSecret(func(secret string) error {
		s = sid.Encode(c.id, token, secret)
		return nil
	})
	return s, err
}

// AttachURL builds the server attach URL for the user agent to visit,
// minting and saving a fresh token. returnURL is where the server
// sends the user agent afterwards; extra parameters are carried
// through.
func (c *Client) AttachURL(returnURL string, extra url.Values) (string, error) {
	token, err := c.mintToken()
	if err != nil {
		return "", err
	}
	q := url.Values{}
	for key, vals := range extra {
		q[key] = vals
	}
	q.Set("broker", c.id)
	q.Set("token", token)
	if returnURL != "" {
		q.Set("return_url", returnURL)
	}
	err = c.withSecret(func(secret string) error {
		q.Set("checksum", checksum.Generate(checksum.KindAttach, token, secret))
		return nil
	})
	if err != nil {
		return "", err
	}
	return c.req.base + "/attach?" + q.Encode(), nil
}

// call runs fn with the current session id and drops the local token
// when the server no longer recognizes the session, so the next
// request re-attaches instead of failing forever.
func (c *Client) call(fn func(sessionID string) (map[string]any, error)) (map[string]any, error) {
	s, err := c.SessionID()
	if err != nil {
		return nil, err
	}
	result, err := fn(s)
	if err != nil && (errors.Is(err, passport.ErrNotAttached) || errors.Is(err, passport.ErrInvalidSessionID)) {
		c.logger.Debug("server rejected session, clearing attach token", "broker_id", c.id)
		c.ClearToken()
	}
	return result, err
}

// Login authenticates the user behind this broker session. On success
// the server returns the shared session payload.
func (c *Client) Login(ctx context.Context, credentials url.Values, fwd Forwarded) (map[string]any, error) {
	return c.call(func(s string) (map[string]any, error) {
		return c.req.PostForm(ctx, s, "/login", credentials, fwd)
	})
}

// Profile fetches the shared session payload, or ErrUnauthorized when
// the session carries no authenticated principal.
func (c *Client) Profile(ctx context.Context, fwd Forwarded) (map[string]any, error) {
	payload, err := c.call(func(s string) (map[string]any, error) {
		return c.req.Get(ctx, s, "/profile", nil, fwd)
	})
	if err != nil {
		return nil, err
	}
	// An empty object is the wire form of "nobody is signed in".
	if len(payload) == 0 {
		return nil, passport.ErrUnauthorized
	}
	return payload, nil
}

// Logout revokes sessions on the server. An empty method revokes this
// broker's session; "id" revokes one login history entry; "all" and
// "others" sweep the principal's sessions. Success is reported by the
// server response, not inferred.
func (c *Client) Logout(ctx context.Context, method, loginID string, fwd Forwarded) (bool, error) {
	form := url.Values{}
	if method != "" {
		form.Set("method", method)
	}
	if loginID != "" {
		form.Set("login_id", loginID)
	}
	resp, err := c.call(func(s string) (map[string]any, error) {
		return c.req.PostForm(ctx, s, "/logout", form, fwd)
	})
	if err != nil {
		return false, err
	}
	_, ok := resp["success"]
	if ok && (method == "" || method == "all") {
		c.ClearToken()
	}
	return ok, nil
}

// Command invokes a named server command and returns its data.
func (c *Client) Command(ctx context.Context, name string, args url.Values, fwd Forwarded) (map[string]any, error) {
	return c.call(func(s string) (map[string]any, error) {
		return c.req.PostForm(ctx, s, "/commands/"+url.PathEscape(name), args, fwd)
	})
}
