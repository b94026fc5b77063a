package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okulov/passport"
)

// Forwarded is the end user context a broker relays with each server
// call, so the server records the real client instead of the broker
// host.
type Forwarded struct {
	UserAgent string
	IP        string
}

// ForwardedFrom captures the forwarded context off the broker's own
// incoming request.
func ForwardedFrom(r *http.Request) Forwarded {
	if r == nil {
		return Forwarded{}
	}
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i >= 0 {
		ip = ip[:i]
	}
	return Forwarded{
		UserAgent: r.UserAgent(),
		IP:        strings.Trim(ip, "[]"),
	}
}

// Requester is the HTTP transport for broker-to-server calls. It
// signs each call with the session id as a bearer token, decodes JSON
// bodies and maps wire error codes to typed errors.
type Requester struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

// RequesterOption configures a Requester.
type RequesterOption func(*Requester)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) RequesterOption {
	return func(r *Requester) { r.client = client }
}

// WithRequesterLogger enables debug logging of calls. Session ids and
// secrets are never logged.
func WithRequesterLogger(logger *slog.Logger) RequesterOption {
	return func(r *Requester) { r.logger = logger }
}

// NewRequester builds a transport against the server base URL.
func NewRequester(base string, opts ...RequesterOption) *Requester {
	r := &Requester{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get performs a GET call with query parameters.
func (r *Requester) Get(ctx context.Context, sessionID, path string, params url.Values, fwd Forwarded) (map[string]any, error) {
	return r.do(ctx, http.MethodGet, sessionID, path, params, fwd)
}

// PostForm performs a POST call with a form-encoded body.
func (r *Requester) PostForm(ctx context.Context, sessionID, path string, form url.Values, fwd Forwarded) (map[string]any, error) {
	return r.do(ctx, http.MethodPost, sessionID, path, form, fwd)
}

func (r *Requester) do(ctx context.Context, method, sessionID, path string, params url.Values, fwd Forwarded) (map[string]any, error) {
	target := r.base + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+sessionID)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if fwd.UserAgent != "" {
		req.Header.Set("Passport-User-Agent", fwd.UserAgent)
	}
	if fwd.IP != "" {
		req.Header.Set("Passport-Remote-Address", fwd.IP)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("sso call failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, path, passport.ErrRequestFailed)
	}
	defer resp.Body.Close()
	r.logger.Debug("sso call",
		"method", method, "path", path,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", passport.ErrRequestFailed)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, r.decodeError(resp.StatusCode, raw)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, passport.ErrBadResponse)
	}
	return decoded, nil
}

// decodeError turns an error body into a typed error. A body with a
// recognized wire code maps to its sentinel. A codeless 401 is the
// contract's way of saying nobody is signed in; any other codeless or
// non-JSON body is a plain request failure.
func (r *Requester) decodeError(status int, raw []byte) error {
	var wire passport.ErrorResponse
	if err := json.Unmarshal(raw, &wire); err != nil || wire.Code == "" {
		if status == http.StatusUnauthorized {
			return passport.ErrUnauthorized
		}
		return fmt.Errorf("server returned status %d: %w", status, passport.ErrRequestFailed)
	}
	return passport.FromWire(wire.Code, wire.Message, status)
}
