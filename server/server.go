package server

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	openapimw "github.com/go-openapi/runtime/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/okulov/passport"
	"github.com/okulov/passport/checksum"
	"github.com/okulov/passport/history"
	"github.com/okulov/passport/registry"
	"github.com/okulov/passport/sid"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Server owns the login session and serves the broker-facing SSO API.
type Server struct {
	bridge   *Bridge
	registry registry.Registry
	history  history.Store
	logger   *slog.Logger
	audit    *auditLogger
	metrics  *Metrics
	enricher Enricher

	authenticate Authenticator
	userInfo     UserInfo
	afterAuth    AfterAuthenticating
	commands     map[string]CommandHandler

	// Hosts return_url may point at. Empty means any destination is
	// allowed; relative URLs always are.
	redirectHosts []string

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHistory enables login history recording and the id/all/others
// logout modes.
func WithHistory(store history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithMetrics registers Prometheus collectors for server activity.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEnricher plugs in device and location derivation for history
// records.
func WithEnricher(e Enricher) Option {
	return func(s *Server) { s.enricher = e }
}

// WithAfterAuthenticating installs a post-login hook.
func WithAfterAuthenticating(fn AfterAuthenticating) Option {
	return func(s *Server) { s.afterAuth = fn }
}

// WithCommand registers a named custom command.
func WithCommand(name string, fn CommandHandler) Option {
	return func(s *Server) { s.commands[name] = fn }
}

// WithRedirectHosts restricts attach return_url destinations to the
// given hosts and their subdomains.
func WithRedirectHosts(hosts ...string) Option {
	return func(s *Server) { s.redirectHosts = append(s.redirectHosts, hosts...) }
}

// New builds an SSO server over the given session bridge and broker
// registry. The authenticator and user info strategies are required.
func New(bridge *Bridge, reg registry.Registry, auth Authenticator, info UserInfo, opts ...Option) *Server {
	s := &Server{
		bridge:       bridge,
		registry:     reg,
		logger:       slog.Default(),
		authenticate: auth,
		userInfo:     info,
		commands:     make(map[string]CommandHandler),
		enricher:     noopEnricher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = newAuditLogger(s.logger, s.metrics)
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/attach", s.handleAttach)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBroker)
		r.Post("/login", s.handleLogin)
		r.Get("/profile", s.handleProfile)
		r.Post("/logout", s.handleLogout)
		r.Post("/commands/{name}", s.handleCommand)
	})

	s.mountDocs(r)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the chi router for mounting under a parent mux.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) mountDocs(r chi.Router) {
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs", openapimw.SwaggerUI(openapimw.SwaggerUIOpts{
		Path:    "/docs",
		SpecURL: "/openapi.yaml",
		Title:   "Passport SSO Server",
	}, nil))
	r.Handle("/redoc", openapimw.Redoc(openapimw.RedocOpts{
		Path:    "/redoc",
		SpecURL: "/openapi.yaml",
		Title:   "Passport SSO Server",
	}, nil))
}

// handleAttach performs the broker attach handshake. The broker sends
// its id, a fresh token and an attach checksum; on success the session
// id is bound to a server session handle and the user agent is sent
// back to the broker via return_url.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	brokerID := q.Get("broker")
	token := q.Get("token")
	sum := q.Get("checksum")
	returnURL := q.Get("return_url")

	if brokerID == "" || token == "" || sum == "" {
		s.audit.logFailure(AuditAttachRejected, r, "missing parameters")
		writeCode(w, http.StatusBadRequest, passport.CodeInvalidClientID, "broker, token and checksum are required")
		return
	}
	if returnURL != "" && !s.redirectAllowed(returnURL) {
		s.audit.logFailure(AuditAttachRejected, r, "return_url not allowed", slog.String("broker_id", brokerID))
		writeCode(w, http.StatusBadRequest, passport.CodeInvalidClientID, "return_url host is not allowed")
		return
	}

	broker, err := s.registry.FindByID(r.Context(), brokerID)
	if err != nil {
		s.audit.logFailure(AuditAttachRejected, r, "unknown broker", slog.String("broker_id", brokerID))
		writeCode(w, http.StatusForbidden, passport.CodeInvalidClientID, "broker not found")
		return
	}
	if !checksum.Verify(checksum.KindAttach, token, broker.Secret, sum) {
		s.audit.logFailure(AuditAttachRejected, r, "attach checksum mismatch", slog.String("broker_id", brokerID))
		writeCode(w, http.StatusForbidden, passport.CodeInvalidClientID, "invalid attach checksum")
		return
	}

	s.bridge.Attach(sid.Encode(brokerID, token, broker.Secret))
	s.audit.logEvent(AuditAttached, r, brokerID)

	if returnURL != "" {
		http.Redirect(w, r, returnURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": "attached"})
}

// redirectAllowed guards the attach redirect against open-redirect
// abuse. Relative URLs are always fine; absolute ones must land on an
// allowed host or a subdomain of one. An empty allowlist disables the
// check.
func (s *Server) redirectAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Host == "" && !strings.HasPrefix(raw, "//") {
		return true
	}
	if len(s.redirectHosts) == 0 {
		return true
	}
	host := u.Hostname()
	for _, allowed := range s.redirectHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if err := r.ParseForm(); err != nil {
		// Codeless: a bad body is a caller bug, not a protocol state.
		writeCode(w, http.StatusBadRequest, "", "malformed form body")
		return
	}
	creds := make(Credentials, len(r.PostForm))
	for key := range r.PostForm {
		creds[key] = r.PostForm.Get(key)
	}
	rc := requestContext(r, s.enricher)

	principal, err := s.authenticate(r.Context(), creds, rc)
	if err != nil {
		s.audit.logEvent(AuditLoginFailure, r, sess.broker.ID,
			slog.String("username", creds.Username()))
		// The wire contract for bad credentials is an empty object,
		// not an error envelope.
		writeJSON(w, http.StatusUnauthorized, map[string]any{})
		return
	}

	payload, err := s.userInfo(r.Context(), principal)
	if err != nil {
		mapError(w, err)
		return
	}
	if s.afterAuth != nil {
		if err := s.afterAuth(r.Context(), principal, payload, rc); err != nil {
			mapError(w, err)
			return
		}
	}
	if err := s.bridge.SetPayload(sess.sid, payload); err != nil {
		mapError(w, err)
		return
	}
	s.recordLogin(r.Context(), principal, sess, rc)

	s.audit.logEvent(AuditLoginSuccess, r, sess.broker.ID,
		slog.String("principal", principal))
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) recordLogin(ctx context.Context, principal string, sess *sessionInfo, rc RequestContext) {
	if s.history == nil {
		return
	}
	now := time.Now().UTC()
	login := history.Login{
		ID:        ulid.Make().String(),
		Principal: principal,
		BrokerID:  sess.broker.ID,
		SessionID: sess.sid,
		UserAgent: rc.UserAgent,
		IP:        rc.IP,
		Device:    rc.Device,
		Location:  rc.Location,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionLifetime(s.bridge.TTL())),
	}
	if err := s.history.Record(ctx, login); err != nil {
		s.logger.Warn("recording login history failed", "error", err, "broker_id", sess.broker.ID)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	payload, ok := s.authenticated(r, sess)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	payload, ok := s.authenticated(r, sess)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{})
		return
	}
	principal, _ := payload["username"].(string)

	if err := r.ParseForm(); err != nil {
		writeCode(w, http.StatusBadRequest, "", "malformed form body")
		return
	}
	method := r.PostForm.Get("method")

	revoked, ok, err := s.logout(r.Context(), method, r.PostForm.Get("login_id"), principal, sess)
	if err != nil {
		mapError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"error": true})
		return
	}
	for i := 0; i < revoked; i++ {
		s.audit.logEvent(AuditSessionRevoked, r, sess.broker.ID,
			slog.String("principal", principal))
	}
	s.audit.logEvent(AuditLogout, r, sess.broker.ID,
		slog.String("principal", principal), slog.String("method", method))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// logout dispatches the logout method and reports how many sessions
// it revoked. An empty method revokes the calling session; "id"
// revokes one history entry owned by the same principal; "all" and
// "others" revoke across every broker the principal is signed in
// through.
func (s *Server) logout(ctx context.Context, method, loginID, principal string, sess *sessionInfo) (int, bool, error) {
	switch method {
	case "":
		s.bridge.Revoke(sess.sid)
		if s.history != nil {
			if login, err := s.history.BySession(ctx, sess.sid); err == nil {
				if err := s.history.Delete(ctx, login.ID); err != nil {
					return 1, false, err
				}
			}
		}
		return 1, true, nil

	case "id":
		if s.history == nil || loginID == "" {
			return 0, false, nil
		}
		login, err := s.history.ByID(ctx, loginID)
		if err != nil || login.Principal != principal {
			return 0, false, nil
		}
		if err := s.history.Delete(ctx, login.ID); err != nil {
			return 0, false, err
		}
		s.bridge.Revoke(login.SessionID)
		return 1, true, nil

	case "all", "others":
		if s.history == nil {
			return 0, false, nil
		}
		except := ""
		if method == "others" {
			except = sess.sid
		}
		removed, err := s.history.DeleteByPrincipal(ctx, principal, except)
		if err != nil {
			return 0, false, err
		}
		for _, sid := range removed {
			s.bridge.Revoke(sid)
		}
		revoked := len(removed)
		if method == "all" {
			// The calling sid is usually already in removed; revoke
			// again for sessions that never recorded a login.
			if !slices.Contains(removed, sess.sid) {
				revoked++
			}
			s.bridge.Revoke(sess.sid)
		}
		return revoked, true, nil

	default:
		return 0, false, nil
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	payload, ok := s.authenticated(r, sess)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{})
		return
	}
	principal, _ := payload["username"].(string)

	name := chi.URLParam(r, "name")
	handler, found := s.commands[name]
	if !found {
		mapError(w, passport.ErrUnknownCommand)
		return
	}
	if handler == nil {
		mapError(w, passport.ErrCommandNotCallable)
		return
	}
	if err := r.ParseForm(); err != nil {
		mapError(w, passport.ErrCommandNotCallable)
		return
	}
	args := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		args[key] = r.PostForm.Get(key)
	}

	result, err := handler(r.Context(), principal, args)
	if err != nil {
		mapError(w, err)
		return
	}
	s.audit.logEvent(AuditCommandRun, r, sess.broker.ID, slog.String("command", name))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

// authenticated loads the shared payload for a validated session. On
// success the session TTL is refreshed and history activity is
// touched, keeping active sessions alive.
func (s *Server) authenticated(r *http.Request, sess *sessionInfo) (Payload, bool) {
	payload := s.bridge.GetPayload(sess.sid)
	if payload == nil {
		return nil, false
	}
	s.bridge.Refresh(sess.sid)
	if s.metrics != nil {
		s.metrics.recordRefresh()
	}
	if s.history != nil {
		expires := time.Now().UTC().Add(sessionLifetime(s.bridge.TTL()))
		if err := s.history.Touch(r.Context(), sess.sid, expires); err != nil && err != history.ErrNotFound {
			s.logger.Warn("touching login history failed", "error", err)
		}
	}
	return payload, true
}
