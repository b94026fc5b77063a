package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/passport"
	"github.com/okulov/passport/checksum"
	"github.com/okulov/passport/history"
	historymem "github.com/okulov/passport/history/memory"
	"github.com/okulov/passport/registry"
	"github.com/okulov/passport/sid"
	"github.com/okulov/passport/storage/memory"
	"github.com/okulov/passport/users"
)

type serverFixture struct {
	srv     *Server
	bridge  *Bridge
	history history.Store
}

func newFixture(t *testing.T, opts ...Option) *serverFixture {
	t.Helper()
	hash := func(password string) string {
		h, err := users.HashPassword(password)
		require.NoError(t, err)
		return h
	}
	dir := users.NewDirectory([]users.User{
		{Username: "alice", PasswordHash: hash("hunter2"), Attributes: map[string]string{"role": "admin"}},
		{Username: "bob", PasswordHash: hash("letmein")},
	})

	reg := registry.NewStatic(map[string]string{
		"app1": "S3cret",
		"app2": "0therSecret",
	})
	bridge := NewBridge(memory.New(), reg, time.Hour)
	hist := historymem.New()

	opts = append([]Option{WithHistory(hist)}, opts...)
	srv := New(bridge, reg, DirectoryAuthenticator(dir), DirectoryUserInfo(dir), opts...)
	return &serverFixture{srv: srv, bridge: bridge, history: hist}
}

func (f *serverFixture) attach(t *testing.T, brokerID, token, secret string) string {
	t.Helper()
	sum := checksum.Generate(checksum.KindAttach, token, secret)
	q := url.Values{"broker": {brokerID}, "token": {token}, "checksum": {sum}}

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attach?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sid.Encode(brokerID, token, secret)
}

func (f *serverFixture) call(method, path, sessionID string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if sessionID != "" {
		req.Header.Set("Authorization", "Bearer "+sessionID)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) login(t *testing.T, sessionID, username, password string) {
	t.Helper()
	rec := f.call(http.MethodPost, "/login", sessionID, url.Values{
		"username": {username}, "password": {password},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAttachHandshake(t *testing.T) {
	f := newFixture(t)

	t.Run("missing parameters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attach?broker=app1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, passport.CodeInvalidClientID, decodeBody(t, rec)["code"])
	})

	t.Run("unknown broker", func(t *testing.T) {
		sum := checksum.Generate(checksum.KindAttach, "tok", "whatever")
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/attach?broker=ghost&token=tok&checksum="+sum, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bad attach checksum", func(t *testing.T) {
		sum := checksum.Generate(checksum.KindAttach, "tok", "WrongSecret")
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/attach?broker=app1&token=tok&checksum="+sum, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("success without return_url", func(t *testing.T) {
		s := f.attach(t, "app1", "tokA", "S3cret")
		assert.True(t, f.bridge.Has(s))
	})

	t.Run("success redirects to return_url", func(t *testing.T) {
		sum := checksum.Generate(checksum.KindAttach, "tokB", "S3cret")
		q := url.Values{
			"broker": {"app1"}, "token": {"tokB"}, "checksum": {sum},
			"return_url": {"https://app1.example.com/after-sso"},
		}
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attach?"+q.Encode(), nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://app1.example.com/after-sso", rec.Header().Get("Location"))
	})
}

func TestAttachRedirectAllowlist(t *testing.T) {
	f := newFixture(t, WithRedirectHosts("example.com"))
	sum := checksum.Generate(checksum.KindAttach, "tokC", "S3cret")

	cases := []struct {
		name      string
		returnURL string
		status    int
	}{
		{"allowed host", "https://example.com/back", http.StatusFound},
		{"allowed subdomain", "https://app1.example.com/back", http.StatusFound},
		{"relative path", "/back", http.StatusFound},
		{"foreign host", "https://evil.test/phish", http.StatusBadRequest},
		{"suffix lookalike", "https://notexample.com/phish", http.StatusBadRequest},
		{"protocol relative", "//evil.test/phish", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := url.Values{
				"broker": {"app1"}, "token": {"tokC"}, "checksum": {sum},
				"return_url": {tc.returnURL},
			}
			rec := httptest.NewRecorder()
			f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attach?"+q.Encode(), nil))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestLoginAndProfile(t *testing.T) {
	f := newFixture(t)
	s := f.attach(t, "app1", "tok123", "S3cret")

	t.Run("bad credentials return an empty object", func(t *testing.T) {
		rec := f.call(http.MethodPost, "/login", s, url.Values{
			"username": {"alice"}, "password": {"wrong"},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, decodeBody(t, rec))
	})

	t.Run("profile before login is unauthorized", func(t *testing.T) {
		rec := f.call(http.MethodGet, "/profile", s, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, decodeBody(t, rec))
	})

	t.Run("successful login returns the payload", func(t *testing.T) {
		rec := f.call(http.MethodPost, "/login", s, url.Values{
			"username": {"alice"}, "password": {"hunter2"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "alice", body["username"])
		assert.Equal(t, "admin", body["role"])
	})

	t.Run("profile after login serves the same payload", func(t *testing.T) {
		rec := f.call(http.MethodGet, "/profile", s, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", decodeBody(t, rec)["username"])
	})

	t.Run("login is recorded in history", func(t *testing.T) {
		logins, err := f.history.ByPrincipal(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, logins, 1)
		assert.Equal(t, "app1", logins[0].BrokerID)
	})
}

func TestSessionRejection(t *testing.T) {
	f := newFixture(t)

	t.Run("missing session id", func(t *testing.T) {
		rec := f.call(http.MethodGet, "/profile", "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, passport.CodeInvalidSessionID, decodeBody(t, rec)["code"])
	})

	t.Run("malformed session id", func(t *testing.T) {
		rec := f.call(http.MethodGet, "/profile", "garbage", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, passport.CodeInvalidSessionID, decodeBody(t, rec)["code"])
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		rec := f.call(http.MethodGet, "/profile", sid.Encode("app1", "tok", "WrongSecret"), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, passport.CodeInvalidSessionID, body["code"])
		assert.Contains(t, body["message"], "checksum")
	})

	t.Run("valid but never attached", func(t *testing.T) {
		rec := f.call(http.MethodGet, "/profile", sid.Encode("app1", "detached", "S3cret"), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, passport.CodeNotAttached, decodeBody(t, rec)["code"])
	})

	t.Run("session id accepted via access_token parameter", func(t *testing.T) {
		s := f.attach(t, "app1", "tokQ", "S3cret")
		rec := f.call(http.MethodGet, "/profile?access_token="+url.QueryEscape(s), "", nil)
		// Attached but not logged in yet: passes the broker check,
		// fails authentication.
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutModes(t *testing.T) {
	ctx := context.Background()

	t.Run("default revokes the calling session", func(t *testing.T) {
		f := newFixture(t)
		s := f.attach(t, "app1", "tok1", "S3cret")
		f.login(t, s, "alice", "hunter2")

		rec := f.call(http.MethodPost, "/logout", s, url.Values{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])

		assert.Nil(t, f.bridge.GetPayload(s))
		logins, err := f.history.ByPrincipal(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, logins)
	})

	t.Run("id revokes a single history entry", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.attach(t, "app1", "tok1", "S3cret")
		s2 := f.attach(t, "app2", "tok2", "0therSecret")
		f.login(t, s1, "alice", "hunter2")
		f.login(t, s2, "alice", "hunter2")

		logins, err := f.history.ByPrincipal(ctx, "alice")
		require.NoError(t, err)
		var target history.Login
		for _, l := range logins {
			if l.BrokerID == "app2" {
				target = l
			}
		}
		require.NotEmpty(t, target.ID)

		rec := f.call(http.MethodPost, "/logout", s1, url.Values{
			"method": {"id"}, "login_id": {target.ID},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])

		assert.NotNil(t, f.bridge.GetPayload(s1), "calling session stays live")
		assert.Nil(t, f.bridge.GetPayload(s2), "targeted session is revoked")
	})

	t.Run("id rejects another principal's entry", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.attach(t, "app1", "tok1", "S3cret")
		s2 := f.attach(t, "app2", "tok2", "0therSecret")
		f.login(t, s1, "alice", "hunter2")
		f.login(t, s2, "bob", "letmein")

		bobLogins, err := f.history.ByPrincipal(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, bobLogins, 1)

		rec := f.call(http.MethodPost, "/logout", s1, url.Values{
			"method": {"id"}, "login_id": {bobLogins[0].ID},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["error"])
		assert.NotNil(t, f.bridge.GetPayload(s2), "bob's session is untouched")
	})

	t.Run("others keeps the calling session", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.attach(t, "app1", "tok1", "S3cret")
		s2 := f.attach(t, "app2", "tok2", "0therSecret")
		f.login(t, s1, "alice", "hunter2")
		f.login(t, s2, "alice", "hunter2")

		rec := f.call(http.MethodPost, "/logout", s1, url.Values{"method": {"others"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])

		assert.NotNil(t, f.bridge.GetPayload(s1))
		assert.Nil(t, f.bridge.GetPayload(s2))
	})

	t.Run("all revokes everything", func(t *testing.T) {
		f := newFixture(t)
		s1 := f.attach(t, "app1", "tok1", "S3cret")
		s2 := f.attach(t, "app2", "tok2", "0therSecret")
		f.login(t, s1, "alice", "hunter2")
		f.login(t, s2, "alice", "hunter2")

		rec := f.call(http.MethodPost, "/logout", s1, url.Values{"method": {"all"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])

		assert.Nil(t, f.bridge.GetPayload(s1))
		assert.Nil(t, f.bridge.GetPayload(s2))
		logins, err := f.history.ByPrincipal(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, logins)
	})
}

func TestCommands(t *testing.T) {
	f := newFixture(t, WithCommand("whoami", func(_ context.Context, principal string, _ map[string]string) (any, error) {
		return map[string]string{"principal": principal}, nil
	}))
	s := f.attach(t, "app1", "tok1", "S3cret")
	f.login(t, s, "alice", "hunter2")

	t.Run("known command", func(t *testing.T) {
		rec := f.call(http.MethodPost, "/commands/whoami", s, url.Values{})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		data, ok := body["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice", data["principal"])
	})

	t.Run("unknown command", func(t *testing.T) {
		rec := f.call(http.MethodPost, "/commands/selfdestruct", s, url.Values{})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("registered but nil handler", func(t *testing.T) {
		f2 := newFixture(t, WithCommand("broken", nil))
		s2 := f2.attach(t, "app1", "tokN", "S3cret")
		f2.login(t, s2, "alice", "hunter2")
		rec := f2.call(http.MethodPost, "/commands/broken", s2, url.Values{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires authentication", func(t *testing.T) {
		s2 := f.attach(t, "app2", "tok2", "0therSecret")
		rec := f.call(http.MethodPost, "/commands/whoami", s2, url.Values{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLoginRejectsMalformedForm(t *testing.T) {
	f := newFixture(t)
	s := f.attach(t, "app1", "tokM", "S3cret")

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("username=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	// A bad body is not a protocol rejection, so no wire code.
	assert.NotContains(t, body, "code")
	assert.Contains(t, body, "message")
}

func TestMetricsTrackLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m))

	s1 := f.attach(t, "app1", "tok1", "S3cret")
	s2 := f.attach(t, "app2", "tok2", "0therSecret")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attaches))

	rec := f.call(http.MethodPost, "/login", s1, url.Values{
		"username": {"alice"}, "password": {"wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	f.login(t, s1, "alice", "hunter2")
	f.login(t, s2, "alice", "hunter2")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("failure")))

	rec = f.call(http.MethodGet, "/profile", s1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes), "profile bumps the refresh counter")

	rec = f.call(http.MethodPost, "/logout", s1, url.Values{"method": {"all"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.revocations), "both sessions count as revoked")
}

func TestDocsEndpoints(t *testing.T) {
	f := newFixture(t)
	rec := f.call(http.MethodGet, "/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Passport SSO Server")
}
