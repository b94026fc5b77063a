package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/okulov/passport"
	"github.com/okulov/passport/registry"
)

type ctxKey int

const sessionKey ctxKey = iota

// sessionInfo carries the validated caller identity through a request.
type sessionInfo struct {
	sid    string
	broker registry.Broker
}

func sessionFrom(ctx context.Context) *sessionInfo {
	sess, _ := ctx.Value(sessionKey).(*sessionInfo)
	return sess
}

// extractSID pulls the session id off a broker call. Bearer token
// first, then the access_token and sso_session parameters.
func extractSID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	if token := r.URL.Query().Get("sso_session"); token != "" {
		return token
	}
	if r.Method != http.MethodGet {
		if err := r.ParseForm(); err == nil {
			if token := r.PostForm.Get("access_token"); token != "" {
				return token
			}
			if token := r.PostForm.Get("sso_session"); token != "" {
				return token
			}
		}
	}
	return ""
}

// requireBroker rejects any call whose session id is missing, fails
// checksum validation, or was never attached.
func (s *Server) requireBroker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := extractSID(r)
		if sid == "" {
			s.audit.logFailure(AuditAttachRejected, r, "missing session id")
			writeCode(w, http.StatusForbidden, passport.CodeInvalidSessionID, "no session id in request")
			return
		}
		broker, err := s.bridge.Validate(r.Context(), sid)
		if err != nil {
			s.audit.logFailure(AuditAttachRejected, r, "session validation failed")
			mapError(w, err)
			return
		}
		if !s.bridge.Has(sid) {
			writeCode(w, http.StatusForbidden, passport.CodeNotAttached, "broker is not attached to the server session")
			return
		}
		sess := &sessionInfo{sid: sid, broker: broker}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}
