package broker

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/okulov/passport"
)

// attachAttemptParam counts attach round trips in the return URL so a
// broker that keeps losing its token fails loudly instead of
// redirecting forever.
const attachAttemptParam = "sso_attempt"

const defaultAttachAttempts = 3

// currentURL rebuilds the absolute URL of an incoming request,
// honoring the forwarded proto header when the broker sits behind a
// TLS-terminating proxy.
func currentURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// RequireAttached redirects the user agent through the server attach
// handshake until this broker holds an attach token, then serves the
// wrapped handler. Past the configured attempt limit it gives up with
// a server error rather than looping.
func (c *Client) RequireAttached(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.Attached() {
			// Drop the loop counter so it does not outlive the
			// handshake in bookmarks or shared links.
			if r.URL.Query().Has(attachAttemptParam) {
				clean := *r.URL
				q := clean.Query()
				q.Del(attachAttemptParam)
				clean.RawQuery = q.Encode()
				http.Redirect(w, r, clean.RequestURI(), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		attempt, _ := strconv.Atoi(r.URL.Query().Get(attachAttemptParam))
		if attempt >= c.maxAttempts {
			c.logger.Error("attach redirect loop", "broker_id", c.id, "attempts", attempt)
			http.Error(w, passport.ErrRedirectLoop.Error(), http.StatusInternalServerError)
			return
		}

		back, err := url.Parse(currentURL(r))
		if err != nil {
			http.Error(w, "bad request url", http.StatusBadRequest)
			return
		}
		q := back.Query()
		q.Set(attachAttemptParam, strconv.Itoa(attempt+1))
		back.RawQuery = q.Encode()

		attachURL, err := c.AttachURL(back.String(), nil)
		if err != nil {
			c.logger.Error("building attach url failed", "broker_id", c.id, "error", err)
			http.Error(w, "attach failed", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, attachURL, http.StatusFound)
	})
}
