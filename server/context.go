package server

import (
	"net/http"
	"strings"
)

// Forwarded client context headers. Brokers relay their own caller's
// user agent and address so server-side history records the end user,
// not the broker host.
const (
	HeaderUserAgent     = "Passport-User-Agent"
	HeaderRemoteAddress = "Passport-Remote-Address"
)

// RequestContext describes the end user behind a broker call.
type RequestContext struct {
	UserAgent string
	IP        string
	Device    string
	Location  string
}

// Enricher derives device and location labels from a request context.
// The default implementation leaves both empty; deployments can plug
// in a user agent parser or a GeoIP lookup.
type Enricher interface {
	Enrich(rc RequestContext) RequestContext
}

type noopEnricher struct{}

func (noopEnricher) Enrich(rc RequestContext) RequestContext { return rc }

// requestContext extracts the forwarded client context from a broker
// request, falling back to the direct connection when the broker did
// not forward anything.
func requestContext(r *http.Request, enricher Enricher) RequestContext {
	rc := RequestContext{
		UserAgent: r.Header.Get(HeaderUserAgent),
		IP:        r.Header.Get(HeaderRemoteAddress),
	}
	if rc.UserAgent == "" {
		rc.UserAgent = r.UserAgent()
	}
	if rc.IP == "" {
		rc.IP = clientIP(r)
	}
	return enricher.Enrich(rc)
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
