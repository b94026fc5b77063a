// Package sid encodes and decodes the wire-format session identifier
// exchanged between brokers and the server:
//
//	Passport-{broker_id}-{token}-{checksum}
//
// The identifier is self-verifying: anyone holding the broker's secret can
// recompute the embedded checksum and confirm the sid was minted by someone
// who also holds it. Parsing is pure and never consults the identity
// registry.
package sid

import (
	"fmt"
	"regexp"

	"github.com/okulov/passport"
	"github.com/okulov/passport/checksum"
)

// Prefix is the fixed leading component of every session id.
const Prefix = "Passport"

// Broker ids may carry word characters and dashes; tokens are alphanumeric
// (hex for generated ones, but deployed brokers have minted looser tokens);
// checksums are lowercase sha256 hex. Backtracking resolves the dash
// ambiguity between broker id and token because the tail groups are
// anchored.
var sidPattern = regexp.MustCompile(`^Passport-([\w-]+)-([A-Za-z0-9]+)-([0-9a-f]+)$`)

// Encode builds the session id for a broker/token pair, embedding the
// session-kind checksum derived from secret.
func Encode(brokerID, token, secret string) string {
	sum := checksum.Generate(checksum.KindSession, token, secret)
	return fmt.Sprintf("%s-%s-%s-%s", Prefix, brokerID, token, sum)
}

// Decode splits a session id into broker id, token and checksum. Any input
// that does not match the wire format, including the empty string, fails
// with passport.ErrInvalidSessionFormat.
func Decode(s string) (brokerID, token, sum string, err error) {
	if s == "" {
		return "", "", "", passport.ErrInvalidSessionFormat
	}
	m := sidPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", "", passport.ErrInvalidSessionFormat
	}
	return m[1], m[2], m[3], nil
}

// Verify reports whether the checksum embedded in a decoded session id
// re-verifies against secret.
func Verify(token, secret, sum string) bool {
	return checksum.Verify(checksum.KindSession, token, secret, sum)
}
