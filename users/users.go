// Package users is a static principal directory for the server side:
// usernames mapped to argon2id password hashes. It serves as the default
// credentials authenticator when the host application does not bring its
// own user store.
package users

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"
)

// Argon2id parameters. Moderate cost: logins are human-paced.
const (
	hashTime        = 1
	hashMemoryKiB   = 64 * 1024
	hashParallelism = 4
	hashKeyLen      = 32
	saltLen         = 16
)

// User is one directory entry. Attributes are arbitrary profile fields
// (name, role, ...) returned alongside the username in the principal
// payload.
type User struct {
	Username     string            `json:"username" yaml:"username"`
	PasswordHash string            `json:"password_hash" yaml:"password_hash"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Directory is an in-memory user directory keyed by username.
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewDirectory builds a directory from the given entries.
func NewDirectory(entries []User) *Directory {
	d := &Directory{users: make(map[string]User, len(entries))}
	for _, u := range entries {
		d.users[u.Username] = u
	}
	return d
}

// Add inserts or replaces a directory entry.
func (d *Directory) Add(u User) {
	d.mu.Lock()
	d.users[u.Username] = u
	d.mu.Unlock()
}

// Lookup returns the user with the given username.
func (d *Directory) Lookup(username string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	return u, ok
}

// Authenticate verifies a username/password pair. It returns the user on
// success and false on any failure; the caller cannot tell an unknown user
// from a wrong password.
func (d *Directory) Authenticate(username, password string) (User, bool) {
	u, ok := d.Lookup(username)
	if !ok || u.PasswordHash == "" {
		return User{}, false
	}
	if !VerifyPassword(password, u.PasswordHash) {
		return User{}, false
	}
	return u, true
}

// HashPassword derives an argon2id hash of the NFKC-normalized password,
// encoded as argon2id$<base64 salt>$<base64 key>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := deriveKey(password, salt)
	return fmt.Sprintf("argon2id$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches an encoded hash produced
// by HashPassword. The comparison is constant time.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(want) != hashKeyLen {
		return false
	}
	got := deriveKey(password, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// deriveKey normalizes the password with NFKC first so visually identical
// inputs typed on different platforms hash the same.
func deriveKey(password string, salt []byte) []byte {
	normalized := norm.NFKC.String(password)
	return argon2.IDKey([]byte(normalized), salt, hashTime, hashMemoryKiB, hashParallelism, hashKeyLen)
}
