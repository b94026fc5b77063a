package broker

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okulov/passport/storage"
)

const bearerKeyPrefix = "bearer_"

// BearerToken is an API credential a broker issues to a principal so
// non-browser clients can call the broker without the cookie flow.
// Only the SHA-256 of the plaintext is ever stored.
type BearerToken struct {
	Name       string    `json:"name"`
	Principal  string    `json:"principal"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// TokenStore issues and checks bearer tokens over a key-value store.
type TokenStore struct {
	store storage.Store
	now   func() time.Time
}

// NewTokenStore builds a token store.
func NewTokenStore(store storage.Store) *TokenStore {
	return &TokenStore{store: store, now: time.Now}
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Issue mints a bearer token for a principal and returns the plaintext
// exactly once. A zero ttl issues a non-expiring token.
func (ts *TokenStore) Issue(principal, name string, ttl time.Duration) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("minting bearer token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)

	now := ts.now().UTC()
	token := BearerToken{
		Name:      name,
		Principal: principal,
		CreatedAt: now,
	}
	if ttl > 0 {
		token.ExpiresAt = now.Add(ttl)
	}
	encoded, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encoding bearer token: %w", err)
	}
	ts.store.Set(bearerKeyPrefix+hashToken(plaintext), string(encoded), ttl)
	return plaintext, nil
}

// Check resolves a plaintext token to its record and bumps the last
// used timestamp. Expired and unknown tokens both come back not found.
func (ts *TokenStore) Check(plaintext string) (BearerToken, bool) {
	if len(plaintext) != 64 {
		return BearerToken{}, false
	}
	key := bearerKeyPrefix + hashToken(plaintext)
	encoded, ok := ts.store.Get(key)
	if !ok {
		return BearerToken{}, false
	}
	var token BearerToken
	if err := json.Unmarshal([]byte(encoded), &token); err != nil {
		ts.store.Delete(key)
		return BearerToken{}, false
	}
	now := ts.now().UTC()
	if !token.ExpiresAt.IsZero() && !now.Before(token.ExpiresAt) {
		ts.store.Delete(key)
		return BearerToken{}, false
	}

	token.LastUsedAt = now
	ttl := storage.Forever
	if !token.ExpiresAt.IsZero() {
		ttl = token.ExpiresAt.Sub(now)
	}
	if updated, err := json.Marshal(token); err == nil {
		ts.store.Set(key, string(updated), ttl)
	}
	return token, true
}

// Revoke deletes a token by its plaintext.
func (ts *TokenStore) Revoke(plaintext string) {
	ts.store.Delete(bearerKeyPrefix + hashToken(plaintext))
}
