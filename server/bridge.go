package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okulov/passport"
	"github.com/okulov/passport/registry"
	"github.com/okulov/passport/sid"
	"github.com/okulov/passport/storage"
)

// payloadPrefix namespaces the principal payload keys so they never collide
// with session id keys in a shared store.
const payloadPrefix = "sso_payload:"

// Bridge maps external session ids to local session handles in a TTL store.
// The indirection lets the server wipe just the principal payload (logout)
// without destroying the sid binding, or delete both (revoke).
type Bridge struct {
	store  storage.Store
	reg    registry.Registry
	ttl    time.Duration // <= 0 means entries never expire
	logger *slog.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the structured logger. Defaults to slog.Default.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a session bridge over the given store and broker
// registry. A ttl <= 0 stores entries without expiry.
func NewBridge(store storage.Store, reg registry.Registry, ttl time.Duration, opts ...BridgeOption) *Bridge {
	b := &Bridge{store: store, reg: reg, ttl: ttl}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Validate decodes the session id, resolves the embedded broker id against
// the registry, and recomputes the session checksum with the resolved
// secret. It returns the broker that minted the sid. Failure modes are
// distinct: an unparseable sid is passport.ErrInvalidSessionFormat, an
// unprovisioned broker id is registry.ErrUnknownBroker, and a parsed sid
// whose checksum does not reproduce is passport.ErrChecksumMismatch, which
// signals a tampered sid or a secret mismatch between the two sides rather
// than an expired session.
func (b *Bridge) Validate(ctx context.Context, s string) (registry.Broker, error) {
	brokerID, token, sum, err := sid.Decode(s)
	if err != nil {
		return registry.Broker{}, err
	}
	broker, err := b.reg.FindByID(ctx, brokerID)
	if err != nil {
		return registry.Broker{}, err
	}
	if !sid.Verify(token, broker.Secret, sum) {
		return registry.Broker{}, passport.ErrChecksumMismatch
	}
	return broker, nil
}

// Attach binds the session id to a local session handle. Attach is
// idempotent per sid: an existing live entry keeps its handle and gets a
// fresh TTL window instead of being replaced by a second handle.
func (b *Bridge) Attach(s string) string {
	if handle, ok := b.store.Get(s); ok {
		b.store.Set(s, handle, b.ttl)
		return handle
	}
	return b.Restart(s)
}

// Restart binds the session id to a brand-new local handle, superseding any
// existing binding and orphaning its payload. Use it when explicit
// re-attachment is intended.
func (b *Bridge) Restart(s string) string {
	if old, ok := b.store.Get(s); ok {
		b.store.Delete(payloadPrefix + old)
	}
	handle := uuid.NewString()
	b.store.Set(s, handle, b.ttl)
	return handle
}

// Has reports whether a live session entry exists for the sid.
func (b *Bridge) Has(s string) bool {
	return b.store.Has(s)
}

// Handle returns the local session handle bound to the sid.
func (b *Bridge) Handle(s string) (string, bool) {
	return b.store.Get(s)
}

// SetPayload stores the principal payload inside the local session bound to
// the sid. If the session entry already expired this is a warned no-op
// returning passport.ErrNotAttached.
func (b *Bridge) SetPayload(s string, payload map[string]any) error {
	handle, ok := b.store.Get(s)
	if !ok {
		b.logger.Warn("session expired in store, dropping payload write", "sid_broker", brokerOf(s))
		return passport.ErrNotAttached
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding session payload: %w", err)
	}
	b.store.Set(payloadPrefix+handle, string(data), b.ttl)
	return nil
}

// GetPayload returns the principal payload bound to the sid, or nil if the
// session entry or its payload no longer exists.
func (b *Bridge) GetPayload(s string) map[string]any {
	handle, ok := b.store.Get(s)
	if !ok {
		return nil
	}
	return b.payloadByHandle(handle)
}

func (b *Bridge) payloadByHandle(handle string) map[string]any {
	data, ok := b.store.Get(payloadPrefix + handle)
	if !ok {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		b.logger.Warn("corrupt session payload, dropping it", "error", err)
		b.store.Delete(payloadPrefix + handle)
		return nil
	}
	return payload
}

// Refresh re-writes the session entry and its payload with a fresh TTL
// window. This keeps an active user's bridge alive without re-attachment.
// Refreshing an already expired entry is a warned no-op, not a
// resurrection.
func (b *Bridge) Refresh(s string) {
	handle, ok := b.store.Get(s)
	if !ok {
		b.logger.Warn("cannot refresh expired session", "sid_broker", brokerOf(s))
		return
	}
	b.store.Set(s, handle, b.ttl)
	if data, ok := b.store.Get(payloadPrefix + handle); ok {
		b.store.Set(payloadPrefix+handle, data, b.ttl)
	}
}

// Revoke deletes the session entry and its bound payload. Revoking an
// already revoked sid is a no-op.
func (b *Bridge) Revoke(s string) {
	if handle, ok := b.store.Get(s); ok {
		b.store.Delete(payloadPrefix + handle)
	}
	b.store.Delete(s)
}

// RevokeHandle wipes the principal payload of a local session handle. Used
// by history-based revocation ("log out this other device"), where only the
// handle is known; the sid binding, if any, lapses on its own TTL.
func (b *Bridge) RevokeHandle(handle string) {
	b.store.Delete(payloadPrefix + handle)
}

// TTL returns the configured storage TTL window.
func (b *Bridge) TTL() time.Duration {
	return b.ttl
}

// brokerOf extracts the broker id for log context without trusting the rest
// of the sid. Never logs the token.
func brokerOf(s string) string {
	brokerID, _, _, err := sid.Decode(s)
	if err != nil {
		return "invalid"
	}
	return brokerID
}
