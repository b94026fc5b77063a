package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/passport"
	"github.com/okulov/passport/checksum"
	"github.com/okulov/passport/registry"
	"github.com/okulov/passport/sid"
	"github.com/okulov/passport/storage/memory"
)

func testRegistry() registry.Registry {
	return registry.NewStatic(map[string]string{
		"app1": "S3cret",
		"app2": "0therSecret",
	})
}

func testSID(t *testing.T, brokerID, token, secret string) string {
	t.Helper()
	return sid.Encode(brokerID, token, secret)
}

func TestBridgeValidate(t *testing.T) {
	bridge := NewBridge(memory.New(), testRegistry(), time.Hour)
	ctx := context.Background()

	t.Run("accepts a well signed session id", func(t *testing.T) {
		broker, err := bridge.Validate(ctx, testSID(t, "app1", "tok123", "S3cret"))
		require.NoError(t, err)
		assert.Equal(t, "app1", broker.ID)
	})

	t.Run("rejects a session signed with the wrong secret", func(t *testing.T) {
		_, err := bridge.Validate(ctx, testSID(t, "app1", "tok123", "WrongSecret"))
		require.ErrorIs(t, err, passport.ErrChecksumMismatch)
		assert.ErrorIs(t, err, passport.ErrInvalidSessionID)
	})

	t.Run("rejects an unknown broker", func(t *testing.T) {
		_, err := bridge.Validate(ctx, testSID(t, "ghost", "tok123", "S3cret"))
		assert.ErrorIs(t, err, registry.ErrUnknownBroker)
	})

	t.Run("rejects a malformed session id", func(t *testing.T) {
		_, err := bridge.Validate(ctx, "not-a-session-id")
		assert.ErrorIs(t, err, passport.ErrInvalidSessionID)
	})
}

func TestBridgeKnownChecksumVector(t *testing.T) {
	// Fixed vector: hex SHA-256 of "session" + "tok123" + "S3cret".
	sum := checksum.Generate(checksum.KindSession, "tok123", "S3cret")
	s := "Passport-app1-tok123-" + sum
	assert.Equal(t, s, sid.Encode("app1", "tok123", "S3cret"))

	bridge := NewBridge(memory.New(), testRegistry(), time.Hour)
	broker, err := bridge.Validate(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "S3cret", broker.Secret)
}

func TestBridgeAttachLifecycle(t *testing.T) {
	bridge := NewBridge(memory.New(), testRegistry(), time.Hour)
	s := testSID(t, "app1", "tok123", "S3cret")

	assert.False(t, bridge.Has(s))

	handle := bridge.Attach(s)
	require.NotEmpty(t, handle)
	assert.True(t, bridge.Has(s))

	t.Run("attach is idempotent for a live session", func(t *testing.T) {
		assert.Equal(t, handle, bridge.Attach(s))
	})

	t.Run("restart issues a fresh handle", func(t *testing.T) {
		fresh := bridge.Restart(s)
		assert.NotEqual(t, handle, fresh)
		assert.True(t, bridge.Has(s))
	})
}

func TestBridgePayload(t *testing.T) {
	bridge := NewBridge(memory.New(), testRegistry(), time.Hour)
	s := testSID(t, "app1", "tok123", "S3cret")

	t.Run("set fails before attach", func(t *testing.T) {
		err := bridge.SetPayload(s, map[string]any{"username": "alice"})
		assert.ErrorIs(t, err, passport.ErrNotAttached)
	})

	bridge.Attach(s)
	require.NoError(t, bridge.SetPayload(s, map[string]any{"username": "alice", "role": "admin"}))

	payload := bridge.GetPayload(s)
	require.NotNil(t, payload)
	assert.Equal(t, "alice", payload["username"])
	assert.Equal(t, "admin", payload["role"])

	t.Run("revoke clears payload and attachment", func(t *testing.T) {
		bridge.Revoke(s)
		assert.False(t, bridge.Has(s))
		assert.Nil(t, bridge.GetPayload(s))
	})

	t.Run("revoking twice is a safe no-op", func(t *testing.T) {
		bridge.Revoke(s)
		bridge.Revoke(s)
		assert.False(t, bridge.Has(s))
		assert.Nil(t, bridge.GetPayload(s))
	})
}

func TestBridgeExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := memory.New(memory.WithClock(func() time.Time { return now }))
	bridge := NewBridge(store, testRegistry(), time.Minute)
	s := testSID(t, "app1", "tok123", "S3cret")

	bridge.Attach(s)
	require.NoError(t, bridge.SetPayload(s, map[string]any{"username": "alice"}))

	now = now.Add(30 * time.Second)
	assert.True(t, bridge.Has(s))

	t.Run("refresh extends the lifetime", func(t *testing.T) {
		bridge.Refresh(s)
		now = now.Add(45 * time.Second)
		assert.True(t, bridge.Has(s))
		assert.NotNil(t, bridge.GetPayload(s))
	})

	t.Run("session and payload lapse together", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		assert.False(t, bridge.Has(s))
		assert.Nil(t, bridge.GetPayload(s))
	})

	t.Run("refresh after expiry is a no-op", func(t *testing.T) {
		bridge.Refresh(s)
		assert.False(t, bridge.Has(s))
	})
}

func TestBridgeRevokeHandle(t *testing.T) {
	bridge := NewBridge(memory.New(), testRegistry(), time.Hour)
	s := testSID(t, "app2", "tokXYZ", "0therSecret")

	bridge.Attach(s)
	require.NoError(t, bridge.SetPayload(s, map[string]any{"username": "bob"}))

	handle, ok := bridge.Handle(s)
	require.True(t, ok)

	bridge.RevokeHandle(handle)
	assert.Nil(t, bridge.GetPayload(s), "payload should be gone once the handle is revoked")
}
