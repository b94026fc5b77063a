// Package registry resolves broker ids to their shared secrets on the
// server side. Lookups fail closed: an unknown id is always an error, never
// a default secret.
package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownBroker is returned when a broker id has not been provisioned.
var ErrUnknownBroker = errors.New("unknown broker")

// Broker is the identity of a client application. Immutable once
// provisioned.
type Broker struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// Registry looks up brokers by id.
type Registry interface {
	FindByID(ctx context.Context, id string) (Broker, error)
}

// Static is a Registry backed by a configured map of broker id to secret.
type Static map[string]string

var _ Registry = Static(nil)

// NewStatic copies the given map into a Static registry.
func NewStatic(brokers map[string]string) Static {
	s := make(Static, len(brokers))
	for id, secret := range brokers {
		s[id] = secret
	}
	return s
}

func (s Static) FindByID(_ context.Context, id string) (Broker, error) {
	secret, ok := s[id]
	if !ok || secret == "" {
		return Broker{}, fmt.Errorf("broker %q: %w", id, ErrUnknownBroker)
	}
	return Broker{ID: id, Secret: secret}, nil
}
