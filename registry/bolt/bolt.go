// Package bolt provides a BBolt-backed broker registry, the "model" driver:
// brokers are provisioned in a host-owned store rather than configured
// statically. Records are stored as JSON objects; the id and secret field
// names are configurable so an existing brokers bucket written by another
// tool can be read in place.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/okulov/passport/registry"
)

const defaultBucket = "brokers"

// Config controls where broker records live and which JSON fields carry the
// identity pair.
type Config struct {
	// Bucket is the BBolt bucket name. Defaults to "brokers".
	Bucket string
	// IDField is the JSON field holding the broker id. Defaults to "id".
	IDField string
	// SecretField is the JSON field holding the secret. Defaults to
	// "secret".
	SecretField string
}

func (c *Config) applyDefaults() {
	if c.Bucket == "" {
		c.Bucket = defaultBucket
	}
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.SecretField == "" {
		c.SecretField = "secret"
	}
}

// Registry implements registry.Registry backed by a BBolt database.
type Registry struct {
	db  *bbolt.DB
	cfg Config
}

var _ registry.Registry = (*Registry)(nil)

// New returns a Registry over the given BBolt database.
func New(db *bbolt.DB, cfg Config) *Registry {
	cfg.applyDefaults()
	return &Registry{db: db, cfg: cfg}
}

// Open opens a BBolt database at path and returns a Registry over it.
func Open(path string, cfg Config) (*Registry, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt registry: %w", err)
	}
	return New(db, cfg), nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) FindByID(_ context.Context, id string) (registry.Broker, error) {
	var broker registry.Broker
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(r.cfg.Bucket))
		if b == nil {
			return fmt.Errorf("broker %q: %w", id, registry.ErrUnknownBroker)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("broker %q: %w", id, registry.ErrUnknownBroker)
		}
		var fields map[string]string
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("decoding broker %q: %w", id, err)
		}
		broker.ID = fields[r.cfg.IDField]
		broker.Secret = fields[r.cfg.SecretField]
		if broker.ID == "" || broker.Secret == "" {
			return fmt.Errorf("broker %q: %w", id, registry.ErrUnknownBroker)
		}
		return nil
	})
	if err != nil {
		return registry.Broker{}, err
	}
	return broker, nil
}

// Put provisions or replaces a broker record.
func (r *Registry) Put(broker registry.Broker) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(r.cfg.Bucket))
		if err != nil {
			return err
		}
		data, err := json.Marshal(map[string]string{
			r.cfg.IDField:     broker.ID,
			r.cfg.SecretField: broker.Secret,
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(broker.ID), data)
	})
}

// Delete removes a broker record. Removing an absent id is a no-op.
func (r *Registry) Delete(id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(r.cfg.Bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// List returns all provisioned broker ids.
func (r *Registry) List() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(r.cfg.Bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
