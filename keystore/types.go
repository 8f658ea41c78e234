// Package keystore defines the append-only KeyRecord store behind the KDS:
// one endpoint per name, one row per (name, generation), never mutated in
// place.
package keystore

import (
	"context"
	"time"
)

// KeyRecord is a single wrapped, signed key version for an endpoint.
type KeyRecord struct {
	Name       string
	Generation uint64
	Ciphertext []byte
	Signature  []byte
	Expiration *time.Time
	IsGroup    bool
}

// EndpointMeta is the per-name bookkeeping row: whether the name is a
// group, and the highest generation ever written for it.
type EndpointMeta struct {
	Name             string
	IsGroup          bool
	LatestGeneration uint64
}

// Store is the append-only KeyRecord backend. Both the in-memory and
// PostgreSQL implementations must serialize concurrent SetKey calls on the
// same name (spec §5): one writer wins the generation bump, the other
// either retries once (PostgreSQL, on serialization failure) or blocks on
// a per-name mutex (in-memory).
type Store interface {
	// SetKey appends a new KeyRecord for name, creating the endpoint (with
	// latest_generation=0) on first use. If the endpoint already exists
	// with a different is_group value, it returns a
	// *kdserrors.GroupStatusChangedError. On success it returns the new
	// generation.
	SetKey(ctx context.Context, name string, ciphertext, signature []byte, isGroup bool, expiration *time.Time) (uint64, error)

	// GetKey returns the KeyRecord for name. If generation is non-nil, it
	// returns exactly that row; otherwise the row at the endpoint's
	// latest_generation. If isGroup is non-nil, the endpoint's flag must
	// match or the record is treated as not found. Returns
	// (nil, nil) if no such record exists — callers apply freshness
	// policy and map to kdserrors themselves.
	GetKey(ctx context.Context, name string, generation *uint64, isGroup *bool) (*KeyRecord, error)

	// CreateGroup inserts a fresh group endpoint with latest_generation=0.
	// Returns false (no error) if the name already exists, mirroring the
	// idempotent-failure semantics of spec §4.2.
	CreateGroup(ctx context.Context, name string) (bool, error)

	// Endpoint returns the endpoint metadata for name, or (nil, nil) if
	// the endpoint does not exist.
	Endpoint(ctx context.Context, name string) (*EndpointMeta, error)

	// Delete removes an endpoint and all of its key versions. Returns
	// false (no error) if name does not exist, mirroring CreateGroup's
	// idempotent-failure reporting convention.
	Delete(ctx context.Context, name string) (bool, error)

	// Close releases any resources held by the store.
	Close() error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
