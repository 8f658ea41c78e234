// Package memory implements an in-memory keystore.Store, suitable for
// tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/keystore"
)

type endpoint struct {
	mu               sync.Mutex
	isGroup          bool
	latestGeneration uint64
	records          map[uint64]keystore.KeyRecord
}

// Store implements keystore.Store with an in-memory map guarded by a
// top-level mutex for endpoint creation and a per-endpoint mutex for the
// read-increment-append critical section in SetKey.
type Store struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
}

// New creates an empty in-memory keystore.
func New() *Store {
	return &Store{endpoints: make(map[string]*endpoint)}
}

func (s *Store) getOrCreateEndpoint(name string, isGroup bool) (*endpoint, error) {
	s.mu.Lock()
	ep, ok := s.endpoints[name]
	if !ok {
		ep = &endpoint{isGroup: isGroup, records: make(map[uint64]keystore.KeyRecord)}
		s.endpoints[name] = ep
		s.mu.Unlock()
		return ep, nil
	}
	s.mu.Unlock()

	if ep.isGroup != isGroup {
		return nil, kdserrors.NewGroupStatusChangedError(name)
	}
	return ep, nil
}

// SetKey implements keystore.Store.
func (s *Store) SetKey(ctx context.Context, name string, ciphertext, signature []byte, isGroup bool, expiration *time.Time) (uint64, error) {
	ep, err := s.getOrCreateEndpoint(name, isGroup)
	if err != nil {
		return 0, err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.latestGeneration++
	gen := ep.latestGeneration

	ct := append([]byte(nil), ciphertext...)
	sig := append([]byte(nil), signature...)
	var exp *time.Time
	if expiration != nil {
		e := *expiration
		exp = &e
	}

	ep.records[gen] = keystore.KeyRecord{
		Name:       name,
		Generation: gen,
		Ciphertext: ct,
		Signature:  sig,
		Expiration: exp,
		IsGroup:    isGroup,
	}
	return gen, nil
}

// GetKey implements keystore.Store.
func (s *Store) GetKey(ctx context.Context, name string, generation *uint64, isGroup *bool) (*keystore.KeyRecord, error) {
	s.mu.RLock()
	ep, ok := s.endpoints[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if isGroup != nil && ep.isGroup != *isGroup {
		return nil, nil
	}

	gen := ep.latestGeneration
	if generation != nil {
		gen = *generation
	}

	rec, ok := ep.records[gen]
	if !ok {
		return nil, nil
	}

	recCopy := rec
	recCopy.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	recCopy.Signature = append([]byte(nil), rec.Signature...)
	return &recCopy, nil
}

// CreateGroup implements keystore.Store.
func (s *Store) CreateGroup(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.endpoints[name]; exists {
		return false, nil
	}

	s.endpoints[name] = &endpoint{isGroup: true, records: make(map[uint64]keystore.KeyRecord)}
	return true, nil
}

// Endpoint implements keystore.Store.
func (s *Store) Endpoint(ctx context.Context, name string) (*keystore.EndpointMeta, error) {
	s.mu.RLock()
	ep, ok := s.endpoints[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	return &keystore.EndpointMeta{
		Name:             name,
		IsGroup:          ep.isGroup,
		LatestGeneration: ep.latestGeneration,
	}, nil
}

// Delete implements keystore.Store.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[name]; !ok {
		return false, nil
	}
	delete(s.endpoints, name)
	return true, nil
}

// Close implements keystore.Store; no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

// Ping implements keystore.Store; always succeeds for the in-memory backend.
func (s *Store) Ping(ctx context.Context) error { return nil }
