// Package attrstore provides implementations of breakpoint.AttributeStore:
// an in-memory store and a YAML file backed one.
package attrstore

import (
	"sync"

	"github.com/go-delve/bpengine/pkg/breakpoint"
)

// MemStore keeps attributes in memory.
type MemStore struct {
	mu          sync.RWMutex
	attrs       map[string]interface{}
	unavailable bool
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{attrs: make(map[string]interface{})}
}

func (s *MemStore) Attribute(key string, def interface{}) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.attrs[key]; ok {
		return v
	}
	return def
}

// SetAttributes sets every attribute of attrs in one step.
func (s *MemStore) SetAttributes(attrs map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return breakpoint.ErrStoreUnavailable
	}
	for k, v := range attrs {
		s.attrs[k] = v
	}
	return nil
}

// SetUnavailable makes every following SetAttributes fail with
// breakpoint.ErrStoreUnavailable until it is called again with false.
func (s *MemStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	s.unavailable = unavailable
	s.mu.Unlock()
}

// Snapshot returns a copy of the attributes.
func (s *MemStore) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := make(map[string]interface{}, len(s.attrs))
	for k, v := range s.attrs {
		r[k] = v
	}
	return r
}
