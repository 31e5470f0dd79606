package merkle

import (
	"context"
	"sync"

	"github.com/ccoin/shielded/internal/curve"
)

// MemStore is an in-memory Store, adapted from the teacher's
// InMemoryTreeStore (internal/zkp/merkle.go) to key on FieldElement
// nodes instead of SHA-256 hashes. Used for tests and for scanning
// before a persistent backend is wired.
type MemStore struct {
	mu    sync.RWMutex
	nodes map[int]map[uint64]curve.FieldElement
	size  uint64
}

// NewMemStore creates an empty in-memory tree store.
func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[int]map[uint64]curve.FieldElement)}
}

// GetNode implements Store.
func (s *MemStore) GetNode(ctx context.Context, level int, index uint64) (curve.FieldElement, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, ok := s.nodes[level]
	if !ok {
		return curve.FieldElement{}, false, nil
	}
	v, ok := lvl[index]
	return v, ok, nil
}

// SetNode implements Store.
func (s *MemStore) SetNode(ctx context.Context, level int, index uint64, value curve.FieldElement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes[level] == nil {
		s.nodes[level] = make(map[uint64]curve.FieldElement)
	}
	s.nodes[level][index] = value
	return nil
}

// GetSize implements Store.
func (s *MemStore) GetSize(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

// SetSize implements Store.
func (s *MemStore) SetSize(ctx context.Context, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = size
	return nil
}
