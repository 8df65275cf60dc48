// Package memory is a process-local crud.Backend, for tests, demos and small datasets.
package memory

import (
	"errors"
	"slices"
	"sync"

	"github.com/edgeflare/crudrouter/pkg/crud"
)

// ErrDuplicateKey is returned by Store when a key is inserted twice. The backend reports it as a
// *crud.ConflictError.
var ErrDuplicateKey = errors.New("memory: duplicate key")

// Store holds the entities of one schema in insertion order. It is safe for concurrent use and
// may be shared by several backends, e.g. to keep data across router rebuilds.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[any]T
	order []any
	seq   int64
}

// NewStore returns an empty store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{items: make(map[any]T)}
}

// Len returns the number of stored entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store[T]) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store[T]) window(page crud.Page) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi := page.Bounds(len(s.order))
	out := make([]T, 0, hi-lo)
	for _, k := range s.order[lo:hi] {
		out = append(out, s.items[k])
	}
	return out
}

func (s *Store[T]) get(key any) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	return e, ok
}

func (s *Store[T]) insert(key any, e T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return ErrDuplicateKey
	}
	s.items[key] = e
	s.order = append(s.order, key)
	// Generated keys continue after the largest integer key stored.
	if n, ok := crud.IntKey(key); ok && n > s.seq {
		s.seq = n
	}
	return nil
}

func (s *Store[T]) replace(key any, e T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; !exists {
		return false
	}
	s.items[key] = e
	return true
}

// remove deletes the given keys and returns how many were present.
func (s *Store[T]) remove(keys ...any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make(map[any]struct{}, len(keys))
	for _, k := range keys {
		if _, exists := s.items[k]; exists {
			delete(s.items, k)
			removed[k] = struct{}{}
		}
	}
	if len(removed) > 0 {
		s.order = slices.DeleteFunc(s.order, func(k any) bool {
			_, gone := removed[k]
			return gone
		})
	}
	return len(removed)
}
