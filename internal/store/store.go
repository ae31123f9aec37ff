// Package store implements the keyed primary stores for announcements and
// organizations: O(1) average access by identifier plus an insertion-order
// walk. The store itself is not synchronised; the consistency coordinator
// serialises access to the store/index pair as a whole.
package store

import (
	"iter"

	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
)

// Store is a keyed collection of a single record type.
type Store[T any] struct {
	records map[string]T
	order   []string
}

// New creates an empty store.
func New[T any]() *Store[T] {
	return &Store[T]{records: make(map[string]T)}
}

// Get returns the record for id.
func (s *Store[T]) Get(id string) (T, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Put inserts or replaces the record for id, returning the previous value
// if one existed. The empty identifier is rejected; any further validation
// belongs to the coordinator.
func (s *Store[T]) Put(id string, rec T) (prev T, replaced bool, err error) {
	if id == "" {
		var zero T
		return zero, false, apperrors.New(apperrors.ErrValidation, 400, "empty identifier")
	}
	prev, replaced = s.records[id]
	if !replaced {
		s.order = append(s.order, id)
	}
	s.records[id] = rec
	return prev, replaced, nil
}

// Delete removes and returns the record for id.
func (s *Store[T]) Delete(id string) (T, bool) {
	rec, ok := s.records[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return rec, true
}

// Len returns the number of records.
func (s *Store[T]) Len() int {
	return len(s.records)
}

// Has reports whether id is present.
func (s *Store[T]) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// All returns a lazy, restartable walk over the records in insertion
// order. Mutating the store while a walk is in progress is not supported;
// the coordinator's locking rules prevent it.
func (s *Store[T]) All() iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		for _, id := range s.order {
			if !yield(id, s.records[id]) {
				return
			}
		}
	}
}
