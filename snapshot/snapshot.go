// Package snapshot keeps numbered checkpoints of arbitrary state.
//
// Ids are handed out from zero and only ever grow. Removing an id with Remove
// also drops every checkpoint taken after it, since reverting to an older
// state invalidates everything recorded later. RemoveAt drops a single entry.
package snapshot

import (
	"math"

	"github.com/google/btree"
)

// ID identifies a checkpoint within one StateSnapshots.
type ID uint64

const degree = 8

type entry[T any] struct {
	id      ID
	payload T
}

func less[T any](a, b entry[T]) bool { return a.id < b.id }

// StateSnapshots is an ordered id -> payload store. It is not safe for
// concurrent use; owners serialize access.
type StateSnapshots[T any] struct {
	next ID
	tree *btree.BTreeG[entry[T]]
}

func New[T any]() *StateSnapshots[T] {
	return &StateSnapshots[T]{tree: btree.NewG[entry[T]](degree, less[T])}
}

// Insert stores payload under a fresh id. Once the counter reaches
// math.MaxUint64 it stays there and the last id is overwritten.
func (s *StateSnapshots[T]) Insert(payload T) ID {
	id := s.next
	if s.next < math.MaxUint64 {
		s.next++
	}
	s.tree.ReplaceOrInsert(entry[T]{id: id, payload: payload})
	return id
}

// InsertAt stores payload under an explicit id. The id counter is never moved
// backwards, so a re-inserted checkpoint cannot collide with future ones.
func (s *StateSnapshots[T]) InsertAt(id ID, payload T) {
	s.tree.ReplaceOrInsert(entry[T]{id: id, payload: payload})
	if id >= s.next && id < math.MaxUint64 {
		s.next = id + 1
	}
}

func (s *StateSnapshots[T]) Get(id ID) (T, bool) {
	e, ok := s.tree.Get(entry[T]{id: id})
	return e.payload, ok
}

// Remove deletes id and every id greater than it, returning the payload of
// id. Nothing is removed when id is unknown.
func (s *StateSnapshots[T]) Remove(id ID) (T, bool) {
	e, ok := s.tree.Get(entry[T]{id: id})
	if !ok {
		return e.payload, false
	}

	var tail []entry[T]
	s.tree.AscendGreaterOrEqual(entry[T]{id: id}, func(item entry[T]) bool {
		tail = append(tail, item)
		return true
	})
	for _, item := range tail {
		s.tree.Delete(item)
	}
	return e.payload, true
}

// RemoveAt deletes only id.
func (s *StateSnapshots[T]) RemoveAt(id ID) (T, bool) {
	e, ok := s.tree.Delete(entry[T]{id: id})
	return e.payload, ok
}

// Retain keeps only the entries for which keep returns true.
func (s *StateSnapshots[T]) Retain(keep func(ID, T) bool) {
	var drop []entry[T]
	s.tree.Ascend(func(item entry[T]) bool {
		if !keep(item.id, item.payload) {
			drop = append(drop, item)
		}
		return true
	})
	for _, item := range drop {
		s.tree.Delete(item)
	}
}

// Clear drops every entry. Ids already handed out are not reused.
func (s *StateSnapshots[T]) Clear() {
	s.tree.Clear(false)
}

func (s *StateSnapshots[T]) Len() int {
	return s.tree.Len()
}

// Ascend calls fn for each entry in id order until fn returns false.
func (s *StateSnapshots[T]) Ascend(fn func(ID, T) bool) {
	s.tree.Ascend(func(item entry[T]) bool {
		return fn(item.id, item.payload)
	})
}

// IDs returns the live ids in ascending order.
func (s *StateSnapshots[T]) IDs() []ID {
	ids := make([]ID, 0, s.tree.Len())
	s.Ascend(func(id ID, _ T) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
