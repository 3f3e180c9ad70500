package interp

import "github.com/loomtest/loom/id"

// mvarState is the state of one blocking cell: an optional value plus
// the invariant that it is full exactly when Value is meaningful.
type mvarState struct {
	ID    id.MVarID
	Value any
	Full  bool
}

// MVarStore holds every blocking cell created at one interpreter
// level. A sub-computation gets a fresh MVarStore of its own rather
// than sharing its parent's.
type MVarStore struct {
	cells map[id.MVarID]*mvarState
}

func newMVarStore() *MVarStore {
	return &MVarStore{cells: make(map[id.MVarID]*mvarState)}
}

// New creates a blocking cell, optionally pre-filled with initial.
func (s *MVarStore) New(mid id.MVarID, initial any, full bool) {
	s.cells[mid] = &mvarState{ID: mid, Value: initial, Full: full}
}

// Put implements put(v): fills an empty cell, or reports that the
// caller must block. Waking any waiters is left to the caller.
func (s *MVarStore) Put(mid id.MVarID, v any) (blocked bool) {
	c := s.cells[mid]
	if c.Full {
		return true
	}
	c.Value = v
	c.Full = true
	return false
}

// TryPut implements tryPutMV: never blocks.
func (s *MVarStore) TryPut(mid id.MVarID, v any) (ok bool) {
	c := s.cells[mid]
	if c.Full {
		return false
	}
	c.Value = v
	c.Full = true
	return true
}

// Take implements take(): empties a full cell and returns its value,
// or reports that the caller must block.
func (s *MVarStore) Take(mid id.MVarID) (value any, blocked bool) {
	c := s.cells[mid]
	if !c.Full {
		return nil, true
	}
	v := c.Value
	c.Value = nil
	c.Full = false
	return v, false
}

// TryTake implements tryTakeMV: never blocks.
func (s *MVarStore) TryTake(mid id.MVarID) (value any, ok bool) {
	c := s.cells[mid]
	if !c.Full {
		return nil, false
	}
	v := c.Value
	c.Value = nil
	c.Full = false
	return v, true
}

// Read implements read(): returns the value without emptying, or
// reports that the caller must block. Reading never wakes anyone.
func (s *MVarStore) Read(mid id.MVarID) (value any, blocked bool) {
	c := s.cells[mid]
	if !c.Full {
		return nil, true
	}
	return c.Value, false
}

// TryRead implements tryReadMV: never blocks.
func (s *MVarStore) TryRead(mid id.MVarID) (value any, ok bool) {
	c := s.cells[mid]
	if !c.Full {
		return nil, false
	}
	return c.Value, true
}
