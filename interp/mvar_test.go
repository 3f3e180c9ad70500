package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomtest/loom/id"
)

func TestMVarPutTakeRoundTrip(t *testing.T) {
	s := newMVarStore()
	mv := id.MVarID{Num: 0}
	s.New(mv, nil, false)

	blocked := s.Put(mv, 4)
	assert.False(t, blocked)

	v, blocked := s.Take(mv)
	assert.False(t, blocked)
	assert.Equal(t, 4, v)
}

func TestMVarTakeOnEmptyBlocks(t *testing.T) {
	s := newMVarStore()
	mv := id.MVarID{Num: 0}
	s.New(mv, nil, false)

	_, blocked := s.Take(mv)
	assert.True(t, blocked)
}

func TestMVarTryTakeOnEmptyReportsNone(t *testing.T) {
	s := newMVarStore()
	mv := id.MVarID{Num: 0}
	s.New(mv, nil, false)

	_, ok := s.TryTake(mv)
	assert.False(t, ok)
}

func TestMVarPutOnFullBlocks(t *testing.T) {
	s := newMVarStore()
	mv := id.MVarID{Num: 0}
	s.New(mv, 1, true)

	blocked := s.Put(mv, 2)
	assert.True(t, blocked)
}

func TestMVarReadDoesNotEmpty(t *testing.T) {
	s := newMVarStore()
	mv := id.MVarID{Num: 0}
	s.New(mv, 9, true)

	v, blocked := s.Read(mv)
	assert.False(t, blocked)
	assert.Equal(t, 9, v)

	v, blocked = s.Read(mv)
	assert.False(t, blocked)
	assert.Equal(t, 9, v)
}
