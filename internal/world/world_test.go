package world

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"evochora/internal/molecule"
)

func TestWrap(t *testing.T) {
	w := New([]int32{5, 5})
	assert.Equal(t, Coord{0, 0}, w.Wrap(Coord{5, 5}))
	assert.Equal(t, Coord{4, 4}, w.Wrap(Coord{-1, -1}))
	assert.Equal(t, Coord{0, 2}, w.Wrap(Coord{10, 2}))
}

func TestNeighborWrapsFullCircle(t *testing.T) {
	w := New([]int32{5, 5})
	p := Coord{0, 0}
	dv := Coord{1, 0}
	cur := p
	for range 5 {
		cur = w.Neighbor(cur, dv)
	}
	assert.True(t, cur.Equal(p))
}

func TestSetGet(t *testing.T) {
	w := New([]int32{10, 10})
	m := molecule.Pack(molecule.ENERGY, 100)
	w.Set(Coord{1, 0}, m, 7)

	got, owner := w.Get(Coord{1, 0})
	assert.Equal(t, m, got)
	assert.Equal(t, int32(7), owner)
	assert.False(t, w.IsEmpty(Coord{1, 0}))
}

func TestEmptyCellHasNoOwner(t *testing.T) {
	w := New([]int32{4, 4})
	_, owner := w.Get(Coord{2, 2})
	assert.Equal(t, NoOwner, owner)
	assert.True(t, w.IsEmpty(Coord{2, 2}))
}

func TestSetEmptyClearsOwner(t *testing.T) {
	w := New([]int32{4, 4})
	w.Set(Coord{0, 0}, molecule.Pack(molecule.DATA, 1), 3)
	w.Set(Coord{0, 0}, molecule.Empty, 3)
	_, owner := w.Get(Coord{0, 0})
	assert.Equal(t, NoOwner, owner)
}

func TestOutOfRangeWritesWrap(t *testing.T) {
	w := New([]int32{3, 3, 3})
	m := molecule.Pack(molecule.DATA, 42)
	w.Set(Coord{3, 3, 3}, m, 0)
	got, _ := w.Get(Coord{0, 0, 0})
	assert.Equal(t, m, got)
}
