package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

func TestSetObjectAndPlaceSeedsWorld(t *testing.T) {
	a := New(2)
	a.SetObject(world.Coord{1, 2}, molecule.Pack(molecule.CODE, 5))
	a.StartPoints = append(a.StartPoints, StartPoint{ProgramID: "p", Position: world.Coord{0, 0}, DV: world.Coord{1, 0}})

	w := world.New([]int32{8, 8})
	orgs := a.Place(w, organism.DefaultLimits)

	m, _ := w.Get(world.Coord{1, 2})
	assert.Equal(t, molecule.Pack(molecule.CODE, 5), m)
	require.Len(t, orgs, 1)
	assert.Equal(t, "p", orgs[0].ProgramID)
}

func TestKeyIsStableAndDistinct(t *testing.T) {
	assert.Equal(t, Key(world.Coord{1, -2}), Key(world.Coord{1, -2}))
	assert.NotEqual(t, Key(world.Coord{1, 2}), Key(world.Coord{1, -2}))
}

func TestBuildIDsAreUnique(t *testing.T) {
	a1 := New(2)
	a2 := New(2)
	assert.NotEqual(t, a1.BuildID, a2.BuildID)
}
