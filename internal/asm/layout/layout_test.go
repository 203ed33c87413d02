package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evochora/internal/artifact"
	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/vm"
	"evochora/internal/world"
)

func assemble(t *testing.T, text string) *world.World {
	t.Helper()
	art, err := Assemble("p", Source{File: "main.s", Text: text}, nil, []int32{32, 32})
	require.NoError(t, err)
	w := world.New([]int32{32, 32})
	art.Place(w, organism.DefaultLimits)
	return w
}

func TestLabelAndJMPIResolveToAbsoluteCoord(t *testing.T) {
	src := `
start:
	JMPI loop
	NOP
loop:
	NOP
`
	w := assemble(t, src)

	m0, _ := w.Get(world.Coord{0, 0})
	op0, _ := isa.Default.ByID(int(molecule.ValueOf(m0)))
	assert.Equal(t, "JMPI", op0.Name)

	rel, _ := w.Get(world.Coord{1, 0})
	assert.Equal(t, int64(4), molecule.ValueOf(rel)) // loop is 4 cells past the anchor
}

func TestOrgAndDirMoveTheCursor(t *testing.T) {
	src := `
.ORG (5|5)
.DIR (0|1)
here:
	NOP
`
	art, err := Assemble("p", Source{File: "f", Text: src}, nil, []int32{32, 32})
	require.NoError(t, err)
	m, ok := art.InitialObjects[artifact.Key(world.Coord{5, 5})]
	require.True(t, ok)
	op, _ := isa.Default.ByID(int(molecule.ValueOf(m)))
	assert.Equal(t, "NOP", op.Name)
}

func TestDefineSubstitutesNumericLiteral(t *testing.T) {
	src := `
.DEFINE LIMIT 9
	SETI %DR0, LIMIT
`
	w := assemble(t, src)
	lit, _ := w.Get(world.Coord{2, 0})
	assert.Equal(t, int64(9), molecule.ValueOf(lit))
}

func TestCallEncodesRefAndValBindings(t *testing.T) {
	src := `
	CALL callee, [REF %DR0][VAL %DR1, 7]
callee:
	RET
`
	art, err := Assemble("p", Source{File: "f", Text: src}, nil, []int32{32, 32})
	require.NoError(t, err)

	w := world.New([]int32{32, 32})
	orgs := art.Place(w, organism.DefaultLimits)
	require.Len(t, orgs, 1)
	org := orgs[0]
	org.WriteRegister(organism.RegisterID("DR", 0), molecule.Pack(molecule.DATA, 42))
	org.WriteRegister(organism.RegisterID("DR", 1), molecule.Pack(molecule.DATA, 1))

	intent := vm.Step(org, w, isa.Default)
	assert.Equal(t, vm.NoEffect, intent.Kind)
	assert.False(t, org.InstructionFailed)
	require.Len(t, org.CallStack, 1)
	frame := org.CallStack[len(org.CallStack)-1]
	require.Len(t, frame.BindingVector, 3) // REF %DR0, VAL %DR1, VAL 7
	assert.Equal(t, organism.BindREF, frame.BindingVector[0].Kind)
	assert.Equal(t, organism.BindVAL, frame.BindingVector[1].Kind)
}

func TestMacroExpandsInline(t *testing.T) {
	src := `
.MACRO BUMP
	ADDI %DR0, 1
.ENDM
	BUMP
	BUMP
`
	w := assemble(t, src)
	op0, _ := isa.Default.ByID(int(molecule.ValueOf(mustGet(t, w, world.Coord{0, 0}))))
	op1, _ := isa.Default.ByID(int(molecule.ValueOf(mustGet(t, w, world.Coord{3, 0}))))
	assert.Equal(t, "ADDI", op0.Name)
	assert.Equal(t, "ADDI", op1.Name)
}

func mustGet(t *testing.T, w *world.World, c world.Coord) molecule.Word {
	t.Helper()
	m, _ := w.Get(c)
	return m
}

func TestPlaceTakesMoleculeThenVector(t *testing.T) {
	src := `
.PLACE ENERGY:100 (3|1)
	NOP
`
	art, err := Assemble("p", Source{File: "f", Text: src}, nil, []int32{32, 32})
	require.NoError(t, err)
	m, ok := art.InitialObjects[artifact.Key(world.Coord{3, 1})]
	require.True(t, ok)
	assert.Equal(t, molecule.ENERGY, molecule.TypeOf(m))
	assert.Equal(t, int64(100), molecule.ValueOf(m))
}

func TestPlaceOverwritingCodeCellFails(t *testing.T) {
	src := `
.PLACE ENERGY:100 (0|0)
	NOP
`
	_, err := Assemble("p", Source{File: "f", Text: src}, nil, []int32{32, 32})
	require.Error(t, err)
}

func TestOverlappingOrgProducesCollisionError(t *testing.T) {
	src := `
	JMPI loop
.ORG (0|0)
	NOP
loop:
	NOP
`
	_, err := Assemble("p", Source{File: "f", Text: src}, nil, []int32{32, 32})
	require.Error(t, err)
}
