package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

func opWord(t *testing.T, name string) molecule.Word {
	t.Helper()
	op, ok := isa.Default.Resolve(name)
	require.True(t, ok, "opcode %s must exist", name)
	return molecule.Pack(molecule.CODE, int64(op.ID))
}

// place writes words one per cell starting at pos, stepping by dv, and
// returns the position immediately after the last cell written.
func place(w *world.World, pos, dv world.Coord, words ...molecule.Word) world.Coord {
	cur := pos.Clone()
	for _, word := range words {
		w.Set(cur, word, world.NoOwner)
		cur = w.Neighbor(cur, dv)
	}
	return cur
}

func vec(components ...int32) []molecule.Word {
	out := make([]molecule.Word, len(components))
	for i, c := range components {
		out[i] = molecule.Pack(molecule.DATA, int64(c))
	}
	return out
}

func newOrg(pos, dv world.Coord) *organism.Organism {
	return organism.New(1, "p", pos, dv, organism.DefaultLimits)
}

func TestStepNOPAdvancesIPByOne(t *testing.T) {
	w := world.New([]int32{8, 8})
	org := newOrg(world.Coord{0, 0}, world.Coord{1, 0})
	place(w, org.IP, org.DV, opWord(t, "NOP"))

	intent := Step(org, w, isa.Default)
	assert.Equal(t, NoEffect, intent.Kind)
	assert.False(t, org.InstructionFailed)
	assert.Equal(t, world.Coord{1, 0}, org.IP)
}

func TestSeekWrapsAroundTorus(t *testing.T) {
	w := world.New([]int32{4, 4})
	org := newOrg(world.Coord{0, 0}, world.Coord{1, 0})
	words := append([]molecule.Word{opWord(t, "SEEK")}, vec(5, 0)...)
	place(w, org.IP, org.DV, words...)

	intent := Step(org, w, isa.Default)
	assert.Equal(t, NoEffect, intent.Kind)
	assert.Equal(t, world.Coord{1, 0}, org.IP) // 5 mod 4 == 1
}

func TestPeekConsumesEnergyOnWin(t *testing.T) {
	w := world.New([]int32{8, 8})
	// The program runs along y so its operand cells don't overwrite (1,0).
	org := newOrg(world.Coord{0, 0}, world.Coord{0, 1})
	energyCell := w.Neighbor(org.DPs[0], world.Coord{1, 0})
	w.Set(energyCell, molecule.Pack(molecule.ENERGY, 100), world.NoOwner)

	words := append([]molecule.Word{opWord(t, "PEEK"), molecule.Pack(molecule.DATA, int64(isa.DRBase))}, vec(1, 0)...)
	place(w, org.IP, org.DV, words...)

	intent := Step(org, w, isa.Default)
	require.Equal(t, WorldWrite, intent.Kind)
	assert.Equal(t, energyCell, intent.Target)
	assert.True(t, molecule.IsEmpty(intent.WorldMol))

	require.NotNil(t, intent.OnWin)
	intent.OnWin(org)
	assert.Equal(t, molecule.Pack(molecule.ENERGY, 100), org.DR[0])
	assert.EqualValues(t, 100, org.ER)
}

func TestScanIsNonDestructiveAndLocal(t *testing.T) {
	w := world.New([]int32{8, 8})
	// The program runs along y so its operand cells don't overwrite (1,0).
	org := newOrg(world.Coord{0, 0}, world.Coord{0, 1})
	target := w.Neighbor(org.DPs[0], world.Coord{1, 0})
	w.Set(target, molecule.Pack(molecule.STRUCTURE, 7), world.NoOwner)

	words := append([]molecule.Word{opWord(t, "SCAN"), molecule.Pack(molecule.DATA, int64(isa.DRBase))}, vec(1, 0)...)
	place(w, org.IP, org.DV, words...)

	intent := Step(org, w, isa.Default)
	assert.Equal(t, NoEffect, intent.Kind)
	assert.Equal(t, molecule.Pack(molecule.STRUCTURE, 7), org.DR[0])
	m, _ := w.Get(target) // untouched
	assert.Equal(t, molecule.Pack(molecule.STRUCTURE, 7), m)
}

func TestCallRefBindingThroughVM(t *testing.T) {
	w := world.New([]int32{32, 1})
	org := newOrg(world.Coord{0, 0}, world.Coord{1, 0})
	org.DR[3] = molecule.Pack(molecule.DATA, 0)

	callArgs := []molecule.Word{
		molecule.Pack(molecule.DATA, 1),                     // argCount
		molecule.Pack(molecule.DATA, 0),                     // bind kind: REF
		molecule.Pack(molecule.DATA, int64(isa.DRBase + 3)), // target reg id
	}
	words := append([]molecule.Word{opWord(t, "CALL")}, vec(10, 0)...)
	words = append(words, callArgs...)
	place(w, org.IP, org.DV, words...)

	intent := Step(org, w, isa.Default)
	assert.Equal(t, NoEffect, intent.Kind)
	assert.False(t, org.InstructionFailed)
	assert.Equal(t, world.Coord{10, 0}, org.IP)
	require.Len(t, org.CallStack, 1)

	assert.True(t, org.WriteRegister(isa.FPRBase+0, molecule.Pack(molecule.DATA, 7)))

	place(w, org.IP, org.DV, opWord(t, "RET"))
	intent = Step(org, w, isa.Default)
	assert.Equal(t, NoEffect, intent.Kind)
	assert.Equal(t, molecule.Pack(molecule.DATA, 7), org.DR[3])
}

func TestPredicateSkipIsAtomic(t *testing.T) {
	w := world.New([]int32{32, 1})
	org := newOrg(world.Coord{0, 0}, world.Coord{1, 0})
	org.DR[0] = molecule.Pack(molecule.DATA, 5)

	pos := place(w, org.IP, org.DV,
		opWord(t, "IFI"), molecule.Pack(molecule.DATA, int64(isa.DRBase)), molecule.Pack(molecule.DATA, 5),
	)
	pos = place(w, pos, org.DV, opWord(t, "SETI"), molecule.Pack(molecule.DATA, int64(isa.DRBase+1)), molecule.Pack(molecule.DATA, 99))
	place(w, pos, org.DV, opWord(t, "SETI"), molecule.Pack(molecule.DATA, int64(isa.DRBase+2)), molecule.Pack(molecule.DATA, 1))

	Step(org, w, isa.Default) // IFI: predicate true, skips the SETI DR1 entirely
	assert.Equal(t, pos, org.IP)
	assert.Equal(t, molecule.Word(0), org.DR[1])

	Step(org, w, isa.Default) // SETI DR2, 1
	assert.Equal(t, molecule.Pack(molecule.DATA, 1), org.DR[2])
	assert.Equal(t, molecule.Word(0), org.DR[1])
}

func TestReplProducesSpawnIntent(t *testing.T) {
	w := world.New([]int32{8, 8})
	org := newOrg(world.Coord{0, 0}, world.Coord{1, 0})
	org.ER = 50

	words := append([]molecule.Word{opWord(t, "REPL")}, vec(0, 1)...)
	place(w, org.IP, org.DV, words...)

	intent := Step(org, w, isa.Default)
	require.Equal(t, Spawn, intent.Kind)
	require.NotNil(t, intent.Child)
	assert.Equal(t, "p", intent.Child.ProgramID)
	assert.EqualValues(t, 25, intent.Child.EnergyGrant)

	intent.OnWin(org)
	assert.EqualValues(t, 25, org.ER)

	// The operand cell right after REPL's opcode is DATA, not CODE, so the
	// copied body is exactly the one opcode cell.
	require.Len(t, intent.Child.CodeRegion, 1)
	assert.Equal(t, intent.Child.Position, intent.Child.CodeRegion[0].Pos)
	assert.Equal(t, words[0], intent.Child.CodeRegion[0].Mol)
}

func TestDivByZeroFails(t *testing.T) {
	w := world.New([]int32{8, 8})
	org := newOrg(world.Coord{0, 0}, world.Coord{1, 0})
	org.DR[0] = molecule.Pack(molecule.DATA, 10)

	words := []molecule.Word{opWord(t, "DIVI"), molecule.Pack(molecule.DATA, int64(isa.DRBase)), molecule.Pack(molecule.DATA, 0)}
	place(w, org.IP, org.DV, words...)

	Step(org, w, isa.Default)
	assert.True(t, org.InstructionFailed)
	assert.Equal(t, organism.FailDivByZero, org.FailureReason)
}
