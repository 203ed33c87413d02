package organism

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/world"
)

func newTestOrganism() *Organism {
	return New(0, "p", world.Coord{0, 0}, world.Coord{1, 0}, DefaultLimits)
}

func TestStackBounds(t *testing.T) {
	o := newTestOrganism()
	o.Limits.DataStackDepth = 2
	assert.True(t, o.PushData(molecule.Pack(molecule.DATA, 1)))
	assert.True(t, o.PushData(molecule.Pack(molecule.DATA, 2)))
	assert.False(t, o.PushData(molecule.Pack(molecule.DATA, 3)))
	assert.Equal(t, FailStackOverflow, o.FailureReason)

	o2 := newTestOrganism()
	_, ok := o2.PopData()
	assert.False(t, ok)
	assert.Equal(t, FailStackUnderflow, o2.FailureReason)
}

func TestCallRefBindingVisibleAfterReturn(t *testing.T) {
	o := newTestOrganism()
	o.DR[3] = molecule.Pack(molecule.DATA, 0)

	ok := o.Call(world.Coord{5, 0}, false, []Binding{
		{Kind: BindREF, RegID: RegisterID("DR", 3)},
	})
	assert.True(t, ok)

	// callee writes to FPR[0], which is bound REF to caller's DR3
	assert.True(t, o.WriteRegister(isa.FPRBase+0, molecule.Pack(molecule.DATA, 7)))

	ok = o.Return()
	assert.True(t, ok)
	assert.Equal(t, molecule.Pack(molecule.DATA, 7), o.DR[3])
}

func TestCallValBindingNotVisibleAfterReturn(t *testing.T) {
	o := newTestOrganism()
	valIn := molecule.Pack(molecule.DATA, 42)
	ok := o.Call(world.Coord{5, 0}, false, []Binding{
		{Kind: BindVAL, Value: valIn},
	})
	assert.True(t, ok)

	v, _ := o.ReadRegister(isa.FPRBase + 0)
	assert.Equal(t, valIn, v)

	// write to an unbound FPR slot beyond arity; must not survive RET
	o.FPR[2] = molecule.Pack(molecule.DATA, 99)

	ok = o.Return()
	assert.True(t, ok)
	v, _ = o.ReadRegister(isa.FPRBase + 2)
	assert.NotEqual(t, molecule.Pack(molecule.DATA, 99), v)
}

func TestPRFullyRestoredAfterReturn(t *testing.T) {
	o := newTestOrganism()
	o.PR[0] = molecule.Pack(molecule.DATA, 11)
	ok := o.Call(world.Coord{5, 0}, false, nil)
	assert.True(t, ok)
	assert.Equal(t, molecule.Word(0), o.PR[0]) // fresh bank for callee
	o.PR[0] = molecule.Pack(molecule.DATA, 999)
	o.Return()
	assert.Equal(t, molecule.Pack(molecule.DATA, 11), o.PR[0])
}

func TestRefChainThroughGlobalRegisterSurvivesNesting(t *testing.T) {
	// A REF binding that targets a DR (or LR) resolves directly against
	// the organism-global bank regardless of call depth, so it keeps
	// working even with another call nested in between.
	o := newTestOrganism()
	o.DR[3] = molecule.Pack(molecule.DATA, 1)

	o.Call(world.Coord{1, 0}, false, []Binding{{Kind: BindREF, RegID: RegisterID("DR", 3)}})
	o.Call(world.Coord{2, 0}, false, nil)
	o.Return() // back to the REF(DR3) frame

	o.WriteRegister(isa.FPRBase+0, molecule.Pack(molecule.DATA, 55))
	o.Return()
	assert.Equal(t, molecule.Pack(molecule.DATA, 55), o.DR[3])
}
