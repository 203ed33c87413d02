package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evochora/internal/asm/layout"
	"evochora/internal/isa"
	"evochora/internal/organism"
	"evochora/internal/world"
)

func TestWalkRendersCallWithMixedBindings(t *testing.T) {
	src := `
	CALL callee, [REF %DR0][VAL %DR1, 7]
callee:
	RET
`
	art, err := layout.Assemble("p", layout.Source{File: "f", Text: src}, nil, []int32{32, 32})
	require.NoError(t, err)

	w := world.New([]int32{32, 32})
	art.Place(w, organism.DefaultLimits)

	d := New(w, isa.Default)
	lines := d.Walk(world.Coord{0, 0}, world.Coord{1, 0})
	// CALL (12 cells), RET at x=12, then seven empty cells read as ADDI
	// (x=13..31, 3 cells each) until the wrap lands on the CALL's DATA
	// label cell at x=2, which stops the walk.
	require.Len(t, lines, 9)
	assert.Contains(t, lines[0].Text, "CALL")
	assert.Contains(t, lines[0].Text, "REF %DR0")
	assert.Contains(t, lines[0].Text, "VAL %DR1")
}

func TestWalkOnEmptyWorldLoopsThenStops(t *testing.T) {
	// molecule.Empty packs as (CODE, 0), which is bit-identical to opcode id
	// 0 (ADDI); an untouched world therefore "disassembles" as a field of
	// ADDI instructions rather than stopping immediately. Walk's own
	// start-position loop detection is what bounds this, not a type check.
	w := world.New([]int32{8, 8})
	d := New(w, isa.Default)
	lines := d.Walk(world.Coord{0, 0}, world.Coord{1, 0})
	assert.Len(t, lines, 8)
}
