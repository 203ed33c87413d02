package scheduler

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
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
	require.True(t, ok)
	return molecule.Pack(molecule.CODE, int64(op.ID))
}

func place(w *world.World, pos, dv world.Coord, words ...molecule.Word) {
	cur := pos.Clone()
	for _, word := range words {
		w.Set(cur, word, world.NoOwner)
		cur = w.Neighbor(cur, dv)
	}
}

type captureSink struct{ states []RawTickState }

func (c *captureSink) Emit(s RawTickState) { c.states = append(c.states, s) }

func newScheduler(w *world.World) *Scheduler {
	return New(w, isa.Default, zerolog.Nop())
}

func TestStepAdvancesTickAndEmitsState(t *testing.T) {
	w := world.New([]int32{8, 8})
	org := organism.New(0, "p", world.Coord{0, 0}, world.Coord{1, 0}, organism.DefaultLimits)
	place(w, org.IP, org.DV, opWord(t, "NOP"))

	s := newScheduler(w)
	sink := &captureSink{}
	s.SetSink(sink)
	s.Place(org)

	s.Step()
	assert.EqualValues(t, 1, s.CurrentTick())
	require.Len(t, sink.states, 1)
	require.Len(t, sink.states[0].Records, 1)
	assert.Equal(t, StatusNotApplicable, sink.states[0].Records[0].Status)
}

func TestConflictingPokesResolveToLowestID(t *testing.T) {
	w := world.New([]int32{8, 8})
	target := world.Coord{1, 0}

	// Two organisms, each poking the same cell from opposite sides. Both
	// programs run along y so neither overwrites the other's cells.
	a := organism.New(5, "a", world.Coord{0, 0}, world.Coord{0, 1}, organism.DefaultLimits)
	a.DR[0] = molecule.Pack(molecule.DATA, 111)
	place(w, a.IP, a.DV, opWord(t, "POKE"), molecule.Pack(molecule.DATA, int64(isa.DRBase)), molecule.Pack(molecule.DATA, 1), molecule.Pack(molecule.DATA, 0))

	b := organism.New(2, "b", world.Coord{2, 0}, world.Coord{0, 1}, organism.DefaultLimits)
	b.DR[0] = molecule.Pack(molecule.DATA, 222)
	place(w, b.IP, b.DV, opWord(t, "POKE"), molecule.Pack(molecule.DATA, int64(isa.DRBase)), molecule.Pack(molecule.DATA, -1), molecule.Pack(molecule.DATA, 0))

	s := newScheduler(w)
	s.Place(a)
	s.Place(b)

	state := s.Step()

	m, owner := w.Get(target)
	assert.Equal(t, molecule.Pack(molecule.DATA, 222), m) // organism 2 (lower id) won
	assert.EqualValues(t, 2, owner)

	statusByID := map[int]ConflictStatus{}
	for _, r := range state.Records {
		statusByID[r.OrganismID] = r.Status
	}
	assert.Equal(t, StatusWonExecution, statusByID[2])
	assert.Equal(t, StatusLostLowerIDWon, statusByID[5])
}

func TestReplBirthsChildOrganism(t *testing.T) {
	w := world.New([]int32{8, 8})
	parent := organism.New(0, "p", world.Coord{0, 0}, world.Coord{1, 0}, organism.DefaultLimits)
	parent.ER = 40
	place(w, parent.IP, parent.DV, opWord(t, "REPL"), molecule.Pack(molecule.DATA, 0), molecule.Pack(molecule.DATA, 1))

	s := newScheduler(w)
	s.Place(parent)

	s.Step()
	require.Len(t, s.organisms, 2)
	child := s.organisms[1]
	assert.Equal(t, "p", child.ProgramID)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, 0, *child.ParentID)
	assert.EqualValues(t, 20, child.ER)
	assert.EqualValues(t, 20, parent.ER)
}

func TestTickStatePublishesCellsAndOrganisms(t *testing.T) {
	w := world.New([]int32{8, 8})
	org := organism.New(0, "p", world.Coord{0, 0}, world.Coord{1, 0}, organism.DefaultLimits)
	place(w, org.IP, org.DV, opWord(t, "NOP"))

	s := newScheduler(w)
	s.Place(org)

	state := s.Step()

	require.Len(t, state.Organisms, 1)
	got := state.Organisms[0]
	want := RawOrganismState{
		ID:              0,
		ProgramID:       "p",
		InitialPosition: world.Coord{0, 0},
		IP:              world.Coord{1, 0},
		DV:              world.Coord{1, 0},
		DPs:             []world.Coord{{0, 0}},
		ER:              0,
		DRs:             org.DR,
		PRs:             org.PR,
		FPRs:            org.FPR,
		LRs:             org.LR,
		IPBeforeFetch:   world.Coord{0, 0},
		DVBeforeFetch:   world.Coord{1, 0},
	}
	if !assert.Equal(t, want, got) {
		t.Log(spew.Sdump(got))
	}

	// NOP occupies cell (0,0); the rest of the torus stays empty, so
	// exactly one cell is published.
	require.Len(t, state.Cells, 1)
	assert.Equal(t, world.Coord{0, 0}, state.Cells[0].Pos)
	assert.Equal(t, molecule.CODE, state.Cells[0].Type)
}

func TestDeadOrganismsAreSkipped(t *testing.T) {
	w := world.New([]int32{8, 8})
	org := organism.New(0, "p", world.Coord{0, 0}, world.Coord{1, 0}, organism.DefaultLimits)
	org.IsDead = true

	s := newScheduler(w)
	s.Place(org)

	state := s.Step()
	assert.Empty(t, state.Records)
}
