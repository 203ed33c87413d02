// Package scheduler drives the tick pipeline: plan every live organism's
// instruction through internal/vm, resolve conflicting world-touching
// intents by ascending organism id, commit the winners, and handle births.
//
// The World is the one resource organisms contend over; everything else an
// organism owns is applied to it directly during planning, with no
// conflict possible, except for the local effects an intent defers to its
// OnWin hook, which run at commit only if that intent won.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/vm"
	"evochora/internal/world"
)

// ConflictStatus records how one organism's intent fared during the
// resolve phase of a tick.
type ConflictStatus string

const (
	StatusWonExecution    ConflictStatus = "WON_EXECUTION"
	StatusLostLowerIDWon  ConflictStatus = "LOST_LOWER_ID_WON"
	StatusLostOtherReason ConflictStatus = "LOST_OTHER_REASON"
	StatusNotApplicable   ConflictStatus = "NOT_APPLICABLE"
)

// OrganismTick is one organism's contribution to a RawTickState.
type OrganismTick struct {
	OrganismID int
	Intent     vm.Kind
	Status     ConflictStatus
	Died       bool
}

// CellState is one non-empty world cell as published in a RawTickState
// snapshot.
type CellState struct {
	Pos   world.Coord
	Owner int32
	Type  molecule.Type
	Value int64
}

// CallFrameState mirrors one organism.CallFrame entry for publication.
type CallFrameState struct {
	AbsoluteReturnIP world.Coord
	SavedDV          world.Coord // nil if DV was not saved
	Bindings         []organism.Binding
}

// RawOrganismState is the complete, serializable snapshot of one organism
// as it stood at the end of a tick.
type RawOrganismState struct {
	ID              int
	ParentID        *int
	BirthTick       uint64
	ProgramID       string
	InitialPosition world.Coord

	IP world.Coord
	DV world.Coord

	DPs           []world.Coord
	ActiveDPIndex int

	ER int64

	DRs, PRs, FPRs []molecule.Word
	LRs            []world.Coord

	DataStack     []molecule.Word
	LocationStack []world.Coord
	CallStack     []CallFrameState

	IsDead            bool
	InstructionFailed bool
	FailureReason     organism.FailureReason
	SkipIPAdvance     bool

	IPBeforeFetch world.Coord
	DVBeforeFetch world.Coord
}

// RawTickState is everything observable about one completed tick, handed
// to the configured Sink for logging, persistence, or UI consumption: the
// non-empty cells of the world and the full state of every organism, plus
// the per-instruction conflict-resolution records.
type RawTickState struct {
	Tick      uint64
	Cells     []CellState
	Organisms []RawOrganismState
	Records   []OrganismTick
}

// Sink receives one RawTickState per committed tick.
type Sink interface {
	Emit(RawTickState)
}

// NopSink discards every tick; it's the default when no sink is set.
type NopSink struct{}

func (NopSink) Emit(RawTickState) {}

// Scheduler owns the World and the set of organisms living in it, and
// drives them one tick at a time.
type Scheduler struct {
	mu sync.Mutex

	world     *world.World
	table     *isa.Table
	organisms []*organism.Organism
	nextID    int
	tick      uint64

	running bool
	paused  bool

	checkpointEvery uint64
	sink            Sink
	log             zerolog.Logger
}

// New creates a Scheduler over an already-populated World.
func New(w *world.World, tbl *isa.Table, log zerolog.Logger) *Scheduler {
	return &Scheduler{world: w, table: tbl, sink: NopSink{}, log: log}
}

// SetSink installs the tick-state sink; nil is ignored.
func (s *Scheduler) SetSink(sink Sink) {
	if sink != nil {
		s.sink = sink
	}
}

// SetCheckpointPauseTicks configures Run to pause itself every n ticks (0
// disables automatic pausing).
func (s *Scheduler) SetCheckpointPauseTicks(n uint64) { s.checkpointEvery = n }

// Place adds an organism to the simulation, reserving its id against
// future births.
func (s *Scheduler) Place(org *organism.Organism) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID >= s.nextID {
		s.nextID = org.ID + 1
	}
	s.organisms = append(s.organisms, org)
}

// Organisms returns a snapshot of the organisms currently in the
// simulation, for read-only inspection by tooling (e.g. internal/debugtui).
func (s *Scheduler) Organisms() []*organism.Organism {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*organism.Organism, len(s.organisms))
	copy(out, s.organisms)
	return out
}

// World exposes the underlying World for read-only inspection.
func (s *Scheduler) World() *world.World { return s.world }

// CurrentTick reports the next tick number to be executed.
func (s *Scheduler) CurrentTick() uint64 { return s.tick }

// IsRunning reports whether Run is actively driving ticks.
func (s *Scheduler) IsRunning() bool { return s.running }

// IsPaused reports whether the scheduler is running but currently paused.
func (s *Scheduler) IsPaused() bool { return s.paused }

// Start marks the scheduler as running, unpaused.
func (s *Scheduler) Start() { s.running = true; s.paused = false }

// Pause suspends tick advancement; Step still works while paused.
func (s *Scheduler) Pause() { s.paused = true }

// Resume lifts a Pause.
func (s *Scheduler) Resume() { s.paused = false }

// Shutdown stops Run permanently.
func (s *Scheduler) Shutdown() { s.running = false }

// Run drives ticks until ctx is cancelled or Shutdown is called, pausing
// automatically every checkpointEvery ticks if configured.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	s.log.Info().Msg("scheduler started")

	for s.running {
		select {
		case <-ctx.Done():
			s.log.Warn().Msg("scheduler cancelled")
			return ctx.Err()
		default:
		}

		if s.paused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}

		s.Step()

		if s.checkpointEvery > 0 && s.tick%s.checkpointEvery == 0 {
			s.log.Debug().Uint64("tick", s.tick).Msg("checkpoint pause")
			s.paused = true
		}
	}
	return nil
}

type plan struct {
	org    *organism.Organism
	intent vm.Intent
}

// Step runs exactly one tick: plan every live organism, resolve conflicts
// over contested world targets by ascending organism id, commit the
// winners, and process births.
func (s *Scheduler) Step() RawTickState {
	s.mu.Lock()
	defer s.mu.Unlock()

	tick := s.tick
	sort.Slice(s.organisms, func(i, j int) bool { return s.organisms[i].ID < s.organisms[j].ID })

	plans := make([]plan, 0, len(s.organisms))
	for _, org := range s.organisms {
		if org.IsDead {
			continue
		}
		plans = append(plans, plan{org: org, intent: vm.Step(org, s.world, s.table)})
	}

	status := s.resolve(plans)

	var births []*organism.Organism
	records := make([]OrganismTick, 0, len(plans))
	for i := range plans {
		p := &plans[i]
		st := status[p.org.ID]
		won := st == StatusWonExecution || st == StatusNotApplicable
		records = append(records, OrganismTick{
			OrganismID: p.org.ID,
			Intent:     p.intent.Kind,
			Status:     st,
			Died:       won && p.intent.Kind == vm.Die,
		})
		if !won {
			continue
		}
		if child := s.commit(p); child != nil {
			births = append(births, child)
		}
	}

	for _, child := range births {
		s.organisms = append(s.organisms, child)
	}

	s.tick++
	state := RawTickState{
		Tick:      tick,
		Cells:     s.snapshotCells(),
		Organisms: s.snapshotOrganisms(),
		Records:   records,
	}
	s.sink.Emit(state)
	return state
}

// snapshotCells walks the world's non-empty cells in deterministic order,
// for publication in a RawTickState.
func (s *Scheduler) snapshotCells() []CellState {
	var cells []CellState
	s.world.NonEmptyCells(func(pos world.Coord, mol molecule.Word, owner int32) {
		t, v := molecule.Unpack(mol)
		cells = append(cells, CellState{Pos: pos, Owner: owner, Type: t, Value: v})
	})
	return cells
}

// snapshotOrganisms renders every organism currently in the roster
// (including dead ones; ids never recycle) into its published form.
func (s *Scheduler) snapshotOrganisms() []RawOrganismState {
	out := make([]RawOrganismState, len(s.organisms))
	for i, org := range s.organisms {
		out[i] = snapshotOrganism(org)
	}
	return out
}

func snapshotOrganism(org *organism.Organism) RawOrganismState {
	var callStack []CallFrameState
	for _, f := range org.CallStack {
		callStack = append(callStack, CallFrameState{
			AbsoluteReturnIP: f.AbsoluteReturnIP,
			SavedDV:          f.SavedDV,
			Bindings:         f.BindingVector,
		})
	}
	return RawOrganismState{
		ID:                org.ID,
		ParentID:          org.ParentID,
		BirthTick:         org.BirthTick,
		ProgramID:         org.ProgramID,
		InitialPosition:   org.InitialPos,
		IP:                org.IP,
		DV:                org.DV,
		DPs:               org.DPs,
		ActiveDPIndex:     org.ActiveDP,
		ER:                org.ER,
		DRs:               org.DR,
		PRs:               org.PR,
		FPRs:              org.FPR,
		LRs:               org.LR,
		DataStack:         org.DataStack,
		LocationStack:     org.LocationStack,
		CallStack:         callStack,
		IsDead:            org.IsDead,
		InstructionFailed: org.InstructionFailed,
		FailureReason:     org.FailureReason,
		SkipIPAdvance:     org.SkipIPAdvance,
		IPBeforeFetch:     org.IPBeforeFetch,
		DVBeforeFetch:     org.DVBeforeFetch,
	}
}

// resolve groups intents with a known target (WorldWrite, Spawn) by that
// target and picks the lowest organism id in each group as the winner;
// intents with no target at all (NoEffect, Die) are always NOT_APPLICABLE,
// meaning they apply unconditionally.
func (s *Scheduler) resolve(plans []plan) map[int]ConflictStatus {
	type group struct {
		winnerIdx int
		members   []int
	}
	groups := make(map[string]*group)

	status := make(map[int]ConflictStatus, len(plans))
	for i, p := range plans {
		if !p.intent.TargetKnown {
			status[p.org.ID] = StatusNotApplicable
			continue
		}
		k := coordKey(p.intent.Target)
		g, ok := groups[k]
		if !ok {
			g = &group{winnerIdx: i}
			groups[k] = g
		}
		g.members = append(g.members, i)
		if plans[i].org.ID < plans[g.winnerIdx].org.ID {
			g.winnerIdx = i
		}
	}

	for _, g := range groups {
		for _, idx := range g.members {
			if idx == g.winnerIdx {
				status[plans[idx].org.ID] = StatusWonExecution
			} else {
				status[plans[idx].org.ID] = StatusLostLowerIDWon
			}
		}
	}
	return status
}

// commit applies one winning intent to the world and organism state,
// returning a newly-born organism if the intent was a Spawn.
func (s *Scheduler) commit(p *plan) *organism.Organism {
	switch p.intent.Kind {
	case vm.NoEffect:
		return nil
	case vm.Die:
		p.org.IsDead = true
		return nil
	case vm.WorldWrite:
		s.world.Set(p.intent.Target, p.intent.WorldMol, p.intent.WorldOwner)
		if p.intent.OnWin != nil {
			p.intent.OnWin(p.org)
		}
		return nil
	case vm.Spawn:
		return s.birth(p)
	default:
		return nil
	}
}

func (s *Scheduler) birth(p *plan) *organism.Organism {
	spec := p.intent.Child
	if spec == nil {
		return nil
	}
	for _, seed := range spec.CodeRegion {
		s.world.InitialObject(seed.Pos, seed.Mol)
	}
	if p.intent.OnWin != nil {
		p.intent.OnWin(p.org)
	}

	child := organism.New(s.nextID, spec.ProgramID, spec.Position, spec.DV, p.org.Limits)
	parent := p.org.ID
	child.ParentID = &parent
	child.BirthTick = s.tick
	child.ER = spec.EnergyGrant
	s.nextID++

	s.log.Debug().
		Int("parent", parent).
		Int("child", child.ID).
		Uint64("tick", s.tick).
		Msg("organism born")

	return child
}

func coordKey(c world.Coord) string {
	return fmt.Sprint([]int32(c))
}
