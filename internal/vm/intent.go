// Package vm implements the per-organism fetch/decode/plan step of the
// tick pipeline: C5 in the design overview.
//
// Step never mutates the world directly. It returns an Intent describing
// what should happen; internal/scheduler resolves conflicts between
// organisms and commits the winning intents.
package vm

import (
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

// Kind discriminates the variant held by an Intent.
type Kind uint8

const (
	NoEffect Kind = iota
	WorldWrite
	Die
	Spawn
)

// SeedCell is one molecule to be written into the world at a child's birth,
// e.g. the copied body of a replicating organism.
type SeedCell struct {
	Pos world.Coord
	Mol molecule.Word
}

// ChildSpec describes an organism to be born at the next birth phase.
type ChildSpec struct {
	ProgramID   string
	Position    world.Coord
	DV          world.Coord
	ParentID    int
	EnergyGrant int64
	CodeRegion  []SeedCell // cells copied into the world at birth, e.g. the replicated body
}

// Intent is the tagged variant an organism's Step produces for one tick.
// Kind selects which fields are meaningful; the local-effect fields
// (IP/DV/flags already applied to the organism by the time Step returns,
// see doc on Step) are not part of Intent because they are never subject
// to conflict — only Kind, Target, and the world-mutation fields are.
type Intent struct {
	Kind Kind

	// World-mutation fields, meaningful for WorldWrite and Spawn (a child's
	// birth cell also participates in target-coord conflict resolution).
	// Every opcode that touches the world resolves its target synchronously
	// during Step, so TargetKnown is always true when Target is meaningful;
	// there is no instruction whose target is still unknown once planned.
	TargetKnown bool
	Target      world.Coord
	WorldMol    molecule.Word
	WorldOwner  int32

	// OnWin holds the organism-local effects that are only valid once
	// this intent is known to have executed (e.g. PEEK's register write
	// and energy credit, which must not apply if the consuming world
	// write lost the conflict). Nil for intents whose local effects are
	// unconditional (already applied directly to the organism by Step).
	OnWin func(*organism.Organism)

	Child *ChildSpec
}
