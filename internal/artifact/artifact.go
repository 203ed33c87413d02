// Package artifact defines the output of the assembler pipeline: a
// self-contained description of a program's initial world layout, its
// organism start points, and the debug information needed to map a running
// cell back to source.
package artifact

import (
	"github.com/google/uuid"

	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

// SourcePos locates one token in the original assembly source.
type SourcePos struct {
	File string
	Line int
	Col  int
}

// CallBinding records, for one CALL instruction, how each formal parameter
// was bound at assembly time — purely for disassembly and debugger
// display; the VM re-derives binding kind from the instruction stream
// itself and never consults this at runtime.
type CallBinding struct {
	ParamIndex int
	RegName    string // e.g. "DR3"
	Kind       organism.BindingKind
}

// StartPoint is one organism to be placed when an artifact is loaded.
type StartPoint struct {
	ProgramID string
	Position  world.Coord
	DV        world.Coord
}

// ProgramArtifact is the complete, linked output of compiling one or more
// assembly sources: the molecules to seed into the world, where organisms
// start, and every piece of debug information tying a cell back to source.
type ProgramArtifact struct {
	BuildID uuid.UUID

	Dims int

	// InitialObjects are written into the world verbatim before any
	// organism starts running: both code and the world's starting data
	// objects.
	InitialObjects map[string]molecule.Word
	objectCoords   map[string]world.Coord

	StartPoints []StartPoint

	// SourceMap covers every code cell written by this artifact.
	SourceMap map[string]SourcePos

	// CallSiteBindings maps a CALL instruction's position key to the
	// bindings recorded for it at assembly time.
	CallSiteBindings map[string][]CallBinding

	// TokenMap optionally retains the raw token text behind each code
	// cell, for a disassembler that wants to reproduce original
	// mnemonics/identifiers rather than re-synthesizing them.
	TokenMap map[string]string
}

// New creates an empty artifact ready for the layout/link pass to populate.
func New(dims int) *ProgramArtifact {
	return &ProgramArtifact{
		BuildID:          uuid.New(),
		Dims:             dims,
		InitialObjects:   make(map[string]molecule.Word),
		objectCoords:     make(map[string]world.Coord),
		SourceMap:        make(map[string]SourcePos),
		CallSiteBindings: make(map[string][]CallBinding),
		TokenMap:         make(map[string]string),
	}
}

// Key canonicalizes a coordinate into the artifact's internal map key
// space; exported so the assembler's layout pass and any tooling reading
// an artifact back use the exact same encoding.
func Key(c world.Coord) string {
	buf := make([]byte, 0, 4*len(c))
	for i, v := range c {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendInt(buf, int64(v))
	}
	return string(buf)
}

func appendInt(buf []byte, v int64) []byte {
	if v < 0 {
		buf = append(buf, '-')
		v = -v
	}
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(buf, tmp[i:]...)
}

// SetObject records a molecule to be written at pos when this artifact is
// placed into a world.
func (a *ProgramArtifact) SetObject(pos world.Coord, m molecule.Word) {
	k := Key(pos)
	a.InitialObjects[k] = m
	a.objectCoords[k] = pos.Clone()
}

// SetSource records the source position a code cell at pos was compiled
// from.
func (a *ProgramArtifact) SetSource(pos world.Coord, sp SourcePos) {
	a.SourceMap[Key(pos)] = sp
}

// AddCallBindings records the parameter bindings for the CALL instruction
// at pos.
func (a *ProgramArtifact) AddCallBindings(pos world.Coord, bindings []CallBinding) {
	a.CallSiteBindings[Key(pos)] = bindings
}

// Place writes every initial object into w and returns the organisms to
// start, one per StartPoint, in the order they were recorded, each built
// with lim.
func (a *ProgramArtifact) Place(w *world.World, lim organism.Limits) []*organism.Organism {
	for k, m := range a.InitialObjects {
		if pos, ok := a.objectCoords[k]; ok {
			w.InitialObject(pos, m)
		}
	}
	orgs := make([]*organism.Organism, 0, len(a.StartPoints))
	for i, sp := range a.StartPoints {
		orgs = append(orgs, organism.New(i, sp.ProgramID, sp.Position, sp.DV, lim))
	}
	return orgs
}
