package vm

import (
	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

// bindKind tags a CALL argument as REF or VAL; -1 for non-CALL operands.
type bindKind int8

const (
	bindNone bindKind = -1
	bindRef  bindKind = 0
	bindVal  bindKind = 1
)

// operand is a decoded argument of one kind from isa.ArgKind.
type operand struct {
	kind    isa.ArgKind
	regID   int           // REGISTER
	literal molecule.Word // LITERAL
	vector  world.Coord   // VECTOR: raw displacement
	label   world.Coord   // LABEL: absolute coord (initialPos + relative)
	bind    bindKind      // CALL argument only: REF or VAL
}

// cursor walks cells of the world starting at an organism's IP, advancing
// by its DV one cell at a time, exactly like the fetch/decode step of the
// tick pipeline.
type cursor struct {
	w   *world.World
	pos world.Coord
	dv  world.Coord
}

func newCursor(w *world.World, start, dv world.Coord) *cursor {
	return &cursor{w: w, pos: start.Clone(), dv: dv}
}

func (c *cursor) readCell() molecule.Word {
	m, _ := c.w.Get(c.pos)
	c.pos = c.w.Neighbor(c.pos, c.dv)
	return m
}

// decoded is the result of fetch+decode: the opcode, its operands in
// signature order, and the cursor position immediately after the last
// operand cell (the "next instruction" address absent any predicate skip).
type decoded struct {
	op       isa.Opcode
	operands []operand
	nextIP   world.Coord
	ok       bool
	reason   organism.FailureReason
}

// fetch reads the opcode word at org.IP, then decodes operands per the
// opcode's signature (or, for CALL, per CALL's self-describing variable
// argument list), advancing a cursor the whole way along org.DV.
func fetch(org *organism.Organism, w *world.World, tbl *isa.Table) decoded {
	return fetchAt(org, w, tbl, org.IP, org.DV)
}

// fetchAt is fetch with an explicit start position and direction, used to
// peek the instruction a predicate-skip family opcode must skip over
// without disturbing the organism's own IP/DV.
func fetchAt(org *organism.Organism, w *world.World, tbl *isa.Table, start, dv world.Coord) decoded {
	c := newCursor(w, start, dv)
	head := c.readCell()
	t, v := molecule.Unpack(head)
	if t != molecule.CODE {
		return decoded{ok: false, reason: organism.FailMalformedOperand}
	}
	op, ok := tbl.ByID(int(v))
	if !ok {
		return decoded{ok: false, reason: organism.FailUnknownOpcode}
	}

	dims := w.Dims()
	var ops []operand

	if op.Name == "CALL" {
		label := readVectorRelative(c, dims, org.InitialPos)
		ops = append(ops, operand{kind: isa.LABEL, bind: bindNone, label: label})
		argCount := int(molecule.ValueOf(c.readCell()))
		for i := 0; i < argCount; i++ {
			kind := molecule.ValueOf(c.readCell())
			if kind == 0 { // REF
				regID := int(molecule.ValueOf(c.readCell()))
				ops = append(ops, operand{kind: isa.REGISTER, bind: bindRef, regID: regID})
			} else { // VAL
				srcKind := molecule.ValueOf(c.readCell())
				cell := c.readCell()
				if srcKind == 0 { // REGISTER source, read fresh at call time
					ops = append(ops, operand{kind: isa.REGISTER, bind: bindVal, regID: int(molecule.ValueOf(cell))})
				} else { // LITERAL source
					ops = append(ops, operand{kind: isa.LITERAL, bind: bindVal, literal: cell})
				}
			}
		}
	} else {
		for _, kind := range op.Signature {
			switch kind {
			case isa.REGISTER:
				regID := int(molecule.ValueOf(c.readCell()))
				ops = append(ops, operand{kind: kind, bind: bindNone, regID: regID})
			case isa.LITERAL:
				ops = append(ops, operand{kind: kind, bind: bindNone, literal: c.readCell()})
			case isa.VECTOR:
				ops = append(ops, operand{kind: kind, bind: bindNone, vector: readVectorRaw(c, dims)})
			case isa.LABEL:
				ops = append(ops, operand{kind: kind, bind: bindNone, label: readVectorRelative(c, dims, org.InitialPos)})
			}
		}
	}

	return decoded{op: op, operands: ops, nextIP: c.pos, ok: true}
}

func readVectorRaw(c *cursor, dims int) world.Coord {
	v := make(world.Coord, dims)
	for i := 0; i < dims; i++ {
		v[i] = int32(molecule.ValueOf(c.readCell()))
	}
	return v
}

func readVectorRelative(c *cursor, dims int, initialPos world.Coord) world.Coord {
	rel := readVectorRaw(c, dims)
	return initialPos.Add(rel)
}
