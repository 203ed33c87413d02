// Package disasm renders the raw molecules of a world region back into
// readable assembly text, walking the same fetch/decode shape as the VM
// executor but without touching any organism's live state.
package disasm

import (
	"fmt"
	"strings"

	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/world"
)

// Line is one disassembled instruction: its position and its rendered
// mnemonic text.
type Line struct {
	Pos  world.Coord
	Text string
}

// Disassembler walks a world region and renders each instruction it finds.
type Disassembler struct {
	World *world.World
	Table *isa.Table

	// MaxInstructions bounds how many instructions Walk renders before
	// stopping, guarding against a direction vector that loops forever
	// through code that never halts. Zero means unbounded.
	MaxInstructions int
}

// New creates a Disassembler over w using tbl to resolve opcodes.
func New(w *world.World, tbl *isa.Table) *Disassembler {
	return &Disassembler{World: w, Table: tbl}
}

// Walk disassembles instructions starting at pos, advancing by dv, until it
// hits a non-CODE cell, an unknown opcode, MaxInstructions, or revisits a
// position already rendered in this walk.
func (d *Disassembler) Walk(pos, dv world.Coord) []Line {
	var lines []Line
	seen := make(map[string]bool)
	cur := pos.Clone()
	count := 0
	for {
		key := coordKey(cur)
		if seen[key] {
			break
		}
		seen[key] = true

		head, _ := d.World.Get(cur)
		t, v := molecule.Unpack(head)
		if t != molecule.CODE {
			break
		}
		op, ok := d.Table.ByID(int(v))
		if !ok {
			break
		}

		text, next := d.renderInstruction(cur, dv, op)
		lines = append(lines, Line{Pos: cur.Clone(), Text: text})

		count++
		if d.MaxInstructions > 0 && count >= d.MaxInstructions {
			break
		}
		cur = next
	}
	return lines
}

// renderInstruction decodes one instruction's operands starting at pos and
// returns its text plus the position immediately after its last cell.
func (d *Disassembler) renderInstruction(pos, dv world.Coord, op isa.Opcode) (string, world.Coord) {
	dims := d.World.Dims()
	cur := pos.Clone()
	readCell := func() molecule.Word {
		m, _ := d.World.Get(cur)
		cur = d.World.Neighbor(cur, dv)
		return m
	}
	readCell() // consume the opcode cell itself

	var parts []string
	parts = append(parts, op.Name)

	if op.Name == "CALL" {
		rel := readVector(readCell, dims)
		parts = append(parts, fmt.Sprintf("+%s", formatVector(rel)))
		argCount := int(molecule.ValueOf(readCell()))
		for i := 0; i < argCount; i++ {
			kind := molecule.ValueOf(readCell())
			if kind == 0 {
				regID := int(molecule.ValueOf(readCell()))
				parts = append(parts, fmt.Sprintf("REF %s", formatRegister(regID)))
			} else {
				srcKind := molecule.ValueOf(readCell())
				cell := readCell()
				if srcKind == 0 {
					parts = append(parts, fmt.Sprintf("VAL %s", formatRegister(int(molecule.ValueOf(cell)))))
				} else {
					parts = append(parts, fmt.Sprintf("VAL %s", formatLiteral(cell)))
				}
			}
		}
		return strings.Join(parts, " "), cur
	}

	for _, kind := range op.Signature {
		switch kind {
		case isa.REGISTER:
			parts = append(parts, formatRegister(int(molecule.ValueOf(readCell()))))
		case isa.LITERAL:
			parts = append(parts, formatLiteral(readCell()))
		case isa.VECTOR, isa.LABEL:
			v := readVector(readCell, dims)
			parts = append(parts, formatVector(v))
		}
	}
	return strings.Join(parts, " "), cur
}

func readVector(readCell func() molecule.Word, dims int) []int64 {
	v := make([]int64, dims)
	for i := 0; i < dims; i++ {
		v[i] = molecule.ValueOf(readCell())
	}
	return v
}

func formatVector(v []int64) string {
	parts := make([]string, len(v))
	for i, c := range v {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatLiteral(m molecule.Word) string {
	t, v := molecule.Unpack(m)
	return fmt.Sprintf("%s:%d", t.String(), v)
}

// formatRegister renders a flat register id back into its %CLASSn surface
// syntax, the inverse of the assembler's register-name resolution.
func formatRegister(id int) string {
	switch {
	case id >= isa.LRBase:
		return fmt.Sprintf("%%LR%d", id-isa.LRBase)
	case id >= isa.FPRBase:
		return fmt.Sprintf("%%FPR%d", id-isa.FPRBase)
	case id >= isa.PRBase:
		return fmt.Sprintf("%%PR%d", id-isa.PRBase)
	default:
		return fmt.Sprintf("%%DR%d", id-isa.DRBase)
	}
}

func coordKey(c world.Coord) string {
	var sb strings.Builder
	for i, v := range c {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	return sb.String()
}
