// Package layout resolves a parsed program into a linked artifact.ProgramArtifact:
// it walks the statement stream with a position/direction cursor, assigns
// every label an absolute world coordinate, and encodes each instruction's
// operands into the machine words internal/vm decodes.
package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"evochora/internal/artifact"
	"evochora/internal/asm/parser"
	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

// Error reports a layout or link failure at a source position.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("layout: %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Source bundles one named compilation unit's text; File is used only for
// .INCLUDE cycle detection. SourcePos entries written by the layout pass
// carry line and column only; their File field is left empty.
type Source struct {
	File string
	Text string
}

// Assemble parses src, expands its includes and macros, resolves every
// label, and links the result into a ProgramArtifact sized for worldShape.
// includes supplies the text of every file reachable via .INCLUDE, keyed
// by the name used in source (no path resolution beyond exact match).
func Assemble(progID string, src Source, includes map[string]Source, worldShape []int32) (*artifact.ProgramArtifact, error) {
	dims := len(worldShape)

	prog, err := parser.Parse(src.Text)
	if err != nil {
		return nil, errors.Wrap(err, "layout: parsing main source")
	}

	stmts, err := expandIncludes(prog.Statements, src.File, includes, map[string]bool{src.File: true})
	if err != nil {
		return nil, err
	}

	stmts, err = expandMacros(stmts)
	if err != nil {
		return nil, err
	}

	stmts = substituteDefines(stmts)

	tbl := isa.Default
	tmpWorld := world.New(worldShape)

	lay := &layouter{
		dims:  dims,
		tbl:   tbl,
		w:     tmpWorld,
		art:   artifact.New(dims),
		progID: progID,
		labels: make(map[string]world.Coord),
		dv:     defaultDV(dims),
	}

	if err := lay.firstPass(stmts); err != nil {
		return nil, err
	}
	if err := lay.secondPass(); err != nil {
		return nil, err
	}
	if err := lay.applyPlacements(); err != nil {
		return nil, err
	}

	if len(lay.art.StartPoints) == 0 {
		lay.art.StartPoints = append(lay.art.StartPoints, artifact.StartPoint{
			ProgramID: progID,
			Position:  lay.anchorPos,
			DV:        defaultDV(dims),
		})
	}

	return lay.art, nil
}

func defaultDV(dims int) world.Coord {
	dv := make(world.Coord, dims)
	if dims > 0 {
		dv[0] = 1
	}
	return dv
}

// instFact is one instruction statement located at a fixed start position
// and direction, recorded during the first pass for re-encoding in the
// second.
type instFact struct {
	stmt parser.Statement
	pos  world.Coord
	dv   world.Coord
}

// placeFact is a deferred .PLACE directive: its world object is written
// only after every instruction has been encoded, so it can be checked
// against the final code layout regardless of source order.
type placeFact struct {
	pos       world.Coord
	mol       molecule.Word
	line, col int
}

type layouter struct {
	dims   int
	tbl    *isa.Table
	w      *world.World
	art    *artifact.ProgramArtifact
	progID string

	pos       world.Coord
	dv        world.Coord
	anchorSet bool
	anchorPos world.Coord

	labels     map[string]world.Coord
	insts      []instFact
	placements []placeFact
}

func (l *layouter) setAnchor(pos world.Coord) {
	if !l.anchorSet {
		l.anchorPos = pos.Clone()
		l.anchorSet = true
	}
}

// firstPass walks every statement once, assigning label positions and
// recording each instruction's fixed start position/direction. Instruction
// length depends only on its own signature/arg-count, never on label
// values, so one forward pass suffices.
func (l *layouter) firstPass(stmts []parser.Statement) error {
	l.pos = make(world.Coord, l.dims)
	l.dv = defaultDV(l.dims)

	for _, st := range stmts {
		if st.Label != "" {
			if _, dup := l.labels[st.Label]; dup {
				return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "duplicate label " + st.Label}
			}
			l.labels[st.Label] = l.pos.Clone()
		}

		switch {
		case st.Directive != "":
			if err := l.applyDirective(st); err != nil {
				return err
			}
		case st.Op != "":
			l.setAnchor(l.pos)
			op, ok := l.tbl.Resolve(st.Op)
			if !ok {
				return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "unknown opcode " + st.Op}
			}
			n := instructionLength(op, st, l.dims)
			l.insts = append(l.insts, instFact{stmt: st, pos: l.pos.Clone(), dv: l.dv.Clone()})
			l.pos = advanceN(l.w, l.pos, l.dv, n)
		}
	}
	if !l.anchorSet {
		l.setAnchor(make(world.Coord, l.dims))
	}
	return nil
}

func advanceN(w *world.World, pos, dv world.Coord, n int) world.Coord {
	for i := 0; i < n; i++ {
		pos = w.Neighbor(pos, dv)
	}
	return pos
}

// instructionLength mirrors isa.Opcode.Length, except for CALL whose
// length also depends on the parsed argument count at this call site.
func instructionLength(op isa.Opcode, st parser.Statement, dims int) int {
	if op.Name != "CALL" {
		return op.Length(dims)
	}
	n := 1 /*opcode*/ + dims /*label*/ + 1 /*argCount*/
	for _, a := range st.Args[1:] {
		switch a.Kind {
		case parser.ArgCallRef:
			n += 2 // bindKind cell + regID cell
		case parser.ArgCallVal:
			n += 3 // bindKind cell + srcKind cell + value cell
		}
	}
	return n
}

func (l *layouter) applyDirective(st parser.Statement) error {
	switch st.Directive {
	case ".ORG":
		if len(st.DirectiveArgs) != 1 || st.DirectiveArgs[0].Kind != parser.ArgVector {
			return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".ORG expects one vector argument"}
		}
		l.pos = vectorToCoord(st.DirectiveArgs[0].Vector, l.dims)
		l.setAnchor(l.pos)
	case ".DIR":
		if len(st.DirectiveArgs) != 1 || st.DirectiveArgs[0].Kind != parser.ArgVector {
			return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".DIR expects one vector argument"}
		}
		l.dv = vectorToCoord(st.DirectiveArgs[0].Vector, l.dims)
	case ".PLACE":
		if len(st.DirectiveArgs) != 2 || st.DirectiveArgs[1].Kind != parser.ArgVector {
			return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".PLACE expects a typed literal and a vector"}
		}
		lit := st.DirectiveArgs[0]
		if lit.Kind != parser.ArgLiteral {
			return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".PLACE first argument must be a typed literal"}
		}
		pos := vectorToCoord(st.DirectiveArgs[1].Vector, l.dims)
		l.placements = append(l.placements, placeFact{
			pos: pos,
			mol: molecule.Pack(lit.LitType, lit.LitValue),
			line: st.Pos.Line, col: st.Pos.Col,
		})
	case ".ROUTINE":
		dv := l.dv
		if len(st.DirectiveArgs) == 1 && st.DirectiveArgs[0].Kind == parser.ArgVector {
			dv = vectorToCoord(st.DirectiveArgs[0].Vector, l.dims)
		}
		l.setAnchor(l.pos)
		l.art.StartPoints = append(l.art.StartPoints, artifact.StartPoint{
			ProgramID: l.progID,
			Position:  l.pos.Clone(),
			DV:        dv,
		})
	case ".PROC", ".ENDP", ".SCOPE", ".ENDS", ".REQUIRE":
		// Scoping/dependency directives are accepted and ignored: this pass
		// treats every label as globally unique and performs no balance or
		// requirement checks for them.
	default:
		return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "unknown directive " + st.Directive}
	}
	return nil
}

func vectorToCoord(v []int64, dims int) world.Coord {
	c := make(world.Coord, dims)
	for i := 0; i < dims && i < len(v); i++ {
		c[i] = int32(v[i])
	}
	return c
}

// secondPass re-walks the recorded instructions, now that every label is
// known, and writes their encoded machine words into the artifact.
func (l *layouter) secondPass() error {
	for _, inst := range l.insts {
		if err := l.encodeInstruction(inst); err != nil {
			return err
		}
	}
	return nil
}

func (l *layouter) encodeInstruction(inst instFact) error {
	st := inst.stmt
	op, _ := l.tbl.Resolve(st.Op)

	cur := inst.pos.Clone()
	var putErr error
	put := func(m molecule.Word) {
		if putErr != nil {
			return
		}
		k := artifact.Key(cur)
		if _, collides := l.art.SourceMap[k]; collides {
			putErr = &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: fmt.Sprintf("instruction at %v collides with another instruction's cell", cur)}
			return
		}
		l.art.SetObject(cur, m)
		l.art.SetSource(cur, artifact.SourcePos{Line: st.Pos.Line, Col: st.Pos.Col})
		cur = l.w.Neighbor(cur, inst.dv)
	}

	put(molecule.Pack(molecule.CODE, int64(op.ID)))
	if putErr != nil {
		return putErr
	}

	if op.Name == "CALL" {
		if err := l.encodeCall(inst, put); err != nil {
			return err
		}
		return putErr
	}

	if len(st.Args) != len(op.Signature) {
		return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: fmt.Sprintf("%s expects %d operands, got %d", st.Op, len(op.Signature), len(st.Args))}
	}
	for i, kind := range op.Signature {
		a := st.Args[i]
		switch kind {
		case isa.REGISTER:
			id, err := l.resolveRegister(a, st.Pos)
			if err != nil {
				return err
			}
			put(molecule.Pack(molecule.DATA, int64(id)))
		case isa.LITERAL:
			if a.Kind != parser.ArgLiteral {
				return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "expected literal operand"}
			}
			put(molecule.Pack(a.LitType, a.LitValue))
		case isa.VECTOR:
			if a.Kind != parser.ArgVector {
				return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "expected vector operand"}
			}
			for j := 0; j < l.dims; j++ {
				var v int64
				if j < len(a.Vector) {
					v = a.Vector[j]
				}
				put(molecule.Pack(molecule.DATA, v))
			}
		case isa.LABEL:
			target, err := l.resolveLabel(a, st.Pos)
			if err != nil {
				return err
			}
			rel := target.Add(negate(l.anchorPos))
			for j := 0; j < l.dims; j++ {
				put(molecule.Pack(molecule.DATA, int64(rel[j])))
			}
		}
		if putErr != nil {
			return putErr
		}
	}
	return putErr
}

func (l *layouter) encodeCall(inst instFact, put func(molecule.Word)) error {
	st := inst.stmt
	if len(st.Args) == 0 || st.Args[0].Kind != parser.ArgLabel {
		return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "CALL requires a target label"}
	}
	target, err := l.resolveLabel(st.Args[0], st.Pos)
	if err != nil {
		return err
	}
	rel := target.Add(negate(l.anchorPos))
	for j := 0; j < l.dims; j++ {
		put(molecule.Pack(molecule.DATA, int64(rel[j])))
	}

	callArgs := st.Args[1:]
	put(molecule.Pack(molecule.DATA, int64(len(callArgs))))

	var bindings []artifact.CallBinding
	for i, a := range callArgs {
		switch a.Kind {
		case parser.ArgCallRef:
			id, err := l.resolveRegisterName(a.RegName, st.Pos)
			if err != nil {
				return err
			}
			put(molecule.Pack(molecule.DATA, 0)) // bindKind REF
			put(molecule.Pack(molecule.DATA, int64(id)))
			bindings = append(bindings, artifact.CallBinding{ParamIndex: i, RegName: a.RegName, Kind: organism.BindREF})
		case parser.ArgCallVal:
			put(molecule.Pack(molecule.DATA, 1)) // bindKind VAL
			if a.ValIsRegister {
				id, err := l.resolveRegisterName(a.RegName, st.Pos)
				if err != nil {
					return err
				}
				put(molecule.Pack(molecule.DATA, 0)) // srcKind REGISTER
				put(molecule.Pack(molecule.DATA, int64(id)))
				bindings = append(bindings, artifact.CallBinding{ParamIndex: i, RegName: a.RegName, Kind: organism.BindVAL})
			} else {
				put(molecule.Pack(molecule.DATA, 1)) // srcKind LITERAL
				put(molecule.Pack(a.LitType, a.LitValue))
				bindings = append(bindings, artifact.CallBinding{ParamIndex: i, Kind: organism.BindVAL})
			}
		default:
			return &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "malformed CALL argument"}
		}
	}
	l.art.AddCallBindings(inst.pos, bindings)
	return nil
}

// applyPlacements writes every deferred .PLACE object into the artifact,
// rejecting any whose coordinate was already claimed by an instruction's
// code cell. Deferred until after secondPass so the check sees the
// complete code layout regardless of where .PLACE appeared in source.
func (l *layouter) applyPlacements() error {
	for _, pf := range l.placements {
		if _, isCode := l.art.SourceMap[artifact.Key(pf.pos)]; isCode {
			return &Error{Line: pf.line, Col: pf.col, Msg: fmt.Sprintf(".PLACE at %v would overwrite a code cell", pf.pos)}
		}
		l.art.SetObject(pf.pos, pf.mol)
	}
	return nil
}

func (l *layouter) resolveRegister(a parser.Arg, pos parser.Pos) (int, error) {
	if a.Kind != parser.ArgRegister {
		return 0, &Error{Line: pos.Line, Col: pos.Col, Msg: "expected register operand"}
	}
	return l.resolveRegisterName(a.RegName, pos)
}

func (l *layouter) resolveRegisterName(name string, pos parser.Pos) (int, error) {
	i := 0
	for i < len(name) && !('0' <= name[i] && name[i] <= '9') {
		i++
	}
	class := strings.ToUpper(name[:i])
	idxStr := name[i:]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, &Error{Line: pos.Line, Col: pos.Col, Msg: "malformed register name " + name}
	}
	switch class {
	case "DR", "PR", "FPR", "LR":
		return organism.RegisterID(class, idx), nil
	default:
		return 0, &Error{Line: pos.Line, Col: pos.Col, Msg: "unknown register class in " + name}
	}
}

func (l *layouter) resolveLabel(a parser.Arg, pos parser.Pos) (world.Coord, error) {
	if a.Kind != parser.ArgLabel {
		return nil, &Error{Line: pos.Line, Col: pos.Col, Msg: "expected a label"}
	}
	target, ok := l.labels[a.Label]
	if !ok {
		return nil, &Error{Line: pos.Line, Col: pos.Col, Msg: "undefined label " + a.Label}
	}
	return target, nil
}

func negate(c world.Coord) world.Coord {
	out := make(world.Coord, len(c))
	for i, v := range c {
		out[i] = -v
	}
	return out
}
