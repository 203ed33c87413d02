package vm

import (
	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

// activeDPPos returns the world position a DP-relative instruction (SCAN,
// PEEK, POKE, REPL) operates against: the organism's currently active data
// pointer, falling back to IP if none is set up.
func (e *exec) activeDPPos() world.Coord {
	if e.org.ActiveDP >= 0 && e.org.ActiveDP < len(e.org.DPs) {
		return e.org.DPs[e.org.ActiveDP]
	}
	return e.org.IP
}

// skipNext peeks the instruction immediately after the current one (without
// mutating org) and reports the position following it, for the
// predicate-skip family. A malformed instruction there can't be measured,
// so it's skipped as a single cell.
func (e *exec) skipNext() world.Coord {
	peek := fetchAt(e.org, e.w, e.tbl, e.d.nextIP, e.org.DV)
	if !peek.ok {
		return e.w.Neighbor(e.d.nextIP, e.org.DV)
	}
	return peek.nextIP
}

func (e *exec) applyPredicate(cond bool) Intent {
	if cond {
		e.d.nextIP = e.skipNext()
	}
	return Intent{Kind: NoEffect}
}

// --- arithmetic / logic --------------------------------------------------

func (e *exec) arithImm(f func(a, b int64) int64) Intent { return e.arithWith(f, true) }
func (e *exec) arithReg(f func(a, b int64) int64) Intent { return e.arithWith(f, false) }

func (e *exec) arithWith(f func(a, b int64) int64, immediate bool) Intent {
	dest := e.d.operands[0]
	cur, ok := e.org.ReadRegister(dest.regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	t, a := molecule.Unpack(cur)
	var other molecule.Word
	if immediate {
		other = e.d.operands[1].literal
	} else {
		var rok bool
		other, rok = e.org.ReadRegister(e.d.operands[1].regID)
		if !rok {
			e.org.Fail(organism.FailInvalidRegister)
			return Intent{Kind: NoEffect}
		}
	}
	_, b := molecule.Unpack(other)
	e.org.WriteRegister(dest.regID, molecule.Pack(t, f(a, b)))
	return Intent{Kind: NoEffect}
}

func (e *exec) divImm() Intent { return e.divWith(true) }
func (e *exec) divReg() Intent { return e.divWith(false) }

func (e *exec) divWith(immediate bool) Intent {
	dest := e.d.operands[0]
	cur, ok := e.org.ReadRegister(dest.regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	t, a := molecule.Unpack(cur)
	var other molecule.Word
	if immediate {
		other = e.d.operands[1].literal
	} else {
		other, _ = e.org.ReadRegister(e.d.operands[1].regID)
	}
	_, b := molecule.Unpack(other)
	if b == 0 {
		e.org.Fail(organism.FailDivByZero)
		return Intent{Kind: NoEffect}
	}
	e.org.WriteRegister(dest.regID, molecule.Pack(t, a/b))
	return Intent{Kind: NoEffect}
}

func (e *exec) bitwiseReg(f func(a, b int64) int64) Intent { return e.arithReg(f) }

func (e *exec) notr() Intent {
	dest := e.d.operands[0]
	cur, ok := e.org.ReadRegister(dest.regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	t, v := molecule.Unpack(cur)
	e.org.WriteRegister(dest.regID, molecule.Pack(t, ^v))
	return Intent{Kind: NoEffect}
}

// --- set / move -----------------------------------------------------------

func (e *exec) seti() Intent {
	e.org.WriteRegister(e.d.operands[0].regID, e.d.operands[1].literal)
	return Intent{Kind: NoEffect}
}

func (e *exec) setv() Intent {
	regID := e.d.operands[0].regID
	if regID < isa.LRBase {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	if !e.org.WriteLR(regID-isa.LRBase, e.d.operands[1].vector) {
		e.org.Fail(organism.FailInvalidRegister)
	}
	return Intent{Kind: NoEffect}
}

func (e *exec) setr() Intent {
	v, ok := e.org.ReadRegister(e.d.operands[1].regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	e.org.WriteRegister(e.d.operands[0].regID, v)
	return Intent{Kind: NoEffect}
}

// --- predicate / skip family ------------------------------------------------

func (e *exec) predicateImm(cmp func(a, b int64) bool) Intent {
	v, ok := e.org.ReadRegister(e.d.operands[0].regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	_, a := molecule.Unpack(v)
	_, b := molecule.Unpack(e.d.operands[1].literal)
	return e.applyPredicate(cmp(a, b))
}

func (e *exec) predicateReg(cmp func(a, b int64) bool) Intent {
	v0, ok0 := e.org.ReadRegister(e.d.operands[0].regID)
	v1, ok1 := e.org.ReadRegister(e.d.operands[1].regID)
	if !ok0 || !ok1 {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	_, a := molecule.Unpack(v0)
	_, b := molecule.Unpack(v1)
	return e.applyPredicate(cmp(a, b))
}

// iftiPredicate implements IFTI: skip the next instruction if the register's
// molecule type matches the type encoded in the literal operand.
func (e *exec) iftiPredicate() Intent {
	v, ok := e.org.ReadRegister(e.d.operands[0].regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	regType := molecule.TypeOf(v)
	wantType, _ := molecule.Unpack(e.d.operands[1].literal)
	return e.applyPredicate(regType == wantType)
}

// --- control flow -----------------------------------------------------------

func (e *exec) jmpi() Intent {
	e.org.IP = e.d.operands[0].label
	e.org.SkipIPAdvance = true
	return Intent{Kind: NoEffect}
}

func (e *exec) jmpr() Intent {
	regID := e.d.operands[0].regID
	if regID < isa.LRBase {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	target, ok := e.org.ReadLR(regID - isa.LRBase)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	e.org.IP = target
	e.org.SkipIPAdvance = true
	return Intent{Kind: NoEffect}
}

func (e *exec) call() Intent {
	args := e.d.operands[1:]
	bindings := make([]organism.Binding, 0, len(args))
	for _, op := range args {
		if op.bind == bindRef {
			bindings = append(bindings, organism.Binding{Kind: organism.BindREF, RegID: op.regID})
			continue
		}
		v, _ := e.readOperand(op)
		bindings = append(bindings, organism.Binding{Kind: organism.BindVAL, Value: v})
	}
	target := e.d.operands[0].label
	if e.org.Call(e.d.nextIP, true, bindings) {
		e.org.IP = target
		e.org.SkipIPAdvance = true
	}
	return Intent{Kind: NoEffect}
}

func (e *exec) ret() Intent {
	if e.org.Return() {
		e.org.SkipIPAdvance = true
	}
	return Intent{Kind: NoEffect}
}

// --- world I/O ---------------------------------------------------------

func (e *exec) scan() Intent {
	regID := e.d.operands[0].regID
	target := e.w.Neighbor(e.activeDPPos(), e.d.operands[1].vector)
	m, _ := e.w.Get(target)
	e.org.WriteRegister(regID, m)
	return Intent{Kind: NoEffect}
}

func (e *exec) peek() Intent {
	regID := e.d.operands[0].regID
	target := e.w.Neighbor(e.activeDPPos(), e.d.operands[1].vector)
	m, _ := e.w.Get(target)
	if molecule.IsEmpty(m) {
		e.org.WriteRegister(regID, molecule.Empty)
		return Intent{Kind: NoEffect}
	}
	return Intent{
		Kind:        WorldWrite,
		TargetKnown: true,
		Target:      target,
		WorldMol:    molecule.Empty,
		WorldOwner:  world.NoOwner,
		OnWin: func(o *organism.Organism) {
			o.WriteRegister(regID, m)
			if t, v := molecule.Unpack(m); t == molecule.ENERGY {
				o.ER += v
			}
		},
	}
}

func (e *exec) poke() Intent {
	regID := e.d.operands[0].regID
	v, ok := e.org.ReadRegister(regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	target := e.w.Neighbor(e.activeDPPos(), e.d.operands[1].vector)
	return Intent{
		Kind:        WorldWrite,
		TargetKnown: true,
		Target:      target,
		WorldMol:    v,
		WorldOwner:  int32(e.org.ID),
	}
}

func (e *exec) seek() Intent {
	e.org.IP = e.w.Neighbor(e.org.IP, e.d.operands[0].vector)
	e.org.SkipIPAdvance = true
	return Intent{Kind: NoEffect}
}

func (e *exec) sync() Intent { return Intent{Kind: NoEffect} }

func (e *exec) nrg() Intent {
	e.org.WriteRegister(e.d.operands[0].regID, molecule.Pack(molecule.ENERGY, e.org.ER))
	return Intent{Kind: NoEffect}
}

// --- stack ---------------------------------------------------------------

func (e *exec) push() Intent {
	v, ok := e.org.ReadRegister(e.d.operands[0].regID)
	if !ok {
		e.org.Fail(organism.FailInvalidRegister)
		return Intent{Kind: NoEffect}
	}
	e.org.PushData(v)
	return Intent{Kind: NoEffect}
}

func (e *exec) pop() Intent {
	v, ok := e.org.PopData()
	if ok {
		e.org.WriteRegister(e.d.operands[0].regID, v)
	}
	return Intent{Kind: NoEffect}
}

// --- replication -----------------------------------------------------------

func (e *exec) repl() Intent {
	target := e.w.Neighbor(e.activeDPPos(), e.d.operands[0].vector)
	give := e.org.ER / 2
	child := &ChildSpec{
		ProgramID:   e.org.ProgramID,
		Position:    target,
		DV:          e.org.DV.Clone(),
		ParentID:    e.org.ID,
		EnergyGrant: give,
		CodeRegion:  e.copyProgramBody(target),
	}
	return Intent{
		Kind:        Spawn,
		TargetKnown: true,
		Target:      target,
		Child:       child,
		OnWin:       func(o *organism.Organism) { o.ER -= give },
	}
}

// copyProgramBody walks the organism's own code starting at InitialPos
// along DV, reading one cell at a time, and returns the same shape
// translated so that target takes InitialPos's place. The walk stops at
// the first non-CODE cell or once it revisits a position, bounding it to
// exactly one pass around a torus axis.
func (e *exec) copyProgramBody(target world.Coord) []SeedCell {
	offset := target.Add(negate(e.org.InitialPos))
	var seeds []SeedCell
	seen := make(map[string]bool)
	pos := e.org.InitialPos.Clone()
	for {
		key := cellKey(pos)
		if seen[key] {
			break
		}
		seen[key] = true

		m, _ := e.w.Get(pos)
		if molecule.TypeOf(m) != molecule.CODE {
			break
		}
		seeds = append(seeds, SeedCell{Pos: e.w.Neighbor(pos, offset), Mol: m})
		pos = e.w.Neighbor(pos, e.org.DV)
	}
	return seeds
}

func negate(c world.Coord) world.Coord {
	out := make(world.Coord, len(c))
	for i, v := range c {
		out[i] = -v
	}
	return out
}

func cellKey(c world.Coord) string {
	buf := make([]byte, 0, 4*len(c))
	for i, v := range c {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendCoordInt(buf, int64(v))
	}
	return string(buf)
}

func appendCoordInt(buf []byte, v int64) []byte {
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
