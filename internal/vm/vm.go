package vm

import (
	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/organism"
	"evochora/internal/world"
)

// exec bundles the arguments every instruction handler needs, the same way
// the 6502 core threads a single *Cpu receiver through its instruction
// table instead of passing bytes around individually.
type exec struct {
	org *organism.Organism
	w   *world.World
	tbl *isa.Table
	d   decoded
}

// Step runs one organism's fetch/decode/execute slice of a tick. It never
// writes to the world; world-touching instructions report their effect
// through the returned Intent for the scheduler to arbitrate.
func Step(org *organism.Organism, w *world.World, tbl *isa.Table) Intent {
	org.ResetTickFlags()

	d := fetch(org, w, tbl)
	if !d.ok {
		org.InstructionFailed = true
		org.FailureReason = d.reason
		// Cannot even identify the instruction at IP; advance past the
		// single malformed cell so the organism doesn't stall forever.
		org.IP = w.Neighbor(org.IP, org.DV)
		return Intent{Kind: NoEffect}
	}

	e := exec{org: org, w: w, tbl: tbl, d: d}
	intent := e.dispatch()

	if org.InstructionFailed {
		org.IP = d.nextIP
		return Intent{Kind: NoEffect}
	}
	if !org.SkipIPAdvance {
		// e.d.nextIP may have been advanced past an extra instruction by
		// the predicate-skip family; d.nextIP (the pre-dispatch value)
		// must not be used here.
		org.IP = e.d.nextIP
	}
	return intent
}

func (e *exec) dispatch() Intent {
	switch e.d.op.Name {
	case "ADDI":
		return e.arithImm(func(a, b int64) int64 { return a + b })
	case "ADDR":
		return e.arithReg(func(a, b int64) int64 { return a + b })
	case "SUBI":
		return e.arithImm(func(a, b int64) int64 { return a - b })
	case "SUBR":
		return e.arithReg(func(a, b int64) int64 { return a - b })
	case "MULI":
		return e.arithImm(func(a, b int64) int64 { return a * b })
	case "MULR":
		return e.arithReg(func(a, b int64) int64 { return a * b })
	case "DIVI":
		return e.divImm()
	case "DIVR":
		return e.divReg()
	case "ANDR":
		return e.bitwiseReg(func(a, b int64) int64 { return a & b })
	case "ORR":
		return e.bitwiseReg(func(a, b int64) int64 { return a | b })
	case "XORR":
		return e.bitwiseReg(func(a, b int64) int64 { return a ^ b })
	case "NOTR":
		return e.notr()

	case "SETI":
		return e.seti()
	case "SETV":
		return e.setv()
	case "SETR":
		return e.setr()
	case "MOV":
		return e.setr() // MOV and SETR share register-to-register copy semantics

	case "IFI":
		return e.predicateImm(func(a, b int64) bool { return a == b })
	case "IFR":
		return e.predicateReg(func(a, b int64) bool { return a == b })
	case "IFTI":
		return e.iftiPredicate()
	case "GTI":
		return e.predicateImm(func(a, b int64) bool { return a > b })
	case "GTR":
		return e.predicateReg(func(a, b int64) bool { return a > b })
	case "LTI":
		return e.predicateImm(func(a, b int64) bool { return a < b })
	case "LTR":
		return e.predicateReg(func(a, b int64) bool { return a < b })

	case "JMPI":
		return e.jmpi()
	case "JMPR":
		return e.jmpr()
	case "CALL":
		return e.call()
	case "RET":
		return e.ret()

	case "SCAN":
		return e.scan()
	case "PEEK":
		return e.peek()
	case "POKE":
		return e.poke()
	case "SEEK":
		return e.seek()
	case "SYNC":
		return e.sync()
	case "NRG":
		return e.nrg()
	case "NOP":
		return Intent{Kind: NoEffect}

	case "PUSH":
		return e.push()
	case "POP":
		return e.pop()

	case "REPL":
		return e.repl()
	}

	e.org.InstructionFailed = true
	e.org.FailureReason = organism.FailUnknownOpcode
	return Intent{Kind: NoEffect}
}

// readOperand resolves a REGISTER or LITERAL operand to a value.
func (e *exec) readOperand(op operand) (molecule.Word, bool) {
	switch op.kind {
	case isa.LITERAL:
		return op.literal, true
	case isa.REGISTER:
		return e.org.ReadRegister(op.regID)
	default:
		return 0, false
	}
}
