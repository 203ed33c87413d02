// Package organism defines the per-organism runtime state: registers,
// stacks, instruction/direction pointers, call frames, and energy.
//
// An Organism's state is owned exclusively by itself; the only shared
// mutable resource in the simulation is the world (see internal/world).
package organism

import (
	"evochora/internal/isa"
	"evochora/internal/molecule"
	"evochora/internal/world"
)

// FailureReason tags why an instruction failed to execute this tick.
type FailureReason string

const (
	FailNone             FailureReason = ""
	FailUnknownOpcode    FailureReason = "UNKNOWN_OPCODE"
	FailMalformedOperand FailureReason = "MALFORMED_OPERAND"
	FailStackUnderflow   FailureReason = "STACK_UNDERFLOW"
	FailStackOverflow    FailureReason = "STACK_OVERFLOW"
	FailOutOfEnergy      FailureReason = "OUT_OF_ENERGY"
	FailInvalidRegister  FailureReason = "INVALID_REGISTER"
	FailDivByZero        FailureReason = "DIV_BY_ZERO"
)

// Fail marks the current instruction as failed for the given reason. It is
// exported so internal/vm can report decode- and execution-time failures
// without duplicating FailureReason bookkeeping.
func (o *Organism) Fail(reason FailureReason) { o.fail(reason) }

// CallFrame is pushed by CALL and popped by RET, per spec §3 and §4.4.
type CallFrame struct {
	AbsoluteReturnIP world.Coord
	SavedDV          world.Coord // nil if DV was not saved
	FPRSnapshot      []molecule.Word
	PRSnapshot       []molecule.Word
	// BindingVector holds one Binding per formal parameter index: a caller
	// register id for REF, or the pre-evaluated value for VAL, which is
	// also materialized into the callee's fresh FPR slot of that index.
	BindingVector []Binding
}

// BindingKind distinguishes REF (alias) from VAL (copied) parameters.
type BindingKind uint8

const (
	BindREF BindingKind = iota
	BindVAL
)

// Binding records how one formal parameter resolves through the call
// stack.
type Binding struct {
	Kind  BindingKind
	RegID int           // valid when Kind == BindREF: caller register id
	Value molecule.Word // valid when Kind == BindVAL: pre-evaluated value
}

// Limits bounds the organism's register files and stack depths. All
// organisms in one simulation share the same Limits, sourced from
// internal/config.
type Limits struct {
	NumDR, NumPR, NumFPR, NumLR int
	DataStackDepth              int
	LocationStackDepth          int
	CallStackDepth              int
}

// DefaultLimits matches the bounds published in SPEC_FULL.md's Open
// Question (c) decision.
var DefaultLimits = Limits{
	NumDR: 8, NumPR: 8, NumFPR: 8, NumLR: 8,
	DataStackDepth:     64,
	LocationStackDepth: 32,
	CallStackDepth:     32,
}

// Organism is one autonomous program running inside the world.
type Organism struct {
	ID         int
	ParentID   *int
	BirthTick  uint64
	ProgramID  string
	InitialPos world.Coord

	IP world.Coord
	DV world.Coord

	DPs      []world.Coord
	ActiveDP int

	ER int64 // energy

	DR, PR, FPR []molecule.Word
	LR          []world.Coord

	DataStack     []molecule.Word
	LocationStack []world.Coord
	CallStack     []CallFrame

	// Per-tick flags. InstructionFailed, FailureReason and SkipIPAdvance
	// are reset at the start of every fetch; IsDead persists once set.
	IsDead            bool
	InstructionFailed bool
	FailureReason     FailureReason
	SkipIPAdvance     bool

	IPBeforeFetch world.Coord
	DVBeforeFetch world.Coord

	Limits Limits
}

// New creates an organism at the given initial position, facing dv, with
// the given limits applied to its register files and stacks.
func New(id int, programID string, pos, dv world.Coord, lim Limits) *Organism {
	o := &Organism{
		ID:         id,
		ProgramID:  programID,
		InitialPos: pos.Clone(),
		IP:         pos.Clone(),
		DV:         dv.Clone(),
		DPs:        []world.Coord{pos.Clone()},
		DR:         make([]molecule.Word, lim.NumDR),
		PR:         make([]molecule.Word, lim.NumPR),
		FPR:        make([]molecule.Word, lim.NumFPR),
		LR:         make([]world.Coord, lim.NumLR),
		Limits:     lim,
	}
	for i := range o.LR {
		o.LR[i] = make(world.Coord, len(pos))
	}
	return o
}

// ResetTickFlags clears the transient per-tick flags and snapshots
// IP/DV, as required by the VM executor's fetch step 1.
func (o *Organism) ResetTickFlags() {
	o.InstructionFailed = false
	o.FailureReason = FailNone
	o.SkipIPAdvance = false
	o.IPBeforeFetch = o.IP.Clone()
	o.DVBeforeFetch = o.DV.Clone()
}

// RegisterID resolves a register class and index into the flat id space
// used by callSiteBindings (see isa.DRBase etc).
func RegisterID(class string, idx int) int {
	switch class {
	case "DR":
		return isa.DRBase + idx
	case "PR":
		return isa.PRBase + idx
	case "FPR":
		return isa.FPRBase + idx
	case "LR":
		return isa.LRBase + idx
	default:
		panic("organism: unknown register class " + class)
	}
}

// PushData pushes v onto the data stack, failing if the bound is exceeded.
func (o *Organism) PushData(v molecule.Word) bool {
	if len(o.DataStack) >= o.Limits.DataStackDepth {
		o.fail(FailStackOverflow)
		return false
	}
	o.DataStack = append(o.DataStack, v)
	return true
}

// PopData pops the data stack, failing on underflow.
func (o *Organism) PopData() (molecule.Word, bool) {
	if len(o.DataStack) == 0 {
		o.fail(FailStackUnderflow)
		return 0, false
	}
	n := len(o.DataStack) - 1
	v := o.DataStack[n]
	o.DataStack = o.DataStack[:n]
	return v, true
}

// PushLocation pushes a location vector onto the location stack.
func (o *Organism) PushLocation(v world.Coord) bool {
	if len(o.LocationStack) >= o.Limits.LocationStackDepth {
		o.fail(FailStackOverflow)
		return false
	}
	o.LocationStack = append(o.LocationStack, v.Clone())
	return true
}

// PopLocation pops the location stack, failing on underflow.
func (o *Organism) PopLocation() (world.Coord, bool) {
	if len(o.LocationStack) == 0 {
		o.fail(FailStackUnderflow)
		return nil, false
	}
	n := len(o.LocationStack) - 1
	v := o.LocationStack[n]
	o.LocationStack = o.LocationStack[:n]
	return v, true
}

// PushCall pushes a call frame, failing if the bound is exceeded.
func (o *Organism) PushCall(f CallFrame) bool {
	if len(o.CallStack) >= o.Limits.CallStackDepth {
		o.fail(FailStackOverflow)
		return false
	}
	o.CallStack = append(o.CallStack, f)
	return true
}

// PopCall pops the call stack, failing on underflow.
func (o *Organism) PopCall() (CallFrame, bool) {
	if len(o.CallStack) == 0 {
		o.fail(FailStackUnderflow)
		return CallFrame{}, false
	}
	n := len(o.CallStack) - 1
	f := o.CallStack[n]
	o.CallStack = o.CallStack[:n]
	return f, true
}

func (o *Organism) fail(reason FailureReason) {
	o.InstructionFailed = true
	o.FailureReason = reason
}

// snapshotFPR resolves every FPR slot's current logical value (following
// any active REF binding) into a plain slice, for storage in a new call
// frame.
func (o *Organism) snapshotFPR() []molecule.Word {
	out := make([]molecule.Word, len(o.FPR))
	for i := range out {
		v, _ := o.ReadRegister(isa.FPRBase + i)
		out[i] = v
	}
	return out
}

// topFrame returns the call frame currently executing, if any.
func (o *Organism) topFrame() *CallFrame {
	if len(o.CallStack) == 0 {
		return nil
	}
	return &o.CallStack[len(o.CallStack)-1]
}

// ReadRegister reads the value of a register by global id (DR/PR/FPR/LR
// base-offset encoding, see isa.DRBase etc). FPR reads for parameters bound
// REF forward into the caller's frozen register bank recorded at CALL
// time; this is what makes writes to an FPR alias visible in the caller
// after RET, one hop at a time, the chain resolving itself naturally
// across nested calls because each call layer only ever forwards into its
// immediate caller's snapshot.
func (o *Organism) ReadRegister(id int) (molecule.Word, bool) {
	class, idx := classify(id)
	if class == "FPR" {
		if f := o.topFrame(); f != nil && idx < len(f.BindingVector) {
			b := f.BindingVector[idx]
			if b.Kind == BindREF {
				return o.readRef(b.RegID, f)
			}
		}
		if idx < 0 || idx >= len(o.FPR) {
			return 0, false
		}
		return o.FPR[idx], true
	}
	return o.readDirect(class, idx)
}

// WriteRegister mirrors ReadRegister for writes.
func (o *Organism) WriteRegister(id int, v molecule.Word) bool {
	class, idx := classify(id)
	if class == "FPR" {
		if f := o.topFrame(); f != nil && idx < len(f.BindingVector) {
			b := f.BindingVector[idx]
			if b.Kind == BindREF {
				return o.writeRef(b.RegID, f, v)
			}
		}
		if idx < 0 || idx >= len(o.FPR) {
			return false
		}
		o.FPR[idx] = v
		return true
	}
	return o.writeDirect(class, idx, v)
}

// readRef/writeRef resolve a REF binding's target register id against the
// enclosing frame's frozen PR/FPR snapshot (for PR/FPR targets) or the
// organism's global DR/LR banks (which need no snapshot, since they are
// shared across all call depths).
func (o *Organism) readRef(regID int, frame *CallFrame) (molecule.Word, bool) {
	class, idx := classify(regID)
	switch class {
	case "DR":
		return o.readDirect(class, idx)
	case "PR":
		if idx < 0 || idx >= len(frame.PRSnapshot) {
			return 0, false
		}
		return frame.PRSnapshot[idx], true
	case "FPR":
		if idx < 0 || idx >= len(frame.FPRSnapshot) {
			return 0, false
		}
		return frame.FPRSnapshot[idx], true
	default:
		return 0, false
	}
}

func (o *Organism) writeRef(regID int, frame *CallFrame, v molecule.Word) bool {
	class, idx := classify(regID)
	switch class {
	case "DR":
		return o.writeDirect(class, idx, v)
	case "PR":
		if idx < 0 || idx >= len(frame.PRSnapshot) {
			return false
		}
		frame.PRSnapshot[idx] = v
		return true
	case "FPR":
		if idx < 0 || idx >= len(frame.FPRSnapshot) {
			return false
		}
		frame.FPRSnapshot[idx] = v
		return true
	default:
		return false
	}
}

func (o *Organism) readDirect(class string, idx int) (molecule.Word, bool) {
	switch class {
	case "DR":
		if idx < 0 || idx >= len(o.DR) {
			return 0, false
		}
		return o.DR[idx], true
	case "PR":
		if idx < 0 || idx >= len(o.PR) {
			return 0, false
		}
		return o.PR[idx], true
	case "FPR":
		if idx < 0 || idx >= len(o.FPR) {
			return 0, false
		}
		return o.FPR[idx], true
	default:
		return 0, false
	}
}

func (o *Organism) writeDirect(class string, idx int, v molecule.Word) bool {
	switch class {
	case "DR":
		if idx < 0 || idx >= len(o.DR) {
			return false
		}
		o.DR[idx] = v
		return true
	case "PR":
		if idx < 0 || idx >= len(o.PR) {
			return false
		}
		o.PR[idx] = v
		return true
	case "FPR":
		if idx < 0 || idx >= len(o.FPR) {
			return false
		}
		o.FPR[idx] = v
		return true
	default:
		return false
	}
}

func classify(id int) (class string, idx int) {
	switch {
	case id >= isa.LRBase:
		return "LR", id - isa.LRBase
	case id >= isa.FPRBase:
		return "FPR", id - isa.FPRBase
	case id >= isa.PRBase:
		return "PR", id - isa.PRBase
	default:
		return "DR", id - isa.DRBase
	}
}

// ReadLR reads location register i.
func (o *Organism) ReadLR(idx int) (world.Coord, bool) {
	if idx < 0 || idx >= len(o.LR) {
		return nil, false
	}
	return o.LR[idx], true
}

// WriteLR writes location register i.
func (o *Organism) WriteLR(idx int, v world.Coord) bool {
	if idx < 0 || idx >= len(o.LR) {
		return false
	}
	o.LR[idx] = v.Clone()
	return true
}

// Call pushes a new call frame, snapshotting PR/FPR and binding each
// parameter per bindings (REF forwards live writes to the caller's frozen
// bank, VAL materializes a fresh FPR value evaluated once by the caller).
func (o *Organism) Call(returnIP world.Coord, saveDV bool, bindings []Binding) bool {
	if len(o.CallStack) >= o.Limits.CallStackDepth {
		o.fail(FailStackOverflow)
		return false
	}
	frame := CallFrame{
		AbsoluteReturnIP: returnIP.Clone(),
		PRSnapshot:       append([]molecule.Word(nil), o.PR...),
		// FPR is snapshotted through the logical accessor, not a raw
		// array copy: if the caller is itself inside a REF-bound
		// frame, its FPR slots may be live aliases rather than local
		// storage, and the snapshot must capture the resolved value
		// so a further nested REF chain keeps working after RET.
		FPRSnapshot:   o.snapshotFPR(),
		BindingVector: append([]Binding(nil), bindings...),
	}
	if saveDV {
		frame.SavedDV = o.DV.Clone()
	}
	for i := range o.PR {
		o.PR[i] = 0
	}
	for i := range o.FPR {
		o.FPR[i] = 0
	}
	for i, b := range bindings {
		if b.Kind == BindVAL && i < len(o.FPR) {
			o.FPR[i] = b.Value
		}
	}
	o.CallStack = append(o.CallStack, frame)
	return true
}

// Return pops the active call frame, restoring PR/FPR (and DV, if it was
// saved) and setting IP to the recorded return address.
func (o *Organism) Return() bool {
	f, ok := o.PopCall()
	if !ok {
		return false
	}
	o.PR = f.PRSnapshot
	o.FPR = f.FPRSnapshot
	o.IP = f.AbsoluteReturnIP
	if f.SavedDV != nil {
		o.DV = f.SavedDV
	}
	return true
}
