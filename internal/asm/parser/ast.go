// Package parser turns a lexer.Token stream into a flat statement list:
// labels, directives, and instructions with typed operands. It performs no
// address resolution; that is the layout package's job.
package parser

import "evochora/internal/molecule"

// ArgKind classifies one parsed operand.
type ArgKind uint8

const (
	ArgRegister ArgKind = iota
	ArgLiteral
	ArgVector
	ArgLabel
	ArgCallRef // CALL argument explicitly bound REF
	ArgCallVal // CALL argument explicitly bound VAL (register or literal source)
	ArgString  // directive-only: quoted text, e.g. .INCLUDE "file.s"
)

// Arg is one operand of an instruction or directive.
type Arg struct {
	Kind ArgKind

	RegName string // ArgRegister, ArgCallRef, ArgCallVal-by-register: e.g. "DR3"

	LitType  molecule.Type // ArgLiteral, ArgCallVal-by-literal
	LitValue int64

	Vector []int64 // ArgVector

	Label string // ArgLabel, and the callee name for a CALL statement's first arg

	Str string // ArgString

	// ValIsRegister distinguishes, for ArgCallVal, a register source (read
	// fresh at call time) from a literal source.
	ValIsRegister bool
}

// Pos is a source position, file-relative.
type Pos struct {
	Line, Col int
}

// Statement is one assembled line: a label definition, a directive, an
// instruction, or any combination of a leading label with one of the other
// two.
type Statement struct {
	Label string // non-empty if this line defines a label

	Directive     string // e.g. ".ORG"; empty if this is an instruction line
	DirectiveArgs []Arg

	Op   string // opcode mnemonic; empty if Directive is set
	Args []Arg

	Pos Pos
}

// Program is a fully parsed, unresolved compilation unit.
type Program struct {
	Statements []Statement
}
