package parser

import (
	"fmt"
	"strconv"
	"strings"

	"evochora/internal/molecule"

	"evochora/internal/asm/lexer"
)

// ParseError reports a grammar error at a specific source position.
type ParseError struct {
	Line, Col int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser consumes a flat lexer.Token stream and builds a Program.
type Parser struct {
	toks []lexer.Token
	pos  int
}

// Parse lexes and parses src in one call.
func Parse(src string) (*Program, error) {
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	return p.parseProgram()
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) atEOF() bool       { return p.cur().Kind == lexer.EOF }
func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) skipNewlines() {
	for p.cur().Kind == lexer.Newline {
		p.advance()
	}
}

func (p *Parser) errf(format string, args ...any) error {
	t := p.cur()
	return &ParseError{Line: t.Line, Col: t.Col, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) parseProgram() (*Program, error) {
	prog := &Program{}
	p.skipNewlines()
	for !p.atEOF() {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmt)
		p.skipNewlines()
	}
	return prog, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	var stmt Statement
	t := p.cur()
	stmt.Pos = Pos{Line: t.Line, Col: t.Col}

	if t.Kind == lexer.Ident && p.toks[p.pos+1].Kind == lexer.Colon {
		stmt.Label = t.Text
		p.advance() // ident
		p.advance() // colon
		if p.cur().Kind == lexer.Newline || p.atEOF() {
			return stmt, nil
		}
		t = p.cur()
	}

	switch t.Kind {
	case lexer.Directive:
		p.advance()
		stmt.Directive = t.Text
		args, err := p.parseArgList(t.Text == ".INCLUDE")
		if err != nil {
			return Statement{}, err
		}
		stmt.DirectiveArgs = args
	case lexer.Ident:
		p.advance()
		stmt.Op = strings.ToUpper(t.Text)
		if stmt.Op == "CALL" {
			args, err := p.parseCallArgs()
			if err != nil {
				return Statement{}, err
			}
			stmt.Args = args
		} else {
			args, err := p.parseArgList(false)
			if err != nil {
				return Statement{}, err
			}
			stmt.Args = args
		}
	case lexer.Newline, lexer.EOF:
		// label-only line, already consumed
	default:
		return Statement{}, p.errf("unexpected token in statement")
	}

	if p.cur().Kind != lexer.Newline && !p.atEOF() {
		return Statement{}, p.errf("expected end of line")
	}
	return stmt, nil
}

func (p *Parser) parseArgList(allowString bool) ([]Arg, error) {
	var args []Arg
	if p.cur().Kind == lexer.Newline || p.atEOF() {
		return args, nil
	}
	for {
		arg, err := p.parseArg(allowString)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		// Operands may also be separated by whitespace alone.
		if p.cur().Kind == lexer.Newline || p.atEOF() {
			break
		}
	}
	return args, nil
}

func (p *Parser) parseArg(allowString bool) (Arg, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.Register:
		p.advance()
		return Arg{Kind: ArgRegister, RegName: t.Text}, nil
	case lexer.String:
		if !allowString {
			return Arg{}, p.errf("string literal not allowed here")
		}
		p.advance()
		return Arg{Kind: ArgString, Str: t.Text}, nil
	case lexer.LParen:
		return p.parseVector()
	case lexer.Number:
		p.advance()
		v, err := parseInt(t.Text)
		if err != nil {
			return Arg{}, p.errf("%s", err)
		}
		return Arg{Kind: ArgLiteral, LitType: molecule.DATA, LitValue: v}, nil
	case lexer.Ident:
		p.advance()
		if p.cur().Kind == lexer.Colon {
			p.advance()
			numTok := p.cur()
			if numTok.Kind != lexer.Number {
				return Arg{}, p.errf("expected number after typed literal prefix")
			}
			p.advance()
			v, err := parseInt(numTok.Text)
			if err != nil {
				return Arg{}, p.errf("%s", err)
			}
			typ, ok := molecule.ParseType(strings.ToUpper(t.Text))
			if !ok {
				return Arg{}, p.errf("unknown molecule type %q", t.Text)
			}
			return Arg{Kind: ArgLiteral, LitType: typ, LitValue: v}, nil
		}
		return Arg{Kind: ArgLabel, Label: t.Text}, nil
	default:
		return Arg{}, p.errf("unexpected token in operand")
	}
}

// parseVector parses the "(num|num|…)" vector literal syntax.
func (p *Parser) parseVector() (Arg, error) {
	p.advance() // '('
	var vec []int64
	for {
		t := p.cur()
		if t.Kind != lexer.Number {
			return Arg{}, p.errf("expected number in vector literal")
		}
		p.advance()
		v, err := parseInt(t.Text)
		if err != nil {
			return Arg{}, p.errf("%s", err)
		}
		vec = append(vec, v)
		if p.cur().Kind == lexer.Pipe {
			p.advance()
			continue
		}
		break
	}
	if p.cur().Kind != lexer.RParen {
		return Arg{}, p.errf("expected ) to close vector literal")
	}
	p.advance()
	return Arg{Kind: ArgVector, Vector: vec}, nil
}

// parseCallArgs parses "label" followed by either the classic all-REF
// shorthand (bare comma-separated registers) or the explicit
// "[REF ...][VAL ...]" bracketed form.
func (p *Parser) parseCallArgs() ([]Arg, error) {
	t := p.cur()
	if t.Kind != lexer.Ident {
		return nil, p.errf("expected CALL target label")
	}
	p.advance()
	args := []Arg{{Kind: ArgLabel, Label: t.Text}}

	if p.cur().Kind == lexer.Comma {
		p.advance()
	}
	if p.cur().Kind == lexer.Newline || p.atEOF() {
		return args, nil
	}

	if p.cur().Kind == lexer.LBracket {
		for p.cur().Kind == lexer.LBracket {
			p.advance()
			kw := p.cur()
			if kw.Kind != lexer.Ident {
				return nil, p.errf("expected REF or VAL inside bracketed CALL argument group")
			}
			p.advance()
			mode := strings.ToUpper(kw.Text)
			if mode != "REF" && mode != "VAL" {
				return nil, p.errf("expected REF or VAL, got %q", kw.Text)
			}
			for {
				arg, err := p.parseCallBoundArg(mode)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.cur().Kind == lexer.Comma {
					p.advance()
					continue
				}
				break
			}
			if p.cur().Kind != lexer.RBracket {
				return nil, p.errf("expected ] to close CALL argument group")
			}
			p.advance()
			if p.cur().Kind == lexer.Comma {
				p.advance()
			}
		}
		return args, nil
	}

	// Classic surface syntax: every remaining bare argument is REF.
	for {
		arg, err := p.parseCallBoundArg("REF")
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	return args, nil
}

func (p *Parser) parseCallBoundArg(mode string) (Arg, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.Register:
		p.advance()
		if mode == "REF" {
			return Arg{Kind: ArgCallRef, RegName: t.Text}, nil
		}
		return Arg{Kind: ArgCallVal, RegName: t.Text, ValIsRegister: true}, nil
	case lexer.Number:
		if mode == "REF" {
			return Arg{}, p.errf("REF argument must be a register")
		}
		p.advance()
		v, err := parseInt(t.Text)
		if err != nil {
			return Arg{}, p.errf("%s", err)
		}
		return Arg{Kind: ArgCallVal, LitType: molecule.DATA, LitValue: v}, nil
	default:
		return Arg{}, p.errf("expected register or, for VAL, a literal")
	}
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}
