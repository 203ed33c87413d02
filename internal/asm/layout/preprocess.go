package layout

import (
	"strings"

	"github.com/pkg/errors"

	"evochora/internal/asm/parser"
)

const maxMacroExpansionDepth = 32

// expandIncludes replaces every ".INCLUDE \"name\"" statement with the
// (recursively expanded) statements of includes[name], detecting cycles
// via the visiting set.
func expandIncludes(stmts []parser.Statement, curFile string, includes map[string]Source, visiting map[string]bool) ([]parser.Statement, error) {
	var out []parser.Statement
	for _, st := range stmts {
		if st.Directive != ".INCLUDE" {
			out = append(out, st)
			continue
		}
		if len(st.DirectiveArgs) != 1 || st.DirectiveArgs[0].Kind != parser.ArgString {
			return nil, &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".INCLUDE expects one quoted file name"}
		}
		name := st.DirectiveArgs[0].Str
		if visiting[name] {
			return nil, &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "include cycle at " + name}
		}
		src, ok := includes[name]
		if !ok {
			return nil, &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "unresolved include " + name}
		}
		inner, err := parser.Parse(src.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "layout: parsing include %s", name)
		}
		visiting[name] = true
		expanded, err := expandIncludes(inner.Statements, name, includes, visiting)
		visiting[name] = false
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// expandMacros records every .MACRO/.ENDM body and splices it in place of
// each call to that macro name, up to maxMacroExpansionDepth levels of
// nested macro calls.
func expandMacros(stmts []parser.Statement) ([]parser.Statement, error) {
	bodies := make(map[string][]parser.Statement)
	var flat []parser.Statement

	var cur string
	var body []parser.Statement
	inMacro := false
	for _, st := range stmts {
		switch {
		case st.Directive == ".MACRO":
			if inMacro {
				return nil, &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: "nested .MACRO definition"}
			}
			if len(st.DirectiveArgs) != 1 || st.DirectiveArgs[0].Kind != parser.ArgLabel {
				return nil, &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".MACRO expects a name"}
			}
			inMacro = true
			cur = strings.ToUpper(st.DirectiveArgs[0].Label)
			body = nil
		case st.Directive == ".ENDM":
			if !inMacro {
				return nil, &Error{Line: st.Pos.Line, Col: st.Pos.Col, Msg: ".ENDM without matching .MACRO"}
			}
			bodies[cur] = body
			inMacro = false
		case inMacro:
			body = append(body, st)
		default:
			flat = append(flat, st)
		}
	}
	if inMacro {
		return nil, &Error{Msg: "unterminated .MACRO " + cur}
	}

	return expandMacroCalls(flat, bodies, 0)
}

func expandMacroCalls(stmts []parser.Statement, bodies map[string][]parser.Statement, depth int) ([]parser.Statement, error) {
	if depth > maxMacroExpansionDepth {
		return nil, errors.New("layout: macro expansion exceeded depth limit, likely a recursive macro")
	}
	var out []parser.Statement
	expandedAny := false
	for _, st := range stmts {
		if st.Op != "" {
			if b, ok := bodies[st.Op]; ok {
				out = append(out, b...)
				expandedAny = true
				continue
			}
		}
		out = append(out, st)
	}
	if expandedAny {
		return expandMacroCalls(out, bodies, depth+1)
	}
	return out, nil
}

// substituteDefines strips .DEFINE statements and rewrites references to
// their names into numeric literals wherever a bare identifier operand of a
// non-CALL instruction matches a defined name. CALL statements are left
// untouched; any other identifier operand, including a JMPI target, is
// replaced if it matches a define.
func substituteDefines(stmts []parser.Statement) []parser.Statement {
	defines := make(map[string]parser.Arg)
	var out []parser.Statement
	for _, st := range stmts {
		if st.Directive == ".DEFINE" && len(st.DirectiveArgs) == 2 &&
			st.DirectiveArgs[0].Kind == parser.ArgLabel && st.DirectiveArgs[1].Kind == parser.ArgLiteral {
			defines[st.DirectiveArgs[0].Label] = st.DirectiveArgs[1]
			continue
		}
		out = append(out, st)
	}
	if len(defines) == 0 {
		return out
	}
	for i := range out {
		st := &out[i]
		if st.Op == "CALL" {
			continue // first arg is always the target label; remaining are register binds
		}
		for j := range st.Args {
			a := &st.Args[j]
			if a.Kind == parser.ArgLabel {
				if lit, ok := defines[a.Label]; ok {
					*a = lit
				}
			}
		}
	}
	return out
}
