package expand

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"hbash.dev/bashbox/pattern"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/token"
)

// maxNameRefDepth is the depth limit paramExpIndirect checks. ${!v}
// resolves a single level of indirection, so the limit is never reached.
const maxNameRefDepth = 100

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
	titleCaser = cases.Title(language.Und)
)

// paramExp evaluates one ${...} or $name parameter expansion to its string
// value, applying any operator suffix it carries. Errors from ":?" are
// recorded on c.Err rather than returned, matching the other expansion
// entry points which also return a bare string.
func (c *Context) paramExp(ctx context.Context, pe *syntax.ParamExp) string {
	name := pe.Param.Value

	if pe.Excl {
		return c.paramExpIndirect(ctx, pe, name, 0)
	}

	if pe.Length {
		return strconv.Itoa(len(c.paramValue(ctx, pe, name)))
	}

	if c.Nounset && pe.Exp == nil && pe.Index == nil && !isSpecialParam(name) && !c.Env.Get(name).IsSet() {
		c.Err = fmt.Errorf("%s: unbound variable", name)
		return ""
	}

	val := c.paramValue(ctx, pe, name)

	if pe.Slice != nil {
		val = c.applySlice(ctx, pe.Slice, val)
	}
	if pe.Repl != nil {
		val = c.applyReplace(ctx, pe.Repl, val)
	}
	if pe.CaseOp != 0 {
		val = applyCaseOp(pe.CaseOp, val)
	}
	if pe.Exp != nil {
		val = c.applyExpansion(ctx, pe, name, val)
	}
	return val
}

// paramValue resolves the raw (pre-operator) string value of a parameter,
// handling the special $@ $* $# positional-parameter names and array
// subscripts.
func (c *Context) paramValue(ctx context.Context, pe *syntax.ParamExp, name string) string {
	if pe.Index != nil {
		arr := c.Env.Get(name).IndexArray()
		if idx, ok := pe.Index.Lit(); ok && (idx == "@" || idx == "*") {
			if idx == "@" {
				return c.fieldJoin(joinParts(arr))
			}
			sep := " "
			if c.ifs != "" {
				sep = c.ifs[:1]
			}
			return strings.Join(arr, sep)
		}
		v, pend, _ := c.EvalArith(ctx, wordToArithm(pe.Index))
		c.Pending = append(c.Pending, pend...)
		n := int(v)
		if n < 0 || n >= len(arr) {
			return ""
		}
		return arr[n]
	}
	switch name {
	case "#":
		return strconv.Itoa(len(c.Env.Get("@").IndexArray()))
	case "@", "*":
		arr := c.Env.Get("@").IndexArray()
		if name == "*" {
			sep := " "
			if c.ifs != "" {
				sep = c.ifs[:1]
			}
			return strings.Join(arr, sep)
		}
		return strings.Join(arr, " ")
	}
	return c.Env.Get(name).String()
}

// isSpecialParam reports whether name is one of the positional-parameter
// pseudo-variables, which are always considered set even with zero args.
func isSpecialParam(name string) bool {
	switch name {
	case "@", "*", "#", "?", "$", "0":
		return true
	}
	if len(name) == 1 && name[0] >= '1' && name[0] <= '9' {
		return true
	}
	return false
}

func joinParts(ss []string) []fieldPart {
	out := make([]fieldPart, len(ss))
	for i, s := range ss {
		out[i] = fieldPart{val: s}
	}
	return out
}

func (c *Context) paramExpIndirect(ctx context.Context, pe *syntax.ParamExp, name string, depth int) string {
	if depth > maxNameRefDepth {
		return ""
	}
	target := c.Env.Get(name).String()
	if target == "" {
		return ""
	}
	return c.Env.Get(target).String()
}

func (c *Context) applySlice(ctx context.Context, sl *syntax.Slice, val string) string {
	runes := []rune(val)
	off := 0
	if sl.Offset != nil {
		v, pend, _ := c.EvalArith(ctx, wordToArithm(sl.Offset))
		c.Pending = append(c.Pending, pend...)
		off = int(v)
	}
	if off < 0 {
		off += len(runes)
	}
	if off < 0 {
		off = 0
	}
	if off > len(runes) {
		off = len(runes)
	}
	length := len(runes) - off
	if sl.Length != nil {
		v, pend, _ := c.EvalArith(ctx, wordToArithm(sl.Length))
		c.Pending = append(c.Pending, pend...)
		length = int(v)
		if length < 0 {
			length = len(runes) - off + length
		}
	}
	if length < 0 {
		length = 0
	}
	end := off + length
	if end > len(runes) {
		end = len(runes)
	}
	if off > end {
		return ""
	}
	return string(runes[off:end])
}

// wordToArithm lets a Word be reused as an arithmetic expression operand,
// since slice offsets/lengths are themselves arithmetic expressions spelled
// using ordinary word syntax.
func wordToArithm(w *syntax.Word) syntax.ArithmExpr {
	return &syntax.WordArithm{W: w}
}

func (c *Context) applyReplace(ctx context.Context, r *syntax.Replace, val string) string {
	pat := c.ExpandPattern(ctx, r.Orig)
	if pat == "" {
		return val
	}
	rx, err := pattern.Compile(pat, pattern.Filenames)
	if err != nil {
		return val
	}
	repl := ""
	if r.With != nil {
		repl = c.ExpandLiteral(ctx, r.With)
	}
	if r.All {
		return rx.ReplaceAllString(val, escapeDollar(repl))
	}
	loc := rx.FindStringIndex(val)
	if loc == nil {
		return val
	}
	return val[:loc[0]] + repl + val[loc[1]:]
}

func escapeDollar(s string) string { return strings.ReplaceAll(s, "$", "$$") }

func applyCaseOp(op token.Kind, val string) string {
	switch op {
	case token.DXOR:
		return upperCaser.String(val)
	case token.XOR:
		return upperFirst(val)
	case token.DCOMMA:
		return lowerCaser.String(val)
	case token.COMMA:
		return lowerFirst(val)
	}
	return val
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return upperCaser.String(string(r[0])) + string(r[1:])
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return lowerCaser.String(string(r[0])) + string(r[1:])
}

func (c *Context) applyExpansion(ctx context.Context, pe *syntax.ParamExp, name, val string) string {
	exp := pe.Exp
	isUnset := !c.Env.Get(name).IsSet()
	isNull := val == ""
	switch exp.Op {
	case token.CSUB: // ${v:-word}
		if isUnset || isNull {
			return c.ExpandLiteral(ctx, exp.Word)
		}
		return val
	case token.SUB: // ${v-word}
		if isUnset {
			return c.ExpandLiteral(ctx, exp.Word)
		}
		return val
	case token.CASSIGN: // ${v:=word}
		if isUnset || isNull {
			nv := c.ExpandLiteral(ctx, exp.Word)
			c.Pending = append(c.Pending, PendingAssign{Name: name, Value: Variable{Value: nv}})
			return nv
		}
		return val
	case token.ASSIGN: // ${v=word}
		if isUnset {
			nv := c.ExpandLiteral(ctx, exp.Word)
			c.Pending = append(c.Pending, PendingAssign{Name: name, Value: Variable{Value: nv}})
			return nv
		}
		return val
	case token.CQUEST: // ${v:?word}
		if isUnset || isNull {
			msg := c.ExpandLiteral(ctx, exp.Word)
			if msg == "" {
				msg = "parameter null or not set"
			}
			c.Err = fmt.Errorf("%s: %s", name, msg)
			return ""
		}
		return val
	case token.QUEST: // ${v?word}
		if isUnset {
			msg := c.ExpandLiteral(ctx, exp.Word)
			if msg == "" {
				msg = "parameter not set"
			}
			c.Err = fmt.Errorf("%s: %s", name, msg)
			return ""
		}
		return val
	case token.CADD: // ${v:+word}
		if isUnset || isNull {
			return ""
		}
		return c.ExpandLiteral(ctx, exp.Word)
	case token.ADD: // ${v+word}
		if isUnset {
			return ""
		}
		return c.ExpandLiteral(ctx, exp.Word)
	case token.HASH, token.DHASH: // prefix pattern removal
		pat := c.ExpandPattern(ctx, exp.Word)
		return removePattern(val, pat, exp.Op == token.DHASH, true)
	case token.REM, token.DREM: // suffix pattern removal
		pat := c.ExpandPattern(ctx, exp.Word)
		return removePattern(val, pat, exp.Op == token.DREM, false)
	}
	return val
}

// removePattern implements the ${v#pat} / ${v##pat} / ${v%pat} / ${v%%pat}
// family: strip the shortest (or longest, for the doubled operator) match
// of pat from the front (prefix) or back of val.
func removePattern(val, pat string, longest, prefix bool) string {
	if pat == "" {
		return val
	}
	mode := pattern.Mode(0)
	if !longest {
		mode |= pattern.Shortest
	}
	anchor := "^"
	if !prefix {
		anchor = ""
	}
	expr, err := pattern.Translate(pat, mode)
	if err != nil {
		return val
	}
	if !prefix && !longest {
		// the shortest suffix starts at the rightmost offset that matches
		rx, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return val
		}
		for i := len(val); i >= 0; i-- {
			if rx.MatchString(val[i:]) {
				return val[:i]
			}
		}
		return val
	}
	var full string
	if prefix {
		full = anchor + expr
	} else {
		full = expr + "$"
	}
	rx, err := regexp.Compile(full)
	if err != nil {
		return val
	}
	loc := rx.FindStringIndex(val)
	if loc == nil {
		return val
	}
	if prefix {
		return val[loc[1]:]
	}
	return val[:loc[0]]
}
