package expand

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/token"
)

// ArithError reports a malformed arithmetic expression, e.g. a division by
// a literal that parses but an operator bashbox does not support.
type ArithError struct{ Msg string }

func (e *ArithError) Error() string { return e.Msg }

// EvalArith evaluates an arithmetic expression against env, returning its
// integer value and any variable writes the expression performed (from
// assignment operators or ++/--). It never mutates env itself; the caller
// folds pending back into the sandbox.
func (c *Context) EvalArith(ctx context.Context, x syntax.ArithmExpr) (int64, []PendingAssign, error) {
	ev := &arithEval{ctx: ctx, c: c}
	v := ev.eval(x)
	if ev.err != nil {
		return 0, nil, ev.err
	}
	return v, ev.pending, nil
}

type arithEval struct {
	ctx     context.Context
	c       *Context
	pending []PendingAssign
	err     error
}

func (e *arithEval) fail(format string, args ...interface{}) int64 {
	if e.err == nil {
		e.err = &ArithError{Msg: fmt.Sprintf(format, args...)}
	}
	return 0
}

func (e *arithEval) lookup(name string) int64 {
	for _, pa := range e.pending {
		if pa.Name == name {
			n, _ := parseIntLiteral(strings.TrimSpace(pa.Value.String()))
			return n
		}
	}
	vr := e.c.Env.Get(name)
	s := strings.TrimSpace(vr.String())
	if s == "" {
		return 0
	}
	n, ok := parseIntLiteral(s)
	if !ok {
		// bash treats an unset/non-numeric bare word as the name of
		// another variable, one level of indirection, falling back to 0.
		inner := e.c.Env.Get(s)
		if inner.IsSet() {
			n2, _ := parseIntLiteral(strings.TrimSpace(inner.String()))
			return n2
		}
		return 0
	}
	return n
}

// parseIntLiteral parses a bash arithmetic integer literal. Besides the
// decimal/0x/0-prefixed-octal forms strconv.ParseInt(s, 0, 64) understands,
// it accepts the base#digits form (base 2-64, digits 0-9a-zA-Z@_), e.g.
// 16#FF == 255. For bases up to 36, upper- and lower-case letters are the
// same digit, as in bash.
func parseIntLiteral(s string) (int64, bool) {
	if i := strings.IndexByte(s, '#'); i > 0 && isAllDigits(s[:i]) {
		base, err := strconv.Atoi(s[:i])
		if err == nil && base >= 2 && base <= 64 {
			digits := s[i+1:]
			if digits == "" {
				return 0, false
			}
			var n int64
			for j := 0; j < len(digits); j++ {
				c := digits[j]
				if base <= 36 && c >= 'A' && c <= 'Z' {
					c += 'a' - 'A'
				}
				d, ok := baseDigitValue(c)
				if !ok || d >= base {
					return 0, false
				}
				n = n*int64(base) + int64(d)
			}
			return n, true
		}
	}
	n, err := strconv.ParseInt(s, 0, 64)
	return n, err == nil
}

// baseDigitValue maps a base#digits digit character to its numeric value,
// using bash's alphabet: 0-9, then a-z (10-35), then A-Z (36-61), then @
// (62) and _ (63).
func baseDigitValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 36, true
	case c == '@':
		return 62, true
	case c == '_':
		return 63, true
	}
	return 0, false
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (e *arithEval) assign(name string, v int64) int64 {
	e.pending = append(e.pending, PendingAssign{Name: name, Value: Variable{Value: strconv.FormatInt(v, 10)}})
	return v
}

func (e *arithEval) eval(x syntax.ArithmExpr) int64 {
	if e.err != nil || x == nil {
		return 0
	}
	switch n := x.(type) {
	case *syntax.WordArithm:
		return e.evalWord(n.W)
	case *syntax.ParenArithm:
		return e.eval(n.X)
	case *syntax.UnaryArithm:
		return e.evalUnary(n)
	case *syntax.BinaryArithm:
		return e.evalBinary(n)
	default:
		return e.fail("unsupported arithmetic node %T", x)
	}
}

func (e *arithEval) evalWord(w *syntax.Word) int64 {
	if w == nil {
		return 0
	}
	if lit, ok := w.Lit(); ok {
		if lit == "" {
			return 0
		}
		if n, ok := parseIntLiteral(lit); ok {
			return n
		}
		return e.lookup(lit)
	}
	// a parameter/command/arithmetic expansion used as an arithmetic
	// operand; expand it to a string first, then parse or look it up.
	s := e.c.ExpandLiteral(e.ctx, w)
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, ok := parseIntLiteral(s); ok {
		return n
	}
	return e.lookup(s)
}

// lvalueName extracts the bare variable name an arithmetic operand refers
// to, for assignment and increment/decrement targets.
func (e *arithEval) lvalueName(x syntax.ArithmExpr) (string, bool) {
	w, ok := x.(*syntax.WordArithm)
	if !ok {
		return "", false
	}
	lit, ok := w.W.Lit()
	return lit, ok
}

func (e *arithEval) evalUnary(n *syntax.UnaryArithm) int64 {
	switch n.Op {
	case token.INC, token.DEC:
		name, ok := e.lvalueName(n.X)
		old := e.eval(n.X)
		var nv int64
		if n.Op == token.INC {
			nv = old + 1
		} else {
			nv = old - 1
		}
		if ok {
			e.assign(name, nv)
		}
		if n.Post {
			return old
		}
		return nv
	case token.NOT:
		if e.eval(n.X) == 0 {
			return 1
		}
		return 0
	case token.XOR:
		return ^e.eval(n.X)
	case token.SUB:
		return -e.eval(n.X)
	case token.ADD:
		return e.eval(n.X)
	default:
		return e.fail("unsupported unary arithmetic operator %s", n.Op)
	}
}

func (e *arithEval) evalBinary(n *syntax.BinaryArithm) int64 {
	switch n.Op {
	case token.COMMA:
		e.eval(n.X)
		return e.eval(n.Y)
	case token.QUEST:
		cond := e.eval(n.X)
		branch := n.Y.(*syntax.BinaryArithm)
		if cond != 0 {
			return e.eval(branch.X)
		}
		return e.eval(branch.Y)
	case token.ASSIGN, token.ADDASSGN, token.SUBASSGN, token.MULASSGN, token.QUOASSGN,
		token.REMASSGN, token.ANDASSGN, token.ORASSGN, token.XORASSGN, token.SHLASSGN, token.SHRASSGN:
		name, ok := e.lvalueName(n.X)
		if !ok {
			return e.fail("assignment to non-variable")
		}
		rhs := e.eval(n.Y)
		var nv int64
		switch n.Op {
		case token.ASSIGN:
			nv = rhs
		case token.ADDASSGN:
			nv = e.lookup(name) + rhs
		case token.SUBASSGN:
			nv = e.lookup(name) - rhs
		case token.MULASSGN:
			nv = e.lookup(name) * rhs
		case token.QUOASSGN:
			nv = intDiv(e.lookup(name), rhs)
		case token.REMASSGN:
			nv = intMod(e.lookup(name), rhs)
		case token.ANDASSGN:
			nv = e.lookup(name) & rhs
		case token.ORASSGN:
			nv = e.lookup(name) | rhs
		case token.XORASSGN:
			nv = e.lookup(name) ^ rhs
		case token.SHLASSGN:
			nv = e.lookup(name) << uint64(rhs)
		case token.SHRASSGN:
			nv = e.lookup(name) >> uint64(rhs)
		}
		return e.assign(name, nv)
	case token.LAND:
		if e.eval(n.X) == 0 {
			return 0
		}
		if e.eval(n.Y) == 0 {
			return 0
		}
		return 1
	case token.LOR:
		if e.eval(n.X) != 0 {
			return 1
		}
		if e.eval(n.Y) != 0 {
			return 1
		}
		return 0
	}
	x, y := e.eval(n.X), e.eval(n.Y)
	switch n.Op {
	case token.ADD:
		return x + y
	case token.SUB:
		return x - y
	case token.MUL:
		return x * y
	case token.QUO:
		return intDiv(x, y)
	case token.REM:
		return intMod(x, y)
	case token.POW:
		return intPow(x, y)
	case token.AND:
		return x & y
	case token.OR:
		return x | y
	case token.XOR:
		return x ^ y
	case token.SHL:
		return x << uint64(y)
	case token.SHR:
		return x >> uint64(y)
	case token.EQL:
		return boolInt(x == y)
	case token.NEQ:
		return boolInt(x != y)
	case token.LSS:
		return boolInt(x < y)
	case token.GTR:
		return boolInt(x > y)
	case token.LEQ:
		return boolInt(x <= y)
	case token.GEQ:
		return boolInt(x >= y)
	default:
		return e.fail("unsupported binary arithmetic operator %s", n.Op)
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// intDiv and intMod implement bash's locked division-by-zero behavior:
// rather than raising a runtime fault, "x / 0" and "x % 0" evaluate to 0.
func intDiv(x, y int64) int64 {
	if y == 0 {
		return 0
	}
	return x / y
}

func intMod(x, y int64) int64 {
	if y == 0 {
		return 0
	}
	return x % y
}

// intPow implements "**", treating a negative exponent as yielding 0 to
// match bash's own integer-only arithmetic.
func intPow(x, y int64) int64 {
	if y < 0 {
		return 0
	}
	var r int64 = 1
	for ; y > 0; y-- {
		r *= x
	}
	return r
}
