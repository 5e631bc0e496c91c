package interp

import (
	"context"
	"regexp"
	"strconv"

	"hbash.dev/bashbox/pattern"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/token"
	"hbash.dev/bashbox/vfs"
)

// evalTest evaluates a [[ ... ]] expression tree to a boolean, expanding
// word operands lazily (short-circuiting && and ||).
func (r *Runner) evalTest(ctx context.Context, sb Sandbox, x syntax.TestExpr) (bool, Sandbox, error) {
	switch t := x.(type) {
	case *syntax.WordTest:
		s, sb2, err := r.literal(ctx, sb, t.W)
		return s != "", sb2, err
	case *syntax.ParenTest:
		return r.evalTest(ctx, sb, t.X)
	case *syntax.UnaryTest:
		return r.evalUnaryTest(ctx, sb, t)
	case *syntax.BinaryTest:
		return r.evalBinaryTest(ctx, sb, t)
	}
	return false, sb, nil
}

func (r *Runner) evalUnaryTest(ctx context.Context, sb Sandbox, t *syntax.UnaryTest) (bool, Sandbox, error) {
	if t.Op == token.NOT {
		v, sb2, err := r.evalTest(ctx, sb, t.X)
		return !v, sb2, err
	}
	wt, ok := t.X.(*syntax.WordTest)
	if !ok {
		return false, sb, nil
	}
	s, sb2, err := r.literal(ctx, sb, wt.W)
	sb = sb2
	if err != nil {
		return false, sb, err
	}
	switch t.Op {
	case token.TEMPSTR:
		return s == "", sb, nil
	case token.TNEMPSTR:
		return s != "", sb, nil
	case token.TVARSET:
		return sb.Env.Get(s).IsSet(), sb, nil
	}
	path := resolvePath(sb.Cwd, s)
	if t.Op == token.TSYMLINK {
		entry, ok := sb.FS.Lookup(path)
		return ok && entry.Kind == vfs.Symlink, sb, nil
	}
	entry, _, statErr := sb.FS.Stat(path)
	switch t.Op {
	case token.TEXISTS:
		return statErr == nil, sb, nil
	case token.TREGFILE:
		return statErr == nil && entry.Kind == vfs.File, sb, nil
	case token.TDIRECT:
		return statErr == nil && entry.Kind == vfs.Dir, sb, nil
	case token.TNOEMPTY:
		if statErr != nil || entry.Kind != vfs.File {
			return false, sb, nil
		}
		data, _ := sb.FS.ReadFile(path, sb.lookup())
		return len(data) > 0, sb, nil
	case token.TREAD, token.TWRITE, token.TEXEC:
		return statErr == nil, sb, nil
	}
	return false, sb, nil
}

func (r *Runner) evalBinaryTest(ctx context.Context, sb Sandbox, t *syntax.BinaryTest) (bool, Sandbox, error) {
	if t.Op == token.LAND {
		v, sb2, err := r.evalTest(ctx, sb, t.X)
		sb = sb2
		if err != nil || !v {
			return false, sb, err
		}
		return r.evalTest(ctx, sb, t.Y)
	}
	if t.Op == token.OR || t.Op == token.LOR {
		v, sb2, err := r.evalTest(ctx, sb, t.X)
		sb = sb2
		if err != nil || v {
			return true, sb, err
		}
		return r.evalTest(ctx, sb, t.Y)
	}
	xw, xok := t.X.(*syntax.WordTest)
	yw, yok := t.Y.(*syntax.WordTest)
	if !xok || !yok {
		return false, sb, nil
	}
	lhs, sb2, err := r.literal(ctx, sb, xw.W)
	sb = sb2
	if err != nil {
		return false, sb, err
	}
	switch t.Op {
	case token.EQL, token.TREMATCH:
		rhsPat, sb3, err := r.pattern(ctx, sb, yw.W)
		sb = sb3
		if err != nil {
			return false, sb, err
		}
		if t.Op == token.TREMATCH {
			return regexMatch(rhsPat, lhs), sb, nil
		}
		return globMatch(rhsPat, lhs), sb, nil
	case token.NEQ:
		rhsPat, sb3, err := r.pattern(ctx, sb, yw.W)
		sb = sb3
		if err != nil {
			return false, sb, err
		}
		return !globMatch(rhsPat, lhs), sb, nil
	}
	rhs, sb3, err := r.literal(ctx, sb, yw.W)
	sb = sb3
	if err != nil {
		return false, sb, err
	}
	switch t.Op {
	case token.LSS:
		return lhs < rhs, sb, nil
	case token.GTR:
		return lhs > rhs, sb, nil
	case token.TEQL, token.TNEQ, token.TLEQ, token.TGEQ, token.TLSS, token.TGTR:
		ln, _ := strconv.ParseInt(lhs, 0, 64)
		rn, _ := strconv.ParseInt(rhs, 0, 64)
		switch t.Op {
		case token.TEQL:
			return ln == rn, sb, nil
		case token.TNEQ:
			return ln != rn, sb, nil
		case token.TLEQ:
			return ln <= rn, sb, nil
		case token.TGEQ:
			return ln >= rn, sb, nil
		case token.TLSS:
			return ln < rn, sb, nil
		case token.TGTR:
			return ln > rn, sb, nil
		}
	}
	return false, sb, nil
}

func globMatch(pat, s string) bool {
	rx, err := pattern.Compile(pat, pattern.EntireString)
	if err != nil {
		return pat == s
	}
	return rx.MatchString(s)
}

// regexMatch implements the "[[ s =~ re ]]" operator using Go's RE2 engine
// as an extended-regex approximation; bash's own =~ defers to the C library
// ERE implementation, which RE2 covers for all but backreferences.
func regexMatch(pat, s string) bool {
	rx, err := regexp.Compile(pat)
	if err != nil {
		return false
	}
	return rx.MatchString(s)
}
