package expand

import (
	"context"
	"strconv"
	"strings"

	"hbash.dev/bashbox/pattern"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/vfs"
)

// Globber is the read-only filesystem surface expansion needs for pathname
// expansion; bashbox.Sandbox's vfs.FS snapshot satisfies it directly.
type Globber interface {
	Glob(cwd, pat string) ([]string, error)
}

// Context carries everything a single expansion pass needs: the variable
// snapshot to read from, the filesystem to glob against, and the hook used
// to run command substitutions. A Context is cheap to construct per
// expansion call and never mutates the Env it was given; instead it
// accumulates Pending assignments the caller applies afterward.
type Context struct {
	Env Environ
	FS  Globber
	Cwd string

	NoGlob   bool
	GlobStar bool

	// Nounset mirrors "set -u": referencing an unset scalar parameter with
	// no ${v:-default}-style fallback operator becomes a fatal error
	// instead of expanding to the empty string.
	Nounset bool

	// Subshell runs a command list in an isolated sandbox copy and
	// returns its captured standard output, trimmed of trailing
	// newlines by the caller. It is supplied by the interp package,
	// which owns sandbox execution.
	Subshell func(ctx context.Context, stmts []*syntax.Stmt) string

	Pending []PendingAssign

	// Err is set by a "${v:?msg}"/"${v?msg}" expansion on an unset or
	// null parameter; callers should check it after every expansion
	// entry point and treat a non-nil value as a fatal shell error.
	Err error

	ifs string
}

func (c *Context) prepareIFS() {
	vr := c.Env.Get("IFS")
	if !vr.IsSet() {
		c.ifs = " \t\n"
	} else {
		c.ifs = vr.String()
	}
}

func (c *Context) ifsRune(r rune) bool {
	for _, r2 := range c.ifs {
		if r == r2 {
			return true
		}
	}
	return false
}

type quoteLevel uint

const (
	quoteNone quoteLevel = iota
	quoteDouble
	quoteSingle
)

type fieldPart struct {
	val   string
	quote quoteLevel
}

// ExpandLiteral expands a word to a single string with no field splitting
// or globbing, as used for assignment values, case patterns' scrutinee,
// and [[ ]] operands.
func (c *Context) ExpandLiteral(ctx context.Context, w *syntax.Word) string {
	if w == nil {
		return ""
	}
	return c.fieldJoin(c.wordField(ctx, w.Parts, quoteDouble))
}

// ExpandPattern expands a word for use as a glob/case pattern: expansions
// are performed but any literal pattern metacharacters they produce are
// escaped, so only metacharacters written directly in the source act as
// wildcards.
func (c *Context) ExpandPattern(ctx context.Context, w *syntax.Word) string {
	if w == nil {
		return ""
	}
	field := c.wordField(ctx, w.Parts, quoteSingle)
	var sb strings.Builder
	for _, part := range field {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
		} else {
			sb.WriteString(part.val)
		}
	}
	return sb.String()
}

func (c *Context) fieldJoin(parts []fieldPart) string {
	if len(parts) == 1 {
		return parts[0].val
	}
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.val)
	}
	return sb.String()
}

func (c *Context) escapedGlobField(parts []fieldPart) (escaped string, glob bool) {
	var sb strings.Builder
	for _, part := range parts {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
			continue
		}
		sb.WriteString(part.val)
		if pattern.HasMeta(part.val) {
			glob = true
		}
	}
	if glob {
		escaped = sb.String()
	}
	return escaped, glob
}

// ExpandFields performs the full field-expansion pipeline bash applies to
// a command's arguments: brace expansion, then per-word expansion and IFS
// splitting, then pathname expansion (globbing) of the result.
func (c *Context) ExpandFields(ctx context.Context, words ...*syntax.Word) []string {
	c.prepareIFS()
	var fields []string
	for _, expWord := range Braces(words...) {
		for _, field := range c.wordFields(ctx, expWord.Parts) {
			path, doGlob := c.escapedGlobField(field)
			if doGlob && !c.NoGlob && c.FS != nil {
				matches, err := c.FS.Glob(c.Cwd, path)
				if err == nil && len(matches) > 0 {
					fields = append(fields, matches...)
					continue
				}
			}
			fields = append(fields, c.fieldJoin(field))
		}
	}
	return fields
}

func (c *Context) wordField(ctx context.Context, wps []syntax.WordPart, ql quoteLevel) []fieldPart {
	var field []fieldPart
	for _, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			s := unescapeBackslashes(x.Value, ql == quoteDouble)
			field = append(field, fieldPart{val: s})
		case *syntax.SglQuoted:
			field = append(field, fieldPart{quote: quoteSingle, val: x.Value})
		case *syntax.DblQuoted:
			for _, part := range c.wordField(ctx, x.Parts, quoteDouble) {
				part.quote = quoteDouble
				field = append(field, part)
			}
		case *syntax.ParamExp:
			field = append(field, fieldPart{val: c.paramExp(ctx, x)})
		case *syntax.CmdSubst:
			field = append(field, fieldPart{val: c.cmdSubst(ctx, x)})
		case *syntax.ArithmExp:
			v, pend, _ := c.EvalArith(ctx, x.X)
			c.Pending = append(c.Pending, pend...)
			field = append(field, fieldPart{val: strconv.FormatInt(v, 10)})
		}
	}
	return field
}

func unescapeBackslashes(s string, inDouble bool) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == '\\' && i+1 < len(s) {
			nb := s[i+1]
			if inDouble {
				switch nb {
				case '"', '\\', '$', '`':
					sb.WriteByte(nb)
					i++
					continue
				}
				sb.WriteByte(b)
				continue
			}
			sb.WriteByte(nb)
			i++
			continue
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func (c *Context) cmdSubst(ctx context.Context, cs *syntax.CmdSubst) string {
	if c.Subshell == nil {
		return ""
	}
	out := c.Subshell(ctx, cs.Stmts)
	return strings.TrimRight(out, "\n")
}

func (c *Context) wordFields(ctx context.Context, wps []syntax.WordPart) [][]fieldPart {
	var fields [][]fieldPart
	var curField []fieldPart
	allowEmpty := false
	flush := func() {
		if len(curField) == 0 {
			return
		}
		fields = append(fields, curField)
		curField = nil
	}
	splitAdd := func(val string) {
		parts := splitOnIFS(val, c.ifsRune)
		for i, f := range parts {
			if i > 0 {
				flush()
			}
			if f != "" {
				curField = append(curField, fieldPart{val: f})
			}
		}
	}
	for _, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			s := unescapeBackslashes(x.Value, false)
			curField = append(curField, fieldPart{val: s})
		case *syntax.SglQuoted:
			allowEmpty = true
			curField = append(curField, fieldPart{quote: quoteSingle, val: x.Value})
		case *syntax.DblQuoted:
			allowEmpty = true
			if elems := c.quotedElems(x); elems != nil {
				for i, el := range elems {
					if i > 0 {
						flush()
					}
					curField = append(curField, fieldPart{quote: quoteDouble, val: el})
				}
				continue
			}
			for _, part := range c.wordField(ctx, x.Parts, quoteDouble) {
				part.quote = quoteDouble
				curField = append(curField, part)
			}
		case *syntax.ParamExp:
			splitAdd(c.paramExp(ctx, x))
		case *syntax.CmdSubst:
			splitAdd(c.cmdSubst(ctx, x))
		case *syntax.ArithmExp:
			v, pend, _ := c.EvalArith(ctx, x.X)
			c.Pending = append(c.Pending, pend...)
			curField = append(curField, fieldPart{val: strconv.FormatInt(v, 10)})
		}
	}
	flush()
	if allowEmpty && len(fields) == 0 {
		fields = append(fields, curField)
	}
	return fields
}

// quotedElems checks whether a double-quoted word is exactly "${@}" or
// "${arr[@]}", which must expand to one field per array element rather
// than being IFS-joined.
func (c *Context) quotedElems(dq *syntax.DblQuoted) []string {
	if len(dq.Parts) != 1 {
		return nil
	}
	pe, ok := dq.Parts[0].(*syntax.ParamExp)
	if !ok || pe.Excl || pe.Length {
		return nil
	}
	if pe.Param.Value == "@" {
		return c.Env.Get("@").IndexArray()
	}
	if pe.Index != nil {
		if idx, ok := pe.Index.Lit(); ok && idx == "@" {
			return c.Env.Get(pe.Param.Value).IndexArray()
		}
	}
	return nil
}

func splitOnIFS(s string, isSep func(rune) bool) []string {
	var out []string
	var cur strings.Builder
	has := false
	for _, r := range s {
		if isSep(r) {
			if has {
				out = append(out, cur.String())
				cur.Reset()
				has = false
			}
			continue
		}
		cur.WriteRune(r)
		has = true
	}
	if has {
		out = append(out, cur.String())
	}
	return out
}

type vfsGlobber struct{ fs vfs.FS }

func (g vfsGlobber) Glob(cwd, pat string) ([]string, error) { return g.fs.Glob(cwd, pat) }

// NewVFSGlobber adapts a vfs.FS value to the Globber interface.
func NewVFSGlobber(fs vfs.FS) Globber { return vfsGlobber{fs: fs} }
