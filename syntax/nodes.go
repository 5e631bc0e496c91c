// Package syntax implements the bashbox grammar: an AST definition, a
// quote-state lexer, and a recursive-descent parser that turns a script
// string into a *File ready for the interp package to execute.
package syntax

import "hbash.dev/bashbox/token"

// Pos is a byte offset into the original source, used for error reporting.
type Pos int

// Node is implemented by all AST types.
type Node interface {
	Pos() Pos
	End() Pos
}

// File is the root of a parsed script.
type File struct {
	Name  string
	Stmts []*Stmt
}

func (f *File) Pos() Pos {
	if len(f.Stmts) == 0 {
		return 0
	}
	return f.Stmts[0].Pos()
}
func (f *File) End() Pos {
	if len(f.Stmts) == 0 {
		return 0
	}
	return f.Stmts[len(f.Stmts)-1].End()
}

// Stmt is a single top-level or nested statement: a command plus any
// redirections, background marker, and negation.
type Stmt struct {
	Position   Pos
	Comments   []Comment
	Cmd        Command
	Negated    bool
	Background bool
	Redirs     []*Redirect
}

func (s *Stmt) Pos() Pos { return s.Position }
func (s *Stmt) End() Pos {
	if n := len(s.Redirs); n > 0 {
		return s.Redirs[n-1].End()
	}
	if s.Cmd != nil {
		return s.Cmd.End()
	}
	return s.Position
}

// Comment is a "#"-prefixed line comment.
type Comment struct {
	Hash Pos
	Text string
}

// Command is implemented by every concrete command node: CallExpr,
// IfClause, WhileClause, ForClause, CaseClause, Block, Subshell, BinaryCmd,
// FuncDecl, TestClause, ArithmCmd, DeclClause.
type Command interface {
	Node
	commandNode()
}

// Redirect represents a single redirection operator plus its target word
// or, for heredocs, its body word.
type Redirect struct {
	OpPos Pos
	Op    token.Kind
	N     *Word // optional explicit file descriptor, e.g. 2>
	Word  *Word
	Hdoc  *Word // heredoc body, set when Op is DHEREDOC or SHL
}

func (r *Redirect) Pos() Pos { return r.OpPos }
func (r *Redirect) End() Pos {
	if r.Word != nil {
		return r.Word.End()
	}
	return r.OpPos
}

// Word is a sequence of WordParts, concatenated after expansion.
type Word struct {
	Parts []WordPart
}

func (w *Word) Pos() Pos {
	if len(w.Parts) == 0 {
		return 0
	}
	return w.Parts[0].Pos()
}
func (w *Word) End() Pos {
	if len(w.Parts) == 0 {
		return 0
	}
	return w.Parts[len(w.Parts)-1].End()
}

// Lit returns the literal value of a Word made up of a single Lit part,
// and ok=false otherwise. Used by the parser for keywords and assignment
// names, which must not contain any expansions.
func (w *Word) Lit() (string, bool) {
	if len(w.Parts) != 1 {
		return "", false
	}
	l, ok := w.Parts[0].(*Lit)
	if !ok {
		return "", false
	}
	return l.Value, true
}

// WordPart is implemented by Lit, SglQuoted, DblQuoted, ParamExp, CmdSubst,
// ArithmExp.
type WordPart interface {
	Node
	wordPartNode()
}

// Lit is an unquoted literal chunk of a word.
type Lit struct {
	ValuePos Pos
	ValueEnd Pos
	Value    string
}

func (l *Lit) Pos() Pos     { return l.ValuePos }
func (l *Lit) End() Pos     { return l.ValueEnd }
func (*Lit) wordPartNode()  {}

// SglQuoted is a single-quoted string, '...' or the bash-only $'...'.
type SglQuoted struct {
	Left, Right Pos
	Dollar      bool
	Value       string
}

func (q *SglQuoted) Pos() Pos    { return q.Left }
func (q *SglQuoted) End() Pos    { return q.Right + 1 }
func (*SglQuoted) wordPartNode() {}

// DblQuoted is a double-quoted string, "...", whose parts still expand.
type DblQuoted struct {
	Left, Right Pos
	Dollar      bool // $"..." translated string; treated like "..."
	Parts       []WordPart
}

func (q *DblQuoted) Pos() Pos    { return q.Left }
func (q *DblQuoted) End() Pos    { return q.Right + 1 }
func (*DblQuoted) wordPartNode() {}

// CmdSubst is a command substitution, $(...) or `...`.
type CmdSubst struct {
	Left, Right Pos
	Stmts       []*Stmt
	Backquotes  bool
}

func (c *CmdSubst) Pos() Pos    { return c.Left }
func (c *CmdSubst) End() Pos    { return c.Right + 1 }
func (*CmdSubst) wordPartNode() {}

// ParamExp is a parameter expansion: $foo, ${foo}, or one of the longer
// ${...} operator forms.
type ParamExp struct {
	Dollar, Rbrace Pos
	Short          bool // true for the $foo (no braces) form
	Excl           bool // ${!foo} indirection, or ${!foo[@]} key listing
	Length         bool // ${#foo}
	Param          *Lit
	Index          *Word // ${foo[idx]}, idx may be "@" or "*"
	Slice          *Slice
	Repl           *Replace
	Exp            *Expansion
	CaseOp         token.Kind // DXOR/XOR/DCOMMA/COMMA for ${v^^} family, 0 otherwise
}

func (p *ParamExp) Pos() Pos    { return p.Dollar }
func (p *ParamExp) End() Pos    { return p.Rbrace + 1 }
func (*ParamExp) wordPartNode() {}

// Slice is the ${v:off:len} substring operation.
type Slice struct {
	Offset, Length *Word
}

// Replace is the ${v/pattern/repl} and ${v//pattern/repl} operation.
type Replace struct {
	All        bool
	Orig, With *Word
}

// Expansion is the ${v:-w}/${v:=w}/${v:?w}/${v:+w}/${v#w}/${v##w}/${v%w}/
// ${v%%w} family, as well as plain ${v}.
type Expansion struct {
	Op   token.Kind
	Word *Word
}

// ArithmExp is $((expr)) or the deprecated $[expr] form.
type ArithmExp struct {
	Left, Right Pos
	Bracket     bool
	X           ArithmExpr
}

func (a *ArithmExp) Pos() Pos    { return a.Left }
func (a *ArithmExp) End() Pos    { return a.Right + 1 }
func (*ArithmExp) wordPartNode() {}

// ArithmExpr is implemented by every arithmetic AST node used both by
// $((...)) and (( ... )) and inside the "for ((;;))" clause.
type ArithmExpr interface {
	Node
	arithmExprNode()
}

// WordArithm wraps a Word operand (number literal or variable name) as an
// arithmetic leaf.
type WordArithm struct {
	W *Word
}

func (w *WordArithm) Pos() Pos      { return w.W.Pos() }
func (w *WordArithm) End() Pos      { return w.W.End() }
func (*WordArithm) arithmExprNode() {}

// BinaryArithm is a binary arithmetic operation, including assignment
// operators and the ternary "?:" (represented with Op==token.QUEST and Y
// holding a *BinaryArithm with Op==token.COLON).
type BinaryArithm struct {
	OpPos Pos
	Op    token.Kind
	X, Y  ArithmExpr
}

func (b *BinaryArithm) Pos() Pos      { return b.X.Pos() }
func (b *BinaryArithm) End() Pos      { return b.Y.End() }
func (*BinaryArithm) arithmExprNode() {}

// UnaryArithm is a unary arithmetic operation: !, ~, -, +, or pre/post ++/--.
type UnaryArithm struct {
	OpPos Pos
	Op    token.Kind
	Post  bool
	X     ArithmExpr
}

func (u *UnaryArithm) Pos() Pos {
	if u.Post {
		return u.X.Pos()
	}
	return u.OpPos
}
func (u *UnaryArithm) End() Pos {
	if u.Post {
		return u.OpPos + 1
	}
	return u.X.End()
}
func (*UnaryArithm) arithmExprNode() {}

// ParenArithm is a parenthesized arithmetic sub-expression.
type ParenArithm struct {
	Lparen, Rparen Pos
	X              ArithmExpr
}

func (p *ParenArithm) Pos() Pos      { return p.Lparen }
func (p *ParenArithm) End() Pos      { return p.Rparen + 1 }
func (*ParenArithm) arithmExprNode() {}

// CallExpr is a simple command: optional assignments followed by a command
// name and arguments.
type CallExpr struct {
	Assigns []*Assign
	Args    []*Word
}

func (c *CallExpr) Pos() Pos {
	if len(c.Assigns) > 0 {
		return c.Assigns[0].Pos()
	}
	if len(c.Args) > 0 {
		return c.Args[0].Pos()
	}
	return 0
}
func (c *CallExpr) End() Pos {
	if len(c.Args) > 0 {
		return c.Args[len(c.Args)-1].End()
	}
	if len(c.Assigns) > 0 {
		return c.Assigns[len(c.Assigns)-1].End()
	}
	return 0
}
func (*CallExpr) commandNode() {}

// Assign is a name=value or name+=value assignment, optionally with an
// array subscript (name[idx]=value) or whole-array literal
// (name=(a b c) / name=([k]=v ...)).
type Assign struct {
	Append bool
	Naked  bool // true for "declare -x foo" with no "=value"
	Name   *Lit
	Index  *Word
	Value  *Word
	Array  []*ArrayElem
}

func (a *Assign) Pos() Pos { return a.Name.Pos() }
func (a *Assign) End() Pos {
	if a.Value != nil {
		return a.Value.End()
	}
	if n := len(a.Array); n > 0 {
		return a.Array[n-1].End()
	}
	return a.Name.End()
}

// ArrayElem is one element of a name=(...) array literal, with an optional
// [key]= subscript for associative arrays.
type ArrayElem struct {
	Index *Word
	Value *Word
}

func (e *ArrayElem) Pos() Pos { return e.Value.Pos() }
func (e *ArrayElem) End() Pos { return e.Value.End() }

// Block is a brace group: { list; }.
type Block struct {
	Lbrace, Rbrace Pos
	Stmts          []*Stmt
}

func (b *Block) Pos() Pos    { return b.Lbrace }
func (b *Block) End() Pos    { return b.Rbrace + 1 }
func (*Block) commandNode()  {}

// Subshell is a parenthesized list run in an isolated sandbox copy:
// ( list ).
type Subshell struct {
	Lparen, Rparen Pos
	Stmts          []*Stmt
}

func (s *Subshell) Pos() Pos   { return s.Lparen }
func (s *Subshell) End() Pos   { return s.Rparen + 1 }
func (*Subshell) commandNode() {}

// BinaryCmd is a pipeline stage (|, |&) or short-circuit combinator
// (&&, ||).
type BinaryCmd struct {
	OpPos Pos
	Op    token.Kind
	X, Y  *Stmt
}

func (b *BinaryCmd) Pos() Pos    { return b.X.Pos() }
func (b *BinaryCmd) End() Pos    { return b.Y.End() }
func (*BinaryCmd) commandNode() {}

// IfClause is an if/elif/else/fi conditional. Else holds the elif chain
// (itself an *IfClause) or nil; ElseStmts holds a terminal plain else body.
type IfClause struct {
	Position  Pos
	Cond      []*Stmt
	Then      []*Stmt
	Else      *IfClause
	ElseStmts []*Stmt
	Last      Pos
}

func (c *IfClause) Pos() Pos    { return c.Position }
func (c *IfClause) End() Pos    { return c.Last }
func (*IfClause) commandNode() {}

// WhileClause is a while/until loop.
type WhileClause struct {
	Position Pos
	Until    bool
	Cond     []*Stmt
	Do       []*Stmt
	Last     Pos
}

func (w *WhileClause) Pos() Pos    { return w.Position }
func (w *WhileClause) End() Pos    { return w.Last }
func (*WhileClause) commandNode() {}

// ForClause is a for-in loop or a C-style for ((;;)) loop.
type ForClause struct {
	Position Pos
	Loop     Loop
	Do       []*Stmt
	Last     Pos
}

func (f *ForClause) Pos() Pos    { return f.Position }
func (f *ForClause) End() Pos    { return f.Last }
func (*ForClause) commandNode() {}

// Loop is implemented by WordIter (for x in a b c) and CStyleLoop
// (for ((init;cond;post))).
type Loop interface {
	Node
	loopNode()
}

// WordIter is the classic for x in word...; do list; done form.
type WordIter struct {
	Name  *Lit
	Items []*Word
}

func (w *WordIter) Pos() Pos { return w.Name.Pos() }
func (w *WordIter) End() Pos {
	if n := len(w.Items); n > 0 {
		return w.Items[n-1].End()
	}
	return w.Name.End()
}
func (*WordIter) loopNode() {}

// CStyleLoop is the arithmetic for ((init; cond; post)) form.
type CStyleLoop struct {
	Lparen, Rparen   Pos
	Init, Cond, Post ArithmExpr
}

func (c *CStyleLoop) Pos() Pos { return c.Lparen }
func (c *CStyleLoop) End() Pos { return c.Rparen + 1 }
func (*CStyleLoop) loopNode() {}

// CaseClause is a case/esac multi-way match.
type CaseClause struct {
	Position Pos
	Word     *Word
	Items    []*CaseItem
	Last     Pos
}

func (c *CaseClause) Pos() Pos    { return c.Position }
func (c *CaseClause) End() Pos    { return c.Last }
func (*CaseClause) commandNode() {}

// CaseItem is one pattern)...;; arm of a case statement.
type CaseItem struct {
	Patterns []*Word
	Stmts    []*Stmt
	Op       token.Kind // DSEMICOLON for ";;", SEMICOLON for a ";&" fallthrough
}

func (c *CaseItem) Pos() Pos { return c.Patterns[0].Pos() }
func (c *CaseItem) End() Pos {
	if n := len(c.Stmts); n > 0 {
		return c.Stmts[n-1].End()
	}
	return c.Patterns[len(c.Patterns)-1].End()
}

// FuncDecl is a function definition, name() body or function name body.
type FuncDecl struct {
	Position Pos
	Name     *Lit
	Body     *Stmt
}

func (f *FuncDecl) Pos() Pos    { return f.Position }
func (f *FuncDecl) End() Pos    { return f.Body.End() }
func (*FuncDecl) commandNode() {}

// ArithmCmd is a (( expr )) arithmetic command.
type ArithmCmd struct {
	Left, Right Pos
	X           ArithmExpr
}

func (a *ArithmCmd) Pos() Pos    { return a.Left }
func (a *ArithmCmd) End() Pos    { return a.Right + 1 }
func (*ArithmCmd) commandNode() {}

// TestClause is a [[ expr ]] conditional expression command.
type TestClause struct {
	Left, Right Pos
	X           TestExpr
}

func (t *TestClause) Pos() Pos    { return t.Left }
func (t *TestClause) End() Pos    { return t.Right + 1 }
func (*TestClause) commandNode() {}

// TestExpr is implemented by WordTest, UnaryTest, BinaryTest, ParenTest.
type TestExpr interface {
	Node
	testExprNode()
}

// WordTest is a bare word treated as a truthiness test, e.g. [[ $x ]].
type WordTest struct {
	W *Word
}

func (w *WordTest) Pos() Pos    { return w.W.Pos() }
func (w *WordTest) End() Pos    { return w.W.End() }
func (*WordTest) testExprNode() {}

// UnaryTest is a unary [[ ]] operator: -e, -f, -d, -z, -n, !, etc.
type UnaryTest struct {
	OpPos Pos
	Op    token.Kind
	X     TestExpr
}

func (u *UnaryTest) Pos() Pos    { return u.OpPos }
func (u *UnaryTest) End() Pos    { return u.X.End() }
func (*UnaryTest) testExprNode() {}

// BinaryTest is a binary [[ ]] operator: ==, !=, =~, -eq, &&, ||, etc.
type BinaryTest struct {
	OpPos Pos
	Op    token.Kind
	X, Y  TestExpr
}

func (b *BinaryTest) Pos() Pos    { return b.X.Pos() }
func (b *BinaryTest) End() Pos    { return b.Y.End() }
func (*BinaryTest) testExprNode() {}

// ParenTest is a parenthesized [[ ]] sub-expression.
type ParenTest struct {
	Lparen, Rparen Pos
	X              TestExpr
}

func (p *ParenTest) Pos() Pos    { return p.Lparen }
func (p *ParenTest) End() Pos    { return p.Rparen + 1 }
func (*ParenTest) testExprNode() {}

// DeclClause represents declare/local/export/readonly lines, which carry
// flags plus a set of assignments.
type DeclClause struct {
	Position Pos
	Variant  string // "declare", "local", "export", "readonly", "typeset"
	Opts     []*Word
	Assigns  []*Assign
}

func (d *DeclClause) Pos() Pos { return d.Position }
func (d *DeclClause) End() Pos {
	if n := len(d.Assigns); n > 0 {
		return d.Assigns[n-1].End()
	}
	if n := len(d.Opts); n > 0 {
		return d.Opts[n-1].End()
	}
	return d.Position
}
func (*DeclClause) commandNode() {}
