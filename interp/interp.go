// Package interp implements the bashbox executor: it walks a *syntax.File
// and threads a value-semantic Sandbox through every statement, calling
// into expand for word expansion and the Command Registry for built-ins.
package interp

import (
	"context"

	"hbash.dev/bashbox/expand"
	"hbash.dev/bashbox/syntax"
)

// newExpCtx builds a fresh expand.Context bound to sb's environment,
// filesystem, and working directory, wiring command substitution back into
// this Runner so "$(...)" bodies re-enter the executor on a sandbox copy.
func (r *Runner) newExpCtx(ctx context.Context, sb Sandbox) *expand.Context {
	return &expand.Context{
		Env:      sb.Env,
		FS:       expand.NewVFSGlobber(sb.FS),
		Cwd:      sb.Cwd,
		GlobStar: true,
		Nounset:  sb.Opts.Nounset,
		Subshell: func(ctx context.Context, stmts []*syntax.Stmt) string {
			return r.captureSubshell(ctx, sb, stmts)
		},
	}
}

// captureSubshell runs stmts to completion on a throwaway copy of sb and
// returns whatever it wrote to stdout; the resulting sandbox is discarded,
// matching command substitution's subshell semantics.
func (r *Runner) captureSubshell(ctx context.Context, sb Sandbox, stmts []*syntax.Stmt) string {
	res, _ := r.stmtList(ctx, sb, stmts, "", false)
	return res.Stdout
}

// fields expands words into the argv/word-list form (brace, expansion,
// splitting, globbing), folding back any pending variable writes.
func (r *Runner) fields(ctx context.Context, sb Sandbox, words ...*syntax.Word) ([]string, Sandbox, error) {
	ec := r.newExpCtx(ctx, sb)
	fs := ec.ExpandFields(ctx, words...)
	sb = sb.applyPending(ec.Pending)
	if ec.Err != nil {
		return nil, sb, ec.Err
	}
	return fs, sb, nil
}

// literal expands a word to a single string with no splitting or globbing,
// used for assignment values, redirection targets, and case scrutinees.
func (r *Runner) literal(ctx context.Context, sb Sandbox, w *syntax.Word) (string, Sandbox, error) {
	if w == nil {
		return "", sb, nil
	}
	ec := r.newExpCtx(ctx, sb)
	s := ec.ExpandLiteral(ctx, w)
	sb = sb.applyPending(ec.Pending)
	if ec.Err != nil {
		return "", sb, ec.Err
	}
	return s, sb, nil
}

// pattern expands a word for use as a glob/case pattern, escaping any
// metacharacters produced by expansion itself.
func (r *Runner) pattern(ctx context.Context, sb Sandbox, w *syntax.Word) (string, Sandbox, error) {
	ec := r.newExpCtx(ctx, sb)
	s := ec.ExpandPattern(ctx, w)
	sb = sb.applyPending(ec.Pending)
	if ec.Err != nil {
		return "", sb, ec.Err
	}
	return s, sb, nil
}

// arithm evaluates an arithmetic expression against sb's environment.
func (r *Runner) arithm(ctx context.Context, sb Sandbox, x syntax.ArithmExpr) (int64, Sandbox, error) {
	ec := r.newExpCtx(ctx, sb)
	v, pend, err := ec.EvalArith(ctx, x)
	sb = sb.applyPending(pend)
	return v, sb, err
}

// document expands a heredoc body: full expansion but no splitting/
// globbing, matching an unquoted heredoc delimiter's behavior.
func (r *Runner) document(ctx context.Context, sb Sandbox, w *syntax.Word) (string, Sandbox, error) {
	return r.literal(ctx, sb, w)
}
