package interp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"hbash.dev/bashbox/expand"
	"hbash.dev/bashbox/pattern"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/token"
)

// Builtin is the Command Registry's handler shape: a value-semantic command
// implementation that consumes a sandbox and returns a (possibly updated)
// one alongside its Result.
type Builtin func(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox)

// Runner walks a parsed script and threads a Sandbox through it. A Runner
// holds no per-execution mutable state of its own (its Registry and Trace
// fields are fixed at construction), so the same Runner can drive many
// independent Run calls.
type Runner struct {
	Registry map[string]Builtin
	Trace    *strings.Builder // when non-nil, "+ cmd args..." lines are appended, xtrace-style
}

// NewRunner returns a Runner wired with the default built-in registry.
func NewRunner() *Runner {
	return &Runner{Registry: defaultRegistry()}
}

// Run executes every top-level statement of file against sb in order and
// returns the aggregate Result and the final Sandbox.
func (r *Runner) Run(ctx context.Context, sb Sandbox, file *syntax.File) (Result, Sandbox) {
	res, sb := r.stmtList(ctx, sb, file.Stmts, "", true)
	if res.Sig.Kind == sigAbort {
		res.Sig = Signal{}
	}
	return res, sb
}

// sigAbort is an internal-only signal kind used to unwind out of a script
// once "errexit" decides to terminate it; it is never exposed in a Result
// a caller of Run observes (Run strips it before returning).
const sigAbort SignalKind = 255

func (r *Runner) stmtList(ctx context.Context, sb Sandbox, stmts []*syntax.Stmt, stdin string, checkErrexit bool) (Result, Sandbox) {
	var agg Result
	for _, st := range stmts {
		res, nsb := r.stmt(ctx, sb, st, stdin, checkErrexit)
		sb = nsb
		agg = MergeOutput(agg, res)
		if res.Sig.Kind != SigNone {
			agg.Sig = res.Sig
			return agg, sb
		}
	}
	return agg, sb
}

func (r *Runner) stmt(ctx context.Context, sb Sandbox, st *syntax.Stmt, stdin string, checkErrexit bool) (Result, Sandbox) {
	stdin, sb, err := r.resolveStdin(ctx, sb, st, stdin)
	if err != nil {
		return r.finishStmt(ctx, sb, sb, ResultErr(err.Error()+"\n", 1), st, checkErrexit)
	}
	if isPipeOp(st.Cmd) {
		res, nsb := r.pipeline(ctx, sb, flattenPipe(st), stdin)
		return r.finishStmt(ctx, sb, nsb, res, st, checkErrexit)
	}
	res, nsb := r.cmd(ctx, sb, st.Cmd, stdin, checkErrexit)
	return r.finishStmt(ctx, sb, nsb, res, st, checkErrexit)
}

func isPipeOp(cmd syntax.Command) bool {
	bc, ok := cmd.(*syntax.BinaryCmd)
	return ok && (bc.Op == token.OR || bc.Op == token.PIPEALL)
}

func flattenPipe(st *syntax.Stmt) []*syntax.Stmt {
	if bc, ok := st.Cmd.(*syntax.BinaryCmd); ok && (bc.Op == token.OR || bc.Op == token.PIPEALL) {
		return append(flattenPipe(bc.X), flattenPipe(bc.Y)...)
	}
	return []*syntax.Stmt{st}
}

// pipeline runs each stage in stages left to right, feeding stage i's
// stdout as stage i+1's stdin. Every stage but the last runs on a throwaway
// copy of sb (pipeline side effects from non-final stages never survive,
// matching Bash's subshell-per-stage behavior without "lastpipe"); only the
// final stage's sandbox is kept. With Opts.Pipefail, the pipeline's exit
// code is the rightmost non-zero stage's code rather than the last stage's.
func (r *Runner) pipeline(ctx context.Context, sb Sandbox, stages []*syntax.Stmt, stdin string) (Result, Sandbox) {
	var agg Result
	in := stdin
	rightmostNonZero := uint8(0)
	finalSb := sb
	for i, st := range stages {
		last := i == len(stages)-1
		var res Result
		var nsb Sandbox
		if last {
			res, nsb = r.stmt(ctx, sb, st, in, false)
			finalSb = nsb
		} else {
			res, _ = r.stmt(ctx, sb, st, in, false)
		}
		agg = MergeOutput(agg, res)
		if res.ExitCode != 0 {
			rightmostNonZero = res.ExitCode
		}
		in = res.Stdout
		if res.Sig.Kind != SigNone {
			agg.Sig = res.Sig
			break
		}
	}
	if finalSb.Opts.Pipefail && rightmostNonZero != 0 {
		agg.ExitCode = rightmostNonZero
	}
	return agg, finalSb
}

// finishStmt applies negation and source-order redirections to a command's
// raw Result, then decides whether "errexit" should abort the whole script.
func (r *Runner) finishStmt(ctx context.Context, prevSb, sb Sandbox, res Result, st *syntax.Stmt, checkErrexit bool) (Result, Sandbox) {
	res, sb = r.applyOutputRedirs(ctx, sb, res, st.Redirs)
	if st.Negated {
		if res.ExitCode == 0 {
			res.ExitCode = 1
		} else {
			res.ExitCode = 0
		}
	}
	sb = sb.withExit(res.ExitCode)
	// A negated command is exempt from errexit regardless of its (flipped)
	// exit status: "set -e; ! true; echo after" still reaches "after".
	if checkErrexit && !st.Negated && sb.Opts.Errexit && res.ExitCode != 0 && res.Sig.Kind == SigNone {
		res.Sig = Signal{Kind: sigAbort}
	}
	return res, sb
}

// cmd dispatches a single command node, after any input redirections on the
// owning statement have already been folded into stdin by the caller for
// the simple-command case, or handled per-construct below for compounds.
func (r *Runner) cmd(ctx context.Context, sb Sandbox, c syntax.Command, stdin string, checkErrexit bool) (Result, Sandbox) {
	switch x := c.(type) {
	case *syntax.CallExpr:
		return r.callExpr(ctx, sb, x, stdin)
	case *syntax.BinaryCmd:
		return r.andOr(ctx, sb, x, stdin)
	case *syntax.Block:
		return r.stmtList(ctx, sb, x.Stmts, stdin, checkErrexit)
	case *syntax.Subshell:
		res, _ := r.stmtList(ctx, sb, x.Stmts, stdin, false)
		return res, sb
	case *syntax.IfClause:
		return r.ifClause(ctx, sb, x, stdin)
	case *syntax.WhileClause:
		return r.whileClause(ctx, sb, x)
	case *syntax.ForClause:
		return r.forClause(ctx, sb, x)
	case *syntax.CaseClause:
		return r.caseClause(ctx, sb, x)
	case *syntax.FuncDecl:
		name := x.Name.Value
		fns := make(map[string]*syntax.Stmt, len(sb.Functions)+1)
		for k, v := range sb.Functions {
			fns[k] = v
		}
		fns[name] = x.Body
		sb.Functions = fns
		return ResultOK(""), sb
	case *syntax.ArithmCmd:
		ec := r.newExpCtx(ctx, sb)
		v, pend, err := ec.EvalArith(ctx, x.X)
		sb = sb.applyPending(pend)
		if err != nil {
			return ResultErr(err.Error()+"\n", 1), sb
		}
		if v == 0 {
			return Result{ExitCode: 1}, sb
		}
		return Result{}, sb
	case *syntax.TestClause:
		return r.testClause(ctx, sb, x.X)
	case *syntax.DeclClause:
		return r.declClause(ctx, sb, x)
	}
	return ResultErr(fmt.Sprintf("unsupported command %T\n", c), 2), sb
}

func (r *Runner) andOr(ctx context.Context, sb Sandbox, bc *syntax.BinaryCmd, stdin string) (Result, Sandbox) {
	resX, sb := r.stmt(ctx, sb, bc.X, stdin, false)
	if resX.Sig.Kind != SigNone {
		return resX, sb
	}
	runY := (bc.Op == token.LAND && resX.ExitCode == 0) || (bc.Op == token.LOR && resX.ExitCode != 0)
	if !runY {
		return resX, sb
	}
	resY, sb2 := r.stmt(ctx, sb, bc.Y, stdin, false)
	return MergeOutput(resX, resY), sb2
}

func (r *Runner) ifClause(ctx context.Context, sb Sandbox, c *syntax.IfClause, stdin string) (Result, Sandbox) {
	condRes, sb2 := r.stmtList(ctx, sb, c.Cond, stdin, false)
	sb = sb2
	if condRes.Sig.Kind != SigNone {
		return condRes, sb
	}
	var bodyRes Result
	if condRes.ExitCode == 0 {
		bodyRes, sb = r.stmtList(ctx, sb, c.Then, stdin, true)
	} else if c.Else != nil {
		return r.ifClause(ctx, sb, c.Else, stdin)
	} else if c.ElseStmts != nil {
		bodyRes, sb = r.stmtList(ctx, sb, c.ElseStmts, stdin, true)
	} else {
		return ResultOK(""), sb
	}
	return MergeOutput(condRes, bodyRes), sb
}

// maxLoopIterations enforces the spec's runaway-script guard: a while/until
// loop that would run an 1001st iteration stops and reports the cap on
// stderr rather than looping forever.
const maxLoopIterations = 1000

func (r *Runner) whileClause(ctx context.Context, sb Sandbox, c *syntax.WhileClause) (Result, Sandbox) {
	var agg Result
	for i := 0; ; i++ {
		if i >= maxLoopIterations {
			agg = MergeOutput(agg, ResultErr("bash: loop iteration cap exceeded\n", 1))
			break
		}
		condRes, nsb := r.stmtList(ctx, sb, c.Cond, "", false)
		sb = nsb
		if condRes.Sig.Kind != SigNone {
			agg.Sig = condRes.Sig
			break
		}
		wantZero := !c.Until
		if (condRes.ExitCode == 0) != wantZero {
			break
		}
		bodyRes, nsb2 := r.stmtList(ctx, sb, c.Do, "", true)
		sb = nsb2
		agg = MergeOutput(agg, bodyRes)
		if bodyRes.Sig.Kind == SigBreak {
			agg.Sig = bodyRes.Sig.Decrement()
			break
		}
		if bodyRes.Sig.Kind == SigContinue {
			dec := bodyRes.Sig.Decrement()
			if dec.Kind != SigNone {
				agg.Sig = dec
				break
			}
			continue
		}
		if bodyRes.Sig.Kind != SigNone {
			agg.Sig = bodyRes.Sig
			break
		}
	}
	return agg, sb
}

func (r *Runner) forClause(ctx context.Context, sb Sandbox, c *syntax.ForClause) (Result, Sandbox) {
	switch loop := c.Loop.(type) {
	case *syntax.WordIter:
		return r.forWordIter(ctx, sb, loop, c.Do)
	case *syntax.CStyleLoop:
		return r.forCStyle(ctx, sb, loop, c.Do)
	}
	return ResultErr("unsupported for-loop form\n", 2), sb
}

func (r *Runner) forWordIter(ctx context.Context, sb Sandbox, loop *syntax.WordIter, body []*syntax.Stmt) (Result, Sandbox) {
	var items []string
	var err error
	if loop.Items == nil {
		items = sb.Env.Get("@").IndexArray()
	} else {
		items, sb, err = r.fields(ctx, sb, loop.Items...)
		if err != nil {
			return ResultErr(err.Error()+"\n", 1), sb
		}
	}
	var agg Result
	for i, it := range items {
		if i >= maxLoopIterations {
			agg = MergeOutput(agg, ResultErr("bash: loop iteration cap exceeded\n", 1))
			break
		}
		sb = sb.withEnv(sb.Env.With(loop.Name.Value, expand.Variable{Value: it}))
		bodyRes, nsb := r.stmtList(ctx, sb, body, "", true)
		sb = nsb
		agg = MergeOutput(agg, bodyRes)
		if bodyRes.Sig.Kind == SigBreak {
			agg.Sig = bodyRes.Sig.Decrement()
			break
		}
		if bodyRes.Sig.Kind == SigContinue {
			dec := bodyRes.Sig.Decrement()
			if dec.Kind != SigNone {
				agg.Sig = dec
				break
			}
			continue
		}
		if bodyRes.Sig.Kind != SigNone {
			agg.Sig = bodyRes.Sig
			break
		}
	}
	return agg, sb
}

func (r *Runner) forCStyle(ctx context.Context, sb Sandbox, loop *syntax.CStyleLoop, body []*syntax.Stmt) (Result, Sandbox) {
	ec := r.newExpCtx(ctx, sb)
	if loop.Init != nil {
		_, pend, _ := ec.EvalArith(ctx, loop.Init)
		sb = sb.applyPending(pend)
	}
	var agg Result
	for i := 0; ; i++ {
		if i >= maxLoopIterations {
			agg = MergeOutput(agg, ResultErr("bash: loop iteration cap exceeded\n", 1))
			break
		}
		if loop.Cond != nil {
			ec := r.newExpCtx(ctx, sb)
			v, pend, _ := ec.EvalArith(ctx, loop.Cond)
			sb = sb.applyPending(pend)
			if v == 0 {
				break
			}
		}
		bodyRes, nsb := r.stmtList(ctx, sb, body, "", true)
		sb = nsb
		agg = MergeOutput(agg, bodyRes)
		brk := false
		if bodyRes.Sig.Kind == SigBreak {
			agg.Sig = bodyRes.Sig.Decrement()
			brk = true
		} else if bodyRes.Sig.Kind == SigContinue {
			dec := bodyRes.Sig.Decrement()
			if dec.Kind != SigNone {
				agg.Sig = dec
				brk = true
			}
		} else if bodyRes.Sig.Kind != SigNone {
			agg.Sig = bodyRes.Sig
			brk = true
		}
		if brk {
			break
		}
		if loop.Post != nil {
			ec := r.newExpCtx(ctx, sb)
			_, pend, _ := ec.EvalArith(ctx, loop.Post)
			sb = sb.applyPending(pend)
		}
	}
	return agg, sb
}

func (r *Runner) caseClause(ctx context.Context, sb Sandbox, c *syntax.CaseClause) (Result, Sandbox) {
	word, sb2, err := r.literal(ctx, sb, c.Word)
	sb = sb2
	if err != nil {
		return ResultErr(err.Error()+"\n", 1), sb
	}
	matched := false
	var agg Result
	for _, item := range c.Items {
		if !matched {
			for _, p := range item.Patterns {
				pat, sb3, _ := r.pattern(ctx, sb, p)
				sb = sb3
				if caseMatch(pat, word) {
					matched = true
					break
				}
			}
		}
		if !matched {
			continue
		}
		res, nsb := r.stmtList(ctx, sb, item.Stmts, "", true)
		sb = nsb
		agg = MergeOutput(agg, res)
		if res.Sig.Kind != SigNone {
			return agg, sb
		}
		switch item.Op {
		case token.DSEMICOLON:
			return agg, sb
		case token.SEMICOLON: // ;& fallthrough: run next body unconditionally
			matched = true
			continue
		default: // ;;& test subsequent patterns too
			matched = false
			continue
		}
	}
	return agg, sb
}

func caseMatch(pat, s string) bool {
	rx, err := pattern.Compile(pat, pattern.EntireString)
	if err != nil {
		return pat == s
	}
	return rx.MatchString(s)
}

func (r *Runner) testClause(ctx context.Context, sb Sandbox, x syntax.TestExpr) (Result, Sandbox) {
	v, sb2, err := r.evalTest(ctx, sb, x)
	sb = sb2
	if err != nil {
		return ResultErr(err.Error()+"\n", 2), sb
	}
	if v {
		return Result{}, sb
	}
	return Result{ExitCode: 1}, sb
}

func (r *Runner) declClause(ctx context.Context, sb Sandbox, d *syntax.DeclClause) (Result, Sandbox) {
	exported, readonly := false, false
	for _, o := range d.Opts {
		if lit, ok := o.Lit(); ok {
			switch lit {
			case "-x":
				exported = true
			case "-r":
				readonly = true
			}
		}
	}
	var agg Result
	for _, a := range d.Assigns {
		res, nsb := r.applyAssign(ctx, sb, a, exported, readonly)
		sb = nsb
		agg = MergeOutput(agg, res)
	}
	return agg, sb
}

func (r *Runner) applyAssign(ctx context.Context, sb Sandbox, a *syntax.Assign, exported, readonly bool) (Result, Sandbox) {
	name := a.Name.Value
	if len(a.Array) > 0 {
		assoc := false
		for _, e := range a.Array {
			if e.Index != nil {
				assoc = true
			}
		}
		if assoc {
			m := map[string]string{}
			for _, e := range a.Array {
				k, sb2, _ := r.literal(ctx, sb, e.Index)
				sb = sb2
				v, sb3, _ := r.literal(ctx, sb, e.Value)
				sb = sb3
				m[k] = v
			}
			sb = sb.withEnv(sb.Env.With(name, expand.Variable{Value: m, Exported: exported, ReadOnly: readonly}))
		} else {
			arr := make([]string, 0, len(a.Array))
			for _, e := range a.Array {
				v, sb2, _ := r.literal(ctx, sb, e.Value)
				sb = sb2
				arr = append(arr, v)
			}
			sb = sb.withEnv(sb.Env.With(name, expand.Variable{Value: arr, Exported: exported, ReadOnly: readonly}))
		}
		return Result{}, sb
	}
	if a.Naked {
		vr := sb.Env.Get(name)
		vr.Exported = vr.Exported || exported
		vr.ReadOnly = vr.ReadOnly || readonly
		sb = sb.withEnv(sb.Env.With(name, vr))
		return Result{}, sb
	}
	val, sb2, err := r.literal(ctx, sb, a.Value)
	sb = sb2
	if err != nil {
		return ResultErr(err.Error()+"\n", 1), sb
	}
	if a.Index != nil {
		arr := append([]string{}, sb.Env.Get(name).IndexArray()...)
		idx, sb3, _ := r.arithm(ctx, sb, &syntax.WordArithm{W: a.Index})
		sb = sb3
		n := int(idx)
		for n >= len(arr) {
			arr = append(arr, "")
		}
		if a.Append {
			arr[n] += val
		} else {
			arr[n] = val
		}
		sb = sb.withEnv(sb.Env.With(name, expand.Variable{Value: arr, Exported: exported, ReadOnly: readonly}))
		return Result{}, sb
	}
	if a.Append {
		val = sb.Env.Get(name).String() + val
	}
	sb = sb.withEnv(sb.Env.With(name, expand.Variable{Value: val, Exported: exported, ReadOnly: readonly}))
	return Result{}, sb
}

// callExpr evaluates a simple command: assignments, then name/argv
// expansion, then registry/function dispatch, per the spec's six-step
// simple-command evaluation order.
func (r *Runner) callExpr(ctx context.Context, sb Sandbox, c *syntax.CallExpr, stdin string) (Result, Sandbox) {
	if len(c.Args) == 0 {
		// bare assignments with no command name: persistent in the caller's scope.
		var agg Result
		for _, a := range c.Assigns {
			res, nsb := r.applyAssign(ctx, sb, a, false, false)
			sb = nsb
			agg = MergeOutput(agg, res)
		}
		return agg, sb
	}

	// Name/argv expansion happens against a scratch copy that also carries
	// the command-scoped assignment overrides, per Bash's "FOO=bar cmd"
	// semantics: visible to cmd and its children, not to the caller.
	scratch := sb
	for _, a := range c.Assigns {
		_, scratch = r.applyAssign(ctx, scratch, a, false, false)
	}
	args, scratch, err := r.fields(ctx, scratch, c.Args...)
	if err != nil {
		return ResultErr(err.Error()+"\n", 1), sb
	}
	if len(args) == 0 {
		return Result{}, sb
	}
	name := args[0]
	rest := args[1:]

	if name == "eval" {
		return r.evalBuiltin(ctx, scratch, rest, stdin)
	}
	if body, ok := sb.Functions[name]; ok {
		return r.callFunction(ctx, sb, body, rest, stdin)
	}
	if fn, ok := r.Registry[name]; ok {
		r.trace(name, rest)
		res, nsb := fn(ctx, scratch, rest, stdin)
		// Temporary ("FOO=bar cmd") assignments are scoped to this one
		// invocation only; restore their pre-call values afterward.
		for _, a := range c.Assigns {
			nsb = nsb.withEnv(nsb.Env.With(a.Name.Value, sb.Env.Get(a.Name.Value)))
		}
		return res, nsb
	}
	r.trace(name, rest)
	return ResultErr(fmt.Sprintf("bash: %s: command not found\n", name), 127), sb
}

// evalBuiltin implements "eval": its arguments are joined, re-lexed and
// re-parsed as a fresh script, then run in place so that any variable or
// function definitions it makes persist in sb, unlike an ordinary builtin
// call whose effects are scoped to the invocation.
func (r *Runner) evalBuiltin(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	src := strings.Join(args, " ")
	file, err := syntax.NewParser().Parse(src, "eval")
	if err != nil {
		return ResultErr(fmt.Sprintf("bash: eval: %s\n", err), 1), sb
	}
	return r.stmtList(ctx, sb, file.Stmts, stdin, false)
}

func (r *Runner) trace(name string, args []string) {
	if r.Trace == nil {
		return
	}
	fmt.Fprintf(r.Trace, "+ %s", name)
	for _, a := range args {
		fmt.Fprintf(r.Trace, " %s", a)
	}
	r.Trace.WriteByte('\n')
}

// callFunction runs a function body with positional parameters bound to
// args, absorbing a Return signal as the call's own exit code.
func (r *Runner) callFunction(ctx context.Context, sb Sandbox, body *syntax.Stmt, args []string, stdin string) (Result, Sandbox) {
	outerPositional := sb.Env.Get("@")
	env := sb.Env.With("@", expand.Variable{Value: args})
	env = env.With("#", expand.Variable{Value: strconv.Itoa(len(args))})
	for i, a := range args {
		env = env.With(strconv.Itoa(i+1), expand.Variable{Value: a})
	}
	sb = sb.withEnv(env)
	res, sb2 := r.stmt(ctx, sb, body, stdin, false)
	sb = sb2
	sb = sb.withEnv(sb.Env.With("@", outerPositional))
	if res.Sig.Kind == SigReturn {
		res.ExitCode = uint8(res.Sig.N)
		res.Sig = Signal{}
	}
	return res, sb
}
