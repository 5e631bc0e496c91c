package interp

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"hbash.dev/bashbox/expand"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/vfs"
)

// ShellOpts is the subset of "set -o" options this interpreter honors.
type ShellOpts struct {
	Errexit  bool
	Nounset  bool
	Pipefail bool
}

// NetworkConfig gates the curl builtin: Enabled must be true and the
// request's host must match an entry of Allow (supporting a leading "*."
// wildcard) or the request is refused with exit code 6. Limiter paces
// outbound requests so that a scripted loop cannot hammer HTTP.
type NetworkConfig struct {
	Enabled bool
	Allow   []string
	Limiter *rate.Limiter
}

// HTTPClient is the collaborator the curl builtin dispatches to; callers
// supply their own implementation (or none, to make curl always fail).
type HTTPClient interface {
	Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}

// HTTPRequest is the curl builtin's request contract.
type HTTPRequest struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            string
	Timeout         time.Duration
	FollowRedirects bool
	Insecure        bool
}

// HTTPResponse is the curl builtin's response contract.
type HTTPResponse struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Signal is a non-error control-flow token a built-in can return, which
// ordinary statement execution propagates until a construct built to
// absorb it (a loop for Break/Continue, a function call for Return) does
// so. The zero Signal carries no control flow.
type Signal struct {
	Kind SignalKind
	N    int // level count for Break/Continue; exit code for Return
}

type SignalKind uint8

const (
	SigNone SignalKind = iota
	SigBreak
	SigContinue
	SigReturn
)

// Decrement reduces a Break(n)/Continue(n) signal by one level, turning
// Break(1)/Continue(1) into no signal at all; a loop construct calls this
// once per iteration it absorbs. Return and SigNone pass through unchanged.
func (s Signal) Decrement() Signal {
	switch s.Kind {
	case SigBreak, SigContinue:
		if s.N <= 1 {
			return Signal{}
		}
		return Signal{Kind: s.Kind, N: s.N - 1}
	}
	return s
}

// Result is the immutable outcome of running a statement, pipeline, or
// whole script: captured output, an exit code, and an optional signal.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode uint8
	Sig      Signal
}

func ResultOK(stdout string) Result { return Result{Stdout: stdout} }

func ResultErr(stderr string, code uint8) Result {
	if code == 0 {
		code = 1
	}
	return Result{Stderr: stderr, ExitCode: code}
}

func ResultBreak(n int) Result {
	if n < 1 {
		n = 1
	}
	return Result{Sig: Signal{Kind: SigBreak, N: n}}
}

func ResultContinue(n int) Result {
	if n < 1 {
		n = 1
	}
	return Result{Sig: Signal{Kind: SigContinue, N: n}}
}

func ResultReturn(code uint8) Result {
	return Result{ExitCode: code, Sig: Signal{Kind: SigReturn, N: int(code)}}
}

// MergeOutput concatenates prev and next's captured streams, keeps next's
// exit code, and keeps prev's signal unless next carries one of its own.
// This is how sequential redirection/pipeline stages fold their Results
// together without losing earlier output.
func MergeOutput(prev, next Result) Result {
	out := Result{
		Stdout:   prev.Stdout + next.Stdout,
		Stderr:   prev.Stderr + next.Stderr,
		ExitCode: next.ExitCode,
		Sig:      prev.Sig,
	}
	if next.Sig.Kind != SigNone {
		out.Sig = next.Sig
	}
	return out
}

// Sandbox is the value-semantic process-wide interpreter state: every
// executor method takes a Sandbox and returns a (possibly different) one,
// never mutating the one it was given.
type Sandbox struct {
	Env       expand.MapEnviron
	Functions map[string]*syntax.Stmt
	FS        vfs.FS
	Cwd       string
	Opts      ShellOpts
	LastExit  uint8
	Network   NetworkConfig
	HTTP      HTTPClient

	// sqlite holds live database handles for the sqlite3 builtin, keyed by
	// the name the script opened them under. Handles are safe to share
	// across Sandbox copies (the map itself is copy-on-write like Env/FS);
	// only the handle's name->*sql.DB binding is sandbox state.
	sqlite map[string]*sql.DB
}

// withEnv returns a copy of sb with Env replaced; every other field is
// shared, matching the copy-on-write discipline expand.MapEnviron and
// vfs.FS already apply to their own internals.
func (sb Sandbox) withEnv(env expand.MapEnviron) Sandbox {
	sb.Env = env
	return sb
}

func (sb Sandbox) withFS(fs vfs.FS) Sandbox {
	sb.FS = fs
	return sb
}

func (sb Sandbox) withExit(code uint8) Sandbox {
	sb.LastExit = code
	sb.Env = sb.Env.With("?", expand.Variable{Value: strconv.Itoa(int(code))})
	return sb
}

// Lookup adapts sb to vfs.Lookup, the read-only view lazy file content may
// consult while resolving its bytes.
func (sb Sandbox) Lookup() vfs.Lookup { return sandboxLookup{sb} }

// lookup is the internal shorthand used throughout this package.
func (sb Sandbox) lookup() vfs.Lookup { return sb.Lookup() }

type sandboxLookup struct{ sb Sandbox }

func (l sandboxLookup) Env(name string) string { return l.sb.Env.Get(name).String() }

// applyPending folds expansion's queued "${v:=w}"-style assignments into
// the sandbox's environment, draining the slice exactly once.
func (sb Sandbox) applyPending(pending []expand.PendingAssign) Sandbox {
	if len(pending) == 0 {
		return sb
	}
	return sb.withEnv(sb.Env.WithAll(pending))
}

