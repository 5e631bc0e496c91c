// Package bashbox is a hermetic, in-process Bash interpreter: given a
// script and a Sandbox, it produces a Result and an updated Sandbox,
// without ever touching the host's filesystem, environment, or network.
//
// The core types live in the interp package (Sandbox, Result, Signal) to
// avoid an import cycle with the executor that threads them through a
// parsed script; this package re-exports them as the public Session API
// spec.md §6 describes, plus the New/Exec/MaterializeFiles entry points.
package bashbox

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"hbash.dev/bashbox/expand"
	"hbash.dev/bashbox/interp"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/vfs"
)

type (
	Sandbox       = interp.Sandbox
	Result        = interp.Result
	Signal        = interp.Signal
	SignalKind    = interp.SignalKind
	ShellOpts     = interp.ShellOpts
	NetworkConfig = interp.NetworkConfig
	HTTPClient    = interp.HTTPClient
	HTTPRequest   = interp.HTTPRequest
	HTTPResponse  = interp.HTTPResponse
)

// FileInit seeds one file or directory in a new Sandbox's virtual
// filesystem. Exactly one of Content or Lazy is normally set for a regular
// file; Dir marks a directory entry instead. Lazy receives a vfs.Lookup, the
// read-only sandbox view at the time the script first reads the file, so its
// bytes may depend on an environment variable the script has set by then.
type FileInit struct {
	Content []byte
	Lazy    func(vfs.Lookup) ([]byte, error)
	Mode    uint32
	Dir     bool
}

// Config is the Session API's sandbox-construction input: initial
// environment, virtual filesystem contents, working directory, shell
// options, and network policy.
type Config struct {
	Files     map[string]FileInit
	Env       map[string]string
	Cwd       string
	ShellOpts ShellOpts
	Network   NetworkConfig
	HTTP      HTTPClient
}

// New builds a fresh Sandbox from cfg: an empty virtual filesystem seeded
// with cfg.Files, an environment populated from cfg.Env (each variable
// marked exported, matching a script's inherited environment), and cfg's
// cwd/shell options/network policy carried through unchanged.
func New(cfg Config) Sandbox {
	fs := vfs.Empty()
	for path, fi := range cfg.Files {
		if fi.Dir {
			fs, _ = fs.Mkdir(path, orMode(fi.Mode, 0755), true)
			continue
		}
		var content vfs.Content
		switch {
		case fi.Lazy != nil:
			content = vfs.LazyFunc(fi.Lazy)
		default:
			content = vfs.Bytes(fi.Content)
		}
		fs = fs.WriteContent(path, content, orMode(fi.Mode, 0644))
	}

	env := make(expand.MapEnviron, len(cfg.Env)+2)
	for k, v := range cfg.Env {
		env[k] = expand.Variable{Value: v, Exported: true}
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}
	env["PWD"] = expand.Variable{Value: cwd, Exported: true}
	env["?"] = expand.Variable{Value: "0"}

	network := cfg.Network
	if network.Enabled && network.Limiter == nil {
		network.Limiter = rate.NewLimiter(rate.Limit(10), 5)
	}

	return interp.Sandbox{
		Env:     env,
		FS:      fs,
		Cwd:     cwd,
		Opts:    cfg.ShellOpts,
		Network: network,
		HTTP:    cfg.HTTP,
	}
}

// Exec parses script and runs it to completion against sb, returning the
// aggregate Result and the sandbox as it stood after the last statement.
// A parse error is reported as Result{Stderr, ExitCode: 2}, per spec.md §7's
// ParseError row, and sb is returned unchanged.
func Exec(sb Sandbox, script string) (Result, Sandbox) {
	file, err := syntax.NewParser().Parse(script, "")
	if err != nil {
		return interp.ResultErr(fmt.Sprintf("bash: %s\n", err), 2), sb
	}
	r := interp.NewRunner()
	return r.Run(context.Background(), sb, file)
}

// ExecContext is Exec with an explicit context, e.g. to bound an outbound
// curl call's deadline; the interpreter itself has no cancellation
// primitive of its own (spec.md §5), so ctx only reaches the builtins that
// take it: curl's rate limiter and HTTPClient.Do, and sqlite3's queries.
func ExecContext(ctx context.Context, sb Sandbox, script string) (Result, Sandbox) {
	file, err := syntax.NewParser().Parse(script, "")
	if err != nil {
		return interp.ResultErr(fmt.Sprintf("bash: %s\n", err), 2), sb
	}
	r := interp.NewRunner()
	return r.Run(ctx, sb, file)
}

// MaterializeFiles eagerly resolves every lazy file in sb's virtual
// filesystem, returning a Sandbox whose files are all backed by plain
// in-memory bytes. On the first read error it returns that error and the
// original sandbox untouched.
func MaterializeFiles(sb Sandbox) (Sandbox, error) {
	fs := sb.FS
	var walk func(path string) error
	walk = func(path string) error {
		entry, ok := fs.Lookup(path)
		if !ok {
			return nil
		}
		switch entry.Kind {
		case vfs.File:
			data, err := fs.ReadFile(path, sb.Lookup())
			if err != nil {
				return fmt.Errorf("materialize %s: %w", path, err)
			}
			fs = fs.WriteFile(path, data, entry.Mode)
		case vfs.Dir:
			children, err := fs.Children(path)
			if err != nil {
				return err
			}
			for _, c := range children {
				childPath := path
				if childPath != "/" {
					childPath += "/"
				}
				if err := walk(childPath + c); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return sb, err
	}
	sb.FS = fs
	return sb, nil
}

func orMode(mode, fallback uint32) uint32 {
	if mode == 0 {
		return fallback
	}
	return mode
}
