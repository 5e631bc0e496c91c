package interp

import (
	"context"
	"strings"

	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/token"
	"hbash.dev/bashbox/vfs"
)

// resolveStdin scans st's redirections for one that overrides stdin
// (<, <<, <<-, <<<) and returns the effective input for the command this
// statement runs, read eagerly since the VFS never blocks.
func (r *Runner) resolveStdin(ctx context.Context, sb Sandbox, st *syntax.Stmt, fallback string) (string, Sandbox, error) {
	in := fallback
	for _, rd := range st.Redirs {
		switch rd.Op {
		case token.LSS:
			path, nsb, err := r.literal(ctx, sb, rd.Word)
			sb = nsb
			if err != nil {
				return in, sb, err
			}
			data, rerr := sb.FS.ReadFile(resolvePath(sb.Cwd, path), sb.lookup())
			if rerr != nil {
				return in, sb, rerr
			}
			in = string(data)
		case token.SHL, token.DHEREDOC:
			body, nsb, err := r.document(ctx, sb, rd.Hdoc)
			sb = nsb
			if err != nil {
				return in, sb, err
			}
			if rd.Op == token.DHEREDOC {
				body = stripLeadingTabs(body)
			}
			in = body
		case token.WHEREDOC:
			word, nsb, err := r.literal(ctx, sb, rd.Word)
			sb = nsb
			if err != nil {
				return in, sb, err
			}
			in = word + "\n"
		}
	}
	return in, sb, nil
}

func stripLeadingTabs(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(l, "\t")
	}
	return strings.Join(lines, "\n")
}

func resolvePath(cwd, path string) string {
	if strings.HasPrefix(path, "/") {
		return vfs.Clean(path)
	}
	return vfs.Clean(cwd + "/" + path)
}

// applyOutputRedirs applies >, >|, >>, 2>, 2>>, 1>&2, 2>&1 in source
// order, each one consuming the Result's captured stdout/stderr and either
// writing it into the VFS or merging the two streams. The &> and &>> forms
// are not handled: the parser has no token for them.
func (r *Runner) applyOutputRedirs(ctx context.Context, sb Sandbox, res Result, redirs []*syntax.Redirect) (Result, Sandbox) {
	for _, rd := range redirs {
		switch rd.Op {
		case token.GTR, token.CLBOUT:
			res, sb = r.writeRedir(ctx, sb, res, rd, false, redirFd(rd))
		case token.SHR:
			res, sb = r.writeRedir(ctx, sb, res, rd, true, redirFd(rd))
		case token.DPLOUT:
			res, sb = r.dupRedir(ctx, sb, res, rd)
		}
	}
	return res, sb
}

// redirFd inspects a Redirect's optional leading file descriptor (the "2" in
// "2>", absent for plain ">") to decide which captured stream it targets.
// The grammar has no separate token for "2>" versus ">"; both lex as the
// same Op and are told apart only by N.
func redirFd(rd *syntax.Redirect) redirTarget {
	if rd.N == nil {
		return targetStdout
	}
	if n, ok := rd.N.Lit(); ok {
		switch n {
		case "2":
			return targetStderr
		case "1":
			return targetStdout
		}
	}
	return targetStdout
}

type redirTarget int

const (
	targetStdout redirTarget = iota
	targetStderr
	targetBoth
)

func (r *Runner) writeRedir(ctx context.Context, sb Sandbox, res Result, rd *syntax.Redirect, appendMode bool, target redirTarget) (Result, Sandbox) {
	path, nsb, err := r.literal(ctx, sb, rd.Word)
	sb = nsb
	if err != nil {
		return res, sb
	}
	full := resolvePath(sb.Cwd, path)
	if full == "/dev/null" {
		switch target {
		case targetStdout:
			res.Stdout = ""
		case targetStderr:
			res.Stderr = ""
		case targetBoth:
			res.Stdout, res.Stderr = "", ""
		}
		return res, sb
	}
	var data string
	switch target {
	case targetStdout:
		data = res.Stdout
		res.Stdout = ""
	case targetStderr:
		data = res.Stderr
		res.Stderr = ""
	case targetBoth:
		data = res.Stdout + res.Stderr
		res.Stdout, res.Stderr = "", ""
	}
	var fs vfs.FS
	if appendMode {
		fs, err = sb.FS.AppendFile(full, []byte(data), 0, sb.lookup())
	} else {
		fs = sb.FS.WriteFile(full, []byte(data), 0)
	}
	if err != nil {
		return ResultErr(err.Error()+"\n", 1), sb
	}
	sb = sb.withFS(fs)
	return res, sb
}

// dupRedir handles the ">&" duplication forms this grammar supports:
// "1>&2" appends captured stdout onto stderr, and "2>&1" appends captured
// stderr onto stdout.
func (r *Runner) dupRedir(ctx context.Context, sb Sandbox, res Result, rd *syntax.Redirect) (Result, Sandbox) {
	fdWord, ok := rd.Word.Lit()
	if !ok {
		return res, sb
	}
	srcFd := "1"
	if rd.N != nil {
		if n, ok := rd.N.Lit(); ok {
			srcFd = n
		}
	}
	switch {
	case srcFd == "1" && fdWord == "2":
		res.Stderr += res.Stdout
		res.Stdout = ""
	case srcFd == "2" && fdWord == "1":
		res.Stdout += res.Stderr
		res.Stderr = ""
	}
	return res, sb
}
