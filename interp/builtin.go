package interp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"hbash.dev/bashbox/expand"
	"hbash.dev/bashbox/pattern"
	"hbash.dev/bashbox/vfs"
)

// defaultRegistry returns the Command Registry every new Runner is wired
// with: the core/shell builtins, the file/text coreutils, and the
// domain-stack expansions (jq, sqlite3, curl).
func defaultRegistry() map[string]Builtin {
	return map[string]Builtin{
		":":        biColon,
		"true":     biTrue,
		"false":    biFalse,
		"echo":     biEcho,
		"printf":   biPrintf,
		"test":     biTest,
		"[":        biTest,
		"set":      biSet,
		"export":   biExport,
		"unset":    biUnset,
		"readonly": biReadonly,
		"read":     biRead,
		"cd":       biCd,
		"pwd":      biPwd,
		"exit":     biExit,
		"shift":    biShift,
		"local":    biLocal,
		"declare":  biDeclare,
		"return":   biReturn,
		"break":    biBreak,
		"continue": biContinue,
		// "eval" is special-cased in callExpr before registry dispatch,
		// since its effects must persist in the caller's sandbox rather
		// than being scoped to one invocation like every other builtin.

		"cat":   biCat,
		"cp":    biCp,
		"mv":    biMv,
		"rm":    biRm,
		"ls":    biLs,
		"mkdir": biMkdir,
		"touch": biTouch,
		"grep":  biGrep,
		"sed":   biSed,
		"sort":  biSort,
		"uniq":  biUniq,
		"head":  biHead,
		"tail":  biTail,
		"tr":    biTr,
		"cut":   biCut,
		"wc":    biWc,
		"xargs": biXargs,
		"tee":   biTee,

		"jq":      biJQ,
		"sqlite3": biSqlite3,
		"curl":    biCurl,
	}
}

// --- core/shell builtins ---

func biColon(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	return Result{}, sb
}

func biTrue(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	return Result{}, sb
}

func biFalse(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	return Result{ExitCode: 1}, sb
}

func biEcho(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	noNewline := false
	interpret := false
	for len(args) > 0 {
		switch args[0] {
		case "-n":
			noNewline = true
		case "-e":
			interpret = true
		case "-E":
			interpret = false
		default:
			goto done
		}
		args = args[1:]
	}
done:
	line := strings.Join(args, " ")
	if interpret {
		line = expandEchoEscapes(line)
	}
	if !noNewline {
		line += "\n"
	}
	return ResultOK(line), sb
}

func expandEchoEscapes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func biPrintf(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	if len(args) == 0 {
		return ResultErr("printf: usage: printf format [arguments]\n", 2), sb
	}
	format := args[0]
	rest := args[1:]
	var out strings.Builder
	// A printf format with no verbs is reused once with no arguments; one
	// with verbs is reused cyclically until every argument is consumed.
	for {
		consumed := applyPrintfFormat(&out, format, rest)
		if consumed >= len(rest) || consumed == 0 {
			break
		}
		rest = rest[consumed:]
	}
	return ResultOK(out.String()), sb
}

func applyPrintfFormat(out *strings.Builder, format string, args []string) int {
	ai := 0
	next := func() string {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return ""
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			if c == '\\' && i+1 < len(format) {
				i++
				switch format[i] {
				case 'n':
					out.WriteByte('\n')
				case 't':
					out.WriteByte('\t')
				case '\\':
					out.WriteByte('\\')
				default:
					out.WriteByte('\\')
					out.WriteByte(format[i])
				}
				continue
			}
			out.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			out.WriteByte(c)
			break
		}
		i++
		verb := format[i]
		switch verb {
		case '%':
			out.WriteByte('%')
		case 's':
			out.WriteString(next())
		case 'd', 'i':
			n, _ := strconv.ParseInt(strings.TrimSpace(next()), 0, 64)
			fmt.Fprintf(out, "%d", n)
		case 'f':
			v, _ := strconv.ParseFloat(strings.TrimSpace(next()), 64)
			fmt.Fprintf(out, "%f", v)
		case 'x':
			n, _ := strconv.ParseInt(strings.TrimSpace(next()), 0, 64)
			fmt.Fprintf(out, "%x", n)
		case 'q':
			fmt.Fprintf(out, "%q", next())
		default:
			out.WriteByte('%')
			out.WriteByte(verb)
		}
	}
	return ai
}

func biTest(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	// invoked as "[", the closing "]" is syntax, not an operand
	if len(args) > 0 && args[len(args)-1] == "]" {
		args = args[:len(args)-1]
	}
	ok, err := evalTestArgs(sb, args)
	if err != nil {
		return ResultErr(err.Error()+"\n", 2), sb
	}
	if ok {
		return Result{}, sb
	}
	return Result{ExitCode: 1}, sb
}

// evalTestArgs implements the small subset of "test"/"[" argument forms this
// interpreter needs: unary file/string tests and binary string/arithmetic
// comparisons, without the full [[ ]] pattern/regex machinery.
func evalTestArgs(sb Sandbox, args []string) (bool, error) {
	switch len(args) {
	case 0:
		return false, nil
	case 1:
		return args[0] != "", nil
	case 2:
		return evalUnaryTestArg(sb, args[0], args[1])
	case 3:
		return evalBinaryTestArg(args[0], args[1], args[2])
	}
	return false, fmt.Errorf("test: too many arguments")
}

func evalUnaryTestArg(sb Sandbox, op, operand string) (bool, error) {
	switch op {
	case "-z":
		return operand == "", nil
	case "-n":
		return operand != "", nil
	case "-v":
		return sb.Env.Get(operand).IsSet(), nil
	}
	path := resolvePath(sb.Cwd, operand)
	if op == "-L" || op == "-h" {
		entry, ok := sb.FS.Lookup(path)
		return ok && entry.Kind == vfs.Symlink, nil
	}
	entry, _, err := sb.FS.Stat(path)
	switch op {
	case "-e", "-a":
		return err == nil, nil
	case "-f":
		return err == nil && entry.Kind == vfs.File, nil
	case "-d":
		return err == nil && entry.Kind == vfs.Dir, nil
	case "-s":
		if err != nil || entry.Kind != vfs.File {
			return false, nil
		}
		data, _ := sb.FS.ReadFile(path, sb.lookup())
		return len(data) > 0, nil
	case "-r", "-w", "-x":
		return err == nil, nil
	}
	return false, fmt.Errorf("test: unknown unary operator %q", op)
}

func evalBinaryTestArg(lhs, op, rhs string) (bool, error) {
	switch op {
	case "=", "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "<":
		return lhs < rhs, nil
	case ">":
		return lhs > rhs, nil
	}
	ln, lerr := strconv.ParseInt(lhs, 0, 64)
	rn, rerr := strconv.ParseInt(rhs, 0, 64)
	if lerr != nil || rerr != nil {
		return false, fmt.Errorf("test: integer expression expected")
	}
	switch op {
	case "-eq":
		return ln == rn, nil
	case "-ne":
		return ln != rn, nil
	case "-lt":
		return ln < rn, nil
	case "-le":
		return ln <= rn, nil
	case "-gt":
		return ln > rn, nil
	case "-ge":
		return ln >= rn, nil
	}
	return false, fmt.Errorf("test: unknown binary operator %q", op)
}

func biSet(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	opts := sb.Opts
	for _, a := range args {
		val := strings.HasPrefix(a, "-")
		switch strings.TrimLeft(a, "+-") {
		case "e":
			opts.Errexit = val
		case "u":
			opts.Nounset = val
		case "pipefail":
			opts.Pipefail = val
		}
	}
	for i, a := range args {
		if a == "-o" && i+1 < len(args) && args[i+1] == "pipefail" {
			opts.Pipefail = true
		}
		if a == "+o" && i+1 < len(args) && args[i+1] == "pipefail" {
			opts.Pipefail = false
		}
	}
	sb.Opts = opts
	return Result{}, sb
}

func biExport(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	for _, a := range args {
		name, val, hasVal := strings.Cut(a, "=")
		vr := sb.Env.Get(name)
		if hasVal {
			vr.Value = val
		}
		vr.Exported = true
		sb = sb.withEnv(sb.Env.With(name, vr))
	}
	return Result{}, sb
}

func biUnset(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	env := sb.Env
	for _, name := range args {
		nm := make(expand.MapEnviron, len(env))
		for k, v := range env {
			if k != name {
				nm[k] = v
			}
		}
		env = nm
	}
	return Result{}, sb.withEnv(env)
}

func biReadonly(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	for _, a := range args {
		name, val, hasVal := strings.Cut(a, "=")
		vr := sb.Env.Get(name)
		if hasVal {
			vr.Value = val
		}
		vr.ReadOnly = true
		sb = sb.withEnv(sb.Env.With(name, vr))
	}
	return Result{}, sb
}

func biRead(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	names := args
	if len(names) == 0 {
		names = []string{"REPLY"}
	}
	line := stdin
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	env := sb.Env
	for i, name := range names {
		var val string
		if i == len(names)-1 && i < len(fields) {
			val = strings.Join(fields[i:], " ")
		} else if i < len(fields) {
			val = fields[i]
		}
		env = env.With(name, expand.Variable{Value: val})
	}
	code := uint8(0)
	if stdin == "" {
		code = 1
	}
	return Result{ExitCode: code}, sb.withEnv(env)
}

func biCd(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	target := "/"
	if len(args) > 0 {
		target = args[0]
	} else if home := sb.Env.Get("HOME").String(); home != "" {
		target = home
	}
	path := resolvePath(sb.Cwd, target)
	entry, resolved, err := sb.FS.Stat(path)
	if err != nil {
		return ResultErr(fmt.Sprintf("cd: %s: No such file or directory\n", target), 1), sb
	}
	if entry.Kind != vfs.Dir {
		return ResultErr(fmt.Sprintf("cd: %s: Not a directory\n", target), 1), sb
	}
	sb.Cwd = resolved
	sb = sb.withEnv(sb.Env.With("PWD", expand.Variable{Value: resolved}))
	return Result{}, sb
}

func biPwd(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	return ResultOK(sb.Cwd + "\n"), sb
}

func biExit(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	code := sb.LastExit
	if len(args) > 0 {
		n, _ := strconv.ParseInt(args[0], 0, 64)
		code = uint8(n)
	}
	return Result{ExitCode: code, Sig: Signal{Kind: sigAbort}}, sb
}

func biShift(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err == nil {
			n = v
		}
	}
	arr := sb.Env.Get("@").IndexArray()
	if n > len(arr) {
		return Result{ExitCode: 1}, sb
	}
	arr = arr[n:]
	env := sb.Env.With("@", expand.Variable{Value: arr})
	env = env.With("#", expand.Variable{Value: strconv.Itoa(len(arr))})
	return Result{}, sb.withEnv(env)
}

func biLocal(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	env := sb.Env
	for _, a := range args {
		name, val, hasVal := strings.Cut(a, "=")
		if hasVal {
			env = env.With(name, expand.Variable{Value: val})
		}
	}
	return Result{}, sb.withEnv(env)
}

func biDeclare(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	exported := false
	readonly := false
	rest := args
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
		if strings.Contains(rest[0], "x") {
			exported = true
		}
		if strings.Contains(rest[0], "r") {
			readonly = true
		}
		rest = rest[1:]
	}
	env := sb.Env
	for _, a := range rest {
		name, val, hasVal := strings.Cut(a, "=")
		vr := env.Get(name)
		if hasVal {
			vr.Value = val
		}
		vr.Exported = vr.Exported || exported
		vr.ReadOnly = vr.ReadOnly || readonly
		env = env.With(name, vr)
	}
	return Result{}, sb.withEnv(env)
}

func biReturn(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	code := uint8(0)
	if len(args) > 0 {
		n, _ := strconv.ParseInt(args[0], 0, 64)
		code = uint8(n)
	}
	return ResultReturn(code), sb
}

func biBreak(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err == nil {
			n = v
		}
	}
	return ResultBreak(n), sb
}

func biContinue(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err == nil {
			n = v
		}
	}
	return ResultContinue(n), sb
}

// --- file/text coreutils ---

func biCat(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	if len(args) == 0 {
		return ResultOK(stdin), sb
	}
	var out strings.Builder
	for _, a := range args {
		data, err := sb.FS.ReadFile(resolvePath(sb.Cwd, a), sb.lookup())
		if err != nil {
			return MergeOutput(ResultOK(out.String()), ResultErr(fmt.Sprintf("cat: %s: No such file or directory\n", a), 1)), sb
		}
		out.Write(data)
	}
	return ResultOK(out.String()), sb
}

func biCp(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	recursive := false
	rest := append([]string{}, args...)
	for len(rest) > 0 && (rest[0] == "-r" || rest[0] == "-R") {
		recursive = true
		rest = rest[1:]
	}
	if len(rest) != 2 {
		return ResultErr("cp: usage: cp [-r] source dest\n", 2), sb
	}
	src := resolvePath(sb.Cwd, rest[0])
	dst := resolvePath(sb.Cwd, rest[1])
	fs, err := sb.FS.Copy(src, dst, recursive)
	if err != nil {
		return ResultErr(fmt.Sprintf("cp: %s\n", err), 1), sb
	}
	return Result{}, sb.withFS(fs)
}

func biMv(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	if len(args) != 2 {
		return ResultErr("mv: usage: mv source dest\n", 2), sb
	}
	src := resolvePath(sb.Cwd, args[0])
	dst := resolvePath(sb.Cwd, args[1])
	fs, err := sb.FS.Rename(src, dst)
	if err != nil {
		return ResultErr(fmt.Sprintf("mv: %s\n", err), 1), sb
	}
	return Result{}, sb.withFS(fs)
}

func biRm(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	recursive := false
	force := false
	var paths []string
	for _, a := range args {
		switch a {
		case "-r", "-R", "-rf", "-fr":
			recursive = true
			force = strings.Contains(a, "f")
		case "-f":
			force = true
		default:
			paths = append(paths, a)
		}
	}
	fs := sb.FS
	for _, p := range paths {
		nfs, err := fs.Remove(resolvePath(sb.Cwd, p), recursive)
		if err != nil && !force {
			return ResultErr(fmt.Sprintf("rm: %s\n", err), 1), sb.withFS(fs)
		}
		fs = nfs
	}
	return Result{}, sb.withFS(fs)
}

func biLs(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	path := sb.Cwd
	if len(args) > 0 {
		path = resolvePath(sb.Cwd, args[0])
	}
	names, err := sb.FS.Children(path)
	if err != nil {
		return ResultErr(fmt.Sprintf("ls: %s\n", err), 1), sb
	}
	if len(names) == 0 {
		return Result{}, sb
	}
	return ResultOK(strings.Join(names, "\n") + "\n"), sb
}

func biMkdir(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	all := false
	var paths []string
	for _, a := range args {
		if a == "-p" {
			all = true
			continue
		}
		paths = append(paths, a)
	}
	fs := sb.FS
	for _, p := range paths {
		nfs, err := fs.Mkdir(resolvePath(sb.Cwd, p), 0755, all)
		if err != nil {
			return ResultErr(fmt.Sprintf("mkdir: %s\n", err), 1), sb.withFS(fs)
		}
		fs = nfs
	}
	return Result{}, sb.withFS(fs)
}

func biTouch(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	fs := sb.FS
	for _, a := range args {
		path := resolvePath(sb.Cwd, a)
		if _, _, err := fs.Stat(path); err == nil {
			continue
		}
		fs = fs.WriteFile(path, nil, 0644)
	}
	return Result{}, sb.withFS(fs)
}

func biGrep(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	invert := false
	ignoreCase := false
	var rest []string
	for _, a := range args {
		switch a {
		case "-v":
			invert = true
		case "-i":
			ignoreCase = true
		default:
			rest = append(rest, a)
		}
	}
	if len(rest) == 0 {
		return ResultErr("grep: usage: grep [-v] [-i] pattern [file...]\n", 2), sb
	}
	needle := rest[0]
	files := rest[1:]
	text := stdin
	if len(files) > 0 {
		var b strings.Builder
		for _, f := range files {
			data, err := sb.FS.ReadFile(resolvePath(sb.Cwd, f), sb.lookup())
			if err != nil {
				return ResultErr(fmt.Sprintf("grep: %s: No such file or directory\n", f), 2), sb
			}
			b.Write(data)
		}
		text = b.String()
	}
	var out strings.Builder
	matched := false
	for _, line := range splitLines(text) {
		hay, want := line, needle
		if ignoreCase {
			hay, want = strings.ToLower(hay), strings.ToLower(want)
		}
		has := strings.Contains(hay, want)
		if has != invert {
			out.WriteString(line)
			out.WriteByte('\n')
			matched = true
		}
	}
	code := uint8(1)
	if matched {
		code = 0
	}
	return Result{Stdout: out.String(), ExitCode: code}, sb
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func biSed(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	if len(args) == 0 {
		return ResultErr("sed: usage: sed 's/pat/repl/[g]' [file]\n", 2), sb
	}
	script := args[0]
	text := stdin
	if len(args) > 1 {
		data, err := sb.FS.ReadFile(resolvePath(sb.Cwd, args[1]), sb.lookup())
		if err != nil {
			return ResultErr(fmt.Sprintf("sed: %s\n", err), 2), sb
		}
		text = string(data)
	}
	if !strings.HasPrefix(script, "s") || len(script) < 2 {
		return ResultErr("sed: unsupported script\n", 2), sb
	}
	delim := script[1]
	parts := strings.Split(script[2:], string(delim))
	if len(parts) < 2 {
		return ResultErr("sed: malformed substitution\n", 2), sb
	}
	from, to := parts[0], parts[1]
	global := len(parts) > 2 && strings.Contains(parts[2], "g")
	if global {
		text = strings.ReplaceAll(text, from, to)
	} else {
		text = replaceFirst(text, from, to)
	}
	return ResultOK(text), sb
}

func replaceFirst(s, from, to string) string {
	i := strings.Index(s, from)
	if i < 0 {
		return s
	}
	return s[:i] + to + s[i+len(from):]
}

func biSort(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	reverse := false
	unique := false
	numeric := false
	var files []string
	for _, a := range args {
		switch a {
		case "-r":
			reverse = true
		case "-u":
			unique = true
		case "-n":
			numeric = true
		default:
			files = append(files, a)
		}
	}
	text := stdin
	if len(files) > 0 {
		var b strings.Builder
		for _, f := range files {
			data, err := sb.FS.ReadFile(resolvePath(sb.Cwd, f), sb.lookup())
			if err != nil {
				return ResultErr(fmt.Sprintf("sort: %s\n", err), 2), sb
			}
			b.Write(data)
		}
		text = b.String()
	}
	lines := splitLines(text)
	if numeric {
		sort.SliceStable(lines, func(i, j int) bool {
			a, _ := strconv.ParseFloat(strings.TrimSpace(lines[i]), 64)
			b, _ := strconv.ParseFloat(strings.TrimSpace(lines[j]), 64)
			return a < b
		})
	} else {
		sort.Strings(lines)
	}
	if reverse {
		for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
			lines[i], lines[j] = lines[j], lines[i]
		}
	}
	if unique {
		lines = dedupAdjacent(lines)
	}
	return ResultOK(joinLines(lines)), sb
}

func dedupAdjacent(lines []string) []string {
	var out []string
	for i, l := range lines {
		if i == 0 || l != lines[i-1] {
			out = append(out, l)
		}
	}
	return out
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func biUniq(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	return ResultOK(joinLines(dedupAdjacent(splitLines(stdin)))), sb
}

func biHead(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	n := 10
	rest := args
	if len(rest) > 0 && rest[0] == "-n" && len(rest) > 1 {
		v, _ := strconv.Atoi(rest[1])
		n = v
		rest = rest[2:]
	}
	text := stdin
	if len(rest) > 0 {
		data, err := sb.FS.ReadFile(resolvePath(sb.Cwd, rest[0]), sb.lookup())
		if err != nil {
			return ResultErr(fmt.Sprintf("head: %s\n", err), 1), sb
		}
		text = string(data)
	}
	lines := splitLines(text)
	if n < len(lines) {
		lines = lines[:n]
	}
	return ResultOK(joinLines(lines)), sb
}

func biTail(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	n := 10
	rest := args
	if len(rest) > 0 && rest[0] == "-n" && len(rest) > 1 {
		v, _ := strconv.Atoi(rest[1])
		n = v
		rest = rest[2:]
	}
	text := stdin
	if len(rest) > 0 {
		data, err := sb.FS.ReadFile(resolvePath(sb.Cwd, rest[0]), sb.lookup())
		if err != nil {
			return ResultErr(fmt.Sprintf("tail: %s\n", err), 1), sb
		}
		text = string(data)
	}
	lines := splitLines(text)
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return ResultOK(joinLines(lines)), sb
}

func biTr(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	deleteMode := false
	rest := args
	if len(rest) > 0 && rest[0] == "-d" {
		deleteMode = true
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return ResultErr("tr: usage: tr [-d] set1 [set2]\n", 2), sb
	}
	set1 := expandTrSet(rest[0])
	if deleteMode {
		var b strings.Builder
		for _, r := range stdin {
			if !strings.ContainsRune(set1, r) {
				b.WriteRune(r)
			}
		}
		return ResultOK(b.String()), sb
	}
	if len(rest) < 2 {
		return ResultErr("tr: usage: tr set1 set2\n", 2), sb
	}
	set2 := expandTrSet(rest[1])
	var b strings.Builder
	for _, r := range stdin {
		if i := strings.IndexRune(set1, r); i >= 0 && len(set2) > 0 {
			ri := []rune(set2)
			if i >= len(ri) {
				i = len(ri) - 1
			}
			b.WriteRune(ri[i])
		} else {
			b.WriteRune(r)
		}
	}
	return ResultOK(b.String()), sb
}

func expandTrSet(s string) string {
	if len(s) == 3 && s[1] == '-' {
		var b strings.Builder
		for c := s[0]; c <= s[2]; c++ {
			b.WriteByte(c)
		}
		return b.String()
	}
	return s
}

func biCut(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	delim := "\t"
	var fieldsSpec string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-d" && i+1 < len(args):
			delim = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-d"):
			delim = strings.TrimPrefix(args[i], "-d")
		case args[i] == "-f" && i+1 < len(args):
			fieldsSpec = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-f"):
			fieldsSpec = strings.TrimPrefix(args[i], "-f")
		}
	}
	idxs := parseFieldList(fieldsSpec)
	var out strings.Builder
	for _, line := range splitLines(stdin) {
		parts := strings.Split(line, delim)
		var picked []string
		for _, i := range idxs {
			if i-1 >= 0 && i-1 < len(parts) {
				picked = append(picked, parts[i-1])
			}
		}
		out.WriteString(strings.Join(picked, delim))
		out.WriteByte('\n')
	}
	return ResultOK(out.String()), sb
}

func parseFieldList(spec string) []int {
	var out []int
	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			l, _ := strconv.Atoi(lo)
			h, _ := strconv.Atoi(hi)
			for i := l; i <= h; i++ {
				out = append(out, i)
			}
			continue
		}
		n, _ := strconv.Atoi(part)
		out = append(out, n)
	}
	return out
}

func biWc(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	lines, words, bytes := false, false, false
	for _, a := range args {
		switch a {
		case "-l":
			lines = true
		case "-w":
			words = true
		case "-c":
			bytes = true
		}
	}
	if !lines && !words && !bytes {
		lines, words, bytes = true, true, true
	}
	nLines := strings.Count(stdin, "\n")
	nWords := len(strings.Fields(stdin))
	nBytes := len(stdin)
	var fields []string
	if lines {
		fields = append(fields, strconv.Itoa(nLines))
	}
	if words {
		fields = append(fields, strconv.Itoa(nWords))
	}
	if bytes {
		fields = append(fields, strconv.Itoa(nBytes))
	}
	return ResultOK(strings.Join(fields, " ") + "\n"), sb
}

func biXargs(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	items := strings.Fields(stdin)
	full := append(append([]string{}, args...), items...)
	return ResultOK(strings.Join(full, " ") + "\n"), sb
}

func biTee(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	appendMode := false
	var files []string
	for _, a := range args {
		if a == "-a" {
			appendMode = true
			continue
		}
		files = append(files, a)
	}
	fs := sb.FS
	for _, f := range files {
		path := resolvePath(sb.Cwd, f)
		if appendMode {
			nfs, err := fs.AppendFile(path, []byte(stdin), 0, sb.lookup())
			if err != nil {
				return ResultErr(fmt.Sprintf("tee: %s\n", err), 1), sb
			}
			fs = nfs
		} else {
			fs = fs.WriteFile(path, []byte(stdin), 0)
		}
	}
	return Result{Stdout: stdin}, sb.withFS(fs)
}

// --- domain-stack builtins ---

// biJQ implements a minimal JSON query subset (.field, .[n], .[], pipes,
// length, keys) over encoding/json; no JSON-query library appears anywhere
// in the example pack, so this builtin is implemented on the standard
// library by necessity rather than preference.
func biJQ(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	if len(args) == 0 {
		return ResultErr("jq: usage: jq FILTER\n", 2), sb
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(stdin), &doc); err != nil {
		return ResultErr(fmt.Sprintf("jq: %s\n", err), 5), sb
	}
	for _, stage := range strings.Split(args[0], "|") {
		var err error
		doc, err = jqStage(doc, strings.TrimSpace(stage))
		if err != nil {
			return ResultErr(fmt.Sprintf("jq: %s\n", err), 5), sb
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return ResultErr(fmt.Sprintf("jq: %s\n", err), 5), sb
	}
	return ResultOK(string(out) + "\n"), sb
}

func jqStage(doc interface{}, stage string) (interface{}, error) {
	switch stage {
	case ".", "":
		return doc, nil
	case "length":
		switch v := doc.(type) {
		case []interface{}:
			return len(v), nil
		case map[string]interface{}:
			return len(v), nil
		case string:
			return len(v), nil
		}
		return 0, nil
	case "keys":
		m, ok := doc.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("keys on non-object")
		}
		ks := make([]string, 0, len(m))
		for k := range m {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		out := make([]interface{}, len(ks))
		for i, k := range ks {
			out[i] = k
		}
		return out, nil
	}
	if !strings.HasPrefix(stage, ".") {
		return nil, fmt.Errorf("unsupported filter %q", stage)
	}
	cur := doc
	rest := stage[1:]
	for rest != "" {
		if strings.HasPrefix(rest, "[]") {
			arr, ok := cur.([]interface{})
			if !ok {
				return nil, fmt.Errorf("cannot iterate non-array")
			}
			return arr, nil
		}
		if strings.HasPrefix(rest, "[") {
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in %q", stage)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil {
				return nil, err
			}
			arr, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("index out of range")
			}
			cur = arr[idx]
			rest = rest[end+1:]
			continue
		}
		name := rest
		if i := strings.IndexAny(rest, ".["); i >= 0 {
			name = rest[:i]
			rest = rest[i:]
		} else {
			rest = ""
		}
		name = strings.TrimPrefix(name, ".")
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field access on non-object")
		}
		cur = m[name]
		if strings.HasPrefix(rest, ".") {
			rest = rest[1:]
		}
	}
	return cur, nil
}

// biSqlite3 runs a single SQL statement against an in-memory database
// named by args[0] (or "default"), persisted for the sandbox's lifetime in
// Sandbox.sqlite, and prints result rows pipe-separated like the real CLI.
func biSqlite3(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	name := "default"
	var query string
	switch len(args) {
	case 0:
		return ResultErr("sqlite3: usage: sqlite3 [db] 'SQL'\n", 2), sb
	case 1:
		query = args[0]
	default:
		name = args[0]
		query = args[1]
	}
	db, sb2, err := sb.sqliteHandle(name)
	sb = sb2
	if err != nil {
		return ResultErr(fmt.Sprintf("sqlite3: %s\n", err), 1), sb
	}
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if strings.HasPrefix(trimmed, "SELECT") {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return ResultErr(fmt.Sprintf("sqlite3: %s\n", err), 1), sb
		}
		defer rows.Close()
		cols, _ := rows.Columns()
		var out strings.Builder
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return ResultErr(fmt.Sprintf("sqlite3: %s\n", err), 1), sb
			}
			strs := make([]string, len(vals))
			for i, v := range vals {
				strs[i] = fmt.Sprint(v)
			}
			out.WriteString(strings.Join(strs, "|"))
			out.WriteByte('\n')
		}
		return ResultOK(out.String()), sb
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return ResultErr(fmt.Sprintf("sqlite3: %s\n", err), 1), sb
	}
	return Result{}, sb
}

// sqliteHandle returns the open *sql.DB named name, opening a fresh
// in-memory database and recording it in sb.sqlite on first use. The
// returned Sandbox shares its sqlite map with sb via copy-on-write, except
// when a new handle is actually opened.
func (sb Sandbox) sqliteHandle(name string) (*sql.DB, Sandbox, error) {
	if db, ok := sb.sqlite[name]; ok {
		return db, sb, nil
	}
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		return nil, sb, err
	}
	nm := make(map[string]*sql.DB, len(sb.sqlite)+1)
	for k, v := range sb.sqlite {
		nm[k] = v
	}
	nm[name] = db
	sb.sqlite = nm
	return db, sb, nil
}

// biCurl implements the HTTP client contract against Sandbox.HTTP, refusing
// hosts outside Sandbox.Network.Allow and pacing requests through
// Sandbox.Network.Limiter.
func biCurl(ctx context.Context, sb Sandbox, args []string, stdin string) (Result, Sandbox) {
	if !sb.Network.Enabled || sb.HTTP == nil {
		return ResultErr("curl: network disabled\n", 6), sb
	}
	method := "GET"
	var url, body string
	headers := map[string]string{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-X":
			i++
			if i < len(args) {
				method = args[i]
			}
		case "-d", "--data":
			i++
			if i < len(args) {
				body = args[i]
				if method == "GET" {
					method = "POST"
				}
			}
		case "-H":
			i++
			if i < len(args) {
				k, v, ok := strings.Cut(args[i], ":")
				if ok {
					headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
				}
			}
		default:
			url = args[i]
		}
	}
	if !hostAllowed(sb.Network.Allow, url) {
		return ResultErr(fmt.Sprintf("curl: host not allowed: %s\n", url), 6), sb
	}
	if sb.Network.Limiter != nil {
		if err := sb.Network.Limiter.Wait(ctx); err != nil {
			return ResultErr(fmt.Sprintf("curl: %s\n", err), 1), sb
		}
	}
	resp, err := sb.HTTP.Do(ctx, HTTPRequest{
		Method:          method,
		URL:             url,
		Headers:         headers,
		Body:            body,
		FollowRedirects: true,
	})
	if err != nil {
		return ResultErr(fmt.Sprintf("curl: %s\n", err), 7), sb
	}
	return ResultOK(resp.Body), sb
}

// hostAllowed checks rawurl's host against allow, each entry of which may
// carry a leading "*." wildcard, using the shared glob/regex engine rather
// than a second ad hoc matcher.
func hostAllowed(allow []string, rawurl string) bool {
	host := extractHost(rawurl)
	if host == "" {
		return false
	}
	for _, a := range allow {
		rx, err := pattern.Compile(a, pattern.EntireString)
		if err != nil {
			if a == host {
				return true
			}
			continue
		}
		if rx.MatchString(host) {
			return true
		}
	}
	return false
}

func extractHost(rawurl string) string {
	s := rawurl
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}
