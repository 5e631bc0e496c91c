package interp

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"hbash.dev/bashbox/expand"
	"hbash.dev/bashbox/syntax"
	"hbash.dev/bashbox/vfs"
)

func newSandbox() Sandbox {
	return Sandbox{
		Env: expand.MapEnviron{"?": {Value: "0"}},
		FS:  vfs.Empty(),
		Cwd: "/",
	}
}

func runScript(t *testing.T, sb Sandbox, script string) (Result, Sandbox) {
	t.Helper()
	file, err := syntax.NewParser().Parse(script, "")
	if err != nil {
		t.Fatalf("parse %q: %v", script, err)
	}
	return NewRunner().Run(context.Background(), sb, file)
}

func TestRedirectStderrOnly(t *testing.T) {
	sb := newSandbox()
	// A command writing only to stdout must leave a 2> file empty, proving
	// applyOutputRedirs dispatches fd 2 separately from fd 1.
	_, sb = runScript(t, sb, `echo hello 2>/err.txt`)
	data, err := sb.FS.ReadFile("/err.txt", sb.lookup())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, string(data), qt.Equals, "")
}

func TestEvalPersistsAssignment(t *testing.T) {
	sb := newSandbox()
	res, sb2 := runScript(t, sb, `eval "x=42"; echo $x`)
	qt.Assert(t, res.Stdout, qt.Equals, "42\n")
	qt.Assert(t, sb2.Env.Get("x").String(), qt.Equals, "42")
}

func TestEvalDefinesFunction(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `eval 'greet() { echo hi; }'; greet`)
	qt.Assert(t, res.Stdout, qt.Equals, "hi\n")
}

func TestDoubleBracketGlobMatch(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `[[ "file.txt" == *.txt ]] && echo match`)
	qt.Assert(t, res.Stdout, qt.Equals, "match\n")
}

func TestDoubleBracketRegexMatch(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `[[ "abc123" =~ ^[a-z]+[0-9]+$ ]] && echo match`)
	qt.Assert(t, res.Stdout, qt.Equals, "match\n")
}

func TestDoubleBracketShortCircuitAnd(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `[[ -n "x" && -z "" ]] && echo both`)
	qt.Assert(t, res.Stdout, qt.Equals, "both\n")
}

func TestTestBuiltinStringComparison(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `test "a" = "a" && echo eq`)
	qt.Assert(t, res.Stdout, qt.Equals, "eq\n")
}

func TestTestBuiltinArithmeticComparison(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `[ 3 -lt 5 ] && echo less`)
	qt.Assert(t, res.Stdout, qt.Equals, "less\n")
}

func TestJQFieldAccess(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `echo '{"name":"bashbox","count":3}' | jq .name`)
	qt.Assert(t, res.Stdout, qt.Equals, "\"bashbox\"\n")
}

func TestJQPipeChain(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `echo '{"items":["a","b","c"]}' | jq '.items | length'`)
	qt.Assert(t, res.Stdout, qt.Equals, "3\n")
}

func TestSqlite3RoundTrip(t *testing.T) {
	sb := newSandbox()
	script := `sqlite3 mem.db "CREATE TABLE t (n INTEGER)"
sqlite3 mem.db "INSERT INTO t VALUES (1), (2)"
sqlite3 mem.db "SELECT n FROM t ORDER BY n"`
	res, _ := runScript(t, sb, script)
	qt.Assert(t, res.Stdout, qt.Equals, "1\n2\n")
}

func TestCoreutilsPipeline(t *testing.T) {
	sb := newSandbox()
	sb.FS = sb.FS.WriteFile("/words.txt", []byte("banana\napple\ncherry\napple\n"), 0644)
	res, _ := runScript(t, sb, `sort /words.txt | uniq`)
	qt.Assert(t, res.Stdout, qt.Equals, "apple\nbanana\ncherry\n")
}

func TestSedSubstitution(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `echo "foo bar foo" | sed 's/foo/baz/g'`)
	qt.Assert(t, res.Stdout, qt.Equals, "baz bar baz\n")
}

func TestCutFields(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `echo "a:b:c" | cut -d: -f2`)
	qt.Assert(t, res.Stdout, qt.Equals, "b\n")
}

func TestDoubleBracketSymlinkAndVarsetTests(t *testing.T) {
	sb := newSandbox()
	sb.FS = sb.FS.WriteFile("/target.txt", []byte("x"), 0644)
	sb.FS = sb.FS.Symlink("/target.txt", "/link.txt")
	res, _ := runScript(t, sb, `[[ -L /link.txt ]] && echo link; [[ -a /target.txt ]] && echo exists`)
	qt.Assert(t, res.Stdout, qt.Equals, "link\nexists\n")

	sb.Env = sb.Env.With("x", expand.Variable{Value: "1"})
	res2, _ := runScript(t, sb, `[[ -v x ]] && echo set; [[ -v missing ]] || echo unset`)
	qt.Assert(t, res2.Stdout, qt.Equals, "set\nunset\n")
}

func TestSetToggleNounset(t *testing.T) {
	sb := newSandbox()
	res, _ := runScript(t, sb, `set -u; echo ${missing:-ok}`)
	qt.Assert(t, res.Stdout, qt.Equals, "ok\n")
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(0))
}
