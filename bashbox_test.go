package bashbox

import (
	"context"
	"strconv"
	"testing"

	qt "github.com/frankban/quicktest"

	"hbash.dev/bashbox/vfs"
)

// stubHTTPClient always succeeds, standing in for a real network client so
// curl's host-allow-list check (rather than its "network disabled" guard)
// is what gets exercised.
type stubHTTPClient struct{}

func (stubHTTPClient) Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	return HTTPResponse{Status: 200, Body: "ok"}, nil
}

func run(t *testing.T, script string) (Result, Sandbox) {
	t.Helper()
	sb := New(Config{})
	return Exec(sb, script)
}

func TestBraceGlobParamArith(t *testing.T) {
	script := `a=(one two three); for i in 1 2 3; do echo $i:${a[$((i-1))]}; done`
	res, sb := run(t, script)
	qt.Assert(t, res.Stdout, qt.Equals, "1:one\n2:two\n3:three\n")
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(0))
	qt.Assert(t, sb.Env.Get("?").String(), qt.Equals, "0")
}

func TestHeredocSubstitution(t *testing.T) {
	script := "x=world\ncat <<EOF\nhello $x\nEOF\n"
	res, _ := run(t, script)
	qt.Assert(t, res.Stdout, qt.Equals, "hello world\n")
}

func TestPipelinePipefail(t *testing.T) {
	script := `set -o pipefail; false | true; echo $?`
	res, _ := run(t, script)
	qt.Assert(t, res.Stdout, qt.Equals, "1\n")
}

func TestErrexitRespectsConditional(t *testing.T) {
	script := `set -e; if false; then echo a; else echo b; fi; echo done`
	res, _ := run(t, script)
	qt.Assert(t, res.Stdout, qt.Equals, "b\ndone\n")
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(0))
}

func TestParamExpansionAssignDefault(t *testing.T) {
	script := `echo ${x:=hello}; echo $x`
	res, _ := run(t, script)
	qt.Assert(t, res.Stdout, qt.Equals, "hello\nhello\n")
}

func TestPipelineIsolation(t *testing.T) {
	// Universal invariant: subshell writes never escape into the parent.
	script := `x=1; (x=2); echo $x`
	res, _ := run(t, script)
	qt.Assert(t, res.Stdout, qt.Equals, "1\n")
}

func TestExitCodeMirroredInEnv(t *testing.T) {
	script := `false`
	res, sb := run(t, script)
	qt.Assert(t, sb.Env.Get("?").String(), qt.Equals, strconv.Itoa(int(res.ExitCode)))
}

func TestArithmeticIdentitiesAndDivisionByZero(t *testing.T) {
	res, _ := run(t, `echo $((7)); echo $((0/0)); echo $((1 && 1)); echo $((0 && 1))`)
	qt.Assert(t, res.Stdout, qt.Equals, "7\n0\n1\n0\n")
}

func TestArithmeticBaseDigitsLiteral(t *testing.T) {
	res, _ := run(t, `echo $((16#FF)); echo $((2#1010)); echo $((8#17))`)
	qt.Assert(t, res.Stdout, qt.Equals, "255\n10\n15\n")
}

func TestErrexitExemptsNegatedPipeline(t *testing.T) {
	res, _ := run(t, `set -e; ! true; echo after`)
	qt.Assert(t, res.Stdout, qt.Equals, "after\n")
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(0))
}

func TestNounsetRejectsUnboundVariable(t *testing.T) {
	res, _ := run(t, `set -u; echo $missing`)
	qt.Assert(t, res.ExitCode, qt.Not(qt.Equals), uint8(0))
	qt.Assert(t, res.Stderr, qt.Contains, "unbound variable")
}

func TestCommandNotFound(t *testing.T) {
	res, _ := run(t, `totally-not-a-real-command`)
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(127))
	qt.Assert(t, res.Stderr, qt.Contains, "command not found")
}

func TestParseErrorExitsTwo(t *testing.T) {
	res, _ := run(t, `echo "unterminated`)
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(2))
}

func TestSeededFilesSurviveExec(t *testing.T) {
	sb := New(Config{Files: map[string]FileInit{
		"/data/in.txt": {Content: []byte("seed\n")},
	}})
	res, sb2 := Exec(sb, `cat /data/in.txt`)
	qt.Assert(t, res.Stdout, qt.Equals, "seed\n")
	if _, ok := sb2.FS.Lookup("/data/in.txt"); !ok {
		t.Fatalf("expected /data/in.txt to still exist after exec")
	}
}

func TestMaterializeFilesResolvesLazyContent(t *testing.T) {
	sb := New(Config{Files: map[string]FileInit{
		"/lazy.txt": {Lazy: func(vfs.Lookup) ([]byte, error) { return []byte("resolved"), nil }},
	}})
	sb, err := MaterializeFiles(sb)
	qt.Assert(t, err, qt.IsNil)
	data, err := sb.FS.ReadFile("/lazy.txt", sb.Lookup())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, string(data), qt.Equals, "resolved")
}

func TestNetworkDeniedWithoutAllowList(t *testing.T) {
	sb := New(Config{
		Network: NetworkConfig{Enabled: true, Allow: []string{"example.com"}},
		HTTP:    stubHTTPClient{},
	})
	res, _ := Exec(sb, `curl http://blocked.test/`)
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(6))
	qt.Assert(t, res.Stderr, qt.Contains, "not allowed")
}

func TestNetworkAllowedHostSucceeds(t *testing.T) {
	sb := New(Config{
		Network: NetworkConfig{Enabled: true, Allow: []string{"example.com"}},
		HTTP:    stubHTTPClient{},
	})
	res, _ := Exec(sb, `curl http://example.com/`)
	qt.Assert(t, res.ExitCode, qt.Equals, uint8(0))
	qt.Assert(t, res.Stdout, qt.Equals, "ok")
}
