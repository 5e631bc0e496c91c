package expand

import (
	"context"
	"testing"

	"hbash.dev/bashbox/syntax"
)

// parseWord parses "echo <word>" and returns the expanded word's AST node,
// letting tests exercise real parser output instead of hand-built ASTs.
func parseWord(t *testing.T, word string) *syntax.Word {
	t.Helper()
	file, err := syntax.NewParser().Parse("echo "+word, "")
	if err != nil {
		t.Fatalf("parse %q: %v", word, err)
	}
	ce, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(ce.Args) < 2 {
		t.Fatalf("parse %q: expected a call with one argument", word)
	}
	return ce.Args[1]
}

func newCtx(env MapEnviron) *Context {
	return &Context{Env: env, Cwd: "/"}
}

func TestExpandLiteralParamDefault(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{})
	got := ec.ExpandLiteral(ctx, parseWord(t, `${name:-world}`))
	if got != "world" {
		t.Fatalf("ExpandLiteral = %q, want %q", got, "world")
	}
}

func TestExpandLiteralParamSet(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{"name": {Value: "alice"}})
	got := ec.ExpandLiteral(ctx, parseWord(t, `${name:-world}`))
	if got != "alice" {
		t.Fatalf("ExpandLiteral = %q, want %q", got, "alice")
	}
}

func TestNounsetErrorsOnUnsetScalar(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{})
	ec.Nounset = true
	got := ec.ExpandLiteral(ctx, parseWord(t, `$missing`))
	if ec.Err == nil {
		t.Fatalf("expected Nounset to set Err for unset $missing, got nil (value %q)", got)
	}
	wantMsg := "missing: unbound variable"
	if ec.Err.Error() != wantMsg {
		t.Fatalf("Err = %q, want %q", ec.Err.Error(), wantMsg)
	}
}

func TestNounsetAllowsFallbackOperator(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{})
	ec.Nounset = true
	got := ec.ExpandLiteral(ctx, parseWord(t, `${missing:-fallback}`))
	if ec.Err != nil {
		t.Fatalf("unexpected Err with :- fallback operator: %v", ec.Err)
	}
	if got != "fallback" {
		t.Fatalf("ExpandLiteral = %q, want %q", got, "fallback")
	}
}

func TestNounsetAllowsSpecialParams(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{"@": {Value: []string{}}})
	ec.Nounset = true
	got := ec.ExpandLiteral(ctx, parseWord(t, `$#`))
	if ec.Err != nil {
		t.Fatalf("unexpected Err for positional-parameter pseudo-variable: %v", ec.Err)
	}
	if got != "0" {
		t.Fatalf("ExpandLiteral($#) = %q, want %q", got, "0")
	}
}

func TestCaseOps(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{"name": {Value: "hello world"}})
	got := ec.ExpandLiteral(ctx, parseWord(t, `${name^^}`))
	if got != "HELLO WORLD" {
		t.Fatalf("${name^^} = %q, want %q", got, "HELLO WORLD")
	}
}

func TestPrefixSuffixRemoval(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{"path": {Value: "/a/b/c.txt"}})
	got := ec.ExpandLiteral(ctx, parseWord(t, `${path##*/}`))
	if got != "c.txt" {
		t.Fatalf("${path##*/} = %q, want %q", got, "c.txt")
	}
}

func TestExpandFieldsSplitsOnIFS(t *testing.T) {
	ctx := context.Background()
	ec := newCtx(MapEnviron{"list": {Value: "a b  c"}})
	fields := ec.ExpandFields(ctx, parseWord(t, `$list`))
	want := []string{"a", "b", "c"}
	if len(fields) != len(want) {
		t.Fatalf("ExpandFields = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("ExpandFields = %v, want %v", fields, want)
		}
	}
}

func TestBraceExpansion(t *testing.T) {
	words := Braces(parseWord(t, `file{1,2,3}.txt`))
	if len(words) != 3 {
		t.Fatalf("Braces expanded to %d words, want 3", len(words))
	}
}
