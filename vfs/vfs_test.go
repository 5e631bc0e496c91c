package vfs

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteReadFile(t *testing.T) {
	t.Parallel()
	fs := Empty()
	fs = fs.WriteFile("/a/b/c.txt", []byte("hello"), 0644)

	got, err := fs.ReadFile("/a/b/c.txt", NoLookup{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("ReadFile = %q, want %q", got, "hello")
	}

	entry, ok := fs.Lookup("/a")
	if !ok || entry.Kind != Dir {
		t.Fatalf("expected /a to exist as an implicitly-created directory")
	}
}

func TestAppendFile(t *testing.T) {
	t.Parallel()
	fs := Empty().WriteFile("/log", []byte("one\n"), 0644)
	fs, err := fs.AppendFile("/log", []byte("two\n"), 0, NoLookup{})
	if err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	got, _ := fs.ReadFile("/log", NoLookup{})
	if string(got) != "one\ntwo\n" {
		t.Fatalf("ReadFile = %q", got)
	}
}

func TestMkdirAndChildren(t *testing.T) {
	t.Parallel()
	fs := Empty()
	fs, err := fs.Mkdir("/a/b", 0755, true)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	fs = fs.WriteFile("/a/b/x.txt", []byte("x"), 0644)
	fs = fs.WriteFile("/a/y.txt", []byte("y"), 0644)

	children, err := fs.Children("/a")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	want := []string{"b", "y.txt"}
	if diff := cmp.Diff(want, children); diff != "" {
		t.Fatalf("Children mismatch (-want +got):\n%s", diff)
	}
}

func TestMkdirExistsError(t *testing.T) {
	t.Parallel()
	fs := Empty().WriteFile("/a/b.txt", []byte("x"), 0644)
	if _, err := fs.Mkdir("/a", 0755, false); !errors.Is(err, ErrExist) {
		t.Fatalf("Mkdir on existing path: err = %v, want ErrExist", err)
	}
}

func TestRemoveNonEmptyDirRequiresRecursive(t *testing.T) {
	t.Parallel()
	fs := Empty().WriteFile("/a/b.txt", []byte("x"), 0644)
	if _, err := fs.Remove("/a", false); err == nil {
		t.Fatalf("Remove non-recursive on non-empty dir: want error, got nil")
	}
	fs2, err := fs.Remove("/a", true)
	if err != nil {
		t.Fatalf("Remove recursive: %v", err)
	}
	if _, ok := fs2.Lookup("/a/b.txt"); ok {
		t.Fatalf("expected /a/b.txt to be gone after recursive remove")
	}
}

func TestRenameMovesSubtree(t *testing.T) {
	t.Parallel()
	fs := Empty().WriteFile("/a/b.txt", []byte("x"), 0644)
	fs, err := fs.Rename("/a", "/z")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, ok := fs.Lookup("/a/b.txt"); ok {
		t.Fatalf("expected /a/b.txt to be gone after rename")
	}
	got, err := fs.ReadFile("/z/b.txt", NoLookup{})
	if err != nil || string(got) != "x" {
		t.Fatalf("ReadFile(/z/b.txt) = %q, %v", got, err)
	}
}

func TestSymlinkResolution(t *testing.T) {
	t.Parallel()
	fs := Empty().WriteFile("/target.txt", []byte("payload"), 0644)
	fs = fs.Symlink("/target.txt", "/link.txt")
	got, err := fs.ReadFile("/link.txt", NoLookup{})
	if err != nil {
		t.Fatalf("ReadFile via symlink: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("ReadFile via symlink = %q", got)
	}
}

func TestImmutability(t *testing.T) {
	t.Parallel()
	base := Empty().WriteFile("/a.txt", []byte("a"), 0644)
	derived := base.WriteFile("/b.txt", []byte("b"), 0644)

	if _, ok := base.Lookup("/b.txt"); ok {
		t.Fatalf("base FS must not observe a write made on derived")
	}
	if _, ok := derived.Lookup("/a.txt"); !ok {
		t.Fatalf("derived FS must still contain entries from base")
	}
}

func TestGlobStar(t *testing.T) {
	t.Parallel()
	fs := Empty().
		WriteFile("/src/a.go", nil, 0644).
		WriteFile("/src/pkg/b.go", nil, 0644).
		WriteFile("/src/pkg/readme.md", nil, 0644)

	matches, err := fs.Glob("/", "/src/**/*.go")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{"/src/a.go", "/src/pkg/b.go"}
	if diff := cmp.Diff(want, matches); diff != "" {
		t.Fatalf("Glob mismatch (-want +got):\n%s", diff)
	}
}

func TestLazyContentLoadedOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	fs := Empty().WriteContent("/lazy.txt", LazyFunc(func(Lookup) ([]byte, error) {
		calls++
		return []byte("seeded"), nil
	}), 0644)

	got, err := fs.ReadFile("/lazy.txt", NoLookup{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "seeded" {
		t.Fatalf("ReadFile = %q", got)
	}
	if calls != 1 {
		t.Fatalf("lazy loader called %d times, want 1", calls)
	}
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Empty().ReadFile("/nope.txt", NoLookup{})
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("ReadFile on missing path: err = %v, want ErrNotExist", err)
	}
}
