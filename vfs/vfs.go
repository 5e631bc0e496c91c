// Package vfs implements the hermetic, value-semantic virtual filesystem
// that backs a bashbox sandbox. An FS is an immutable snapshot: every
// mutating operation returns a new FS sharing unmodified subtrees with the
// original, the same copy-on-write discipline bashbox.Sandbox applies to
// its environment map.
package vfs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind identifies what an Entry represents.
type Kind uint8

const (
	File Kind = iota
	Dir
	Symlink
)

// Lookup is the minimal read-only sandbox view lazy Content may consult
// while resolving its bytes, e.g. a seed file whose content depends on an
// environment variable the script has set by the time it is first read.
type Lookup interface {
	Env(name string) string
}

// Content is the data backing a regular file. Bytes is used for file
// writes produced during interpretation; LazyFunc lets a config-provided
// seed file defer reading its bytes until the script actually touches it.
type Content interface {
	Resolve(lk Lookup) ([]byte, error)
	// Size reports the content's length without resolving it, when known
	// synchronously; lazy content that must run its callback to learn its
	// length reports ok == false.
	Size() (n int, ok bool)
}

// Bytes is a Content holding an in-memory byte slice.
type Bytes []byte

func (b Bytes) Resolve(Lookup) ([]byte, error) { return []byte(b), nil }
func (b Bytes) Size() (int, bool)              { return len(b), true }

// LazyFunc is a Content that defers to a callback, e.g. one that reads a
// real file from the host at sandbox-construction time and caches it only
// on first use inside the script. The callback receives the sandbox's
// Lookup view so it can vary its bytes by environment state.
type LazyFunc func(lk Lookup) ([]byte, error)

func (f LazyFunc) Resolve(lk Lookup) ([]byte, error) { return f(lk) }
func (f LazyFunc) Size() (int, bool)                 { return 0, false }

// NoLookup is a Lookup with no environment, for callers that read the
// virtual filesystem with no sandbox in scope (e.g. tests seeding files
// directly).
type NoLookup struct{}

func (NoLookup) Env(string) string { return "" }

// Entry is one node of the filesystem tree: a file, directory, or symlink.
// Entries are immutable; every field is set once at construction.
type Entry struct {
	Kind     Kind
	Mode     uint32 // unix-style permission bits, e.g. 0644
	Content  Content // set when Kind == File
	Target   string  // symlink target, set when Kind == Symlink
	ModTime  time.Time
}

// FS is an immutable snapshot of a directory tree, keyed by clean absolute
// path ("/a/b/c"). The root "/" always exists implicitly as a directory.
type FS struct {
	entries map[string]*Entry
}

// Empty returns an FS containing only the root directory.
func Empty() FS {
	return FS{entries: map[string]*Entry{}}
}

// Clean normalizes a path: it is made absolute against "/" if relative,
// "." and ".." segments are resolved, and the result never ends in "/"
// except for the root itself.
func Clean(path string) string {
	if path == "" {
		return "/"
	}
	abs := path
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	segs := strings.Split(abs, "/")
	var out []string
	for _, s := range segs {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return "/" + strings.Join(out, "/")
}

func dir(path string) string {
	path = Clean(path)
	if path == "/" {
		return "/"
	}
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func base(path string) string {
	path = Clean(path)
	if path == "/" {
		return "/"
	}
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

// Lookup returns the entry at path and whether it exists. It does not
// follow symlinks; use Stat for that.
func (f FS) Lookup(path string) (*Entry, bool) {
	path = Clean(path)
	if path == "/" {
		return &Entry{Kind: Dir, Mode: 0755}, true
	}
	e, ok := f.entries[path]
	return e, ok
}

// Stat resolves symlinks (up to a small hop limit, mirroring POSIX
// ELOOP behavior) and returns the final entry.
func (f FS) Stat(path string) (*Entry, string, error) {
	resolved := Clean(path)
	for i := 0; i < 40; i++ {
		e, ok := f.Lookup(resolved)
		if !ok {
			return nil, resolved, &PathError{Op: "stat", Path: path, Err: ErrNotExist}
		}
		if e.Kind != Symlink {
			return e, resolved, nil
		}
		target := e.Target
		if !strings.HasPrefix(target, "/") {
			target = dir(resolved) + "/" + target
		}
		resolved = Clean(target)
	}
	return nil, resolved, &PathError{Op: "stat", Path: path, Err: fmt.Errorf("too many levels of symbolic links")}
}

// Children lists the direct children of a directory, sorted by name.
func (f FS) Children(path string) ([]string, error) {
	e, resolved, err := f.Stat(path)
	if err != nil {
		return nil, err
	}
	if e.Kind != Dir {
		return nil, &PathError{Op: "readdir", Path: path, Err: ErrNotDir}
	}
	prefix := resolved
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var names []string
	for p := range f.entries {
		if !strings.HasPrefix(p, prefix) || p == resolved {
			continue
		}
		rest := p[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" && !seen[rest] {
			seen[rest] = true
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

// with returns a copy of f with path set to e (or removed, if e is nil),
// sharing the underlying map's untouched entries via copy-on-write.
func (f FS) with(path string, e *Entry) FS {
	nf := FS{entries: make(map[string]*Entry, len(f.entries)+1)}
	for k, v := range f.entries {
		nf.entries[k] = v
	}
	if e == nil {
		delete(nf.entries, path)
	} else {
		nf.entries[path] = e
	}
	return nf
}

func (f FS) withAll(updates map[string]*Entry, removals []string) FS {
	nf := FS{entries: make(map[string]*Entry, len(f.entries)+len(updates))}
	for k, v := range f.entries {
		nf.entries[k] = v
	}
	for _, r := range removals {
		delete(nf.entries, r)
	}
	for k, v := range updates {
		nf.entries[k] = v
	}
	return nf
}

// ensureDirs returns an FS with every ancestor of path present as a
// directory, creating any that are missing.
func (f FS) ensureDirs(path string) FS {
	path = Clean(path)
	if path == "/" {
		return f
	}
	var missing []string
	d := dir(path)
	for d != "/" {
		if _, ok := f.entries[d]; ok {
			break
		}
		missing = append(missing, d)
		d = dir(d)
	}
	if len(missing) == 0 {
		return f
	}
	updates := make(map[string]*Entry, len(missing))
	for _, m := range missing {
		updates[m] = &Entry{Kind: Dir, Mode: 0755, ModTime: f.now()}
	}
	return f.withAll(updates, nil)
}

func (f FS) now() time.Time { return time.Time{} }

// WriteFile returns a new FS with path set to contain data, creating
// parent directories as needed. perm defaults to 0644 when zero.
func (f FS) WriteFile(path string, data []byte, perm uint32) FS {
	if perm == 0 {
		perm = 0644
	}
	path = Clean(path)
	nf := f.ensureDirs(path)
	return nf.with(path, &Entry{Kind: File, Mode: perm, Content: Bytes(data)})
}

// WriteContent is like WriteFile but accepts an arbitrary Content, used to
// seed lazily-loaded files from sandbox configuration.
func (f FS) WriteContent(path string, c Content, perm uint32) FS {
	if perm == 0 {
		perm = 0644
	}
	path = Clean(path)
	nf := f.ensureDirs(path)
	return nf.with(path, &Entry{Kind: File, Mode: perm, Content: c})
}

// AppendFile returns a new FS with data appended to the file at path,
// creating it (and its parents) if it does not already exist. lk is passed
// through to any existing lazy content that must resolve itself first.
func (f FS) AppendFile(path string, data []byte, perm uint32, lk Lookup) (FS, error) {
	path = Clean(path)
	existing, ok := f.entries[path]
	if !ok {
		return f.WriteFile(path, data, perm), nil
	}
	if existing.Kind != File {
		return f, &PathError{Op: "open", Path: path, Err: ErrIsDir}
	}
	old, err := existing.Content.Resolve(lk)
	if err != nil {
		return f, err
	}
	combined := append(append([]byte{}, old...), data...)
	mode := existing.Mode
	if perm != 0 {
		mode = perm
	}
	return f.with(path, &Entry{Kind: File, Mode: mode, Content: Bytes(combined)}), nil
}

// ReadFile returns the contents of the file at path, following symlinks.
// lk is the sandbox view passed to lazy content so it can resolve itself.
func (f FS) ReadFile(path string, lk Lookup) ([]byte, error) {
	e, resolved, err := f.Stat(path)
	if err != nil {
		return nil, err
	}
	if e.Kind == Dir {
		return nil, &PathError{Op: "read", Path: resolved, Err: ErrIsDir}
	}
	return e.Content.Resolve(lk)
}

// Mkdir returns a new FS with path created as a directory.
func (f FS) Mkdir(path string, perm uint32, all bool) (FS, error) {
	path = Clean(path)
	if _, ok := f.entries[path]; ok {
		if all {
			return f, nil
		}
		return f, &PathError{Op: "mkdir", Path: path, Err: ErrExist}
	}
	if !all {
		if _, ok := f.entries[dir(path)]; !ok && dir(path) != "/" {
			return f, &PathError{Op: "mkdir", Path: path, Err: ErrNotExist}
		}
	}
	nf := f.ensureDirs(path)
	if perm == 0 {
		perm = 0755
	}
	return nf.with(path, &Entry{Kind: Dir, Mode: perm}), nil
}

// Remove returns a new FS with path removed. If recursive is false and
// path is a non-empty directory, it returns an error.
func (f FS) Remove(path string, recursive bool) (FS, error) {
	path = Clean(path)
	e, ok := f.entries[path]
	if !ok {
		return f, &PathError{Op: "remove", Path: path, Err: ErrNotExist}
	}
	if e.Kind != Dir {
		return f.with(path, nil), nil
	}
	children, _ := f.Children(path)
	if len(children) > 0 && !recursive {
		return f, &PathError{Op: "remove", Path: path, Err: fmt.Errorf("directory not empty")}
	}
	prefix := path + "/"
	var removals []string
	for p := range f.entries {
		if p == path || strings.HasPrefix(p, prefix) {
			removals = append(removals, p)
		}
	}
	return f.withAll(nil, removals), nil
}

// Rename returns a new FS with the subtree at oldPath moved to newPath.
func (f FS) Rename(oldPath, newPath string) (FS, error) {
	oldPath, newPath = Clean(oldPath), Clean(newPath)
	e, ok := f.entries[oldPath]
	if !ok {
		return f, &PathError{Op: "rename", Path: oldPath, Err: ErrNotExist}
	}
	if e.Kind != Dir {
		nf := f.ensureDirs(newPath)
		nf = nf.with(newPath, e)
		nf = nf.with(oldPath, nil)
		return nf, nil
	}
	prefix := oldPath + "/"
	updates := map[string]*Entry{newPath: e}
	var removals []string
	for p, v := range f.entries {
		if strings.HasPrefix(p, prefix) {
			updates[newPath+"/"+p[len(prefix):]] = v
			removals = append(removals, p)
		}
	}
	removals = append(removals, oldPath)
	nf := f.ensureDirs(newPath)
	return nf.withAll(updates, removals), nil
}

// Copy returns a new FS with the subtree at src duplicated at dst.
func (f FS) Copy(src, dst string, recursive bool) (FS, error) {
	src, dst = Clean(src), Clean(dst)
	e, ok := f.entries[src]
	if !ok {
		return f, &PathError{Op: "copy", Path: src, Err: ErrNotExist}
	}
	if e.Kind == Dir {
		if !recursive {
			return f, &PathError{Op: "copy", Path: src, Err: fmt.Errorf("omitting directory, use recursive copy")}
		}
		prefix := src + "/"
		updates := map[string]*Entry{dst: e}
		for p, v := range f.entries {
			if strings.HasPrefix(p, prefix) {
				updates[dst+"/"+p[len(prefix):]] = v
			}
		}
		nf := f.ensureDirs(dst)
		return nf.withAll(updates, nil), nil
	}
	nf := f.ensureDirs(dst)
	return nf.with(dst, e), nil
}

// Symlink returns a new FS containing a symlink at linkPath pointing at
// target (which may be relative to linkPath's directory).
func (f FS) Symlink(target, linkPath string) FS {
	linkPath = Clean(linkPath)
	nf := f.ensureDirs(linkPath)
	return nf.with(linkPath, &Entry{Kind: Symlink, Target: target})
}

// Chmod returns a new FS with path's permission bits set to mode.
func (f FS) Chmod(path string, mode uint32) (FS, error) {
	path = Clean(path)
	e, ok := f.entries[path]
	if !ok {
		return f, &PathError{Op: "chmod", Path: path, Err: ErrNotExist}
	}
	ne := *e
	ne.Mode = mode
	return f.with(path, &ne), nil
}

// Glob returns every path matching the shell pattern pat, resolved
// relative to cwd unless pat is absolute. Recursive "**" segments are
// supported via github.com/bmatcuk/doublestar.
func (f FS) Glob(cwd, pat string) ([]string, error) {
	if !strings.HasPrefix(pat, "/") {
		pat = Clean(cwd + "/" + pat)
	} else {
		pat = Clean(pat)
	}
	if !doublestar.ValidatePattern(strings.TrimPrefix(pat, "/")) {
		return nil, fmt.Errorf("invalid pattern %q", pat)
	}
	var all []string
	for p := range f.entries {
		all = append(all, p)
	}
	sort.Strings(all)
	var matches []string
	trimmed := strings.TrimPrefix(pat, "/")
	for _, p := range all {
		if ok, _ := doublestar.Match(trimmed, strings.TrimPrefix(p, "/")); ok {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// PathError mirrors os.PathError so interp can format messages the way
// bash's own builtins do ("cat: foo: No such file or directory").
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Op + " " + e.Path + ": " + e.Err.Error() }
func (e *PathError) Unwrap() error  { return e.Err }

var (
	ErrNotExist = fmt.Errorf("no such file or directory")
	ErrExist    = fmt.Errorf("file exists")
	ErrIsDir    = fmt.Errorf("is a directory")
	ErrNotDir   = fmt.Errorf("not a directory")
)
