package expand

import "sort"

// Variable is the value of a shell variable: a scalar string, an indexed
// array ([]string), or an associative array (map[string]string).
type Variable struct {
	Value    interface{} // nil, string, []string, or map[string]string
	Exported bool
	ReadOnly bool
}

func (v Variable) IsSet() bool { return v.Value != nil }

// String renders v the way bash does when a variable is used in a scalar
// context: arrays yield their first element (index "0" for indexed arrays,
// or the lexicographically first key for associative ones).
func (v Variable) String() string {
	switch x := v.Value.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		if len(x) == 0 {
			return ""
		}
		return x[0]
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			return ""
		}
		sort.Strings(keys)
		return x[keys[0]]
	}
	return ""
}

// IndexArray coerces v to an indexed array's elements, or a single-element
// slice for a scalar, matching bash's "${arr[@]}" semantics for non-arrays.
func (v Variable) IndexArray() []string {
	switch x := v.Value.(type) {
	case []string:
		return x
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = x[k]
		}
		return out
	case string:
		return []string{x}
	}
	return nil
}

// Environ is a read-only view over a set of shell variables, implemented by
// an immutable snapshot so expansion never mutates shared sandbox state
// directly; changes flow back out as [PendingAssign] values instead.
type Environ interface {
	Get(name string) Variable
	Each(func(name string, vr Variable) bool)
}

// MapEnviron is the straightforward Environ backed by a Go map, used both
// as the sandbox's own storage representation and in tests.
type MapEnviron map[string]Variable

func (m MapEnviron) Get(name string) Variable { return m[name] }

func (m MapEnviron) Each(f func(name string, vr Variable) bool) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if !f(n, m[n]) {
			return
		}
	}
}

// With returns a new MapEnviron with name set to vr, leaving m untouched;
// this is the copy-on-write primitive the rest of bashbox builds on.
func (m MapEnviron) With(name string, vr Variable) MapEnviron {
	nm := make(MapEnviron, len(m)+1)
	for k, v := range m {
		nm[k] = v
	}
	nm[name] = vr
	return nm
}

// WithAll applies every pending assignment at once, still sharing the
// original map's untouched entries.
func (m MapEnviron) WithAll(assigns []PendingAssign) MapEnviron {
	if len(assigns) == 0 {
		return m
	}
	nm := make(MapEnviron, len(m)+len(assigns))
	for k, v := range m {
		nm[k] = v
	}
	for _, a := range assigns {
		nm[a.Name] = a.Value
	}
	return nm
}

// PendingAssign is a deferred variable write produced while expanding a
// word (e.g. ${v:=default} or "i++" inside arithmetic). The caller is responsible for folding these back
// into the sandbox's environment, keeping the expansion engine itself
// free of ambient mutable state.
type PendingAssign struct {
	Name  string
	Value Variable
}
