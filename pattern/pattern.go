// Package pattern translates shell pattern-matching notation (globs) into
// regular expressions, for use by pathname expansion, parameter-expansion
// pattern operations, and the vfs package's glob support.
package pattern

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mode supplies options to the package's translation functions.
type Mode uint

const (
	Shortest     Mode = 1 << iota // prefer the shortest match
	Filenames                     // "*" and "?" don't match slashes; only "**" does
	EntireString                  // match the entire string using ^$ delimiters
	NoGlobCase                    // case-insensitive match
	NoGlobStar                    // do not support "**"
)

// SyntaxError reports a malformed pattern.
type SyntaxError struct {
	msg string
	err error
}

func (e *SyntaxError) Error() string { return e.msg }
func (e *SyntaxError) Unwrap() error { return e.err }

// caseFolder produces the canonical case-folded form of a literal string,
// used by FoldEqual for Unicode-aware case-insensitive comparisons. Plain
// regexp "(?i)" only folds ASCII, which is wrong for e.g. Turkish or German
// eszett; golang.org/x/text/cases implements the full Unicode folding tables.
var caseFolder = cases.Fold()

// FoldEqual reports whether a and b are equal under full Unicode case
// folding, used by glob matching and the ${v,,}/${v^^} family when a
// case-insensitive comparison is needed outside of a regexp engine.
func FoldEqual(a, b string) bool {
	return caseFolder.String(a) == caseFolder.String(b)
}

// Translate turns a shell pattern into a regular expression usable with
// [regexp.Compile]. For example, Translate(`foo*bar?`, Filenames) returns
// `(?s)foo[^/]*bar[^/]`.
func Translate(pat string, mode Mode) (string, error) {
	if mode&(EntireString|NoGlobCase) == 0 {
		needsEscaping := false
	noopLoop:
		for _, r := range pat {
			switch r {
			case '*', '?', '[', '\\', '.', '+', '(', ')', '|',
				']', '{', '}', '^', '$':
				needsEscaping = true
				break noopLoop
			}
		}
		if !needsEscaping {
			return pat, nil
		}
	}
	var sb strings.Builder
	sb.WriteString("(?s")
	if mode&NoGlobCase != 0 {
		sb.WriteString("i")
	}
	if mode&Shortest != 0 {
		sb.WriteString("U")
	}
	sb.WriteString(")")
	if mode&EntireString != 0 {
		sb.WriteString("^")
	}
	sl := stringLexer{s: pat}
	for {
		if err := regexpNext(&sb, &sl, mode); err == io.EOF {
			break
		} else if err != nil {
			return "", err
		}
	}
	if mode&EntireString != 0 {
		sb.WriteString("$")
	}
	return sb.String(), nil
}

// Compile is a convenience wrapper combining Translate and [regexp.Compile].
func Compile(pat string, mode Mode) (*regexp.Regexp, error) {
	expr, err := Translate(pat, mode)
	if err != nil {
		return nil, err
	}
	return regexp.Compile(expr)
}

// stringLexer tokenizes a pattern string one byte at a time. The null byte
// signals "no character", since shell strings cannot contain it.
type stringLexer struct {
	s string
	i int
}

func (sl *stringLexer) next() byte {
	if sl.i >= len(sl.s) {
		return '\x00'
	}
	c := sl.s[sl.i]
	sl.i++
	return c
}

func (sl *stringLexer) last() byte {
	if sl.i < 2 {
		return '\x00'
	}
	return sl.s[sl.i-2]
}

func (sl *stringLexer) peekNext() byte {
	if sl.i >= len(sl.s) {
		return '\x00'
	}
	return sl.s[sl.i]
}

func (sl *stringLexer) peekRest() string {
	return sl.s[sl.i:]
}

func regexpNext(sb *strings.Builder, sl *stringLexer, mode Mode) error {
	switch c := sl.next(); c {
	case '\x00':
		return io.EOF
	case '*':
		if mode&Filenames == 0 {
			sb.WriteString(".*")
			break
		}
		singleBefore := sl.i == 1 || sl.last() == '/'
		if sl.peekNext() == '*' {
			sl.i++
			singleAfter := sl.i == len(sl.s) || sl.peekNext() == '/'
			if mode&NoGlobStar == 0 && singleBefore && singleAfter {
				if sl.peekNext() == '/' {
					sl.i++
					sb.WriteString("((/|[^/.][^/]*)*/)?")
				} else {
					sb.WriteString("(/|[^/.][^/]*)*")
				}
				break
			}
		}
		if singleBefore {
			sb.WriteString("([^/.][^/]*)?")
		} else {
			sb.WriteString("[^/]*")
		}
	case '?':
		if mode&Filenames != 0 {
			sb.WriteString("[^/]")
		} else {
			sb.WriteByte('.')
		}
	case '\\':
		c = sl.next()
		if c == '\x00' {
			return &SyntaxError{msg: `\ at end of pattern`}
		}
		sb.WriteString(regexp.QuoteMeta(string(c)))
	case '[':
		if name, err := charClass(sl.peekRest()); err != nil {
			return &SyntaxError{msg: "invalid character class", err: err}
		} else if name != "" {
			sb.WriteByte('[')
			sb.WriteString(name)
			sl.i += len(name)
			break
		}
		if mode&Filenames != 0 {
			for _, c := range sl.peekRest() {
				if c == ']' {
					break
				} else if c == '/' {
					sb.WriteString("\\[")
					return nil
				}
			}
		}
		sb.WriteByte(c)
		if c = sl.next(); c == '\x00' {
			return &SyntaxError{msg: "[ was not matched with a closing ]"}
		}
		switch c {
		case '!', '^':
			sb.WriteByte('^')
			if c = sl.next(); c == '\x00' {
				return &SyntaxError{msg: "[ was not matched with a closing ]"}
			}
		}
		if c == ']' {
			sb.WriteByte(']')
			if c = sl.next(); c == '\x00' {
				return &SyntaxError{msg: "[ was not matched with a closing ]"}
			}
		}
		for {
			sb.WriteByte(c)
			switch c {
			case '\x00':
				return &SyntaxError{msg: "[ was not matched with a closing ]"}
			case '\\':
				if c = sl.next(); c != '0' {
					sb.WriteByte(c)
				}
			case '-':
				start := sl.last()
				end := sl.peekNext()
				if end != ']' && start > end {
					return &SyntaxError{msg: fmt.Sprintf("invalid range: %c-%c", start, end)}
				}
			case ']':
				return nil
			}
			c = sl.next()
		}
	default:
		if c > utf8.RuneSelf {
			sb.WriteByte(c)
		} else {
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return nil
}

func charClass(s string) (string, error) {
	if strings.HasPrefix(s, "[.") || strings.HasPrefix(s, "[=") {
		return "", fmt.Errorf("collating features not available")
	}
	name, ok := strings.CutPrefix(s, "[:")
	if !ok {
		return "", nil
	}
	name, _, ok = strings.Cut(name, ":]]")
	if !ok {
		return "", fmt.Errorf("[[: was not matched with a closing :]]")
	}
	switch name {
	case "alnum", "alpha", "ascii", "blank", "cntrl", "digit", "graph",
		"lower", "print", "punct", "space", "upper", "word", "xdigit":
	default:
		return "", fmt.Errorf("invalid character class: %q", name)
	}
	return s[:len(name)+5], nil
}

// HasMeta reports whether a string contains any unescaped pattern
// metacharacters: '*', '?', or '['.
func HasMeta(pat string) bool {
	for i := 0; i < len(pat); i++ {
		switch pat[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// QuoteMeta returns a pattern that matches the literal text s.
func QuoteMeta(pat string) string {
	needsEscaping := false
loop:
	for _, r := range pat {
		switch r {
		case '*', '?', '[', '\\':
			needsEscaping = true
			break loop
		}
	}
	if !needsEscaping {
		return pat
	}
	var sb strings.Builder
	for _, r := range pat {
		switch r {
		case '*', '?', '[', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// langTag is kept around so future locale-aware folding (e.g. Turkish dotless
// i) has a place to plug in without changing FoldEqual's signature.
var langTag = language.Und
