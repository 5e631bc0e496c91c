package expand

import (
	"fmt"
	"strconv"
	"strings"

	"hbash.dev/bashbox/syntax"
)

// Braces performs brace expansion on a list of words, the first step of
// bash's field-expansion pipeline. It operates purely on literal text (no
// nested parameter/command substitution inside the braces), which covers
// the common {a,b,c} and {1..5} forms; a word that cannot be brace-expanded
// this way is returned unchanged.
func Braces(words ...*syntax.Word) []*syntax.Word {
	var out []*syntax.Word
	for _, w := range words {
		lit, ok := w.Lit()
		if !ok {
			out = append(out, w)
			continue
		}
		texts := expandBraceText(lit)
		if len(texts) == 1 && texts[0] == lit {
			out = append(out, w)
			continue
		}
		for _, t := range texts {
			out = append(out, &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: t}}})
		}
	}
	return out
}

// expandBraceText expands one {...,...} or {a..b[..step]} group, applying
// recursively to both the alternatives and any remaining text.
func expandBraceText(s string) []string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return []string{s}
	}
	depth := 0
	end := -1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return []string{s}
	}
	prefix, body, suffix := s[:start], s[start+1:end], s[end+1:]

	alts := splitBraceAlts(body)
	var expanded []string
	if len(alts) >= 2 {
		for _, a := range alts {
			expanded = append(expanded, a)
		}
	} else if rng, ok := expandRange(body); ok {
		expanded = rng
	} else {
		return []string{s}
	}

	var out []string
	for _, mid := range expanded {
		for _, suf := range expandBraceText(suffix) {
			for _, pre := range expandBraceText(prefix) {
				out = append(out, pre+mid+suf)
			}
		}
	}
	return out
}

// splitBraceAlts splits body on top-level commas, respecting nested braces.
func splitBraceAlts(body string) []string {
	var alts []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				alts = append(alts, body[start:i])
				start = i + 1
			}
		}
	}
	alts = append(alts, body[start:])
	return alts
}

// expandRange handles {1..5}, {5..1}, {a..z}, and the optional ..step form.
func expandRange(body string) ([]string, bool) {
	parts := strings.Split(body, "..")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, false
	}
	step := 1
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n == 0 {
			return nil, false
		}
		if n < 0 {
			n = -n
		}
		step = n
	}
	if n1, err1 := strconv.Atoi(parts[0]); err1 == nil {
		n2, err2 := strconv.Atoi(parts[1])
		if err2 != nil {
			return nil, false
		}
		var out []string
		if n1 <= n2 {
			for v := n1; v <= n2; v += step {
				out = append(out, strconv.Itoa(v))
			}
		} else {
			for v := n1; v >= n2; v -= step {
				out = append(out, strconv.Itoa(v))
			}
		}
		return out, true
	}
	if len(parts[0]) == 1 && len(parts[1]) == 1 {
		c1, c2 := rune(parts[0][0]), rune(parts[1][0])
		var out []string
		if c1 <= c2 {
			for v := c1; v <= c2; v += rune(step) {
				out = append(out, fmt.Sprintf("%c", v))
			}
		} else {
			for v := c1; v >= c2; v -= rune(step) {
				out = append(out, fmt.Sprintf("%c", v))
			}
		}
		return out, true
	}
	return nil, false
}
