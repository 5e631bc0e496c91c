package pattern

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestTranslate(t *testing.T) {
	t.Parallel()
	tests := [...]struct {
		pat  string
		mode Mode
		want string
	}{
		{pat: ``, want: ``},
		{pat: `foo`, want: `foo`},
		{pat: `foo*`, want: `(?s)foo.*`},
		{pat: `foo*`, mode: Shortest, want: `(?sU)foo.*`},
		{pat: `*.txt`, mode: Filenames | EntireString, want: `(?s)^([^/.][^/]*)?\.txt$`},
		{pat: `?`, mode: Filenames, want: `(?s)[^/]`},
		{pat: `[abc]`, want: `(?s)[abc]`},
	}
	for _, test := range tests {
		test := test
		t.Run("", func(t *testing.T) {
			t.Parallel()
			got, err := Translate(test.pat, test.mode)
			qt.Assert(t, err, qt.IsNil)
			qt.Assert(t, got, qt.Equals, test.want)
		})
	}
}

func TestCompileMatch(t *testing.T) {
	t.Parallel()
	tests := [...]struct {
		pat          string
		mode         Mode
		mustMatch    []string
		mustNotMatch []string
	}{
		{
			pat:          `*foo`,
			mode:         Filenames | EntireString,
			mustMatch:    []string{"foo", "prefix-foo"},
			mustNotMatch: []string{"foo-suffix", "/prefix/foo"},
		},
		{
			pat:          `/**/foo`,
			mode:         Filenames | EntireString,
			mustMatch:    []string{"/foo", "/a/b/c/foo"},
			mustNotMatch: []string{"/foo/suffix"},
		},
	}
	for _, test := range tests {
		test := test
		t.Run("", func(t *testing.T) {
			t.Parallel()
			rx, err := Compile(test.pat, test.mode)
			qt.Assert(t, err, qt.IsNil)
			for _, s := range test.mustMatch {
				qt.Assert(t, rx.MatchString(s), qt.IsTrue, qt.Commentf("expected %q to match %q", test.pat, s))
			}
			for _, s := range test.mustNotMatch {
				qt.Assert(t, rx.MatchString(s), qt.IsFalse, qt.Commentf("expected %q not to match %q", test.pat, s))
			}
		})
	}
}

func TestFoldEqual(t *testing.T) {
	t.Parallel()
	qt.Assert(t, FoldEqual("FOO", "foo"), qt.IsTrue)
	qt.Assert(t, FoldEqual("Straße", "STRASSE"), qt.IsTrue)
	qt.Assert(t, FoldEqual("foo", "bar"), qt.IsFalse)
}

func TestHasMetaQuoteMeta(t *testing.T) {
	t.Parallel()
	qt.Assert(t, HasMeta("foo*bar"), qt.IsTrue)
	qt.Assert(t, HasMeta("foobar"), qt.IsFalse)
	qt.Assert(t, QuoteMeta("a*b"), qt.Equals, `a\*b`)
}

func TestInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := Translate(`[abc`, 0)
	qt.Assert(t, err, qt.Not(qt.IsNil))
}
