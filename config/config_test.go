package config

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

const sampleTOML = `
version = "1.0"
cwd = "/work"

[env]
GREETING = "hello"

[[files]]
path = "/work/input.txt"
content = "seed data"
mode = 420

[[files]]
path = "/work/empty-dir"
dir = true

[network]
enabled = true
allow = ["*.example.com"]
rate_limit_per_sec = 5
burst = 2

[shell_opts]
errexit = true
nounset = true
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleTOML))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, f.Cwd, qt.Equals, "/work")
	qt.Assert(t, f.Env["GREETING"], qt.Equals, "hello")
	qt.Assert(t, len(f.Files), qt.Equals, 2)
	qt.Assert(t, f.Network.Enabled, qt.IsTrue)
	qt.Assert(t, f.ShellOpts.Errexit, qt.IsTrue)
	qt.Assert(t, f.ShellOpts.Nounset, qt.IsTrue)
	qt.Assert(t, f.ShellOpts.Pipefail, qt.IsFalse)
}

func TestParseDefaults(t *testing.T) {
	f, err := Parse([]byte(`cwd = "/"`))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, f.Version, qt.Equals, "1.0")
	qt.Assert(t, f.Network.RateLimitPerSec, qt.Equals, 10.0)
	qt.Assert(t, f.Network.Burst, qt.Equals, 5)
}

func TestSandboxConversion(t *testing.T) {
	f, err := Parse([]byte(sampleTOML))
	qt.Assert(t, err, qt.IsNil)

	cfg := f.Sandbox(nil)
	qt.Assert(t, cfg.Cwd, qt.Equals, "/work")
	qt.Assert(t, cfg.Env["GREETING"], qt.Equals, "hello")
	qt.Assert(t, cfg.ShellOpts.Nounset, qt.IsTrue)
	qt.Assert(t, cfg.Network.Enabled, qt.IsTrue)
	qt.Assert(t, cfg.Network.Allow, qt.DeepEquals, []string{"*.example.com"})

	fi, ok := cfg.Files["/work/input.txt"]
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, string(fi.Content), qt.Equals, "seed data")
	qt.Assert(t, fi.Mode, qt.Equals, uint32(420))

	dirFi, ok := cfg.Files["/work/empty-dir"]
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, dirFi.Dir, qt.IsTrue)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.toml")
	qt.Assert(t, err, qt.Not(qt.IsNil))
}
