// Package config loads the TOML file that seeds a bashbox sandbox: initial
// environment variables, virtual filesystem contents, and the outbound
// network allow-list enforced by the curl builtin.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"

	"hbash.dev/bashbox"
)

// File is the root of a sandbox configuration file: top-level env/files/
// network/shell_opts tables, matching a plain "cc-allow"-style policy file
// rather than nesting everything under a "sandbox" key.
type File struct {
	Version   string            `toml:"version"`
	Cwd       string            `toml:"cwd"`
	Env       map[string]string `toml:"env"`
	Files     []FileSpec        `toml:"files"`
	Network   NetworkSpec       `toml:"network"`
	ShellOpts ShellOptsSpec     `toml:"shell_opts"`
}

// FileSpec seeds one file or directory in the virtual filesystem.
type FileSpec struct {
	Path    string `toml:"path"`
	Content string `toml:"content"`
	Mode    int64  `toml:"mode"`
	Dir     bool   `toml:"dir"`
}

// NetworkSpec controls what the curl builtin is allowed to reach.
type NetworkSpec struct {
	Enabled         bool     `toml:"enabled"`
	Allow           []string `toml:"allow"`
	RateLimitPerSec float64  `toml:"rate_limit_per_sec"`
	Burst           int      `toml:"burst"`
}

// ShellOptsSpec mirrors bashbox's ShellOpts, expressed as config booleans.
type ShellOptsSpec struct {
	Errexit  bool `toml:"errexit"`
	Nounset  bool `toml:"nounset"`
	Pipefail bool `toml:"pipefail"`
}

// Load reads and parses a sandbox configuration file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Sandbox turns f into the bashbox.Config its New entry point consumes,
// wiring http as the curl builtin's collaborator and translating f's flat
// TOML tables into New's shape. Config parsing is kept outside the
// interpreter core itself; this is the one seam where the two meet.
func (f *File) Sandbox(http bashbox.HTTPClient) bashbox.Config {
	files := make(map[string]bashbox.FileInit, len(f.Files))
	for _, fi := range f.Files {
		mode := uint32(fi.Mode)
		if fi.Dir {
			files[fi.Path] = bashbox.FileInit{Dir: true, Mode: mode}
			continue
		}
		files[fi.Path] = bashbox.FileInit{Content: []byte(fi.Content), Mode: mode}
	}
	var limiter *rate.Limiter
	if f.Network.Enabled {
		limiter = rate.NewLimiter(rate.Limit(f.Network.RateLimitPerSec), f.Network.Burst)
	}
	return bashbox.Config{
		Files: files,
		Env:   f.Env,
		Cwd:   f.Cwd,
		ShellOpts: bashbox.ShellOpts{
			Errexit:  f.ShellOpts.Errexit,
			Nounset:  f.ShellOpts.Nounset,
			Pipefail: f.ShellOpts.Pipefail,
		},
		Network: bashbox.NetworkConfig{
			Enabled: f.Network.Enabled,
			Allow:   f.Network.Allow,
			Limiter: limiter,
		},
		HTTP: http,
	}
}

// Parse decodes TOML sandbox configuration from an in-memory buffer.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if f.Version == "" {
		f.Version = "1.0"
	}
	if f.Cwd == "" {
		f.Cwd = "/"
	}
	if f.Network.RateLimitPerSec == 0 {
		f.Network.RateLimitPerSec = 10
	}
	if f.Network.Burst == 0 {
		f.Network.Burst = 5
	}
	return &f, nil
}
