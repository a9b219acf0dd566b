// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the TOML configuration of pipresolve.
//
// A configuration file has four optional tables:
//
//	[index]
//	urls = ["https://pypi.org/simple/"]
//	find-links = ["./wheels"]
//	strategy = "first-match" # or "union"
//
//	[resolve]
//	pre = false
//	prefer-binary = false
//	upgrade = false
//	upgrade-strategy = "only-if-needed"
//	require-hashes = false
//	uploaded-prior-to = 2024-06-01T00:00:00Z
//	max-rounds = 200000
//
//	[target]
//	python-version = "3.12"
//	implementation = "cp"
//	platforms = ["manylinux_2_28_x86_64"]
//	markers = { platform_release = "6.1.0" }
//
//	[cache]
//	dir = "~/.cache/pipresolve"
//	redis-url = "redis://localhost:6379/0"
//	ttl = "24h"
//
// Missing values keep the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"deps.dev/util/pip/finder"
	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/pep440"
	"deps.dev/util/pip/resolver"
	"deps.dev/util/pip/source/simple"
	"deps.dev/util/pip/tags"
)

// Config is the whole configuration.
type Config struct {
	Index   Index   `toml:"index"`
	Resolve Resolve `toml:"resolve"`
	Target  Target  `toml:"target"`
	Cache   Cache   `toml:"cache"`
}

// Index lists where packages come from.
type Index struct {
	// URLs are simple repository URLs, highest priority first.
	URLs      []string `toml:"urls"`
	FindLinks []string `toml:"find-links"`
	// Strategy is "first-match" or "union".
	Strategy string `toml:"strategy"`
}

// Resolve holds the resolution policy.
type Resolve struct {
	Pre             bool     `toml:"pre"`
	PreferBinary    bool     `toml:"prefer-binary"`
	OnlyBinary      []string `toml:"only-binary"`
	NoBinary        []string `toml:"no-binary"`
	Upgrade         bool     `toml:"upgrade"`
	UpgradeStrategy string   `toml:"upgrade-strategy"`
	RequireHashes   bool     `toml:"require-hashes"`
	// UploadedPriorTo excludes artifacts uploaded at or after it.
	UploadedPriorTo time.Time `toml:"uploaded-prior-to"`
	MaxRounds       int       `toml:"max-rounds"`
	Prefetch        int       `toml:"prefetch"`
}

// Target describes the interpreter resolved for.
type Target struct {
	// PythonVersion is "3.12" or a full version such as "3.12.1".
	PythonVersion  string   `toml:"python-version"`
	Implementation string   `toml:"implementation"`
	ABIs           []string `toml:"abis"`
	Platforms      []string `toml:"platforms"`
	// Markers override the marker variables derived from the rest.
	Markers map[string]string `toml:"markers"`
}

// Cache configures the metadata cache.
type Cache struct {
	// Dir holds cached metadata files; see Config.CacheDir for the default.
	Dir string `toml:"dir"`
	// RedisURL, when set, selects a Redis cache instead of files.
	RedisURL string   `toml:"redis-url"`
	TTL      Duration `toml:"ttl"`
}

// Duration is a time.Duration written as a string such as "36h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Strategies for combining indexes.
const (
	FirstMatch = "first-match"
	Union      = "union"
)

// Default returns the configuration used when no file is given: CPython 3.12
// on manylinux_2_28_x86_64, resolving against PyPI.
func Default() *Config {
	return &Config{
		Index: Index{
			URLs:     []string{simple.DefaultURL},
			Strategy: FirstMatch,
		},
		Resolve: Resolve{
			UpgradeStrategy: resolver.OnlyIfNeeded.String(),
			MaxRounds:       resolver.DefaultMaxRounds,
			Prefetch:        4,
		},
		Target: Target{
			PythonVersion:  "3.12",
			Implementation: "cp",
			Platforms:      []string{"manylinux_2_28_x86_64"},
		},
		Cache: Cache{TTL: Duration{24 * time.Hour}},
	}
}

// Load reads the configuration file at path on top of the defaults. Keys
// that mean nothing to pipresolve are an error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the values that Load cannot check by type alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Index.Strategy != FirstMatch && c.Index.Strategy != Union {
		errs = append(errs, fmt.Errorf("index.strategy: %q is neither %q nor %q", c.Index.Strategy, FirstMatch, Union))
	}
	if _, err := resolver.ParseUpgradeStrategy(c.Resolve.UpgradeStrategy); err != nil {
		errs = append(errs, fmt.Errorf("resolve.upgrade-strategy: %w", err))
	}
	if c.Resolve.MaxRounds < 0 {
		errs = append(errs, errors.New("resolve.max-rounds: must not be negative"))
	}
	if _, err := c.Target.Python(); err != nil {
		errs = append(errs, fmt.Errorf("target.python-version: %w", err))
	}
	if len(c.Target.Platforms) == 0 {
		errs = append(errs, errors.New("target.platforms: at least one platform is needed"))
	}
	if c.Cache.TTL.Duration < 0 {
		errs = append(errs, errors.New("cache.ttl: must not be negative"))
	}
	return errors.Join(errs...)
}

// Mode returns the finder mode selected by Index.Strategy.
func (c *Config) Mode() finder.Mode {
	if c.Index.Strategy == Union {
		return finder.Union
	}
	return finder.FirstMatch
}

// CacheDir returns Cache.Dir, with a leading "~" expanded, or the
// pipresolve directory under the user's cache directory.
func (c *Config) CacheDir() (string, error) {
	dir := c.Cache.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, "pipresolve"), nil
	}
	if rest, ok := strings.CutPrefix(dir, "~"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, rest)
	}
	return dir, nil
}

// fullVersion pads "3.12" to "3.12.0".
func (t Target) fullVersion() string {
	if strings.Count(t.PythonVersion, ".") == 1 {
		return t.PythonVersion + ".0"
	}
	return t.PythonVersion
}

// Python returns the interpreter version checked against Requires-Python.
func (t Target) Python() (*pep440.Version, error) {
	if _, _, err := tags.ParsePythonVersion(t.PythonVersion); err != nil {
		return nil, err
	}
	return pep440.Parse(t.fullVersion())
}

// Tags returns the wheel compatibility target.
func (t Target) Tags() (*tags.Target, error) {
	major, minor, err := tags.ParsePythonVersion(t.PythonVersion)
	if err != nil {
		return nil, err
	}
	impl := t.Implementation
	if impl == "" {
		impl = "cp"
	}
	return tags.NewTarget(impl, major, minor, t.ABIs, t.Platforms...), nil
}

// Environment returns the marker environment of the target. sys_platform
// and platform_machine come from the first platform tag.
func (t Target) Environment() (marker.Environment, error) {
	if len(t.Platforms) == 0 {
		return nil, errors.New("no target platform")
	}
	sysPlatform, machine := platformVariables(t.Platforms[0])
	if sysPlatform == "" {
		return nil, fmt.Errorf("cannot derive markers from platform %q", t.Platforms[0])
	}
	env := marker.CPython(t.fullVersion(), sysPlatform, machine)
	if t.Implementation == "pp" {
		env = env.With(map[string]string{
			"implementation_name":            "pypy",
			"platform_python_implementation": "PyPy",
		})
	}
	return env.With(t.Markers), nil
}

// platformVariables maps a platform tag to sys_platform and
// platform_machine.
func platformVariables(platform string) (string, string) {
	switch {
	case platform == "win32":
		return "win32", "x86"
	case platform == "win_amd64":
		return "win32", "AMD64"
	case platform == "win_arm64":
		return "win32", "ARM64"
	case strings.HasPrefix(platform, "macosx_"):
		// macosx_<major>_<minor>_<arch>
		parts := strings.SplitN(platform, "_", 4)
		if len(parts) != 4 {
			return "", ""
		}
		return "darwin", parts[3]
	case strings.HasPrefix(platform, "manylinux"), strings.HasPrefix(platform, "musllinux"), strings.HasPrefix(platform, "linux_"):
		// The architecture follows the family and glibc/musl version,
		// such as manylinux_2_28_x86_64, manylinux2014_aarch64 or
		// linux_x86_64.
		for _, arch := range []string{"x86_64", "aarch64", "i686", "ppc64le", "s390x", "armv7l", "riscv64"} {
			if strings.HasSuffix(platform, "_"+arch) {
				return "linux", arch
			}
		}
	}
	return "", ""
}
