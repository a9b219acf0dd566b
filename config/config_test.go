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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"deps.dev/util/pip/finder"
	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/tags"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pipresolve.toml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
[index]
urls = ["https://mirror.example/simple/", "https://pypi.org/simple/"]
find-links = ["./wheels"]
strategy = "union"

[resolve]
pre = true
upgrade-strategy = "eager"
require-hashes = true
uploaded-prior-to = 2024-06-01T00:00:00Z
only-binary = [":all:"]

[target]
python-version = "3.11.4"
platforms = ["macosx_14_0_arm64"]
markers = { platform_release = "23.1.0" }

[cache]
redis-url = "redis://localhost:6379/0"
ttl = "36h"
`)
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Index = Index{
		URLs:      []string{"https://mirror.example/simple/", "https://pypi.org/simple/"},
		FindLinks: []string{"./wheels"},
		Strategy:  Union,
	}
	want.Resolve.Pre = true
	want.Resolve.UpgradeStrategy = "eager"
	want.Resolve.RequireHashes = true
	want.Resolve.UploadedPriorTo = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	want.Resolve.OnlyBinary = []string{":all:"}
	want.Target.PythonVersion = "3.11.4"
	want.Target.Platforms = []string{"macosx_14_0_arm64"}
	want.Target.Markers = map[string]string{"platform_release": "23.1.0"}
	want.Cache.RedisURL = "redis://localhost:6379/0"
	want.Cache.TTL = Duration{36 * time.Hour}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load (-want +got):\n%s", diff)
	}
	if got.Mode() != finder.Union {
		t.Errorf("Mode: got %v, want Union", got.Mode())
	}

	env, err := got.Target.Environment()
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	for k, v := range map[string]string{
		"sys_platform":        "darwin",
		"platform_machine":    "arm64",
		"platform_system":     "Darwin",
		"python_version":      "3.11",
		"python_full_version": "3.11.4",
		"platform_release":    "23.1.0",
	} {
		if env[k] != v {
			t.Errorf("Environment[%s]: got %q, want %q", k, env[k], v)
		}
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Mode() != finder.FirstMatch {
		t.Errorf("Mode: got %v, want FirstMatch", c.Mode())
	}
	py, err := c.Target.Python()
	if err != nil {
		t.Fatal(err)
	}
	if got := py.String(); got != "3.12.0" {
		t.Errorf("Python: got %s, want 3.12.0", got)
	}
	target, err := c.Target.Tags()
	if err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"cp312-cp312-manylinux_2_28_x86_64", "py3-none-any", "cp312-abi3-manylinux_2_17_x86_64"} {
		ts, err := tags.Parse(tag)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := target.Rank(ts[0]); !ok {
			t.Errorf("default target does not support %s", tag)
		}
	}
	env, err := c.Target.Environment()
	if err != nil {
		t.Fatal(err)
	}
	want := marker.CPython("3.12.0", "linux", "x86_64")
	if diff := cmp.Diff(want, env); diff != "" {
		t.Errorf("Environment (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, c := range []struct {
		content string
		want    string
	}{
		{content: "[index]\nurl = \"x\"\n", want: "unknown keys index.url"},
		{content: "[index]\nstrategy = \"random\"\n", want: "index.strategy"},
		{content: "[resolve]\nupgrade-strategy = \"always\"\n", want: "resolve.upgrade-strategy"},
		{content: "[target]\npython-version = \"3\"\n", want: "target.python-version"},
		{content: "[target]\nplatforms = []\n", want: "target.platforms"},
		{content: "[cache]\nttl = \"forever\"\n", want: "forever"},
		{content: "[resolve\n", want: "config"},
	} {
		_, err := Load(writeConfig(t, c.content))
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("Load(%q): got %v, want an error mentioning %q", c.content, err, c.want)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load(missing): got no error")
	}
}

func TestPlatformVariables(t *testing.T) {
	for _, c := range []struct {
		platform, sys, machine string
	}{
		{"manylinux_2_28_x86_64", "linux", "x86_64"},
		{"manylinux2014_aarch64", "linux", "aarch64"},
		{"musllinux_1_2_x86_64", "linux", "x86_64"},
		{"linux_x86_64", "linux", "x86_64"},
		{"macosx_11_0_x86_64", "darwin", "x86_64"},
		{"win_amd64", "win32", "AMD64"},
		{"win32", "win32", "x86"},
		{"any", "", ""},
	} {
		sys, machine := platformVariables(c.platform)
		if sys != c.sys || machine != c.machine {
			t.Errorf("platformVariables(%q) = %q, %q; want %q, %q", c.platform, sys, machine, c.sys, c.machine)
		}
	}
}

func TestCacheDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	c := Default()
	c.Cache.Dir = "~/cache/pip"
	got, err := c.CacheDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "cache/pip"); got != want {
		t.Errorf("CacheDir: got %q, want %q", got, want)
	}
}
