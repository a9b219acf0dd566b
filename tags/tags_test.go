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

package tags

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseWheelFilename(t *testing.T) {
	cases := []struct {
		in  string
		out *Wheel
	}{
		{
			in: "generic-0.0.1-py2.py3-none-any.whl",
			out: &Wheel{
				Name:    "generic",
				Version: "0.0.1",
				Tags: []Tag{
					{Python: "py2", ABI: "none", Platform: "any"},
					{Python: "py3", ABI: "none", Platform: "any"},
				},
			},
		},
		{
			in: "very_generic-0.0.2-cp3.cp2-cp3m-win_amd64.win32.whl",
			out: &Wheel{
				Name:    "very_generic",
				Version: "0.0.2",
				Tags: []Tag{
					{Python: "cp3", ABI: "cp3m", Platform: "win_amd64"},
					{Python: "cp3", ABI: "cp3m", Platform: "win32"},
					{Python: "cp2", ABI: "cp3m", Platform: "win_amd64"},
					{Python: "cp2", ABI: "cp3m", Platform: "win32"},
				},
			},
		},
		{
			in: "built-1.0-12abc-cp312-cp312-manylinux_2_17_x86_64.whl",
			out: &Wheel{
				Name:     "built",
				Version:  "1.0",
				BuildTag: BuildTag{Num: 12, Tag: "abc"},
				Tags:     []Tag{{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"}},
			},
		},
		{in: "nope-1.0.tar.gz"},
		{in: "short-1.0-py3-none.whl"},
		{in: "bad-1.0-x1-py3-none-any.whl"},
	}
	for _, c := range cases {
		got, err := ParseWheelFilename(c.in)
		if err != nil {
			if c.out != nil {
				t.Errorf("ParseWheelFilename(%q): %v", c.in, err)
			}
			continue
		}
		if c.out == nil {
			t.Errorf("ParseWheelFilename(%q) = %v, want error", c.in, got)
			continue
		}
		if diff := cmp.Diff(c.out, got); diff != "" {
			t.Errorf("ParseWheelFilename(%q) (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestBuildTagCompare(t *testing.T) {
	for _, c := range []struct {
		a, b BuildTag
		want int
	}{
		{BuildTag{}, BuildTag{}, 0},
		{BuildTag{}, BuildTag{Num: 1}, -1},
		{BuildTag{Num: 10}, BuildTag{Num: 2}, 1},
		{BuildTag{Num: 1, Tag: "a"}, BuildTag{Num: 1, Tag: "b"}, -1},
		{BuildTag{Num: 2}, BuildTag{Num: 1, Tag: "z"}, 1},
	} {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestExpandPlatform(t *testing.T) {
	cases := []struct {
		in       string
		contains []string
		excludes []string
	}{
		{
			in:       "manylinux_2_28_x86_64",
			contains: []string{"manylinux_2_28_x86_64", "manylinux_2_17_x86_64", "manylinux2014_x86_64", "manylinux2010_x86_64", "manylinux1_x86_64", "linux_x86_64"},
			excludes: []string{"manylinux_2_29_x86_64", "manylinux_2_28_aarch64", "musllinux_1_1_x86_64"},
		},
		{
			in:       "manylinux_2_28_aarch64",
			contains: []string{"manylinux_2_17_aarch64", "manylinux2014_aarch64"},
			excludes: []string{"manylinux_2_16_aarch64", "manylinux1_aarch64"},
		},
		{
			in:       "manylinux2014_x86_64",
			contains: []string{"manylinux_2_17_x86_64", "manylinux1_x86_64"},
			excludes: []string{"manylinux_2_18_x86_64"},
		},
		{
			in:       "musllinux_1_2_x86_64",
			contains: []string{"musllinux_1_2_x86_64", "musllinux_1_0_x86_64"},
			excludes: []string{"manylinux_2_17_x86_64", "musllinux_1_3_x86_64"},
		},
		{
			in:       "macosx_14_0_arm64",
			contains: []string{"macosx_14_0_arm64", "macosx_11_0_arm64", "macosx_12_0_universal2"},
			excludes: []string{"macosx_10_9_arm64", "macosx_14_0_x86_64", "macosx_15_0_arm64"},
		},
		{
			in:       "macosx_10_15_x86_64",
			contains: []string{"macosx_10_9_x86_64", "macosx_10_15_intel", "macosx_10_4_universal"},
			excludes: []string{"macosx_11_0_x86_64"},
		},
		{
			in:       "win_amd64",
			contains: []string{"win_amd64"},
			excludes: []string{"win32"},
		},
	}
	for _, c := range cases {
		got := ExpandPlatform(c.in)
		if got[0] != c.in && !slices.Contains(got, c.in) {
			t.Errorf("ExpandPlatform(%q) does not contain itself: %v", c.in, got)
		}
		for _, want := range c.contains {
			if !slices.Contains(got, want) {
				t.Errorf("ExpandPlatform(%q) is missing %q", c.in, want)
			}
		}
		for _, bad := range c.excludes {
			if slices.Contains(got, bad) {
				t.Errorf("ExpandPlatform(%q) contains %q", c.in, bad)
			}
		}
	}
}

func TestTargetRank(t *testing.T) {
	target := NewTarget("cp", 3, 11, nil, "manylinux_2_28_x86_64")
	rank := func(s string) (int, bool) {
		tags, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		return target.BestRank(tags)
	}
	// Ordered from most to least preferred.
	ordered := []string{
		"cp311-cp311-manylinux_2_28_x86_64",
		"cp311-cp311-manylinux_2_17_x86_64",
		"cp311-cp311-linux_x86_64",
		"cp311-abi3-manylinux_2_17_x86_64",
		"cp39-abi3-manylinux_2_28_x86_64",
		"py311-none-manylinux_2_28_x86_64",
		"py3-none-manylinux1_x86_64",
		"cp311-none-any",
		"py3-none-any",
		"py30-none-any",
	}
	prev := -1
	for _, s := range ordered {
		r, ok := rank(s)
		if !ok {
			t.Errorf("%s should be supported", s)
			continue
		}
		if r <= prev {
			t.Errorf("%s ranks %d, not after the previous tag (%d)", s, r, prev)
		}
		prev = r
	}
	for _, s := range []string{
		"cp312-cp312-manylinux_2_17_x86_64",
		"cp311-cp311-manylinux_2_31_x86_64",
		"cp311-cp311-musllinux_1_1_x86_64",
		"cp311-cp311-win_amd64",
		"py2-none-any",
		"pp310-pypy310_pp73-manylinux_2_17_x86_64",
		"cp312-abi3-manylinux_2_17_x86_64",
	} {
		if r, ok := rank(s); ok {
			t.Errorf("%s should not be supported, got rank %d", s, r)
		}
	}
	if r, ok := rank("py2.py3-none-any"); !ok {
		t.Errorf("compressed py2.py3-none-any should be supported")
	} else if want, _ := rank("py3-none-any"); r != want {
		t.Errorf("py2.py3-none-any rank = %d, want %d", r, want)
	}
}

func TestSupportedOrder(t *testing.T) {
	target := NewTarget("cp", 3, 12, nil, "win_amd64")
	got := target.Supported()
	if got[0] != (Tag{"cp312", "cp312", "win_amd64"}) {
		t.Errorf("first supported tag = %v", got[0])
	}
	if got[len(got)-1] != (Tag{"py30", "none", "any"}) {
		t.Errorf("last supported tag = %v", got[len(got)-1])
	}
}

func TestParsePythonVersion(t *testing.T) {
	for _, c := range []struct {
		in           string
		major, minor int
		ok           bool
	}{
		{"3.12", 3, 12, true},
		{"3.8.10", 3, 8, true},
		{"3", 0, 0, false},
		{"x.1", 0, 0, false},
	} {
		major, minor, err := ParsePythonVersion(c.in)
		if (err == nil) != c.ok || major != c.major || minor != c.minor {
			t.Errorf("ParsePythonVersion(%q) = %d, %d, %v", c.in, major, minor, err)
		}
	}
}
