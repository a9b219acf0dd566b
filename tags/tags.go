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

// Package tags implements the platform compatibility tags of PEP 425 and the
// rules for deciding which built distributions an interpreter can install.
package tags

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tag holds a compatibility tag defined in
// https://peps.python.org/pep-0425/
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// Parse parses a tag triple such as "cp312-abi3-manylinux_2_17_x86_64",
// expanding compressed tag sets.
func Parse(s string) ([]Tag, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("invalid compatibility tag %q", s)
	}
	return Expand(Tag{Python: parts[0], ABI: parts[1], Platform: parts[2]}), nil
}

// Expand expands any compressed tag sets in the given tag to produce the full
// set of supported systems. It uses the algorithm described in the PEP
// (https://peps.python.org/pep-0425/#compressed-tag-sets). Note this can
// generate a fair number of impossible tags that are not supported by any
// actual Python implementation.
func Expand(tag Tag) []Tag {
	var allTags []Tag
	for _, py := range strings.Split(tag.Python, ".") {
		for _, abi := range strings.Split(tag.ABI, ".") {
			for _, plat := range strings.Split(tag.Platform, ".") {
				allTags = append(allTags, Tag{
					Python:   strings.ToLower(py),
					ABI:      strings.ToLower(abi),
					Platform: strings.ToLower(plat),
				})
			}
		}
	}
	return allTags
}

// Target describes the interpreter and platform a resolution is for. Its
// supported tags are generated once, most preferred first, in the same order
// pip uses.
type Target struct {
	// Implementation is the interpreter abbreviation, such as "cp" or "pp".
	Implementation string
	Major, Minor   int
	// ABIs are the interpreter-specific ABIs, most preferred first. When
	// empty, a CPython target uses "cp<major><minor>".
	ABIs []string
	// Platforms are the platform tags of the machine, most specific first,
	// such as "manylinux_2_28_x86_64" or "macosx_14_0_arm64". Older
	// baselines of the same family are derived automatically.
	Platforms []string

	supported map[Tag]int
}

// NewTarget builds a Target and computes its supported tags.
func NewTarget(impl string, major, minor int, abis []string, platforms ...string) *Target {
	t := &Target{
		Implementation: impl,
		Major:          major,
		Minor:          minor,
		ABIs:           abis,
		Platforms:      platforms,
	}
	t.init()
	return t
}

// ParsePythonVersion splits a version such as "3.12" or "3.12.1" into its
// major and minor components.
func ParsePythonVersion(s string) (int, int, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("python version %q needs major and minor components", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("python version %q: %v", s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("python version %q: %v", s, err)
	}
	return major, minor, nil
}

// Supported returns the supported tags, most preferred first.
func (t *Target) Supported() []Tag {
	out := make([]Tag, len(t.supported))
	for tag, i := range t.supported {
		out[i] = tag
	}
	return out
}

// Rank returns the preference of the tag for this target: lower is better.
// The second result is false when the tag is not supported at all.
func (t *Target) Rank(tag Tag) (int, bool) {
	r, ok := t.supported[tag]
	return r, ok
}

// BestRank returns the best rank among tags, typically all the tags of one
// wheel. The second result is false when none of them is supported.
func (t *Target) BestRank(tags []Tag) (int, bool) {
	best, found := 0, false
	for _, tag := range tags {
		if r, ok := t.supported[tag]; ok && (!found || r < best) {
			best, found = r, true
		}
	}
	return best, found
}

func (t *Target) init() {
	t.supported = make(map[Tag]int)
	add := func(py, abi, plat string) {
		tag := Tag{Python: py, ABI: abi, Platform: plat}
		if _, ok := t.supported[tag]; !ok {
			t.supported[tag] = len(t.supported)
		}
	}
	var platforms []string
	for _, p := range t.Platforms {
		platforms = append(platforms, ExpandPlatform(p)...)
	}

	interp := fmt.Sprintf("%s%d%d", t.Implementation, t.Major, t.Minor)
	abis := t.ABIs
	if len(abis) == 0 && t.Implementation == "cp" {
		abis = []string{interp}
	}
	// Interpreter specific tags.
	for _, abi := range abis {
		for _, p := range platforms {
			add(interp, abi, p)
		}
	}
	if t.Implementation == "cp" {
		for _, p := range platforms {
			add(interp, "abi3", p)
		}
	}
	for _, p := range platforms {
		add(interp, "none", p)
	}
	// The stable ABI is usable from every earlier 3.x interpreter that
	// introduced it.
	if t.Implementation == "cp" && t.Major == 3 {
		for minor := t.Minor - 1; minor >= 2; minor-- {
			for _, p := range platforms {
				add(fmt.Sprintf("cp3%d", minor), "abi3", p)
			}
		}
	}
	// Generic interpreter tags.
	generic := []string{fmt.Sprintf("py%d%d", t.Major, t.Minor), fmt.Sprintf("py%d", t.Major)}
	for minor := t.Minor - 1; minor >= 0; minor-- {
		generic = append(generic, fmt.Sprintf("py%d%d", t.Major, minor))
	}
	for _, py := range generic {
		for _, p := range platforms {
			add(py, "none", p)
		}
	}
	add(interp, "none", "any")
	for _, py := range generic {
		add(py, "none", "any")
	}
}

var (
	manylinuxRE = regexp.MustCompile(`^manylinux_(\d+)_(\d+)_(.+)$`)
	musllinuxRE = regexp.MustCompile(`^musllinux_(\d+)_(\d+)_(.+)$`)
	macosRE     = regexp.MustCompile(`^macosx_(\d+)_(\d+)_(.+)$`)
)

// legacyManylinux maps glibc 2.x minors to the legacy manylinux aliases.
var legacyManylinux = map[int]string{
	5:  "manylinux1",
	12: "manylinux2010",
	17: "manylinux2014",
}

// ExpandPlatform returns the platform tags installable on a machine with the
// given platform tag, most specific first. Artifacts built for an older
// baseline of the same family remain admissible on a newer one; nothing
// crosses families, so a musllinux machine never accepts manylinux wheels.
func ExpandPlatform(platform string) []string {
	platform = strings.ToLower(platform)
	if m := manylinuxRE.FindStringSubmatch(platform); m != nil {
		return expandManylinux(atoi(m[1]), atoi(m[2]), m[3])
	}
	if m := musllinuxRE.FindStringSubmatch(platform); m != nil {
		major, arch := atoi(m[1]), m[3]
		var out []string
		for minor := atoi(m[2]); minor >= 0; minor-- {
			out = append(out, fmt.Sprintf("musllinux_%d_%d_%s", major, minor, arch))
		}
		return out
	}
	if m := macosRE.FindStringSubmatch(platform); m != nil {
		return expandMacOS(atoi(m[1]), atoi(m[2]), m[3])
	}
	for minor, name := range legacyManylinux {
		if arch, ok := strings.CutPrefix(platform, name+"_"); ok {
			return expandManylinux(2, minor, arch)
		}
	}
	return []string{platform}
}

func expandManylinux(major, minor int, arch string) []string {
	// glibc 2.17 is the oldest baseline built for anything but x86.
	oldest := 17
	if arch == "x86_64" || arch == "i686" {
		oldest = 5
	}
	var out []string
	if major == 2 {
		for m := minor; m >= oldest; m-- {
			out = append(out, fmt.Sprintf("manylinux_2_%d_%s", m, arch))
			if legacy, ok := legacyManylinux[m]; ok {
				out = append(out, legacy+"_"+arch)
			}
		}
	} else {
		out = append(out, fmt.Sprintf("manylinux_%d_%d_%s", major, minor, arch))
	}
	return append(out, "linux_"+arch)
}

// macBinaryFormats lists the fat binary formats that can contain code for
// each architecture.
var macBinaryFormats = map[string][]string{
	"x86_64": {"x86_64", "intel", "fat64", "fat32", "universal2", "universal"},
	"arm64":  {"arm64", "universal2"},
	"i386":   {"i386", "intel", "fat32", "fat", "universal"},
}

func expandMacOS(major, minor int, arch string) []string {
	formats, ok := macBinaryFormats[arch]
	if !ok {
		formats = []string{arch}
	}
	type release struct{ major, minor int }
	var releases []release
	if major >= 11 {
		for m := major; m >= 11; m-- {
			releases = append(releases, release{m, 0})
		}
		// Apple silicon never ran macOS 10.
		if arch != "arm64" {
			for m := 16; m >= 4; m-- {
				releases = append(releases, release{10, m})
			}
		}
	} else {
		for m := minor; m >= 4; m-- {
			releases = append(releases, release{major, m})
		}
	}
	var out []string
	for _, r := range releases {
		for _, f := range formats {
			out = append(out, fmt.Sprintf("macosx_%d_%d_%s", r.major, r.minor, f))
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
