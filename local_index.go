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

package pip

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/pep440"
	"deps.dev/util/pip/tags"
)

// Release describes one artifact of a project version held by a LocalIndex.
type Release struct {
	Name    string
	Version string
	// Requires holds PEP 508 requirement strings.
	Requires       []string
	Extras         []string
	RequiresPython string
	// Tag is the wheel's compatibility tag; "py3-none-any" if empty.
	Tag        string
	Sdist      bool
	UploadTime time.Time
	Yanked     bool
}

type localRelease struct {
	link Link
	meta *Metadata
}

// LocalIndex is an in-memory Source and MetadataProvider. It is intended for
// tests and for resolving against a fixed universe of packages.
type LocalIndex struct {
	name     string
	explicit bool

	mu       sync.Mutex
	releases map[string][]localRelease
	fetches  map[string]int
}

// NewLocalIndex creates a new, empty, LocalIndex.
func NewLocalIndex(name string) *LocalIndex {
	return &LocalIndex{
		name:     name,
		releases: make(map[string][]localRelease),
		fetches:  make(map[string]int),
	}
}

// SetExplicit marks the index as explicit user intent, see Source.
func (li *LocalIndex) SetExplicit(explicit bool) { li.explicit = explicit }

// ReleaseHash returns the sha256 digest a LocalIndex assigns to an artifact.
func ReleaseHash(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return hex.EncodeToString(sum[:])
}

// Add adds an artifact to the index. Adding a second artifact with the same
// filename replaces the first.
func (li *LocalIndex) Add(r Release) error {
	name := CanonName(r.Name)
	meta := &Metadata{Name: r.Name, Version: r.Version, MetadataVersion: "2.1"}
	for _, s := range r.Requires {
		req, err := ParseRequirement(s)
		if err != nil {
			return fmt.Errorf("%s %s: %w", r.Name, r.Version, err)
		}
		meta.Requires = append(meta.Requires, req)
	}
	for _, x := range r.Extras {
		meta.Extras = append(meta.Extras, marker.NormalizeExtra(x))
	}
	if r.RequiresPython != "" {
		rp, err := pep440.ParseSpecifierSet(r.RequiresPython)
		if err != nil {
			return fmt.Errorf("%s %s: %w", r.Name, r.Version, err)
		}
		meta.RequiresPython = rp
	}
	link := Link{
		Name:           name,
		Version:        r.Version,
		UploadTime:     r.UploadTime,
		Yanked:         r.Yanked,
		RequiresPython: r.RequiresPython,
		Source:         li.name,
	}
	stem := strings.ReplaceAll(name, "-", "_") + "-" + r.Version
	if r.Sdist {
		link.Kind, link.Filename = Sdist, stem+".tar.gz"
	} else {
		tag := r.Tag
		if tag == "" {
			tag = "py3-none-any"
		}
		ts, err := tags.Parse(tag)
		if err != nil {
			return err
		}
		link.Kind, link.Filename, link.Tags = Wheel, stem+"-"+tag+".whl", ts
	}
	link.URL = "local://" + li.name + "/" + link.Filename
	link.Hashes = map[string]string{"sha256": ReleaseHash(link.Filename)}

	li.mu.Lock()
	defer li.mu.Unlock()
	rels := slices.DeleteFunc(li.releases[name], func(lr localRelease) bool {
		return lr.link.Filename == link.Filename
	})
	li.releases[name] = append(rels, localRelease{link: link, meta: meta})
	return nil
}

// AddPackage adds a universal wheel with the given requirements.
func (li *LocalIndex) AddPackage(name, version string, requires ...string) error {
	return li.Add(Release{Name: name, Version: version, Requires: requires})
}

/*
ParseLocalIndex builds a LocalIndex from a text description. Each
unindented line declares a release as a name and a version followed by
optional attributes; each indented line below it is one of its
requirements. Empty lines and lines starting with "#" are skipped.

	# a 1.0 needs b, which was yanked in 2.0
	a 1.0 extras=fast
		b>=1
		uvloop; extra == "fast"
	b 1.0 upload=2024-01-02T00:00:00Z
	b 2.0 yanked requires-python=>=3.12

The attributes are "yanked", "sdist", "extras=x,y", "tag=<tag>",
"requires-python=<specifiers>" and "upload=<RFC 3339 time>".
*/
func ParseLocalIndex(name, text string) (*LocalIndex, error) {
	li := NewLocalIndex(name)
	var cur *Release
	flush := func() error {
		if cur == nil {
			return nil
		}
		err := li.Add(*cur)
		cur = nil
		return err
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	for line := 1; sc.Scan(); line++ {
		raw := sc.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if raw[0] == ' ' || raw[0] == '\t' {
			if cur == nil {
				return nil, fmt.Errorf("line %d: requirement outside a release", line)
			}
			cur.Requires = append(cur.Requires, trimmed)
			continue
		}
		if err := flush(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want name and version", line)
		}
		cur = &Release{Name: fields[0], Version: fields[1]}
		for _, f := range fields[2:] {
			key, value, _ := strings.Cut(f, "=")
			switch key {
			case "yanked":
				cur.Yanked = true
			case "sdist":
				cur.Sdist = true
			case "extras":
				cur.Extras = strings.Split(value, ",")
			case "tag":
				cur.Tag = value
			case "requires-python":
				cur.RequiresPython = value
			case "upload":
				t, err := time.Parse(time.RFC3339, value)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				cur.UploadTime = t
			default:
				return nil, fmt.Errorf("line %d: unknown attribute %q", line, key)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return li, nil
}

// MustParseLocalIndex is like ParseLocalIndex but panics on error.
func MustParseLocalIndex(name, text string) *LocalIndex {
	li, err := ParseLocalIndex(name, text)
	if err != nil {
		panic(err)
	}
	return li
}

// Name implements Source.
func (li *LocalIndex) Name() string { return li.name }

// Explicit implements Source.
func (li *LocalIndex) Explicit() bool { return li.explicit }

// Links implements Source, returning every artifact of the project.
func (li *LocalIndex) Links(ctx context.Context, name string) ([]Link, error) {
	li.mu.Lock()
	defer li.mu.Unlock()
	rels, ok := li.releases[name]
	if !ok {
		return nil, fmt.Errorf("package %q: %w", name, ErrNotFound)
	}
	links := make([]Link, len(rels))
	for i, r := range rels {
		links[i] = r.link
	}
	return links, nil
}

// Metadata implements MetadataProvider.
func (li *LocalIndex) Metadata(ctx context.Context, c *Candidate) (*Metadata, error) {
	li.mu.Lock()
	defer li.mu.Unlock()
	link := c.Link()
	li.fetches[link.Name+" "+link.Version]++
	for _, r := range li.releases[link.Name] {
		if r.link.Filename == link.Filename {
			return r.meta, nil
		}
	}
	return nil, fmt.Errorf("metadata for %s: %w", link, ErrNotFound)
}

// Fetches returns how many times the metadata of the given release has been
// requested.
func (li *LocalIndex) Fetches(name, version string) int {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.fetches[CanonName(name)+" "+version]
}

// TotalFetches returns how many metadata requests the index has served.
func (li *LocalIndex) TotalFetches() int {
	li.mu.Lock()
	defer li.mu.Unlock()
	n := 0
	for _, f := range li.fetches {
		n += f
	}
	return n
}
