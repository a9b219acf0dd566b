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
	"context"
	"slices"
	"sync"

	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/pep440"
)

// Metadata is the part of a distribution's core metadata that matters for
// resolution.
type Metadata struct {
	Name    string
	Version string
	// Requires holds the Requires-Dist entries, markers unevaluated.
	Requires []Requirement
	// Extras holds the normalized Provides-Extra entries.
	Extras         []string
	RequiresPython pep440.SpecifierSet
	// MetadataVersion is the Metadata-Version field, such as "2.1".
	MetadataVersion string
}

// Dependencies returns the requirements that apply in env for the given
// extra. The empty extra selects the base dependencies; a named extra
// selects only the requirements whose marker needs that extra, which are
// the ones not already in the base set.
func (m *Metadata) Dependencies(env marker.Environment, extra string) []Requirement {
	var out []Requirement
	for _, r := range m.Requires {
		if r.Marker == nil {
			if extra == "" {
				out = append(out, r)
			}
			continue
		}
		if extra == "" {
			if r.Marker.Evaluate(env, "") {
				out = append(out, r)
			}
			continue
		}
		if r.Marker.Evaluate(env, extra) && !r.Marker.Evaluate(env, "") {
			out = append(out, r)
		}
	}
	return out
}

// HasExtra reports whether the distribution declares the normalized extra.
func (m *Metadata) HasExtra(extra string) bool {
	return slices.Contains(m.Extras, extra)
}

// Candidate is one concrete choice for a project: a version and the artifact
// that provides it. Candidates are immutable apart from their lazily fetched
// metadata, which is retrieved at most once.
type Candidate struct {
	name     string
	version  *pep440.Version
	link     Link
	provider MetadataProvider

	mu   sync.Mutex
	done bool
	meta *Metadata
	err  error
}

// NewCandidate returns a candidate for the artifact. The version may be nil
// for direct sources whose version is only known from their metadata.
func NewCandidate(link Link, version *pep440.Version, provider MetadataProvider) *Candidate {
	return &Candidate{name: link.Name, version: version, link: link, provider: provider}
}

// Name returns the canonical project name.
func (c *Candidate) Name() string { return c.name }

// Version returns the candidate version, or nil if it is not yet known.
func (c *Candidate) Version() *pep440.Version { return c.version }

// Link returns the artifact providing the candidate.
func (c *Candidate) Link() Link { return c.link }

// IsInstalled reports whether the candidate is already installed.
func (c *Candidate) IsInstalled() bool { return c.link.Kind == Installed }

// VersionString returns the canonical version, falling back to the version
// reported by the metadata or the link.
func (c *Candidate) VersionString() string {
	if c.version != nil {
		return c.version.String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta != nil && c.meta.Version != "" {
		return c.meta.Version
	}
	return c.link.Version
}

func (c *Candidate) String() string {
	v := c.VersionString()
	if v == "" {
		return c.name + " @ " + c.link.URL
	}
	return c.name + "==" + v
}

// Metadata returns the candidate's metadata, fetching it on first use.
// Failures other than cancellation are remembered, so every caller sees the
// same outcome.
func (c *Candidate) Metadata(ctx context.Context) (*Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.meta, c.err
	}
	meta, err := c.provider.Metadata(ctx, c)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if err == nil {
		err = c.check(meta)
	}
	c.done, c.meta, c.err = true, meta, err
	if err != nil {
		c.meta = nil
	}
	return c.meta, c.err
}

// Fetched reports whether the metadata has been retrieved.
func (c *Candidate) Fetched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Candidate) check(meta *Metadata) error {
	if meta.Name != "" && CanonName(meta.Name) != c.name {
		return &MetadataMismatchError{Field: "name", Want: c.name, Got: meta.Name}
	}
	if c.version == nil || meta.Version == "" {
		return nil
	}
	v, err := pep440.Parse(meta.Version)
	if err != nil || !v.Equal(c.version) {
		return &MetadataMismatchError{Field: "version", Want: c.version.String(), Got: meta.Version}
	}
	return nil
}
