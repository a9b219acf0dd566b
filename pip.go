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

/*
Package pip holds the vocabulary shared by the Python dependency resolver:
requirements, identifiers, artifact links, candidates and the interfaces of
the collaborators that supply them.

The resolver itself lives in the resolver sub-package; candidate discovery in
finder; metadata retrieval in metadata.
*/
package pip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by a Source that has no record of a package.
var ErrNotFound = errors.New("not found")

// CanonName returns the normalized form of a project name as defined by
// PEP 503 (https://peps.python.org/pep-0503/#normalized-names).
func CanonName(name string) string {
	// Names may only be [-_.A-Za-z0-9].
	// Replace runs of [-_.] with a single "-", then lowercase everything.
	var out bytes.Buffer
	run := false // whether a run of [-_.] has started.
	for i := 0; i < len(name); i++ {
		switch c := name[i]; {
		case 'a' <= c && c <= 'z', '0' <= c && c <= '9':
			out.WriteByte(c)
			run = false
		case 'A' <= c && c <= 'Z':
			out.WriteByte(c + ('a' - 'A'))
			run = false
		case c == '-' || c == '_' || c == '.':
			if !run {
				out.WriteByte('-')
			}
			run = true
		default:
			run = false
		}
	}
	return out.String()
}

// Identifier is the unit the resolver pins: a bare project or a project with
// one extra. All identifiers with the same Name resolve to the same
// candidate.
type Identifier struct {
	Name  string // canonical
	Extra string // normalized, empty for the bare project
}

func (id Identifier) String() string {
	if id.Extra == "" {
		return id.Name
	}
	return id.Name + "[" + id.Extra + "]"
}

// Base returns the bare identifier of the project.
func (id Identifier) Base() Identifier { return Identifier{Name: id.Name} }

// Compare orders identifiers by name, bare identifiers first.
func (id Identifier) Compare(other Identifier) int {
	if c := strings.Compare(id.Name, other.Name); c != 0 {
		return c
	}
	return strings.Compare(id.Extra, other.Extra)
}

// Source lists the artifacts known for a project. Sources are consulted in
// priority order by the finder.
type Source interface {
	// Name identifies the source in logs and diagnostics.
	Name() string
	// Links returns the artifacts of the project with the given canonical
	// name. A source that does not know the project returns ErrNotFound or
	// no links.
	Links(ctx context.Context, name string) ([]Link, error)
	// Explicit reports whether the source is explicit user intent, such as
	// a local directory, rather than discovery. Explicit sources bypass
	// the upload time cutoff.
	Explicit() bool
}

// MetadataProvider retrieves the core metadata of a candidate. It is called
// at most once per candidate; Candidate memoizes the result.
type MetadataProvider interface {
	Metadata(ctx context.Context, c *Candidate) (*Metadata, error)
}

// Prefetcher is implemented by metadata providers that can retrieve metadata
// ahead of need. Prefetch must not block on the retrievals it starts.
type Prefetcher interface {
	Prefetch(ctx context.Context, cands []*Candidate)
}

// ParseError is returned for requirements and filenames that do not parse.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid requirement %q: %s", e.Input, e.Reason)
}

// UnsupportedError indicates an artifact whose metadata can only be obtained
// by running a build, which this module does not do.
type UnsupportedError struct {
	Msg         string
	PackageType string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.PackageType, e.Msg)
}

// HashPolicyError reports a violation of hash-checking mode. It is always
// fatal to a resolution.
type HashPolicyError struct {
	Name   string
	Reason string
}

func (e *HashPolicyError) Error() string {
	if e.Name == "" {
		return "hash-checking mode: " + e.Reason
	}
	return fmt.Sprintf("hash-checking mode: %s: %s", e.Name, e.Reason)
}

// RequiresPythonError reports a candidate whose Requires-Python excludes the
// target interpreter.
type RequiresPythonError struct {
	Name, Version  string
	RequiresPython string
	Target         string
}

func (e *RequiresPythonError) Error() string {
	return fmt.Sprintf("%s %s requires Python %s, target is %s", e.Name, e.Version, e.RequiresPython, e.Target)
}

// MetadataMismatchError reports metadata whose name or version disagrees
// with the artifact it was read from.
type MetadataMismatchError struct {
	Field, Want, Got string
}

func (e *MetadataMismatchError) Error() string {
	return fmt.Sprintf("inconsistent metadata: %s is %q, want %q", e.Field, e.Got, e.Want)
}
