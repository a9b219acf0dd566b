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
	"fmt"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"

	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/pep440"
)

// SourceKind distinguishes where a requirement says its artifact comes from.
type SourceKind int

const (
	// Named requirements are looked up on the configured indexes.
	Named SourceKind = iota
	// DirectURL requirements name an archive by URL.
	DirectURL
	// VCS requirements name a version control checkout.
	VCS
	// LocalPath requirements name a file or directory on disk.
	LocalPath
)

func (k SourceKind) String() string {
	switch k {
	case Named:
		return "named"
	case DirectURL:
		return "url"
	case VCS:
		return "vcs"
	case LocalPath:
		return "path"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// RequirementSource says where the artifacts of a requirement come from.
// The zero value is a Named source.
type RequirementSource struct {
	Kind SourceKind
	// URL is the locator as written, without any "#egg=" fragment.
	URL string
	// VCS is the version control system for VCS sources, such as "git".
	VCS string
	// Ref is the revision named after "@" in a VCS URL, if any.
	Ref string
	// Path is the filesystem path of LocalPath sources.
	Path     string
	Editable bool
}

var vcsSchemes = []string{"git", "hg", "svn", "bzr"}

// ParseSource classifies a direct locator: a URL, a VCS URL or a path.
func ParseSource(locator string, editable bool) (RequirementSource, error) {
	src := RequirementSource{URL: locator, Editable: editable}
	if base, frag, ok := strings.Cut(locator, "#"); ok {
		// Keep hash fragments, they identify the artifact; drop the rest.
		if strings.HasPrefix(frag, "egg=") || strings.HasPrefix(frag, "subdirectory=") {
			src.URL = base
		}
	}
	if locator == "" {
		return src, fmt.Errorf("empty source locator")
	}
	for _, vcs := range vcsSchemes {
		if !strings.HasPrefix(locator, vcs+"+") {
			continue
		}
		src.Kind, src.VCS = VCS, vcs
		u, err := url.Parse(strings.TrimPrefix(src.URL, vcs+"+"))
		if err != nil {
			return src, fmt.Errorf("invalid %s URL %q: %v", vcs, locator, err)
		}
		if i := strings.LastIndex(u.Path, "@"); i > strings.LastIndex(u.Path, "/") {
			src.Ref = u.Path[i+1:]
		}
		return src, nil
	}
	if p, ok := strings.CutPrefix(src.URL, "file://"); ok {
		src.Kind, src.Path = LocalPath, p
		return src, nil
	}
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		src.Kind = DirectURL
		return src, nil
	}
	if strings.Contains(locator, "://") {
		return src, fmt.Errorf("unsupported URL scheme in %q", locator)
	}
	src.Kind, src.Path = LocalPath, path.Clean(src.URL)
	return src, nil
}

// Filename returns the last path element of the locator, which names the
// artifact for archive URLs and paths.
func (s RequirementSource) Filename() string {
	loc := s.URL
	if s.Kind == LocalPath {
		loc = s.Path
	}
	loc, _, _ = strings.Cut(loc, "#")
	loc, _, _ = strings.Cut(loc, "?")
	return path.Base(loc)
}

// Same reports whether two sources refer to the same artifact.
func (s RequirementSource) Same(o RequirementSource) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == LocalPath {
		return s.Path == o.Path
	}
	return s.URL == o.URL
}

func (s RequirementSource) String() string {
	if s.Kind == Named {
		return ""
	}
	return s.URL
}

// Requirement is a parsed PEP 508 dependency specification together with
// the hashes and origin attached to it by a requirements file.
type Requirement struct {
	// Name is the canonical project name.
	Name string
	// Extras are normalized, sorted and unique.
	Extras    []string
	Specifier pep440.SpecifierSet
	// Marker is nil when the requirement applies everywhere.
	Marker marker.Expr
	Source RequirementSource
	// Hashes is nil when no hashes were declared.
	Hashes HashSet
	// Origin describes where the requirement was introduced, for
	// diagnostics. It may be empty.
	Origin string
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// ParseRequirement parses a dependency specification as defined in PEP 508
// (https://peps.python.org/pep-0508/). Both the version specifier form and
// the "name @ url" form are accepted.
func ParseRequirement(v string) (Requirement, error) {
	const whitespace = " \t"
	var req Requirement
	s := strings.Trim(v, whitespace)
	if s == "" {
		return req, &ParseError{Input: v, Reason: "empty requirement"}
	}
	// Name: everything up until the first non-name character.
	nameEnd := strings.IndexAny(s, whitespace+"[(;<=!~>@")
	if nameEnd == -1 {
		nameEnd = len(s)
	}
	name := s[:nameEnd]
	if !namePattern.MatchString(name) {
		return req, &ParseError{Input: v, Reason: fmt.Sprintf("invalid project name %q", name)}
	}
	req.Name = CanonName(name)
	s = strings.TrimLeft(s[nameEnd:], whitespace)

	// Extras: a comma separated list in square brackets.
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end == -1 {
			return req, &ParseError{Input: v, Reason: "unterminated extras"}
		}
		for _, x := range strings.Split(s[1:end], ",") {
			x = strings.Trim(x, whitespace)
			if x == "" {
				continue
			}
			if !namePattern.MatchString(x) {
				return req, &ParseError{Input: v, Reason: fmt.Sprintf("invalid extra %q", x)}
			}
			req.Extras = append(req.Extras, marker.NormalizeExtra(x))
		}
		slices.Sort(req.Extras)
		req.Extras = slices.Compact(req.Extras)
		s = strings.TrimLeft(s[end+1:], whitespace)
	}

	var markerText string
	if rest, ok := strings.CutPrefix(s, "@"); ok {
		// URL: runs to whitespace, and a marker must be set off by
		// whitespace before the semicolon.
		rest = strings.TrimLeft(rest, whitespace)
		end := strings.IndexAny(rest, whitespace)
		if end == -1 {
			end = len(rest)
		}
		src, err := ParseSource(rest[:end], false)
		if err != nil {
			return req, &ParseError{Input: v, Reason: err.Error()}
		}
		req.Source = src
		rest = strings.Trim(rest[end:], whitespace)
		if rest != "" {
			m, ok := strings.CutPrefix(rest, ";")
			if !ok {
				return req, &ParseError{Input: v, Reason: fmt.Sprintf("unexpected %q after URL", rest)}
			}
			markerText = m
		}
	} else {
		// Version constraint: up to the marker, optionally in parentheses.
		constraint, m, hasMarker := strings.Cut(s, ";")
		constraint = strings.Trim(constraint, whitespace)
		if strings.HasPrefix(constraint, "(") {
			if !strings.HasSuffix(constraint, ")") {
				return req, &ParseError{Input: v, Reason: "unbalanced parentheses"}
			}
			constraint = constraint[1 : len(constraint)-1]
		}
		spec, err := pep440.ParseSpecifierSet(constraint)
		if err != nil {
			return req, err
		}
		req.Specifier = spec
		if hasMarker {
			markerText = m
		}
	}
	if strings.Trim(markerText, whitespace) != "" {
		m, err := marker.Parse(markerText)
		if err != nil {
			return req, err
		}
		req.Marker = m
	}
	return req, nil
}

// MustParseRequirement is like ParseRequirement but panics on error.
func MustParseRequirement(v string) Requirement {
	r, err := ParseRequirement(v)
	if err != nil {
		panic(err)
	}
	return r
}

// Identifier returns the bare identifier of the requirement's project.
func (r Requirement) Identifier() Identifier { return Identifier{Name: r.Name} }

// IsDirect reports whether the requirement names its artifact explicitly.
func (r Requirement) IsDirect() bool { return r.Source.Kind != Named }

// IsPinned reports whether the requirement selects a single version, by an
// exact specifier or a direct source.
func (r Requirement) IsPinned() bool {
	if r.IsDirect() {
		return true
	}
	for _, s := range r.Specifier.Specifiers() {
		if s.IsExact() {
			return true
		}
	}
	return false
}

// String returns the requirement in PEP 508 form. Hashes and origin are not
// part of it.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.IsDirect() {
		b.WriteString(" @ " + r.Source.URL)
		if r.Marker != nil {
			b.WriteByte(' ')
		}
	} else {
		b.WriteString(r.Specifier.String())
	}
	if r.Marker != nil {
		b.WriteString("; " + r.Marker.String())
	}
	return b.String()
}
