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

package pep440

import (
	"fmt"
	"slices"
	"strings"
)

// InvalidSpecifierError is returned when a string is not a valid version
// specifier.
type InvalidSpecifierError struct {
	Specifier string
	Reason    string
}

func (e *InvalidSpecifierError) Error() string {
	return fmt.Sprintf("invalid specifier %q: %s", e.Specifier, e.Reason)
}

// Operator is a version comparison operator.
type Operator string

const (
	OpCompatible   Operator = "~="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
	OpArbitrary    Operator = "==="
)

// operators is ordered so that no operator is preceded by one of its
// prefixes.
var operators = []Operator{
	OpArbitrary,
	OpCompatible,
	OpEqual,
	OpNotEqual,
	OpLessEqual,
	OpGreaterEqual,
	OpLess,
	OpGreater,
}

// Specifier is a single version clause such as ">=1.2" or "==2.*".
type Specifier struct {
	op Operator
	// text is the version as written, without the operator or a trailing
	// ".*".
	text     string
	version  *Version // nil for OpArbitrary when text is not a version
	wildcard bool
}

// ParseSpecifier parses a single specifier clause. An operator is required.
func ParseSpecifier(s string) (Specifier, error) {
	in := strings.TrimSpace(s)
	var spec Specifier
	for _, op := range operators {
		if strings.HasPrefix(in, string(op)) {
			spec.op = op
			in = strings.TrimSpace(in[len(op):])
			break
		}
	}
	fail := func(format string, args ...any) (Specifier, error) {
		return Specifier{}, &InvalidSpecifierError{Specifier: s, Reason: fmt.Sprintf(format, args...)}
	}
	if spec.op == "" {
		return fail("missing operator")
	}
	if in == "" {
		return fail("missing version")
	}
	if spec.op == OpArbitrary {
		if strings.ContainsAny(in, " \t;)") {
			return fail("invalid arbitrary version")
		}
		spec.text = in
		spec.version, _ = Parse(in)
		return spec, nil
	}
	if strings.HasSuffix(in, ".*") {
		if spec.op != OpEqual && spec.op != OpNotEqual {
			return fail("wildcard not allowed with %s", spec.op)
		}
		spec.wildcard = true
		in = in[:len(in)-2]
	}
	v, err := Parse(in)
	if err != nil {
		return fail("%v", err.(*InvalidVersionError).Reason)
	}
	spec.text = in
	spec.version = v
	switch {
	case spec.wildcard && (v.pre != preNone || v.post >= 0 || v.dev >= 0 || len(v.local) > 0):
		return fail("wildcard must follow the release segment")
	case len(v.local) > 0 && spec.op != OpEqual && spec.op != OpNotEqual:
		return fail("local version label not allowed with %s", spec.op)
	case spec.op == OpCompatible && len(v.release) < 2:
		return fail("%s requires at least two release segments", spec.op)
	}
	return spec, nil
}

// MustParseSpecifier is like ParseSpecifier but panics on error.
func MustParseSpecifier(s string) Specifier {
	spec, err := ParseSpecifier(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// Operator returns the specifier's operator.
func (s Specifier) Operator() Operator { return s.op }

// Version returns the specifier's version; it is nil for an arbitrary
// equality clause whose literal is not a valid version.
func (s Specifier) Version() *Version { return s.version }

func (s Specifier) String() string {
	if s.wildcard {
		return string(s.op) + s.text + ".*"
	}
	return string(s.op) + s.text
}

// IsPrerelease reports whether the specifier explicitly names a pre-release,
// which opts the enclosing set into admitting pre-releases. Exclusions never
// do.
func (s Specifier) IsPrerelease() bool {
	return s.op != OpNotEqual && s.version != nil && s.version.IsPrerelease()
}

// IsExact reports whether the specifier pins a single version: "==" without
// a wildcard, or "===".
func (s Specifier) IsExact() bool {
	return (s.op == OpEqual && !s.wildcard) || s.op == OpArbitrary
}

// Contains reports whether v satisfies the clause. It applies no
// pre-release policy; see SpecifierSet.Contains.
func (s Specifier) Contains(v *Version) bool {
	switch s.op {
	case OpArbitrary:
		return v.raw == s.text
	case OpEqual:
		return s.equal(v)
	case OpNotEqual:
		return !s.equal(v)
	case OpCompatible:
		return v.Public().Compare(s.version) >= 0 && prefixMatch(v, s.version.epoch, compatiblePrefix(s.version))
	case OpLessEqual:
		return v.Public().Compare(s.version) <= 0
	case OpGreaterEqual:
		return v.Public().Compare(s.version) >= 0
	case OpLess:
		if v.Compare(s.version) >= 0 {
			return false
		}
		// <V does not admit pre-releases of V unless V is one itself.
		return s.version.IsPrerelease() || !v.IsPrerelease() || !v.BaseVersion().Equal(s.version.BaseVersion())
	case OpGreater:
		if v.Compare(s.version) <= 0 {
			return false
		}
		sameBase := v.BaseVersion().Equal(s.version.BaseVersion())
		// >V does not admit post-releases of V unless V is one itself, and
		// never admits local versions of V.
		if sameBase && v.IsPostrelease() && !s.version.IsPostrelease() {
			return false
		}
		return !(sameBase && len(v.local) > 0)
	}
	return false
}

func (s Specifier) equal(v *Version) bool {
	if s.wildcard {
		return prefixMatch(v, s.version.epoch, s.version.release)
	}
	if len(s.version.local) > 0 {
		return v.Compare(s.version) == 0
	}
	return v.Public().Compare(s.version) == 0
}

// compatiblePrefix returns the release prefix that "~=V" fixes: V's release
// without its last component. Any suffix of V is ignored.
func compatiblePrefix(v *Version) []int {
	return v.release[:len(v.release)-1]
}

// prefixMatch reports whether v's epoch is epoch and its release, padded
// with zeros, starts with prefix.
func prefixMatch(v *Version, epoch int, prefix []int) bool {
	if v.epoch != epoch {
		return false
	}
	for i, n := range prefix {
		if v.component(i) != n {
			return false
		}
	}
	return true
}

// SpecifierSet is the conjunction of zero or more specifiers. The zero value
// is the empty set, which admits every final release.
type SpecifierSet struct {
	specs []Specifier
}

// ParseSpecifierSet parses a comma-separated list of specifiers. The empty
// string yields the empty set.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	var set SpecifierSet
	if strings.TrimSpace(s) == "" {
		return set, nil
	}
	for _, part := range strings.Split(s, ",") {
		spec, err := ParseSpecifier(part)
		if err != nil {
			return SpecifierSet{}, err
		}
		set.specs = append(set.specs, spec)
	}
	return set, nil
}

// MustParseSpecifierSet is like ParseSpecifierSet but panics on error.
func MustParseSpecifierSet(s string) SpecifierSet {
	set, err := ParseSpecifierSet(s)
	if err != nil {
		panic(err)
	}
	return set
}

// NewSpecifierSet returns the conjunction of the given specifiers.
func NewSpecifierSet(specs ...Specifier) SpecifierSet {
	return SpecifierSet{specs: slices.Clone(specs)}
}

// Specifiers returns the members of the set.
func (s SpecifierSet) Specifiers() []Specifier { return slices.Clone(s.specs) }

// Len returns the number of specifiers in the set.
func (s SpecifierSet) Len() int { return len(s.specs) }

// IsEmpty reports whether the set has no members.
func (s SpecifierSet) IsEmpty() bool { return len(s.specs) == 0 }

// And returns the conjunction of s and t.
func (s SpecifierSet) And(t SpecifierSet) SpecifierSet {
	out := make([]Specifier, 0, len(s.specs)+len(t.specs))
	out = append(out, s.specs...)
	out = append(out, t.specs...)
	return SpecifierSet{specs: out}
}

// String returns the members sorted and joined by commas, which is
// independent of the order they were written in.
func (s SpecifierSet) String() string {
	strs := make([]string, len(s.specs))
	for i, spec := range s.specs {
		strs[i] = spec.String()
	}
	slices.Sort(strs)
	strs = slices.Compact(strs)
	return strings.Join(strs, ",")
}

// HasPrerelease reports whether any member explicitly names a pre-release.
func (s SpecifierSet) HasPrerelease() bool {
	for _, spec := range s.specs {
		if spec.IsPrerelease() {
			return true
		}
	}
	return false
}

// ExactVersions returns the versions pinned by "==" or "===" members.
func (s SpecifierSet) ExactVersions() []string {
	var out []string
	for _, spec := range s.specs {
		if spec.IsExact() {
			out = append(out, spec.text)
		}
	}
	return out
}

// Contains reports whether v satisfies every member. Pre-releases are
// rejected unless allowPrereleases is set or a member names a pre-release.
func (s SpecifierSet) Contains(v *Version, allowPrereleases bool) bool {
	if v.IsPrerelease() && !allowPrereleases && !s.HasPrerelease() {
		return false
	}
	for _, spec := range s.specs {
		if !spec.Contains(v) {
			return false
		}
	}
	return true
}

// ContainsString is like Contains but accepts a version string that may not
// be a valid PEP 440 version. Such a string is only admitted by a set made
// entirely of "===" clauses that match it byte for byte.
func (s SpecifierSet) ContainsString(version string, allowPrereleases bool) bool {
	if v, err := Parse(version); err == nil {
		return s.Contains(v, allowPrereleases)
	}
	if len(s.specs) == 0 {
		return false
	}
	for _, spec := range s.specs {
		if spec.op != OpArbitrary || spec.text != version {
			return false
		}
	}
	return true
}
