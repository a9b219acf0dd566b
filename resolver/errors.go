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

package resolver

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"deps.dev/util/pip"
)

// ErrTooDeep is returned when a resolution exceeds its round limit.
var ErrTooDeep = errors.New("resolution aborted after too many rounds")

// Cause is one requirement or constraint contributing to a conflict.
type Cause struct {
	Requirement pip.Requirement
	// Parent is the candidate that declared the requirement, such as
	// "a==1.0". It is empty for requirements given by the user.
	Parent string
	// Constraint is set for entries of the constraint list.
	Constraint bool
}

func (c Cause) String() string {
	req := c.Requirement.String()
	var s string
	switch {
	case c.Constraint:
		s = "the constraint " + req
	case c.Parent == "":
		s = "the user requested " + req
	default:
		s = c.Parent + " depends on " + req
	}
	if c.Requirement.Origin != "" {
		s += " (" + c.Requirement.Origin + ")"
	}
	return s
}

// Conflict lists what was required of one identifier when no candidate could
// satisfy all of it.
type Conflict struct {
	Identifier pip.Identifier
	Causes     []Cause
}

// ResolutionImpossibleError is returned when candidates exist but no
// assignment satisfies every requirement.
type ResolutionImpossibleError struct {
	conflicts []Conflict
	// errs holds the failures of candidates that were rejected on their
	// own account, such as a Requires-Python mismatch.
	errs []error
}

// Conflicts returns the implicated identifiers, in order, with the
// requirements that could not be satisfied together.
func (e *ResolutionImpossibleError) Conflicts() []Conflict {
	return slices.Clone(e.conflicts)
}

// Unwrap returns the errors of individually rejected candidates.
func (e *ResolutionImpossibleError) Unwrap() []error {
	return e.errs
}

func (e *ResolutionImpossibleError) Error() string {
	var sb strings.Builder
	sb.WriteString("resolution impossible")
	var names []string
	for _, c := range e.conflicts {
		for _, cause := range c.Causes {
			if cause.Parent != "" && !slices.Contains(names, cause.Parent) {
				names = append(names, cause.Parent)
			}
		}
	}
	if len(names) > 1 {
		sb.WriteString(": cannot install " + strings.Join(names, " and ") + " because they have conflicting dependencies")
	}
	for _, c := range e.conflicts {
		for _, cause := range c.Causes {
			sb.WriteString("\n  ")
			sb.WriteString(cause.String())
		}
	}
	for _, err := range e.errs {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// NoCandidatesError is returned when a requirement matches no candidate at
// all, before any other requirement is taken into account.
type NoCandidatesError struct {
	Requirement pip.Requirement
	// Parent is the candidate that declared the requirement, empty for a
	// requirement given by the user.
	Parent string
}

func (e *NoCandidatesError) Error() string {
	s := "no candidates found for " + e.Requirement.String()
	if e.Parent != "" {
		s += " (required by " + e.Parent + ")"
	}
	if e.Requirement.Origin != "" {
		s += " (" + e.Requirement.Origin + ")"
	}
	return s
}

// conflictError signals, during the search, that the requirements of an
// identifier cannot be met. It triggers backtracking and only reaches the
// caller wrapped in one of the exported errors.
type conflictError struct {
	id          pip.Identifier
	information []information
	// noCandidates is set when a single requirement matched nothing.
	noCandidates bool
	// err is set when the candidates were rejected for their own
	// failures rather than for the requirements.
	err error
}

func (e *conflictError) Error() string {
	var reqs []string
	for _, info := range e.information {
		reqs = append(reqs, info.String())
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.id, e.err)
	}
	if e.noCandidates {
		return fmt.Sprintf("no candidates for %s: %s", e.id, strings.Join(reqs, ", "))
	}
	return fmt.Sprintf("requirements conflict for %s: %s", e.id, strings.Join(reqs, ", "))
}

// impossible turns the causes of the final failure into the error returned
// to the caller.
func (res *resolution) impossible(causes []*conflictError) error {
	if len(causes) > 0 && !slices.ContainsFunc(causes, func(c *conflictError) bool { return !c.noCandidates }) {
		info := causes[0].information[0]
		return &NoCandidatesError{Requirement: info.req.Requirement, Parent: info.parentString()}
	}
	byID := make(map[pip.Identifier]*Conflict)
	var ids []pip.Identifier
	var errs []error
	for _, c := range causes {
		if c.err != nil {
			errs = append(errs, c.err)
		}
		conflict, ok := byID[c.id]
		if !ok {
			conflict = &Conflict{Identifier: c.id}
			byID[c.id] = conflict
			ids = append(ids, c.id)
		}
		for _, info := range c.information {
			cause := Cause{Requirement: info.req.Requirement, Parent: info.parentString()}
			if !slices.ContainsFunc(conflict.Causes, func(o Cause) bool {
				return o.Parent == cause.Parent && o.Requirement.String() == cause.Requirement.String()
			}) {
				conflict.Causes = append(conflict.Causes, cause)
			}
		}
	}
	slices.SortFunc(ids, pip.Identifier.Compare)
	e := &ResolutionImpossibleError{errs: errs}
	for _, id := range ids {
		conflict := byID[id]
		if id.Extra == "" {
			for _, c := range res.constraints[id.Name].reqs {
				conflict.Causes = append(conflict.Causes, Cause{Requirement: c, Constraint: true})
			}
		}
		e.conflicts = append(e.conflicts, *conflict)
	}
	return e
}
