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
	"cmp"
	"maps"
	"slices"
	"strings"

	"deps.dev/util/pip"
)

// Pin is the outcome of a resolution for one project.
type Pin struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	// Source locates the selected artifact.
	Source   string   `json:"source"`
	Filename string   `json:"filename,omitempty"`
	Extras   []string `json:"extras,omitempty"`
	// UserRequested is set for projects named by the user's requirements.
	UserRequested bool `json:"user_requested"`
	// Installed is set when the installed distribution was kept.
	Installed bool `json:"installed,omitempty"`
	// Hashes are the digests of the artifact, as "algorithm:hex". In
	// hash-checking mode only the allowed ones are listed.
	Hashes []string `json:"hashes,omitempty"`
	// Dependencies are the names of the pinned projects this one requires.
	Dependencies []string `json:"dependencies,omitempty"`

	Candidate *pip.Candidate `json:"-"`
}

func (p Pin) String() string {
	s := p.Name
	if len(p.Extras) > 0 {
		s += "[" + strings.Join(p.Extras, ",") + "]"
	}
	if p.Version == "" || p.Candidate != nil && p.Candidate.Link().Kind == pip.Tree {
		return s + " @ " + p.Source
	}
	return s + "==" + p.Version
}

// PinSet is the result of a resolution.
type PinSet struct {
	// Pins are ordered so that every pin comes after its dependencies,
	// except where they form a cycle.
	Pins []Pin `json:"pins"`
	// RunID identifies the resolution in logs.
	RunID string `json:"run_id"`
	// Rounds is the number of rounds the search took.
	Rounds int `json:"rounds"`
}

// Get returns the pin for the project.
func (ps *PinSet) Get(name string) (Pin, bool) {
	name = pip.CanonName(name)
	for _, p := range ps.Pins {
		if p.Name == name {
			return p, true
		}
	}
	return Pin{}, false
}

// String returns one pin per line.
func (ps *PinSet) String() string {
	var sb strings.Builder
	for _, p := range ps.Pins {
		sb.WriteString(p.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// pinSet builds the result from the final state, walking the pins in the
// order they were made. Pins that were made for
// requirements whose declaring pins were later replaced are left out: only
// identifiers with a route to the user's requirements through current pins
// are kept.
func (res *resolution) pinSet(s *state) *PinSet {
	connected := make(map[pip.Identifier]bool)
	byName := make(map[string]*Pin)
	edges := make(map[string]map[string]bool)
	s.pins.Iterate(func(id pip.Identifier, c *pip.Candidate) {
		if !hasRouteToRoot(s, id, connected, make(map[pip.Identifier]bool)) {
			return
		}
		p, ok := byName[id.Name]
		switch {
		case !ok:
			p = res.newPin(c)
			byName[id.Name] = p
		case id.Extra == "":
			p.Candidate = c
		}
		if id.Extra != "" {
			p.Extras = append(p.Extras, id.Extra)
		}
		for _, info := range s.criteria[id].information {
			if info.parent == nil || info.parent.id.Name == id.Name {
				continue
			}
			if pc, ok := s.pins.Get(info.parent.id); !ok || !sameCandidate(pc, info.parent.cand) {
				continue
			}
			if edges[info.parent.id.Name] == nil {
				edges[info.parent.id.Name] = make(map[string]bool)
			}
			edges[info.parent.id.Name][id.Name] = true
		}
	})
	for _, p := range byName {
		slices.Sort(p.Extras)
	}

	// Walk from the user's requirements in their order, then everything
	// else by name, emitting dependencies first.
	names := slices.SortedFunc(maps.Keys(byName), func(a, b string) int {
		oa, aok := res.userRequested[a]
		ob, bok := res.userRequested[b]
		switch {
		case aok && bok:
			return cmp.Compare(oa, ob)
		case aok:
			return -1
		case bok:
			return 1
		}
		return strings.Compare(a, b)
	})
	ps := &PinSet{}
	visited := make(map[string]bool)
	var visit func(string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		deps := slices.Sorted(maps.Keys(edges[name]))
		for _, d := range deps {
			if byName[d] != nil {
				visit(d)
			}
		}
		p := byName[name]
		p.Dependencies = deps
		ps.Pins = append(ps.Pins, *p)
	}
	for _, name := range names {
		visit(name)
	}
	return ps
}

func (res *resolution) newPin(c *pip.Candidate) *Pin {
	l := c.Link()
	_, requested := res.userRequested[c.Name()]
	p := &Pin{
		Name:          c.Name(),
		Version:       c.VersionString(),
		Source:        l.URL,
		Filename:      l.Filename,
		UserRequested: requested,
		Installed:     c.IsInstalled(),
		Candidate:     c,
	}
	for _, algo := range slices.Sorted(maps.Keys(l.Hashes)) {
		h := strings.ToLower(algo + ":" + l.Hashes[algo])
		if res.hashMode && !res.hashes[c.Name()][h] {
			continue
		}
		p.Hashes = append(p.Hashes, h)
	}
	return p
}

// hasRouteToRoot reports whether the identifier was required, through a
// chain of current pins, by one of the user's requirements. visiting holds
// the identifiers on the current path, which breaks cycles.
func hasRouteToRoot(s *state, id pip.Identifier, connected, visiting map[pip.Identifier]bool) bool {
	if connected[id] {
		return true
	}
	if visiting[id] {
		return false
	}
	visiting[id] = true
	crit, ok := s.criteria[id]
	if !ok {
		return false
	}
	for _, info := range crit.information {
		if info.parent == nil {
			connected[id] = true
			return true
		}
		if pc, ok := s.pins.Get(info.parent.id); !ok || !sameCandidate(pc, info.parent.cand) {
			// The parent was never pinned or a different candidate
			// was pinned. Either way, there is no path to the root
			// through here.
			continue
		}
		if hasRouteToRoot(s, info.parent.id, connected, visiting) {
			connected[id] = true
			return true
		}
	}
	return false
}
