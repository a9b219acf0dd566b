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
Package resolver computes one consistent set of candidates for a list of
requirements.

The search is the backtracking algorithm of resolvelib
(https://github.com/sarugaku/resolvelib), the resolver used by pip, in its
1.0 form: requirements are merged into per-identifier criteria, the most
constrained unpinned identifier is pinned next, and when no candidate of an
identifier works the search jumps back to the most recent pin whose
dependencies are implicated in the failure.

A project requested with an extra is pinned under its own identifier,
"name[extra]", whose dependencies are the bare project pinned to the same
candidate plus the requirements the extra adds. Every identifier of a
project therefore ends up on one candidate.
*/
package resolver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"deps.dev/util/pip"
	"deps.dev/util/pip/finder"
	"deps.dev/util/pip/internal/lru"
	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/pep440"
)

// DefaultMaxRounds is the round limit used when Options.MaxRounds is zero.
const DefaultMaxRounds = 200000

// UpgradeStrategy decides which projects may move away from an installed
// version when Options.Upgrade is set.
type UpgradeStrategy int

const (
	// OnlyIfNeeded upgrades the projects the user requested and keeps
	// installed dependencies unless a requirement excludes them.
	OnlyIfNeeded UpgradeStrategy = iota
	// Eager upgrades every project.
	Eager
	// ToSatisfyOnly keeps every installed version that satisfies the
	// requirements, including those of requested projects.
	ToSatisfyOnly
)

var strategyNames = []string{"only-if-needed", "eager", "to-satisfy-only"}

func (s UpgradeStrategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("UpgradeStrategy(%d)", int(s))
}

// ParseUpgradeStrategy parses the name of a strategy, such as "eager".
func ParseUpgradeStrategy(s string) (UpgradeStrategy, error) {
	if i := slices.Index(strategyNames, s); i >= 0 {
		return UpgradeStrategy(i), nil
	}
	return 0, fmt.Errorf("unknown upgrade strategy %q", s)
}

// Finder supplies the candidates of a project, most preferred first. It is
// implemented by *finder.Finder.
type Finder interface {
	Find(ctx context.Context, q finder.Query) (*finder.Matches, error)
	Prefetch(ctx context.Context, cands []*pip.Candidate)
}

// Options configures a Resolver.
type Options struct {
	Finder Finder
	// Environment evaluates the markers of requirements.
	Environment marker.Environment
	// Python is checked against the Requires-Python of candidates. It
	// defaults to the Python version of the Environment.
	Python          *pep440.Version
	Upgrade         bool
	UpgradeStrategy UpgradeStrategy
	// RequireHashes turns on hash-checking mode even if no requirement
	// carries hashes.
	RequireHashes bool
	MaxRounds     int
	// Prefetch is how many candidates after the one being tried have their
	// metadata retrieved ahead of need. Zero disables prefetching.
	Prefetch int
	Logger   *log.Logger
}

// Resolver resolves requirements. A Resolver holds no state between calls
// to Resolve; everything it learns lives in the Finder and its caches.
type Resolver struct {
	opts   Options
	logger *log.Logger
	python *pep440.Version
}

// New returns a Resolver.
func New(opts Options) *Resolver {
	r := &Resolver{opts: opts, logger: opts.Logger, python: opts.Python}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	if r.python == nil {
		if v, err := pep440.Parse(opts.Environment.PythonVersion()); err == nil {
			r.python = v
		}
	}
	if r.opts.MaxRounds <= 0 {
		r.opts.MaxRounds = DefaultMaxRounds
	}
	return r
}

// Resolve computes the pins for the requirements. Constraints narrow the
// versions and hashes allowed for a project but do not cause it to be
// installed.
func (r *Resolver) Resolve(ctx context.Context, reqs, constraints []pip.Requirement) (*PinSet, error) {
	runID := uuid.NewString()
	res := &resolution{
		r:             r,
		logger:        r.logger.With("run", runID),
		env:           r.opts.Environment,
		userRequested: make(map[string]int),
		constraints:   make(map[string]constraint),
		deps:          lru.New[depKey, []requirement](4096),
	}
	if err := res.addConstraints(constraints); err != nil {
		return nil, err
	}
	var users []pip.Requirement
	var roots []requirement
	for _, req := range reqs {
		if req.Marker != nil && !req.Marker.Evaluate(res.env, "") {
			res.logger.Debug("ignoring requirement", "requirement", req, "marker", req.Marker)
			continue
		}
		if _, ok := res.userRequested[req.Name]; !ok {
			res.userRequested[req.Name] = len(res.userRequested)
		}
		users = append(users, req)
		roots = append(roots, split(req)...)
	}
	if err := res.checkHashes(users); err != nil {
		return nil, err
	}
	res.logger.Debug("resolving", "requirements", len(roots), "constraints", len(constraints), "hashes", res.hashMode)
	s, rounds, err := res.resolve(ctx, roots, r.opts.MaxRounds)
	if err != nil {
		return nil, err
	}
	ps := res.pinSet(s)
	ps.RunID, ps.Rounds = runID, rounds
	res.logger.Debug("resolved", "pins", len(ps.Pins), "rounds", rounds)
	return ps, nil
}

// requirement is a requirement on a single identifier.
type requirement struct {
	pip.Requirement
	id pip.Identifier
	// explicit, when set, is the only candidate the requirement admits.
	explicit *pip.Candidate
}

// split turns a requirement into one requirement per identifier: the bare
// project, or one per requested extra.
func split(req pip.Requirement) []requirement {
	if len(req.Extras) == 0 {
		return []requirement{{Requirement: req, id: req.Identifier()}}
	}
	out := make([]requirement, 0, len(req.Extras))
	for _, x := range req.Extras {
		r := req
		r.Extras = []string{x}
		out = append(out, requirement{Requirement: r, id: pip.Identifier{Name: req.Name, Extra: x}})
	}
	return out
}

// baseRequirement ties the bare project to the candidate pinned for one of
// its extras.
func baseRequirement(c *pip.Candidate) requirement {
	req := pip.Requirement{Name: c.Name()}
	if v := c.Version(); v != nil {
		if spec, err := pep440.ParseSpecifierSet("==" + v.String()); err == nil {
			req.Specifier = spec
		}
	} else if src, err := pip.ParseSource(c.Link().URL, false); err == nil {
		req.Source = src
	}
	return requirement{Requirement: req, id: pip.Identifier{Name: c.Name()}, explicit: c}
}

func sameCandidate(a, b *pip.Candidate) bool {
	return a == b || (a.Name() == b.Name() && a.Link().URL == b.Link().URL)
}

func containsCandidate(cs []*pip.Candidate, c *pip.Candidate) bool {
	return slices.ContainsFunc(cs, func(o *pip.Candidate) bool { return sameCandidate(o, c) })
}

// satisfiedBy reports whether the candidate meets the requirement. A direct
// candidate whose version is not yet known meets any version specifier.
func satisfiedBy(req requirement, c *pip.Candidate) bool {
	switch {
	case req.explicit != nil:
		return sameCandidate(req.explicit, c)
	case req.IsDirect():
		return c.Link().URL == req.Source.URL
	}
	v := c.Version()
	return v == nil || req.Specifier.Contains(v, true)
}

// pinned is an identifier together with the candidate pinned for it.
type pinned struct {
	id   pip.Identifier
	cand *pip.Candidate
}

func (p *pinned) String() string {
	v := p.cand.VersionString()
	if v == "" {
		return p.id.String() + " @ " + p.cand.Link().URL
	}
	return p.id.String() + "==" + v
}

// information is a requirement and the pin that declared it.
type information struct {
	req requirement
	// parent is nil for the user's requirements.
	parent *pinned
}

func (i information) parentString() string {
	if i.parent == nil {
		return ""
	}
	return i.parent.String()
}

func (i information) String() string {
	if i.parent == nil {
		return i.req.String()
	}
	return i.req.String() + " (from " + i.parent.String() + ")"
}

func (i information) same(o information) bool {
	if (i.parent == nil) != (o.parent == nil) {
		return false
	}
	if i.parent != nil && (i.parent.id != o.parent.id || !sameCandidate(i.parent.cand, o.parent.cand)) {
		return false
	}
	return i.req.id == o.req.id && i.req.explicit == o.req.explicit && i.req.String() == o.req.String()
}

// criterion holds what is known about one identifier: the requirements on
// it, the candidates that satisfy them all, and the candidates found not to
// work. A criterion is never modified once built; changes replace it.
type criterion struct {
	information       []information
	incompatibilities []*pip.Candidate
	// candidates are ordered by preference.
	candidates []*pip.Candidate
}

// state is one step of the resolution: the pins made so far, in order, and
// the criteria they produced.
type state struct {
	pins            *pinMap
	criteria        map[pip.Identifier]*criterion
	backtrackCauses []information
}

type constraint struct {
	spec   pep440.SpecifierSet
	hashes pip.HashSet
	reqs   []pip.Requirement
}

type depKey struct {
	id   pip.Identifier
	cand *pip.Candidate
}

// resolution is a single run of the resolver.
type resolution struct {
	r      *Resolver
	logger *log.Logger
	env    marker.Environment
	// states is a stack of states, with the current state at the end.
	states []*state
	// userRequested holds the order of the user's requirements by name.
	userRequested map[string]int
	constraints   map[string]constraint
	hashMode      bool
	// hashes holds the digests allowed per project in hash-checking mode.
	hashes map[string]pip.HashSet
	// deps memoizes the dependencies of pinned candidates, which are read
	// again when backjumping.
	deps *lru.Cache[depKey, []requirement]
}

func (res *resolution) addConstraints(cs []pip.Requirement) error {
	for _, c := range cs {
		if len(c.Extras) > 0 {
			return &pip.ParseError{Input: c.String(), Reason: "constraints cannot have extras"}
		}
		if c.IsDirect() {
			return &pip.UnsupportedError{Msg: c.String() + " names a direct reference", PackageType: "constraint"}
		}
		if c.Marker != nil && !c.Marker.Evaluate(res.env, "") {
			continue
		}
		con := res.constraints[c.Name]
		con.spec = con.spec.And(c.Specifier)
		if c.Hashes != nil {
			con.hashes = con.hashes.Intersect(c.Hashes)
		}
		con.reqs = append(con.reqs, c)
		res.constraints[c.Name] = con
	}
	return nil
}

// checkHashes sets up hash-checking mode. It runs before any candidate is
// looked up, so a policy violation never costs a fetch.
func (res *resolution) checkHashes(reqs []pip.Requirement) error {
	res.hashMode = res.r.opts.RequireHashes
	for _, req := range reqs {
		res.hashMode = res.hashMode || req.Hashes != nil
	}
	for _, c := range res.constraints {
		res.hashMode = res.hashMode || c.hashes != nil
	}
	if !res.hashMode {
		return nil
	}
	res.hashes = make(map[string]pip.HashSet)
	for _, req := range reqs {
		hs := req.Hashes
		if hs == nil && req.IsDirect() {
			hs = fragmentHashes(req.Source.URL)
		}
		if !req.IsPinned() {
			return &pip.HashPolicyError{Name: req.Name, Reason: req.String() + " is not pinned with == or a direct reference"}
		}
		if hs == nil {
			return &pip.HashPolicyError{Name: req.Name, Reason: "no hashes given for " + req.String()}
		}
		res.hashes[req.Name] = res.hashes[req.Name].Intersect(hs)
	}
	for name, c := range res.constraints {
		if c.hashes != nil {
			res.hashes[name] = res.hashes[name].Intersect(c.hashes)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(res.hashes)) {
		if len(res.hashes[name]) == 0 {
			return &pip.HashPolicyError{Name: name, Reason: "no hash is allowed by every requirement"}
		}
	}
	return nil
}

// fragmentHashes returns the hashes in a URL fragment such as
// "#sha256=...", or nil.
func fragmentHashes(u string) pip.HashSet {
	_, frag, ok := strings.Cut(u, "#")
	if !ok {
		return nil
	}
	var hs pip.HashSet
	for _, kv := range strings.Split(frag, "&") {
		if h, err := pip.ParseHash(kv); err == nil {
			if hs == nil {
				hs = pip.HashSet{}
			}
			hs[h] = true
		}
	}
	return hs
}

func (res *resolution) upgrade(name string) bool {
	o := res.r.opts
	if !o.Upgrade {
		return false
	}
	switch o.UpgradeStrategy {
	case Eager:
		return true
	case ToSatisfyOnly:
		return false
	}
	_, ok := res.userRequested[name]
	return ok
}

// state gets the most recent state.
func (res *resolution) state() *state {
	return res.states[len(res.states)-1]
}

// pushNewState adds a copy of the current state to the stack.
func (res *resolution) pushNewState() {
	base := res.state()
	res.states = append(res.states, &state{
		pins:            base.pins.Clone(),
		criteria:        maps.Clone(base.criteria),
		backtrackCauses: slices.Clone(base.backtrackCauses),
	})
}

func (res *resolution) query(name string, spec pep440.SpecifierSet, direct *pip.RequirementSource) (finder.Query, error) {
	q := finder.Query{Name: name, Specifier: spec, Direct: direct, Upgrade: res.upgrade(name)}
	if c, ok := res.constraints[name]; ok {
		q.Specifier = q.Specifier.And(c.spec)
	}
	if res.hashMode {
		hs, ok := res.hashes[name]
		if !ok {
			return q, &pip.HashPolicyError{Name: name, Reason: "hashes are required in hash-checking mode but none were given"}
		}
		q.Hashes = hs
	}
	return q, nil
}

// findMatches returns the candidates that satisfy every requirement and are
// not known to be incompatible, most preferred first.
func (res *resolution) findMatches(ctx context.Context, id pip.Identifier, infos []information, incompatible []*pip.Candidate) ([]*pip.Candidate, error) {
	var (
		explicit []*pip.Candidate
		direct   *pip.RequirementSource
		spec     pep440.SpecifierSet
	)
	for _, info := range infos {
		req := info.req
		switch {
		case req.explicit != nil:
			if !containsCandidate(explicit, req.explicit) {
				explicit = append(explicit, req.explicit)
			}
		case req.IsDirect():
			if direct != nil && !direct.Same(req.Source) {
				// Two different artifacts for one project.
				return nil, nil
			}
			src := req.Source
			direct = &src
		default:
			spec = spec.And(req.Specifier)
		}
	}
	cands := explicit
	if len(cands) == 0 {
		q, err := res.query(id.Name, spec, direct)
		if err != nil {
			return nil, err
		}
		m, err := res.r.opts.Finder.Find(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("finding %s: %w", id, err)
		}
		cands = slices.Collect(m.All())
	}
	con, hasConstraint := res.constraints[id.Name]
	return slices.DeleteFunc(cands, func(c *pip.Candidate) bool {
		if containsCandidate(incompatible, c) {
			return true
		}
		if v := c.Version(); hasConstraint && v != nil && !con.spec.Contains(v, true) {
			return true
		}
		for _, info := range infos {
			if !satisfiedBy(info.req, c) {
				return true
			}
		}
		return false
	}), nil
}

// addToCriteria merges a requirement into the criteria. It returns a
// *conflictError if no candidate is left.
func (res *resolution) addToCriteria(ctx context.Context, criteria map[pip.Identifier]*criterion, req requirement, parent *pinned) error {
	info := information{req: req, parent: parent}
	crit := criteria[req.id]
	infos := []information{info}
	var incompatible []*pip.Candidate
	if crit != nil {
		// Check that we haven't already added this exact req/parent pair.
		for _, old := range crit.information {
			if old.same(info) {
				return nil
			}
		}
		infos = append(slices.Clip(crit.information), info)
		incompatible = crit.incompatibilities
	}
	matches, err := res.findMatches(ctx, req.id, infos, incompatible)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return &conflictError{id: req.id, information: infos, noCandidates: crit == nil}
	}
	criteria[req.id] = &criterion{information: infos, incompatibilities: incompatible, candidates: matches}
	return nil
}

// removeInformation drops the requirements declared by the given
// identifiers, whose pins no longer hold and will be made again.
func removeInformation(criteria map[pip.Identifier]*criterion, parents map[pip.Identifier]bool) {
	if len(parents) == 0 {
		return
	}
	for id, crit := range criteria {
		infos := slices.DeleteFunc(slices.Clone(crit.information), func(i information) bool {
			return i.parent != nil && parents[i.parent.id]
		})
		if len(infos) != len(crit.information) {
			criteria[id] = &criterion{information: infos, incompatibilities: crit.incompatibilities, candidates: crit.candidates}
		}
	}
}

// dependencies returns the requirements of a candidate pinned for the
// identifier. It fetches the candidate's metadata.
func (res *resolution) dependencies(ctx context.Context, id pip.Identifier, c *pip.Candidate) ([]requirement, error) {
	key := depKey{id: id, cand: c}
	if deps, ok := res.deps.Get(key); ok {
		return deps, nil
	}
	meta, err := c.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if py := res.r.python; py != nil && !c.IsInstalled() && !meta.RequiresPython.IsEmpty() && !meta.RequiresPython.Contains(py, true) {
		return nil, &pip.RequiresPythonError{
			Name:           c.Name(),
			Version:        c.VersionString(),
			RequiresPython: meta.RequiresPython.String(),
			Target:         py.String(),
		}
	}
	var deps []requirement
	if id.Extra != "" {
		if !meta.HasExtra(id.Extra) {
			res.logger.Warn("candidate does not provide the extra", "candidate", c, "extra", id.Extra)
		}
		deps = append(deps, baseRequirement(c))
	}
	for _, d := range meta.Dependencies(res.env, id.Extra) {
		deps = append(deps, split(d)...)
	}
	res.deps.Add(key, deps)
	return deps, nil
}

// rejectsCandidate reports whether an error disqualifies only the candidate
// that produced it, leaving the others to be tried.
func rejectsCandidate(err error) bool {
	var (
		rp *pip.RequiresPythonError
		ue *pip.UnsupportedError
		mm *pip.MetadataMismatchError
		pe *pip.ParseError
		ve *pep440.InvalidVersionError
		se *pep440.InvalidSpecifierError
		me *marker.InvalidMarkerError
	)
	return errors.As(err, &rp) || errors.As(err, &ue) || errors.As(err, &mm) ||
		errors.As(err, &pe) || errors.As(err, &ve) || errors.As(err, &se) || errors.As(err, &me)
}

// isCurrentPinSatisfying checks whether the pin of the identifier, if any,
// meets every requirement of the criterion.
func (res *resolution) isCurrentPinSatisfying(id pip.Identifier, crit *criterion) bool {
	c, ok := res.state().pins.Get(id)
	if !ok {
		return false
	}
	for _, info := range crit.information {
		if !satisfiedBy(info.req, c) {
			return false
		}
	}
	return true
}

// updatedCriteria returns a copy of the current criteria with the
// dependencies of the candidate merged in.
func (res *resolution) updatedCriteria(ctx context.Context, id pip.Identifier, c *pip.Candidate) (map[pip.Identifier]*criterion, error) {
	deps, err := res.dependencies(ctx, id, c)
	if err != nil {
		return nil, err
	}
	criteria := maps.Clone(res.state().criteria)
	parent := &pinned{id: id, cand: c}
	for _, d := range deps {
		if err := res.addToCriteria(ctx, criteria, d, parent); err != nil {
			return nil, err
		}
	}
	return criteria, nil
}

// attemptToPin tries the candidates of the identifier in order and pins the
// first whose dependencies can be merged. If none can, it returns why.
func (res *resolution) attemptToPin(ctx context.Context, id pip.Identifier) ([]*conflictError, error) {
	crit := res.state().criteria[id]
	if n := res.r.opts.Prefetch; n > 0 && len(crit.candidates) > 1 {
		res.r.opts.Finder.Prefetch(ctx, crit.candidates[1:min(len(crit.candidates), n+1)])
	}
	var causes []*conflictError
	for _, c := range crit.candidates {
		criteria, err := res.updatedCriteria(ctx, id, c)
		var ce *conflictError
		switch {
		case errors.As(err, &ce):
			res.logger.Debug("candidate conflicts", "identifier", id, "candidate", c, "causes", ce)
			causes = append(causes, ce)
			continue
		case err != nil && rejectsCandidate(err):
			res.logger.Debug("candidate rejected", "identifier", id, "candidate", c, "err", err)
			causes = append(causes, &conflictError{id: id, information: crit.information, err: err})
			continue
		case err != nil:
			return nil, err
		}
		s := res.state()
		s.pins.Set(id, c)
		s.criteria = criteria
		res.logger.Debug("pinned", "identifier", id, "candidate", c)
		return nil, nil
	}
	return causes, nil
}

type incompatibility struct {
	id    pip.Identifier
	cands []*pip.Candidate
}

// backjump unwinds the state stack to the most recent pin whose dependencies
// take part in the failure described by causes, marks that pin's candidate
// incompatible and carries the incompatibilities learnt so far into the
// state before it. Pins made in between are discarded and will be made
// again. It reports false if no state is left to resume from.
func (res *resolution) backjump(ctx context.Context, causes []information) (bool, error) {
	implicated := make(map[pip.Identifier]bool)
	for _, c := range causes {
		if c.parent != nil {
			implicated[c.parent.id] = true
		}
		implicated[c.req.id] = true
	}
	for len(res.states) >= 3 {
		// Always remove the state that triggered backtracking.
		res.states = res.states[:len(res.states)-1]

		var (
			broken *state
			id     pip.Identifier
			cand   *pip.Candidate
		)
		for found := false; !found; {
			if len(res.states) == 0 {
				return false, nil
			}
			broken = res.state()
			res.states = res.states[:len(res.states)-1]
			var ok bool
			if id, cand, ok = broken.pins.Pop(); !ok {
				return false, nil
			}
			deps, err := res.dependencies(ctx, id, cand)
			if err != nil {
				return false, err
			}
			found = slices.ContainsFunc(deps, func(d requirement) bool { return implicated[d.id] })
			if !found {
				res.logger.Debug("skipping unrelated pin", "identifier", id, "candidate", cand)
			}
		}
		if len(res.states) == 0 {
			return false, nil
		}
		res.logger.Debug("backjumped", "identifier", id, "candidate", cand, "depth", len(res.states))

		var fromBroken []incompatibility
		for _, bid := range sortedIDs(broken.criteria) {
			fromBroken = append(fromBroken, incompatibility{id: bid, cands: broken.criteria[bid].incompatibilities})
		}
		// Add the newly discovered incompatibility.
		fromBroken = append(fromBroken, incompatibility{id: id, cands: []*pip.Candidate{cand}})

		res.pushNewState()
		if res.patchCriteria(fromBroken) {
			return true, nil
		}
		// This state does not work with the new incompatibility
		// information. Keep winding down the stack.
	}
	return false, nil
}

// patchCriteria removes the incompatible candidates from the current
// criteria. It reports false if that leaves a criterion with no candidates.
func (res *resolution) patchCriteria(incs []incompatibility) bool {
	s := res.state()
	for _, inc := range incs {
		if len(inc.cands) == 0 {
			continue
		}
		crit, ok := s.criteria[inc.id]
		if !ok {
			continue
		}
		all := slices.Clone(inc.cands)
		for _, c := range crit.incompatibilities {
			if !containsCandidate(all, c) {
				all = append(all, c)
			}
		}
		// Only the incompatibilities have changed, so filtering the
		// known candidates is enough.
		var matches []*pip.Candidate
		for _, c := range crit.candidates {
			if !containsCandidate(all, c) {
				matches = append(matches, c)
			}
		}
		if len(matches) == 0 {
			return false
		}
		s.criteria[inc.id] = &criterion{information: crit.information, incompatibilities: all, candidates: matches}
	}
	return true
}

func sortedIDs[V any](m map[pip.Identifier]V) []pip.Identifier {
	return slices.SortedFunc(maps.Keys(m), pip.Identifier.Compare)
}

// preference is the sort key choosing the identifier to pin next: the one
// with the fewest candidates, then one involved in the last failure, then
// anything but setuptools, which has many versions and is rarely
// constrained, then the user's order and finally the name.
type preference struct {
	candidates int
	notCause   bool
	delay      bool
	order      int
	id         pip.Identifier
}

func (p preference) compare(q preference) int {
	return cmp.Or(
		cmp.Compare(p.candidates, q.candidates),
		compareBool(p.notCause, q.notCause),
		compareBool(p.delay, q.delay),
		cmp.Compare(p.order, q.order),
		p.id.Compare(q.id),
	)
}

// compareBool orders false before true.
func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

func (res *resolution) preference(id pip.Identifier) preference {
	s := res.state()
	p := preference{
		candidates: len(s.criteria[id].candidates),
		notCause:   true,
		delay:      id.Name == "setuptools",
		order:      math.MaxInt32,
		id:         id,
	}
	for _, c := range s.backtrackCauses {
		if c.req.id == id || (c.parent != nil && c.parent.id == id) {
			p.notCause = false
			break
		}
	}
	if o, ok := res.userRequested[id.Name]; ok {
		p.order = o
	}
	return p
}

// resolve runs the search for at most maxRounds rounds and returns the
// final state and the number of rounds taken.
func (res *resolution) resolve(ctx context.Context, roots []requirement, maxRounds int) (*state, int, error) {
	res.states = []*state{{
		pins:     newPinMap(0),
		criteria: make(map[pip.Identifier]*criterion),
	}}
	for _, req := range roots {
		err := res.addToCriteria(ctx, res.state().criteria, req, nil)
		var ce *conflictError
		if errors.As(err, &ce) {
			return nil, 0, res.impossible([]*conflictError{ce})
		}
		if err != nil {
			return nil, 0, err
		}
	}
	// Push a copy of the first state, so that there is always something to
	// backtrack to.
	res.pushNewState()

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, round, fmt.Errorf("resolution cancelled after %d rounds: %w", round, err)
		}
		s := res.state()
		var unsatisfied []preference
		satisfied := make(map[pip.Identifier]bool)
		for id, crit := range s.criteria {
			if res.isCurrentPinSatisfying(id, crit) {
				satisfied[id] = true
				continue
			}
			unsatisfied = append(unsatisfied, res.preference(id))
		}
		if len(unsatisfied) == 0 {
			return s, round, nil
		}
		next := slices.MinFunc(unsatisfied, preference.compare)
		res.logger.Debug("round", "round", round, "identifier", next.id, "candidates", next.candidates, "unsatisfied", len(unsatisfied))

		causes, err := res.attemptToPin(ctx, next.id)
		if err != nil {
			return nil, round, err
		}
		if len(causes) > 0 {
			var infos []information
			for _, c := range causes {
				infos = append(infos, c.information...)
			}
			res.logger.Debug("backtracking", "round", round, "identifier", next.id, "causes", len(infos))
			ok, err := res.backjump(ctx, infos)
			if err != nil {
				return nil, round, err
			}
			if !ok {
				return nil, round, res.impossible(causes)
			}
			res.state().backtrackCauses = infos
			continue
		}
		// The new pin may have added requirements that earlier pins no
		// longer meet. What those pins required is dropped; they will be
		// pinned again.
		invalidated := make(map[pip.Identifier]bool)
		for id, crit := range s.criteria {
			if satisfied[id] && !res.isCurrentPinSatisfying(id, crit) {
				invalidated[id] = true
			}
		}
		removeInformation(s.criteria, invalidated)
		res.pushNewState()
	}
	return nil, maxRounds, ErrTooDeep
}
