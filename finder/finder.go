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

// Package finder discovers the candidates for a project: it collects links
// from sources, drops the ones that cannot be used, and orders the rest by
// preference.
//
// Only artifacts whose version is valid PEP 440 become candidates. Links with
// legacy version strings are dropped before any other filtering, so an "==="
// requirement can only select versions that parse.
package finder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"deps.dev/util/pip"
	"deps.dev/util/pip/pep440"
	"deps.dev/util/pip/tags"
)

// ErrUploadTimeUnknown is returned when an upload time cutoff is configured
// and a source cannot report when an artifact was uploaded.
var ErrUploadTimeUnknown = errors.New("upload time unknown")

// Mode selects how index sources are combined.
type Mode int

const (
	// FirstMatch uses the first source, in priority order, that knows the
	// project.
	FirstMatch Mode = iota
	// Union merges the links of every source.
	Union
)

// All selects every project in Options.OnlyBinary and Options.NoBinary.
const All = ":all:"

// Installed describes a distribution already present in the target
// environment.
type Installed struct {
	Name, Version string
	// Metadata may be nil for a distribution without dependencies.
	Metadata *pip.Metadata
}

// Options configures a Finder.
type Options struct {
	// Sources are the indexes, highest priority first.
	Sources []pip.Source
	// Supplementary sources, such as find-links directories, are explicit
	// user intent and are always merged in whatever the Mode.
	Supplementary []pip.Source
	Mode          Mode
	// Provider supplies metadata for candidates built from source links.
	Provider pip.MetadataProvider
	// Target restricts wheels to those installable on it. Nil admits all.
	Target *tags.Target
	// Python is the target interpreter version, checked against the
	// Requires-Python an index reports. Nil skips the check.
	Python *pep440.Version
	// Cutoff, when set, admits only artifacts uploaded strictly before it.
	Cutoff           time.Time
	AllowPrereleases bool
	// PrereleaseFor lists canonical names for which pre-releases are
	// admitted.
	PrereleaseFor []string
	// PreferBinary orders versions that have a usable wheel before those
	// that only have an sdist.
	PreferBinary bool
	// OnlyBinary and NoBinary hold canonical names, or All.
	OnlyBinary []string
	NoBinary   []string
	Installed  []Installed
	// Cache defaults to a private cache of 1024 listings.
	Cache  *LinkCache
	Logger *log.Logger
}

// Query asks for the candidates of one project.
type Query struct {
	// Name is the canonical project name.
	Name      string
	Specifier pep440.SpecifierSet
	// Hashes is nil unless hash-checking is active.
	Hashes pip.HashSet
	// Direct, when set, names the only acceptable artifact.
	Direct *pip.RequirementSource
	// AllowPrereleases admits pre-releases for this query alone.
	AllowPrereleases bool
	// Upgrade stops an installed distribution from being preferred.
	Upgrade bool
}

// Finder finds candidates. It is safe for concurrent use, and candidates it
// returns are shared between calls so their metadata is fetched only once.
type Finder struct {
	opts     Options
	logger   *log.Logger
	cache    *LinkCache
	explicit map[string]bool
	preFor   map[string]bool

	mu    sync.Mutex
	cands map[string]*pip.Candidate
}

// New returns a Finder.
func New(opts Options) *Finder {
	f := &Finder{
		opts:     opts,
		logger:   opts.Logger,
		cache:    opts.Cache,
		explicit: make(map[string]bool),
		preFor:   make(map[string]bool),
		cands:    make(map[string]*pip.Candidate),
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard)
	}
	if f.cache == nil {
		f.cache = NewLinkCache(1024)
	}
	for _, s := range opts.Supplementary {
		f.explicit[s.Name()] = true
	}
	for _, s := range opts.Sources {
		if s.Explicit() {
			f.explicit[s.Name()] = true
		}
	}
	for _, n := range opts.PrereleaseFor {
		f.preFor[pip.CanonName(n)] = true
	}
	return f
}

func policyHas(list []string, name string) bool {
	return slices.Contains(list, All) || slices.Contains(list, name)
}

// version groups the usable links of one version.
type version struct {
	v     *pep440.Version
	links []pip.Link
}

// Find returns the candidates for the query, most preferred first.
func (f *Finder) Find(ctx context.Context, q Query) (*Matches, error) {
	if q.Direct != nil {
		c, err := f.direct(q)
		if err != nil {
			return nil, err
		}
		return &Matches{cands: []*pip.Candidate{c}}, nil
	}
	if q.Hashes != nil && len(q.Hashes) == 0 {
		return nil, &pip.HashPolicyError{Name: q.Name, Reason: "no hash is allowed by every requirement"}
	}
	links, err := f.collect(ctx, q.Name)
	if err != nil {
		return nil, err
	}
	versions, err := f.filter(q, links)
	if err != nil {
		return nil, err
	}

	allowPre := f.opts.AllowPrereleases || q.AllowPrereleases || f.preFor[q.Name] || q.Specifier.HasPrerelease()
	if !allowPre {
		finals := slices.DeleteFunc(slices.Clone(versions), func(v version) bool { return v.v.IsPrerelease() })
		if len(finals) > 0 {
			versions = finals
		} else if len(versions) > 0 {
			f.logger.Debug("admitting pre-releases, no final release matches", "name", q.Name, "specifier", q.Specifier)
		}
	}

	hasWheel := func(v version) bool {
		return slices.ContainsFunc(v.links, func(l pip.Link) bool { return l.Kind == pip.Wheel })
	}
	slices.SortStableFunc(versions, func(a, b version) int {
		if f.opts.PreferBinary {
			if wa, wb := hasWheel(a), hasWheel(b); wa != wb {
				if wa {
					return -1
				}
				return 1
			}
		}
		return b.v.Compare(a.v)
	})

	var cands []*pip.Candidate
	installed := f.installed(q)
	for _, v := range versions {
		if installed != nil && installed.Version().Equal(v.v) {
			// The installed copy stands in for the index copy.
			continue
		}
		cands = append(cands, f.candidate(f.best(v.links), v.v, f.opts.Provider))
	}
	if installed != nil {
		i := 0
		if q.Upgrade {
			// Upgrading: the installed copy takes its place among the
			// index versions.
			i = len(cands)
			for j, c := range cands {
				if c.Version().Compare(installed.Version()) < 0 {
					i = j
					break
				}
			}
		}
		cands = slices.Insert(cands, i, installed)
	}
	return &Matches{cands: cands}, nil
}

// collect gathers the links of the project from the sources.
func (f *Finder) collect(ctx context.Context, name string) ([]pip.Link, error) {
	var (
		links    []pip.Link
		firstErr error
	)
	switch f.opts.Mode {
	case Union:
		results := make([][]pip.Link, len(f.opts.Sources))
		errs := make([]error, len(f.opts.Sources))
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range f.opts.Sources {
			g.Go(func() error {
				results[i], errs[i] = f.cache.Links(gctx, src, name)
				return nil
			})
		}
		_ = g.Wait()
		for i, src := range f.opts.Sources {
			if errs[i] != nil {
				f.logger.Warn("source failed", "source", src.Name(), "name", name, "err", errs[i])
				firstErr = cmpOr(firstErr, errs[i])
				continue
			}
			links = append(links, results[i]...)
		}
	default:
		for _, src := range f.opts.Sources {
			ls, err := f.cache.Links(ctx, src, name)
			if err != nil {
				f.logger.Warn("source failed", "source", src.Name(), "name", name, "err", err)
				firstErr = cmpOr(firstErr, err)
				continue
			}
			if slices.ContainsFunc(ls, func(l pip.Link) bool { return l.Name == name }) {
				links = append(links, ls...)
				break
			}
		}
	}
	for _, src := range f.opts.Supplementary {
		ls, err := f.cache.Links(ctx, src, name)
		if err != nil {
			f.logger.Warn("source failed", "source", src.Name(), "name", name, "err", err)
			firstErr = cmpOr(firstErr, err)
			continue
		}
		links = append(links, ls...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(links) == 0 && firstErr != nil {
		return nil, fmt.Errorf("listing %s: %w", name, firstErr)
	}
	return links, nil
}

func cmpOr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// filter drops unusable links and groups the rest by version.
func (f *Finder) filter(q Query, links []pip.Link) ([]version, error) {
	byVersion := make(map[string]*version)
	var order []string
	for _, l := range links {
		if l.Name != q.Name {
			continue
		}
		drop := func(reason string) {
			f.logger.Debug("skipping link", "link", l, "reason", reason)
		}
		v, err := pep440.Parse(l.Version)
		if err != nil {
			drop("invalid version")
			continue
		}
		switch {
		case l.Kind == pip.Sdist && policyHas(f.opts.OnlyBinary, q.Name):
			drop("binary only")
			continue
		case l.Kind == pip.Wheel && policyHas(f.opts.NoBinary, q.Name):
			drop("no binary")
			continue
		}
		if l.Kind == pip.Wheel && f.opts.Target != nil {
			if _, ok := f.opts.Target.BestRank(l.Tags); !ok {
				drop("incompatible tags")
				continue
			}
		}
		if l.RequiresPython != "" && f.opts.Python != nil {
			if rp, err := pep440.ParseSpecifierSet(l.RequiresPython); err == nil && !rp.Contains(f.opts.Python, true) {
				drop("requires-python " + l.RequiresPython)
				continue
			}
		}
		if !f.opts.Cutoff.IsZero() && !f.explicit[l.Source] {
			if l.UploadTime.IsZero() {
				return nil, fmt.Errorf("%s from %s: %w", l, l.Source, ErrUploadTimeUnknown)
			}
			if !l.UploadTime.Before(f.opts.Cutoff) {
				drop("uploaded after cutoff")
				continue
			}
		}
		if !q.Specifier.Contains(v, true) {
			continue
		}
		key := v.String()
		e, ok := byVersion[key]
		if !ok {
			e = &version{v: v}
			byVersion[key] = e
			order = append(order, key)
		}
		e.links = append(e.links, l)
	}

	pinned := q.Specifier.ExactVersions()
	hashFiltered := false
	var out []version
	for _, key := range order {
		e := byVersion[key]
		live := slices.DeleteFunc(slices.Clone(e.links), func(l pip.Link) bool { return l.Yanked })
		if len(live) == 0 {
			if !pinsVersion(pinned, e.v) {
				f.logger.Debug("skipping yanked version", "name", q.Name, "version", key)
				continue
			}
			f.logger.Warn("selecting yanked release pinned by requirement", "name", q.Name, "version", key, "reason", e.links[0].YankedReason)
			live = e.links
		}
		if q.Hashes != nil {
			before := len(live)
			live = slices.DeleteFunc(live, func(l pip.Link) bool { return !q.Hashes.Allows(l.Hashes) })
			if len(live) < before {
				hashFiltered = true
			}
			if len(live) == 0 {
				continue
			}
		}
		out = append(out, version{v: e.v, links: live})
	}
	if len(out) == 0 && hashFiltered {
		return nil, &pip.HashPolicyError{Name: q.Name, Reason: "no artifact matches the required hashes"}
	}
	return out, nil
}

func pinsVersion(exact []string, v *pep440.Version) bool {
	for _, text := range exact {
		if text == v.Raw() {
			return true
		}
		if w, err := pep440.Parse(text); err == nil && w.Equal(v) {
			return true
		}
	}
	return false
}

// best picks the preferred artifact among the links of one version: the
// wheel with the most specific tag, else an sdist. Between wheels with
// equally ranked tags the higher build tag wins.
func (f *Finder) best(links []pip.Link) pip.Link {
	best, bestRank := links[0], f.rank(links[0])
	for _, l := range links[1:] {
		r := f.rank(l)
		if r < bestRank || r == bestRank && l.Kind == pip.Wheel && l.Build.Compare(best.Build) > 0 {
			best, bestRank = l, r
		}
	}
	return best
}

func (f *Finder) rank(l pip.Link) int {
	const sdistRank = 1 << 30
	if l.Kind != pip.Wheel {
		return sdistRank
	}
	if f.opts.Target == nil {
		return 0
	}
	r, _ := f.opts.Target.BestRank(l.Tags)
	return r
}

// candidate returns the shared candidate for the link.
func (f *Finder) candidate(l pip.Link, v *pep440.Version, p pip.MetadataProvider) *pip.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := l.Name + "\x00" + l.URL
	if c, ok := f.cands[key]; ok {
		return c
	}
	c := pip.NewCandidate(l, v, p)
	f.cands[key] = c
	return c
}

func (f *Finder) installed(q Query) *pip.Candidate {
	if q.Hashes != nil {
		// An installed copy cannot be verified against hashes.
		return nil
	}
	for _, inst := range f.opts.Installed {
		if pip.CanonName(inst.Name) != q.Name {
			continue
		}
		v, err := pep440.Parse(inst.Version)
		if err != nil || !q.Specifier.Contains(v, true) {
			return nil
		}
		meta := inst.Metadata
		if meta == nil {
			meta = &pip.Metadata{Name: inst.Name, Version: inst.Version}
		}
		l := pip.Link{
			Name:    q.Name,
			Version: inst.Version,
			Kind:    pip.Installed,
			URL:     "installed:" + q.Name + "==" + v.String(),
		}
		return f.candidate(l, v, staticMetadata{meta})
	}
	return nil
}

type staticMetadata struct{ meta *pip.Metadata }

func (s staticMetadata) Metadata(context.Context, *pip.Candidate) (*pip.Metadata, error) {
	return s.meta, nil
}

// direct builds the single candidate of a direct reference.
func (f *Finder) direct(q Query) (*pip.Candidate, error) {
	src := *q.Direct
	l := pip.Link{Name: q.Name, URL: src.URL, Filename: src.Filename(), Kind: pip.Tree, Source: "direct"}
	if _, frag, ok := strings.Cut(src.URL, "#"); ok {
		for _, kv := range strings.Split(frag, "&") {
			if h, err := pip.ParseHash(kv); err == nil {
				algo, digest, _ := strings.Cut(h, ":")
				if l.Hashes == nil {
					l.Hashes = make(map[string]string)
				}
				l.Hashes[algo] = digest
			}
		}
	}
	var v *pep440.Version
	if _, ok := pip.ArchiveKind(l.Filename); ok && src.Kind != pip.VCS {
		parsed, err := pip.ParseArtifact(q.Name, l.Filename, src.URL)
		if err != nil {
			return nil, &pip.UnsupportedError{Msg: err.Error(), PackageType: "direct reference"}
		}
		parsed.Hashes, parsed.Source = l.Hashes, l.Source
		l = parsed
		if v, err = pep440.Parse(l.Version); err != nil {
			return nil, err
		}
	}
	if l.Kind == pip.Wheel && f.opts.Target != nil {
		if _, ok := f.opts.Target.BestRank(l.Tags); !ok {
			return nil, &pip.UnsupportedError{Msg: l.Filename + " is not supported on this platform", PackageType: "wheel"}
		}
	}
	if q.Hashes != nil && !q.Hashes.Allows(l.Hashes) {
		return nil, &pip.HashPolicyError{Name: q.Name, Reason: "direct reference " + src.URL + " has no allowed hash"}
	}
	return f.candidate(l, v, f.opts.Provider), nil
}

// Prefetch asks the metadata provider, if it can, to start retrieving the
// metadata of candidates likely to be tried soon.
func (f *Finder) Prefetch(ctx context.Context, cands []*pip.Candidate) {
	if p, ok := f.opts.Provider.(pip.Prefetcher); ok && len(cands) > 0 {
		p.Prefetch(ctx, cands)
	}
}
