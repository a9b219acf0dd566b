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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"deps.dev/util/pip"
	"deps.dev/util/pip/config"
	"deps.dev/util/pip/finder"
	"deps.dev/util/pip/metadata"
	"deps.dev/util/pip/reqfile"
	"deps.dev/util/pip/resolver"
	"deps.dev/util/pip/source/local"
	"deps.dev/util/pip/source/simple"
)

type resolveFlags struct {
	configPath      string
	requirements    []string
	constraints     []string
	indexURL        string
	extraIndexURLs  []string
	findLinks       []string
	noIndex         bool
	pre             bool
	preferBinary    bool
	onlyBinary      []string
	noBinary        []string
	upgrade         bool
	upgradeStrategy string
	requireHashes   bool
	uploadedPriorTo string
	pythonVersion   string
	platforms       []string
	maxRounds       int
	noCache         bool
	format          string
}

func newResolveCmd() *cobra.Command {
	f := &resolveFlags{}
	cmd := &cobra.Command{
		Use:   "resolve [requirement...]",
		Short: "Resolve requirements and print the pinned set",
		Long: `Resolve finds one version of every project needed by the given requirements,
and of their dependencies, such that all requirements are satisfied. Nothing is
downloaded beyond the metadata needed to make the decision.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "TOML configuration file")
	fl.StringArrayVarP(&f.requirements, "requirement", "r", nil, "read requirements from a requirements file")
	fl.StringArrayVarP(&f.constraints, "constraint", "c", nil, "read constraints from a requirements file")
	fl.StringVarP(&f.indexURL, "index-url", "i", "", "base URL of the package index")
	fl.StringArrayVar(&f.extraIndexURLs, "extra-index-url", nil, "additional package index")
	fl.StringArrayVarP(&f.findLinks, "find-links", "f", nil, "directory of wheels and sdists to use")
	fl.BoolVar(&f.noIndex, "no-index", false, "ignore package indexes, use --find-links only")
	fl.BoolVar(&f.pre, "pre", false, "include pre-release and development versions")
	fl.BoolVar(&f.preferBinary, "prefer-binary", false, "prefer versions with wheels over newer sdist-only versions")
	fl.StringSliceVar(&f.onlyBinary, "only-binary", nil, "projects to take wheels for only, or :all:")
	fl.StringSliceVar(&f.noBinary, "no-binary", nil, "projects to take sdists for only, or :all:")
	fl.BoolVarP(&f.upgrade, "upgrade", "U", false, "upgrade installed projects")
	fl.StringVar(&f.upgradeStrategy, "upgrade-strategy", "", "only-if-needed, eager or to-satisfy-only")
	fl.BoolVar(&f.requireHashes, "require-hashes", false, "require a hash for every requirement")
	fl.StringVar(&f.uploadedPriorTo, "uploaded-prior-to", "", "ignore files uploaded at or after this time (RFC 3339 or YYYY-MM-DD)")
	fl.StringVar(&f.pythonVersion, "python-version", "", "target Python version, such as 3.12")
	fl.StringSliceVar(&f.platforms, "platform", nil, "target platform tags, most specific first")
	fl.IntVar(&f.maxRounds, "max-rounds", 0, "give up after this many resolution rounds")
	fl.BoolVar(&f.noCache, "no-cache", false, "keep fetched metadata in memory only")
	fl.StringVar(&f.format, "format", "text", "output format: text or json")
	return cmd
}

func runResolve(cmd *cobra.Command, f *resolveFlags, args []string) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	if f.format != "text" && f.format != "json" {
		return fmt.Errorf("unknown format %q", f.format)
	}

	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return err
		}
	}

	var reqs, constraints []pip.Requirement
	for _, a := range args {
		req, err := pip.ParseRequirement(a)
		if err != nil {
			return err
		}
		req.Origin = "command line"
		reqs = append(reqs, req)
	}
	noIndex := false
	for _, p := range f.requirements {
		rf, err := reqfile.ParseFile(p, reqfile.Options{Logger: logger})
		if err != nil {
			return err
		}
		reqs = append(reqs, rf.Requirements...)
		constraints = append(constraints, rf.Constraints...)
		noIndex = applyReqfile(cfg, filepath.Dir(p), rf) || noIndex
	}
	for _, p := range f.constraints {
		rf, err := reqfile.ParseFile(p, reqfile.Options{Logger: logger})
		if err != nil {
			return err
		}
		constraints = append(constraints, rf.Requirements...)
		constraints = append(constraints, rf.Constraints...)
	}
	if len(reqs) == 0 {
		return errors.New("no requirements given; name some or use -r")
	}
	if err := applyFlags(cmd, cfg, f); err != nil {
		return err
	}
	if noIndex || f.noIndex {
		cfg.Index.URLs = nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r, closeStore, err := newResolver(ctx, cfg, f.noCache, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	start := time.Now()
	ps, err := r.Resolve(ctx, reqs, constraints)
	if err != nil {
		var impossible *resolver.ResolutionImpossibleError
		if errors.As(err, &impossible) {
			printConflicts(cmd.ErrOrStderr(), impossible)
		}
		return err
	}
	logger.Info("resolved", "pins", len(ps.Pins), "rounds", ps.Rounds, "elapsed", time.Since(start).Round(time.Millisecond))

	if f.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ps)
	}
	printPins(cmd.OutOrStdout(), ps)
	return nil
}

// applyReqfile merges the options of a requirements file into cfg. Relative
// find-links directories are taken relative to the file. It reports whether
// the file asked for --no-index.
func applyReqfile(cfg *config.Config, dir string, rf *reqfile.File) bool {
	if rf.IndexURL != "" {
		cfg.Index.URLs = []string{rf.IndexURL}
	}
	cfg.Index.URLs = append(cfg.Index.URLs, rf.ExtraIndexURLs...)
	for _, fl := range rf.FindLinks {
		if !strings.Contains(fl, "://") && !filepath.IsAbs(fl) {
			fl = filepath.Join(dir, fl)
		}
		cfg.Index.FindLinks = append(cfg.Index.FindLinks, fl)
	}
	cfg.Resolve.Pre = cfg.Resolve.Pre || rf.Pre
	cfg.Resolve.PreferBinary = cfg.Resolve.PreferBinary || rf.PreferBinary
	cfg.Resolve.RequireHashes = cfg.Resolve.RequireHashes || rf.RequireHashes
	cfg.Resolve.OnlyBinary = append(cfg.Resolve.OnlyBinary, rf.OnlyBinary...)
	cfg.Resolve.NoBinary = append(cfg.Resolve.NoBinary, rf.NoBinary...)
	return rf.NoIndex
}

// applyFlags lets the flags given on the command line override cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f *resolveFlags) error {
	fl := cmd.Flags()
	if fl.Changed("index-url") {
		cfg.Index.URLs = []string{f.indexURL}
	}
	cfg.Index.URLs = append(cfg.Index.URLs, f.extraIndexURLs...)
	cfg.Index.FindLinks = append(cfg.Index.FindLinks, f.findLinks...)
	if fl.Changed("pre") {
		cfg.Resolve.Pre = f.pre
	}
	if fl.Changed("prefer-binary") {
		cfg.Resolve.PreferBinary = f.preferBinary
	}
	cfg.Resolve.OnlyBinary = append(cfg.Resolve.OnlyBinary, f.onlyBinary...)
	cfg.Resolve.NoBinary = append(cfg.Resolve.NoBinary, f.noBinary...)
	if fl.Changed("upgrade") {
		cfg.Resolve.Upgrade = f.upgrade
	}
	if fl.Changed("upgrade-strategy") {
		cfg.Resolve.UpgradeStrategy = f.upgradeStrategy
	}
	if fl.Changed("require-hashes") {
		cfg.Resolve.RequireHashes = f.requireHashes
	}
	if fl.Changed("uploaded-prior-to") {
		t, err := parseTime(f.uploadedPriorTo)
		if err != nil {
			return fmt.Errorf("--uploaded-prior-to: %w", err)
		}
		cfg.Resolve.UploadedPriorTo = t
	}
	if fl.Changed("python-version") {
		cfg.Target.PythonVersion = f.pythonVersion
	}
	if fl.Changed("platform") {
		cfg.Target.Platforms = f.platforms
	}
	if fl.Changed("max-rounds") {
		cfg.Resolve.MaxRounds = f.maxRounds
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// formatControl applies --only-binary and --no-binary values in order:
// ":none:" clears what came before.
func formatControl(values []string) []string {
	var out []string
	for _, v := range values {
		switch v {
		case ":none:":
			out = nil
		case finder.All:
			out = append(out, v)
		default:
			out = append(out, pip.CanonName(v))
		}
	}
	return slices.Compact(out)
}

// newStore picks the metadata store: memory with noCache, Redis when
// configured and reachable, files otherwise.
func newStore(ctx context.Context, cfg *config.Config, noCache bool, logger *log.Logger) (metadata.Store, func(), error) {
	nop := func() {}
	if noCache {
		return metadata.NewMemoryStore(4096), nop, nil
	}
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("cache.redis-url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err = client.Ping(pingCtx).Err()
		if err == nil {
			logger.Debug("using redis metadata cache", "addr", opts.Addr)
			return metadata.NewRedisStore(client, "pipresolve:metadata:", cfg.Cache.TTL.Duration), func() { client.Close() }, nil
		}
		logger.Warn("redis unreachable, caching metadata on disk", "addr", opts.Addr, "err", err)
		client.Close()
	}
	dir, err := cfg.CacheDir()
	if err != nil {
		return nil, nil, err
	}
	s, err := metadata.NewFileStore(filepath.Join(dir, "metadata"), cfg.Cache.TTL.Duration)
	if err != nil {
		return nil, nil, err
	}
	return s, nop, nil
}

// newResolver wires sources, metadata provider, finder and resolver from
// cfg. The returned function releases the metadata store.
func newResolver(ctx context.Context, cfg *config.Config, noCache bool, logger *log.Logger) (*resolver.Resolver, func(), error) {
	var sources []pip.Source
	var fetcher *simple.Index
	for _, u := range cfg.Index.URLs {
		ix, err := simple.New(u, simple.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, ix)
		if fetcher == nil {
			fetcher = ix
		}
	}
	if fetcher == nil {
		// Direct URL requirements still need fetching with --no-index.
		var err error
		if fetcher, err = simple.New(simple.DefaultURL, simple.Options{Logger: logger}); err != nil {
			return nil, nil, err
		}
	}
	var dirs []pip.Source
	for _, p := range cfg.Index.FindLinks {
		d, err := local.New(p, local.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		dirs = append(dirs, d)
	}
	if len(sources) == 0 && len(dirs) == 0 {
		return nil, nil, errors.New("no package sources: give an index or --find-links")
	}

	store, closeStore, err := newStore(ctx, cfg, noCache, logger)
	if err != nil {
		return nil, nil, err
	}
	provider := metadata.NewProvider(metadata.Options{
		Fetcher: metadata.Schemes{
			"https": fetcher,
			"http":  fetcher,
			"file":  metadata.FetcherFunc(local.Fetch),
		},
		Store:    store,
		Logger:   logger,
		Prefetch: cfg.Resolve.Prefetch,
	})

	target, err := cfg.Target.Tags()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	python, err := cfg.Target.Python()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	env, err := cfg.Target.Environment()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	strategy, err := resolver.ParseUpgradeStrategy(cfg.Resolve.UpgradeStrategy)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	f := finder.New(finder.Options{
		Sources:          sources,
		Supplementary:    dirs,
		Mode:             cfg.Mode(),
		Provider:         provider,
		Target:           target,
		Python:           python,
		Cutoff:           cfg.Resolve.UploadedPriorTo,
		AllowPrereleases: cfg.Resolve.Pre,
		PreferBinary:     cfg.Resolve.PreferBinary,
		OnlyBinary:       formatControl(cfg.Resolve.OnlyBinary),
		NoBinary:         formatControl(cfg.Resolve.NoBinary),
		Logger:           logger,
	})
	r := resolver.New(resolver.Options{
		Finder:          f,
		Environment:     env,
		Python:          python,
		Upgrade:         cfg.Resolve.Upgrade,
		UpgradeStrategy: strategy,
		RequireHashes:   cfg.Resolve.RequireHashes,
		MaxRounds:       cfg.Resolve.MaxRounds,
		Prefetch:        cfg.Resolve.Prefetch,
		Logger:          logger,
	})
	return r, closeStore, nil
}
