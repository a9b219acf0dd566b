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

// Package local implements a pip.Source over a flat directory of wheels and
// sdists, as given to pip with --find-links. Files found there are
// explicit user intent: they are never subject to an upload time cutoff.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"deps.dev/util/pip"
)

// Options configures a Dir.
type Options struct {
	Logger *log.Logger
}

type digest struct {
	size    int64
	modTime time.Time
	sha256  string
}

// Dir is a find-links directory.
type Dir struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	digests map[string]digest
}

// New returns a Dir for the directory at path.
func New(path string, opts Options) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("find-links: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("find-links: %s is not a directory", abs)
	}
	d := &Dir{path: abs, logger: opts.Logger, digests: make(map[string]digest)}
	if d.logger == nil {
		d.logger = log.New(io.Discard)
	}
	return d, nil
}

// Name implements pip.Source.
func (d *Dir) Name() string { return d.path }

// Explicit implements pip.Source.
func (d *Dir) Explicit() bool { return true }

// Links implements pip.Source. Each artifact of the project is hashed with
// sha256; digests are remembered until the file's size or modification time
// changes. A file named like an artifact with a ".metadata" suffix is
// offered as its standalone metadata.
func (d *Dir) Links(ctx context.Context, name string) ([]pip.Link, error) {
	name = pip.CanonName(name)
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("find-links: %w", err)
	}
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Name()] = true
	}
	var links []pip.Link
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := pip.ArchiveKind(e.Name()); !ok {
			continue
		}
		p := filepath.Join(d.path, e.Name())
		l, err := pip.ParseArtifact(name, e.Name(), FileURL(p))
		if err != nil {
			// Most files belong to other projects.
			continue
		}
		sum, err := d.hash(p)
		if err != nil {
			d.logger.Warn("skipping unreadable file", "file", p, "err", err)
			continue
		}
		l.Hashes = map[string]string{"sha256": sum}
		l.Source = d.path
		if present[e.Name()+".metadata"] {
			l.MetadataURL = FileURL(p + ".metadata")
		}
		links = append(links, l)
	}
	d.logger.Debug("listed find-links directory", "dir", d.path, "project", name, "links", len(links))
	return links, nil
}

func (d *Dir) hash(p string) (string, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	cached, ok := d.digests[p]
	d.mu.Unlock()
	if ok && cached.size == fi.Size() && cached.modTime.Equal(fi.ModTime()) {
		return cached.sha256, nil
	}
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	d.mu.Lock()
	d.digests[p] = digest{size: fi.Size(), modTime: fi.ModTime(), sha256: sum}
	d.mu.Unlock()
	return sum, nil
}

// FileURL returns the file URL of a local path.
func FileURL(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// Fetch reads the file a file URL points at. It makes a Dir usable as the
// metadata.Fetcher for the "file" scheme; it reads any local file, not only
// those inside the directory.
func (d *Dir) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return Fetch(ctx, rawURL)
}

// Fetch reads the file a file URL points at.
func Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("%s: not a file URL", rawURL)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", rawURL, pip.ErrNotFound)
	}
	return data, err
}
