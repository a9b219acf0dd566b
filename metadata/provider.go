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

package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/golang/groupcache/singleflight"
	"golang.org/x/sync/errgroup"

	"deps.dev/util/pip"
)

// Fetcher retrieves the bytes at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// Schemes dispatches fetches by URL scheme.
type Schemes map[string]Fetcher

func (s Schemes) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	f, ok := s[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("fetching %s: no fetcher for scheme %q", rawURL, u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}

// HashMismatchError reports downloaded bytes that do not match the digest
// the index published for them.
type HashMismatchError struct {
	URL       string
	Algorithm string
	Want, Got string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s: %s digest is %s, want %s", e.URL, e.Algorithm, e.Got, e.Want)
}

// Options configures a Provider.
type Options struct {
	Fetcher Fetcher
	// Store defaults to a MemoryStore of 4096 entries.
	Store Store
	// Logger defaults to discarding everything.
	Logger *log.Logger
	// Prefetch bounds the concurrent fetches started by Prefetch.
	// Defaults to 4.
	Prefetch int
}

// Provider is a pip.MetadataProvider that prefers the standalone metadata
// file an index serves (PEP 658) and falls back to reading the artifact.
// Concurrent requests for the same artifact share one fetch.
type Provider struct {
	fetch   Fetcher
	store   Store
	logger  *log.Logger
	workers int
	group   singleflight.Group
}

// NewProvider returns a Provider.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		fetch:   opts.Fetcher,
		store:   opts.Store,
		logger:  opts.Logger,
		workers: opts.Prefetch,
	}
	if p.store == nil {
		p.store = NewMemoryStore(4096)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	if p.workers <= 0 {
		p.workers = 4
	}
	return p
}

// storeKey identifies an artifact's metadata. The digest is included when
// known so that a replaced file never reuses stale metadata.
func storeKey(link pip.Link) string {
	key := link.Name + "/" + link.Filename
	if d, ok := link.Hashes["sha256"]; ok {
		key += "#sha256=" + d
	}
	return key
}

// Metadata implements pip.MetadataProvider.
func (p *Provider) Metadata(ctx context.Context, c *pip.Candidate) (*pip.Metadata, error) {
	link := c.Link()
	if link.Kind != pip.Wheel && link.Kind != pip.Sdist {
		return nil, &pip.UnsupportedError{Msg: fmt.Sprintf("no metadata source for %s", link), PackageType: link.Kind.String()}
	}
	key := storeKey(link)
	v, err := p.group.Do(key, func() (interface{}, error) {
		return p.load(ctx, key, link)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pip.Metadata), nil
}

func (p *Provider) load(ctx context.Context, key string, link pip.Link) (*pip.Metadata, error) {
	data, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("metadata store lookup failed", "key", key, "err", err)
	}
	if ok {
		if md, err := Parse(data); err == nil {
			return md, nil
		}
		p.logger.Warn("discarding unreadable stored metadata", "key", key)
	}
	data, md, err := p.retrieve(ctx, link)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(ctx, key, data); err != nil {
		p.logger.Warn("metadata store write failed", "key", key, "err", err)
	}
	return md, nil
}

func (p *Provider) retrieve(ctx context.Context, link pip.Link) ([]byte, *pip.Metadata, error) {
	if link.MetadataURL != "" {
		data, err := p.fetch.Fetch(ctx, link.MetadataURL)
		if err == nil {
			err = verify(link.MetadataURL, data, link.MetadataHashes)
		}
		var md *pip.Metadata
		if err == nil {
			md, err = Parse(data)
		}
		if err == nil {
			p.logger.Debug("metadata from index", "file", link.Filename)
			return data, md, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		p.logger.Warn("standalone metadata unusable, reading artifact", "file", link.Filename, "err", err)
	}

	p.logger.Debug("downloading artifact for metadata", "file", link.Filename)
	blob, err := p.fetch.Fetch(ctx, link.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := verify(link.URL, blob, link.Hashes); err != nil {
		return nil, nil, err
	}
	var data []byte
	var md *pip.Metadata
	switch link.Kind {
	case pip.Wheel:
		if data, err = WheelFile(bytes.NewReader(blob), int64(len(blob))); err == nil {
			md, err = Parse(data)
		}
	case pip.Sdist:
		if data, err = SdistFile(link.Filename, bytes.NewReader(blob)); err == nil {
			md, err = parseSdist(data)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", link.Filename, err)
	}
	return data, md, nil
}

func verify(url string, data []byte, digests map[string]string) error {
	for algo, want := range digests {
		var h hash.Hash
		switch strings.ToLower(algo) {
		case "sha256":
			h = sha256.New()
		case "sha384":
			h = sha512.New384()
		case "sha512":
			h = sha512.New()
		default:
			continue
		}
		h.Write(data)
		if got := hex.EncodeToString(h.Sum(nil)); got != strings.ToLower(want) {
			return &HashMismatchError{URL: url, Algorithm: algo, Want: want, Got: got}
		}
	}
	return nil
}

// Prefetch starts retrieving the metadata of the given candidates in the
// background. Results land in each candidate's memo, errors included.
func (p *Provider) Prefetch(ctx context.Context, cands []*pip.Candidate) {
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	go func() {
		for _, c := range cands {
			if ctx.Err() != nil {
				break
			}
			if c.Fetched() {
				continue
			}
			g.Go(func() error {
				_, _ = c.Metadata(ctx)
				return nil
			})
		}
		_ = g.Wait()
	}()
}
