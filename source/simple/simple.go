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
Package simple implements a pip.Source backed by a package index that
speaks the JSON form of the simple repository API (PEP 691), such as
https://pypi.org/simple/.

The index reports upload times, yanked flags, file digests and
Requires-Python for every file, and points at standalone core metadata
files (PEP 658) where it has them. An Index is also a metadata.Fetcher for
the URLs it hands out.
*/
package simple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"deps.dev/util/pip"
)

// DefaultURL is the simple API of the Python Package Index.
const DefaultURL = "https://pypi.org/simple/"

const (
	mediaTypeJSON = "application/vnd.pypi.simple.v1+json"
	acceptHeader  = mediaTypeJSON + ", application/json;q=0.9"
)

// ErrNetwork is wrapped by failures to talk to the index at all: transport
// errors and unexpected status codes.
var ErrNetwork = errors.New("network error")

// Options configures an Index.
type Options struct {
	// Client defaults to an http.Client with a 30 second timeout.
	Client *http.Client
	// Attempts is the number of tries for each request; 3 if zero.
	Attempts int
	// Delay is the wait before the first retry, doubled for each
	// subsequent one; 1s if zero.
	Delay     time.Duration
	UserAgent string
	Logger    *log.Logger
}

// Index is a pip.Source reading one simple repository.
type Index struct {
	name      string
	base      *url.URL
	client    *http.Client
	attempts  int
	delay     time.Duration
	userAgent string
	logger    *log.Logger
}

// New returns an Index for the repository rooted at baseURL.
func New(baseURL string, opts Options) (*Index, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("index url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("index url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	ix := &Index{
		name:      u.Host + strings.TrimSuffix(u.Path, "/"),
		base:      u,
		client:    opts.Client,
		attempts:  opts.Attempts,
		delay:     opts.Delay,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
	if ix.client == nil {
		ix.client = &http.Client{Timeout: 30 * time.Second}
	}
	if ix.attempts <= 0 {
		ix.attempts = 3
	}
	if ix.delay <= 0 {
		ix.delay = time.Second
	}
	if ix.userAgent == "" {
		ix.userAgent = "pipresolve"
	}
	if ix.logger == nil {
		ix.logger = log.New(io.Discard)
	}
	return ix, nil
}

// Name implements pip.Source.
func (ix *Index) Name() string { return ix.name }

// Explicit implements pip.Source. Index files are discovered, so they are
// subject to the upload time cutoff.
func (ix *Index) Explicit() bool { return false }

// project is a project page of the JSON simple API.
type project struct {
	Meta struct {
		APIVersion string `json:"api-version"`
	} `json:"meta"`
	Name  string `json:"name"`
	Files []file `json:"files"`
}

type file struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	UploadTime     string            `json:"upload-time"`
	Yanked         yanked            `json:"yanked"`
	// The key for PEP 658 metadata was renamed twice; indexes may send any
	// of them.
	CoreMetadata metadataFile `json:"core-metadata"`
	DataDistInfo metadataFile `json:"data-dist-info-metadata"`
	DistInfo     metadataFile `json:"dist-info-metadata"`
}

// yanked is either a boolean or a string holding the reason.
type yanked struct {
	set    bool
	reason string
}

func (y *yanked) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*y = yanked{set: flag}
		return nil
	}
	var reason string
	if err := json.Unmarshal(b, &reason); err != nil {
		return fmt.Errorf("yanked: %s is neither a boolean nor a string", b)
	}
	*y = yanked{set: true, reason: reason}
	return nil
}

// metadataFile is either a boolean or the digests of the metadata file.
type metadataFile struct {
	present bool
	hashes  map[string]string
}

func (m *metadataFile) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*m = metadataFile{present: flag}
		return nil
	}
	var hashes map[string]string
	if err := json.Unmarshal(b, &hashes); err != nil {
		return fmt.Errorf("core-metadata: %s is neither a boolean nor a digest table", b)
	}
	*m = metadataFile{present: true, hashes: hashes}
	return nil
}

func (f file) metadata() metadataFile {
	for _, m := range []metadataFile{f.CoreMetadata, f.DataDistInfo, f.DistInfo} {
		if m.present {
			return m
		}
	}
	return metadataFile{}
}

// Links implements pip.Source. Files whose names cannot be parsed, or that
// belong to another project, are skipped.
func (ix *Index) Links(ctx context.Context, name string) ([]pip.Link, error) {
	name = pip.CanonName(name)
	page := ix.base.JoinPath(name)
	page.Path += "/"

	var p project
	err := Retry(ctx, ix.attempts, ix.delay, func() error {
		body, err := ix.get(ctx, page.String(), acceptHeader)
		if err != nil {
			return err
		}
		defer body.Close()
		p = project{}
		if err := json.NewDecoder(body).Decode(&p); err != nil {
			return fmt.Errorf("decoding %s: %w", page, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("project %q on %s: %w", name, ix.name, err)
	}
	if major, _, _ := strings.Cut(p.Meta.APIVersion, "."); major != "" && major != "1" {
		return nil, fmt.Errorf("%s: unsupported simple API version %q", page, p.Meta.APIVersion)
	}

	links := make([]pip.Link, 0, len(p.Files))
	for _, f := range p.Files {
		l, err := ix.link(page, name, f)
		if err != nil {
			ix.logger.Debug("skipping index file", "project", name, "file", f.Filename, "err", err)
			continue
		}
		links = append(links, l)
	}
	ix.logger.Debug("listed project", "index", ix.name, "project", name, "files", len(p.Files), "links", len(links))
	return links, nil
}

func (ix *Index) link(page *url.URL, name string, f file) (pip.Link, error) {
	u, err := page.Parse(f.URL)
	if err != nil {
		return pip.Link{}, err
	}
	hashes := f.Hashes
	if algo, digest, ok := strings.Cut(u.Fragment, "="); ok && len(hashes) == 0 {
		hashes = map[string]string{algo: digest}
	}
	u.Fragment = ""
	l, err := pip.ParseArtifact(name, f.Filename, u.String())
	if err != nil {
		return pip.Link{}, err
	}
	l.Hashes = lowerHashes(hashes)
	l.RequiresPython = strings.TrimSpace(f.RequiresPython)
	l.Yanked, l.YankedReason = f.Yanked.set, f.Yanked.reason
	l.Source = ix.name
	if f.UploadTime != "" {
		t, err := time.Parse(time.RFC3339Nano, f.UploadTime)
		if err != nil {
			return pip.Link{}, fmt.Errorf("upload-time: %w", err)
		}
		l.UploadTime = t
	}
	if m := f.metadata(); m.present {
		l.MetadataURL = l.URL + ".metadata"
		l.MetadataHashes = lowerHashes(m.hashes)
	}
	return l, nil
}

func lowerHashes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for algo, digest := range in {
		out[strings.ToLower(algo)] = strings.ToLower(digest)
	}
	return out
}

// Fetch retrieves the file at rawURL, which is normally one handed out by
// Links. It makes an Index usable as a metadata.Fetcher.
func (ix *Index) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	err := Retry(ctx, ix.attempts, ix.delay, func() error {
		body, err := ix.get(ctx, rawURL, "")
		if err != nil {
			return err
		}
		defer body.Close()
		data, err = io.ReadAll(body)
		if err != nil {
			return &RetryableError{Err: fmt.Errorf("%w: reading %s: %v", ErrNetwork, rawURL, err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (ix *Index) get(ctx context.Context, rawURL, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ix.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	ix.logger.Debug("GET", "url", rawURL)
	resp, err := ix.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	if err := checkStatus(rawURL, resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if accept != "" {
		mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mt != mediaTypeJSON && mt != "application/json" {
			resp.Body.Close()
			return nil, fmt.Errorf("%s: index answered with %q, not the JSON simple API", rawURL, mt)
		}
	}
	return resp.Body, nil
}

func checkStatus(rawURL string, code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return fmt.Errorf("%w: %s", pip.ErrNotFound, rawURL)
	case code == http.StatusTooManyRequests, code >= 500:
		return &RetryableError{Err: fmt.Errorf("%w: %s: status %d", ErrNetwork, rawURL, code)}
	default:
		return fmt.Errorf("%w: %s: status %d", ErrNetwork, rawURL, code)
	}
}
