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

package simple

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"deps.dev/util/pip"
)

const fooBarPage = `{
  "meta": {"api-version": "1.1"},
  "name": "foo-bar",
  "files": [
    {
      "filename": "foo_bar-1.0.tar.gz",
      "url": "../../files/foo_bar-1.0.tar.gz#sha256=ABC123",
      "hashes": {},
      "yanked": "broken build",
      "dist-info-metadata": true
    },
    {
      "filename": "foo_bar-2.0-py3-none-any.whl",
      "url": "/files/foo_bar-2.0-py3-none-any.whl",
      "hashes": {"sha256": "AAAA"},
      "requires-python": " >=3.8 ",
      "upload-time": "2024-01-02T03:04:05.123456Z",
      "yanked": false,
      "core-metadata": {"sha256": "bbbb"}
    },
    {"filename": "other-1.0.tar.gz", "url": "/files/other-1.0.tar.gz", "hashes": {}},
    {"filename": "foo_bar-bad.whl", "url": "/files/foo_bar-bad.whl", "hashes": {}}
  ]
}`

type testServer struct {
	*httptest.Server
	pages    map[string]string
	files    map[string]string
	failures atomic.Int32 // number of requests still answered with 503
	requests atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		pages: map[string]string{"foo-bar": fooBarPage},
		files: map[string]string{"foo_bar-2.0-py3-none-any.whl.metadata": "Metadata-Version: 2.1\nName: foo-bar\nVersion: 2.0\n"},
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ts.requests.Add(1)
			if ts.failures.Add(-1) >= 0 {
				http.Error(w, "try later", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/simple/{project}/", func(w http.ResponseWriter, r *http.Request) {
		page, ok := ts.pages[chi.URLParam(r, "project")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", mediaTypeJSON)
		fmt.Fprint(w, page)
	})
	r.Get("/html/{project}/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	})
	r.Get("/forbidden/{project}/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	})
	r.Get("/files/{file}", func(w http.ResponseWriter, r *http.Request) {
		data, ok := ts.files[chi.URLParam(r, "file")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, data)
	})
	ts.Server = httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newIndex(t *testing.T, base string) *Index {
	t.Helper()
	ix, err := New(base, Options{Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("New(%q): %v", base, err)
	}
	return ix
}

func TestLinks(t *testing.T) {
	ts := newTestServer(t)
	ix := newIndex(t, ts.URL+"/simple")
	if got, want := ix.Name(), ts.Listener.Addr().String()+"/simple"; got != want {
		t.Errorf("Name: got %q, want %q", got, want)
	}
	links, err := ix.Links(context.Background(), "Foo_Bar")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	want := []pip.Link{{
		Name:         "foo-bar",
		Version:      "1.0",
		Filename:     "foo_bar-1.0.tar.gz",
		URL:          ts.URL + "/files/foo_bar-1.0.tar.gz",
		Kind:         pip.Sdist,
		Hashes:       map[string]string{"sha256": "abc123"},
		Yanked:       true,
		YankedReason: "broken build",
		MetadataURL:  ts.URL + "/files/foo_bar-1.0.tar.gz.metadata",
		Source:       ix.Name(),
	}, {
		Name:           "foo-bar",
		Version:        "2.0",
		Filename:       "foo_bar-2.0-py3-none-any.whl",
		URL:            ts.URL + "/files/foo_bar-2.0-py3-none-any.whl",
		Kind:           pip.Wheel,
		Hashes:         map[string]string{"sha256": "aaaa"},
		UploadTime:     time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC),
		RequiresPython: ">=3.8",
		MetadataURL:    ts.URL + "/files/foo_bar-2.0-py3-none-any.whl.metadata",
		MetadataHashes: map[string]string{"sha256": "bbbb"},
		Source:         ix.Name(),
	}}
	if diff := cmp.Diff(want, links, cmpopts.IgnoreFields(pip.Link{}, "Tags")); diff != "" {
		t.Errorf("Links (-want +got):\n%s", diff)
	}
	if len(links) == 2 && len(links[1].Tags) != 1 {
		t.Errorf("wheel tags: got %v, want one tag", links[1].Tags)
	}
}

func TestLinksErrors(t *testing.T) {
	ts := newTestServer(t)
	for _, c := range []struct {
		base     string
		project  string
		notFound bool
	}{
		{base: "/simple/", project: "missing", notFound: true},
		{base: "/html/", project: "foo-bar"},
		{base: "/forbidden/", project: "foo-bar"},
	} {
		ts.requests.Store(0)
		_, err := newIndex(t, ts.URL+c.base).Links(context.Background(), c.project)
		if err == nil {
			t.Errorf("%s%s: got no error", c.base, c.project)
			continue
		}
		if got := errors.Is(err, pip.ErrNotFound); got != c.notFound {
			t.Errorf("%s%s: errors.Is(%v, ErrNotFound) = %t, want %t", c.base, c.project, err, got, c.notFound)
		}
		if n := ts.requests.Load(); n != 1 {
			t.Errorf("%s%s: %d requests, want 1", c.base, c.project, n)
		}
	}
}

func TestLinksRetries(t *testing.T) {
	ts := newTestServer(t)
	ts.failures.Store(2)
	links, err := newIndex(t, ts.URL+"/simple/").Links(context.Background(), "foo-bar")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(links) != 2 {
		t.Errorf("Links: got %d links, want 2", len(links))
	}
	if n := ts.requests.Load(); n != 3 {
		t.Errorf("got %d requests, want 3", n)
	}
}

func TestLinksGivesUp(t *testing.T) {
	ts := newTestServer(t)
	ts.failures.Store(100)
	_, err := newIndex(t, ts.URL+"/simple/").Links(context.Background(), "foo-bar")
	if !errors.Is(err, ErrNetwork) || !IsRetryable(err) {
		t.Errorf("Links: got %v, want a retryable network error", err)
	}
	if n := ts.requests.Load(); n != 3 {
		t.Errorf("got %d requests, want 3", n)
	}
}

func TestFetch(t *testing.T) {
	ts := newTestServer(t)
	ix := newIndex(t, ts.URL+"/simple/")
	data, err := ix.Fetch(context.Background(), ts.URL+"/files/foo_bar-2.0-py3-none-any.whl.metadata")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got, want := string(data), ts.files["foo_bar-2.0-py3-none-any.whl.metadata"]; got != want {
		t.Errorf("Fetch: got %q, want %q", got, want)
	}
	if _, err := ix.Fetch(context.Background(), ts.URL+"/files/nope"); !errors.Is(err, pip.ErrNotFound) {
		t.Errorf("Fetch(nope): got %v, want ErrNotFound", err)
	}
}

func TestNewRejectsBadURLs(t *testing.T) {
	for _, u := range []string{"ftp://example.com/simple", "://nope", "file:///tmp/simple"} {
		if _, err := New(u, Options{}); err == nil {
			t.Errorf("New(%q): got no error", u)
		}
	}
}

func TestRetry(t *testing.T) {
	transient := &RetryableError{Err: errors.New("transient")}
	permanent := errors.New("permanent")
	ctx := context.Background()
	for _, c := range []struct {
		name  string
		errs  []error
		want  error
		calls int
	}{
		{name: "success", errs: []error{nil}, calls: 1},
		{name: "recovers", errs: []error{transient, transient, nil}, calls: 3},
		{name: "permanent", errs: []error{transient, permanent}, want: permanent, calls: 2},
		{name: "exhausted", errs: []error{transient, transient, transient, nil}, want: transient, calls: 3},
	} {
		calls := 0
		err := Retry(ctx, 3, time.Microsecond, func() error {
			err := c.errs[calls]
			calls++
			return err
		})
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
		if calls != c.calls {
			t.Errorf("%s: got %d calls, want %d", c.name, calls, c.calls)
		}
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 3, time.Hour, func() error {
		calls++
		cancel()
		return &RetryableError{Err: errors.New("transient")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}
