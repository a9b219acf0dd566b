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

package local

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"deps.dev/util/pip"
	"deps.dev/util/pip/metadata"
	"deps.dev/util/pip/pep440"
)

const demoMetadata = "Metadata-Version: 2.1\nName: demo-pkg\nVersion: 1.0\nRequires-Dist: dep>=1\n"

func wheel(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, p string, data []byte) {
	t.Helper()
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// demoDir lays out a find-links directory and returns it with the contents
// of its demo-pkg files.
func demoDir(t *testing.T) (string, map[string][]byte) {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"demo-pkg-0.9.tar.gz":               []byte("not really a tarball"),
		"demo_pkg-1.0-py3-none-any.whl":     wheel(t, map[string]string{"demo_pkg-1.0.dist-info/METADATA": demoMetadata}),
		"other-1.0-py3-none-any.whl":        wheel(t, map[string]string{"other-1.0.dist-info/METADATA": "Name: other\n"}),
		"notes.txt":                         []byte("hello"),
		"demo_pkg-1.0-py3-none-any.whl.bak": []byte("stale"),
	}
	for name, data := range files {
		writeFile(t, filepath.Join(dir, name), data)
	}
	if err := os.Mkdir(filepath.Join(dir, "demo_pkg-2.0-py3-none-any.whl"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir, files
}

func TestLinks(t *testing.T) {
	dir, files := demoDir(t)
	d, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Explicit() {
		t.Error("Explicit: got false, want true")
	}
	links, err := d.Links(context.Background(), "Demo.Pkg")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	want := []pip.Link{{
		Name:     "demo-pkg",
		Version:  "0.9",
		Filename: "demo-pkg-0.9.tar.gz",
		URL:      FileURL(filepath.Join(dir, "demo-pkg-0.9.tar.gz")),
		Kind:     pip.Sdist,
		Hashes:   map[string]string{"sha256": sha(files["demo-pkg-0.9.tar.gz"])},
		Source:   dir,
	}, {
		Name:     "demo-pkg",
		Version:  "1.0",
		Filename: "demo_pkg-1.0-py3-none-any.whl",
		URL:      FileURL(filepath.Join(dir, "demo_pkg-1.0-py3-none-any.whl")),
		Kind:     pip.Wheel,
		Hashes:   map[string]string{"sha256": sha(files["demo_pkg-1.0-py3-none-any.whl"])},
		Source:   dir,
	}}
	if diff := cmp.Diff(want, links, cmpopts.IgnoreFields(pip.Link{}, "Tags")); diff != "" {
		t.Errorf("Links (-want +got):\n%s", diff)
	}

	links, err = d.Links(context.Background(), "absent")
	if err != nil || len(links) != 0 {
		t.Errorf("Links(absent): got %v, %v; want no links", links, err)
	}
}

func TestLinksRehashesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a-1.0.tar.gz")
	writeFile(t, p, []byte("one"))
	d, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, content := range []string{"one", "three"} {
		writeFile(t, p, []byte(content))
		links, err := d.Links(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if len(links) != 1 {
			t.Fatalf("Links: got %d links, want 1", len(links))
		}
		if got, want := links[0].Hashes["sha256"], sha([]byte(content)); got != want {
			t.Errorf("after writing %q: digest %s, want %s", content, got, want)
		}
	}
}

func TestMetadataSidecar(t *testing.T) {
	dir, _ := demoDir(t)
	writeFile(t, filepath.Join(dir, "demo_pkg-1.0-py3-none-any.whl.metadata"), []byte(demoMetadata))
	d, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	links, err := d.Links(context.Background(), "demo-pkg")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("Links: got %d links, want 2", len(links))
	}
	if got, want := links[1].MetadataURL, FileURL(filepath.Join(dir, "demo_pkg-1.0-py3-none-any.whl.metadata")); got != want {
		t.Errorf("MetadataURL: got %q, want %q", got, want)
	}
	if links[0].MetadataURL != "" {
		t.Errorf("sdist MetadataURL: got %q, want none", links[0].MetadataURL)
	}
}

func TestMetadataThroughProvider(t *testing.T) {
	dir, _ := demoDir(t)
	d, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	links, err := d.Links(ctx, "demo-pkg")
	if err != nil {
		t.Fatal(err)
	}
	p := metadata.NewProvider(metadata.Options{Fetcher: metadata.Schemes{"file": d}})
	c := pip.NewCandidate(links[1], pep440.MustParse("1.0"), p)
	md, err := c.Metadata(ctx)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	var got []string
	for _, r := range md.Requires {
		got = append(got, r.String())
	}
	if diff := cmp.Diff([]string{"dep>=1"}, got); diff != "" {
		t.Errorf("Requires (-want +got):\n%s", diff)
	}
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := filepath.Join(dir, "x.txt")
	writeFile(t, p, []byte("x"))
	if data, err := Fetch(ctx, FileURL(p)); err != nil || string(data) != "x" {
		t.Errorf("Fetch: got %q, %v; want %q", data, err, "x")
	}
	if _, err := Fetch(ctx, FileURL(filepath.Join(dir, "missing"))); !errors.Is(err, pip.ErrNotFound) {
		t.Errorf("Fetch(missing): got %v, want ErrNotFound", err)
	}
	if _, err := Fetch(ctx, "https://example.com/x.txt"); err == nil {
		t.Error("Fetch(https): got no error")
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "file")
	writeFile(t, p, nil)
	for _, path := range []string{p, filepath.Join(dir, "missing")} {
		if _, err := New(path, Options{}); err == nil {
			t.Errorf("New(%q): got no error", path)
		}
	}
}
