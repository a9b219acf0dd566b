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

package finder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"deps.dev/util/pip"
	"deps.dev/util/pip/pep440"
	"deps.dev/util/pip/tags"
)

func versions(t *testing.T, m *Matches) []string {
	t.Helper()
	var out []string
	for c := range m.All() {
		s := c.VersionString()
		if c.IsInstalled() {
			s += " (installed)"
		}
		out = append(out, s)
	}
	return out
}

func find(t *testing.T, f *Finder, q Query) []string {
	t.Helper()
	m, err := f.Find(context.Background(), q)
	if err != nil {
		t.Fatalf("Find(%s): %v", q.Name, err)
	}
	return versions(t, m)
}

func spec(s string) pep440.SpecifierSet { return pep440.MustParseSpecifierSet(s) }

func TestFindOrderAndPrereleases(t *testing.T) {
	li := pip.MustParseLocalIndex("index", `
a 1.0
a 2.0
a 1.5
a 3.0b1
b 1.0a1
b 1.0rc1
`)
	f := New(Options{Sources: []pip.Source{li}, Provider: li})
	for _, c := range []struct {
		q    Query
		want []string
	}{
		{Query{Name: "a"}, []string{"2.0", "1.5", "1.0"}},
		{Query{Name: "a", Specifier: spec("<2")}, []string{"1.5", "1.0"}},
		{Query{Name: "a", AllowPrereleases: true}, []string{"3.0b1", "2.0", "1.5", "1.0"}},
		{Query{Name: "a", Specifier: spec(">=3.0b1")}, []string{"3.0b1"}},
		// Last resort: only pre-releases exist.
		{Query{Name: "b"}, []string{"1.0rc1", "1.0a1"}},
		{Query{Name: "a", Specifier: spec(">=4")}, nil},
	} {
		if diff := cmp.Diff(c.want, find(t, f, c.q)); diff != "" {
			t.Errorf("Find(%s %s) (-want +got):\n%s", c.q.Name, c.q.Specifier, diff)
		}
	}
	if n := li.TotalFetches(); n != 0 {
		t.Errorf("finding fetched metadata %d times, want 0", n)
	}
}

func TestFindPrereleaseFor(t *testing.T) {
	li := pip.MustParseLocalIndex("index", "a 1.0\na 2.0a1\n")
	f := New(Options{Sources: []pip.Source{li}, Provider: li, PrereleaseFor: []string{"A"}})
	if diff := cmp.Diff([]string{"2.0a1", "1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestFindSourceModes(t *testing.T) {
	primary := pip.MustParseLocalIndex("primary", "a 1.0\n")
	secondary := pip.MustParseLocalIndex("secondary", "a 2.0\nb 1.0\n")
	links := pip.MustParseLocalIndex("links", "a 3.0\n")
	links.SetExplicit(true)

	first := New(Options{Sources: []pip.Source{primary, secondary}, Supplementary: []pip.Source{links}})
	if diff := cmp.Diff([]string{"3.0", "1.0"}, find(t, first, Query{Name: "a"})); diff != "" {
		t.Errorf("first match (-want +got):\n%s", diff)
	}
	// A project the first source does not know falls through.
	if diff := cmp.Diff([]string{"1.0"}, find(t, first, Query{Name: "b"})); diff != "" {
		t.Errorf("fall through (-want +got):\n%s", diff)
	}

	union := New(Options{Sources: []pip.Source{primary, secondary}, Mode: Union})
	if diff := cmp.Diff([]string{"2.0", "1.0"}, find(t, union, Query{Name: "a"})); diff != "" {
		t.Errorf("union (-want +got):\n%s", diff)
	}
}

type failingSource struct{ err error }

func (s failingSource) Name() string   { return "failing" }
func (s failingSource) Explicit() bool { return false }
func (s failingSource) Links(ctx context.Context, name string) ([]pip.Link, error) {
	return nil, s.err
}

func TestFindSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	li := pip.MustParseLocalIndex("index", "a 1.0\n")
	f := New(Options{Sources: []pip.Source{failingSource{boom}, li}})
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("failing source should be skipped (-want +got):\n%s", diff)
	}
	f = New(Options{Sources: []pip.Source{failingSource{boom}}})
	if _, err := f.Find(context.Background(), Query{Name: "a"}); !errors.Is(err, boom) {
		t.Errorf("Find with only a failing source: got %v, want %v", err, boom)
	}
}

func TestFindTags(t *testing.T) {
	li := pip.MustParseLocalIndex("index", `
a 1.0 tag=cp312-cp312-manylinux_2_17_x86_64
a 2.0 tag=cp312-cp312-win_amd64
a 3.0 tag=cp311-cp311-manylinux_2_17_x86_64
a 4.0 tag=cp312-cp312-manylinux_2_34_x86_64
b 1.0 tag=cp312-abi3-musllinux_1_1_x86_64
`)
	target := tags.NewTarget("cp", 3, 12, nil, "manylinux_2_28_x86_64")
	f := New(Options{Sources: []pip.Source{li}, Target: target})
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if got := find(t, f, Query{Name: "b"}); len(got) != 0 {
		t.Errorf("musllinux wheel admitted on manylinux: %v", got)
	}
}

func TestFindBestLink(t *testing.T) {
	li := pip.NewLocalIndex("index")
	for _, r := range []pip.Release{
		{Name: "a", Version: "1.0", Sdist: true},
		{Name: "a", Version: "1.0", Tag: "py3-none-any"},
		{Name: "a", Version: "1.0", Tag: "cp312-cp312-manylinux_2_17_x86_64"},
	} {
		if err := li.Add(r); err != nil {
			t.Fatal(err)
		}
	}
	target := tags.NewTarget("cp", 3, 12, nil, "manylinux_2_28_x86_64")
	f := New(Options{Sources: []pip.Source{li}, Target: target})
	m, err := f.Find(context.Background(), Query{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	c, _ := m.Next()
	if got, want := c.Link().Filename, "a-1.0-cp312-cp312-manylinux_2_17_x86_64.whl"; got != want {
		t.Errorf("best link = %s, want %s", got, want)
	}

	f = New(Options{Sources: []pip.Source{li}, Target: target, OnlyBinary: []string{All}, NoBinary: nil})
	m, _ = f.Find(context.Background(), Query{Name: "a"})
	if c, _ := m.Next(); c.Link().Kind != pip.Wheel {
		t.Errorf("only-binary chose %s", c.Link())
	}
	f = New(Options{Sources: []pip.Source{li}, Target: target, NoBinary: []string{"a"}})
	m, _ = f.Find(context.Background(), Query{Name: "a"})
	if c, _ := m.Next(); c.Link().Kind != pip.Sdist {
		t.Errorf("no-binary chose %s", c.Link())
	}
}

type fileSource []string

func (s fileSource) Name() string   { return "files" }
func (s fileSource) Explicit() bool { return false }
func (s fileSource) Links(ctx context.Context, name string) ([]pip.Link, error) {
	var links []pip.Link
	for _, f := range s {
		l, err := pip.ParseArtifact(name, f, "https://files.example/"+f)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

func TestFindBuildTag(t *testing.T) {
	target := tags.NewTarget("cp", 3, 12, nil, "manylinux_2_28_x86_64")
	for _, c := range []struct {
		files []string
		want  string
	}{{
		files: []string{"a-1.0-py3-none-any.whl", "a-1.0-2-py3-none-any.whl", "a-1.0-10-py3-none-any.whl"},
		want:  "a-1.0-10-py3-none-any.whl",
	}, {
		files: []string{"a-1.0-1b-py3-none-any.whl", "a-1.0-1a-py3-none-any.whl"},
		want:  "a-1.0-1b-py3-none-any.whl",
	}, {
		// A more specific tag outranks a later build.
		files: []string{"a-1.0-5-py3-none-any.whl", "a-1.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
		want:  "a-1.0-cp312-cp312-manylinux_2_17_x86_64.whl",
	}} {
		f := New(Options{Sources: []pip.Source{fileSource(c.files)}, Target: target})
		m, err := f.Find(context.Background(), Query{Name: "a"})
		if err != nil {
			t.Fatalf("Find(%v): %v", c.files, err)
		}
		cand, ok := m.Next()
		if !ok {
			t.Fatalf("Find(%v): no candidates", c.files)
		}
		if got := cand.Link().Filename; got != c.want {
			t.Errorf("Find(%v) chose %s, want %s", c.files, got, c.want)
		}
		if m.Len() != 0 {
			t.Errorf("Find(%v) left %d candidates, want one per version", c.files, m.Len())
		}
	}
}

func TestFindLegacyVersions(t *testing.T) {
	f := New(Options{Sources: []pip.Source{fileSource{"a-foobar.tar.gz", "a-1.0.tar.gz"}}})
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if got := find(t, f, Query{Name: "a", Specifier: spec("===foobar")}); len(got) != 0 {
		t.Errorf("===foobar matched %v, want nothing", got)
	}
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a", Specifier: spec("===1.0")})); diff != "" {
		t.Errorf("===1.0 (-want +got):\n%s", diff)
	}
}

func TestFindPreferBinary(t *testing.T) {
	li := pip.MustParseLocalIndex("index", "a 1.0\na 2.0 sdist\n")
	f := New(Options{Sources: []pip.Source{li}})
	if diff := cmp.Diff([]string{"2.0", "1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	f = New(Options{Sources: []pip.Source{li}, PreferBinary: true})
	if diff := cmp.Diff([]string{"1.0", "2.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("prefer binary (-want +got):\n%s", diff)
	}
}

func TestFindRequiresPython(t *testing.T) {
	li := pip.MustParseLocalIndex("index", `
a 1.0 requires-python=>=3.8
a 2.0 requires-python=>=3.13
`)
	f := New(Options{Sources: []pip.Source{li}, Python: pep440.MustParse("3.12.1")})
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestFindCutoff(t *testing.T) {
	li := pip.MustParseLocalIndex("index", `
a 1.0 upload=2024-01-01T00:00:00Z
a 2.0 upload=2024-06-01T00:00:00Z
b 1.0
`)
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f := New(Options{Sources: []pip.Source{li}, Cutoff: cutoff})
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if _, err := f.Find(context.Background(), Query{Name: "b"}); !errors.Is(err, ErrUploadTimeUnknown) {
		t.Errorf("unknown upload time: got %v, want ErrUploadTimeUnknown", err)
	}

	// Artifacts uploaded exactly at the cutoff are too new.
	f = New(Options{Sources: []pip.Source{li}, Cutoff: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	if _, err := f.Find(context.Background(), Query{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if got := find(t, f, Query{Name: "a"}); len(got) != 0 {
		t.Errorf("artifacts at the cutoff admitted: %v", got)
	}

	// Explicit sources are never filtered.
	local := pip.MustParseLocalIndex("local", "b 1.0\n")
	local.SetExplicit(true)
	f = New(Options{Supplementary: []pip.Source{local}, Cutoff: cutoff})
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "b"})); diff != "" {
		t.Errorf("explicit source (-want +got):\n%s", diff)
	}
}

func TestFindYanked(t *testing.T) {
	li := pip.MustParseLocalIndex("index", `
a 1.0
a 2.0 yanked
`)
	f := New(Options{Sources: []pip.Source{li}})
	for _, c := range []struct {
		spec string
		want []string
	}{
		{"", []string{"1.0"}},
		{">=2", nil},
		{"==2.0", []string{"2.0"}},
		{"==2.*", nil},
		{"===2.0", []string{"2.0"}},
	} {
		if diff := cmp.Diff(c.want, find(t, f, Query{Name: "a", Specifier: spec(c.spec)})); diff != "" {
			t.Errorf("Find(a%s) (-want +got):\n%s", c.spec, diff)
		}
	}
}

func TestFindHashes(t *testing.T) {
	li := pip.MustParseLocalIndex("index", "a 1.0\na 2.0\n")
	f := New(Options{Sources: []pip.Source{li}})
	hs, err := pip.NewHashSet("sha256:" + pip.ReleaseHash("a-1.0-py3-none-any.whl"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"1.0"}, find(t, f, Query{Name: "a", Hashes: hs})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	var hp *pip.HashPolicyError
	if _, err := f.Find(context.Background(), Query{Name: "a", Hashes: pip.HashSet{}}); !errors.As(err, &hp) {
		t.Errorf("empty hash set: got %v, want HashPolicyError", err)
	}
	other, _ := pip.NewHashSet("sha256:" + pip.ReleaseHash("elsewhere"))
	if _, err := f.Find(context.Background(), Query{Name: "a", Hashes: other}); !errors.As(err, &hp) {
		t.Errorf("no matching artifact: got %v, want HashPolicyError", err)
	}
}

func TestFindInstalled(t *testing.T) {
	li := pip.MustParseLocalIndex("index", "dep 1.0\ndep 2.0\ndep 3.0\n")
	f := New(Options{
		Sources:   []pip.Source{li},
		Installed: []Installed{{Name: "Dep", Version: "2.0"}},
	})
	if diff := cmp.Diff([]string{"2.0 (installed)", "3.0", "1.0"}, find(t, f, Query{Name: "dep"})); diff != "" {
		t.Errorf("installed preferred (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"3.0", "2.0 (installed)", "1.0"}, find(t, f, Query{Name: "dep", Upgrade: true})); diff != "" {
		t.Errorf("upgrade (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"3.0"}, find(t, f, Query{Name: "dep", Specifier: spec(">2")})); diff != "" {
		t.Errorf("installed not matching (-want +got):\n%s", diff)
	}
}

func TestFindSharesCandidates(t *testing.T) {
	li := pip.MustParseLocalIndex("index", "a 1.0\n")
	f := New(Options{Sources: []pip.Source{li}, Provider: li})
	ctx := context.Background()
	m1, _ := f.Find(ctx, Query{Name: "a"})
	m2, _ := f.Find(ctx, Query{Name: "a", Specifier: spec("==1.0")})
	c1, _ := m1.Next()
	c2, _ := m2.Next()
	if c1 != c2 {
		t.Errorf("Find returned distinct candidates for the same artifact")
	}
	if m1.Len() != 0 {
		t.Errorf("Len after taking everything = %d", m1.Len())
	}
}

func TestFindDirect(t *testing.T) {
	li := pip.NewLocalIndex("index")
	f := New(Options{Sources: []pip.Source{li}, Provider: li})
	digest := pip.ReleaseHash("x")
	src, err := pip.ParseSource("https://example.com/a-1.0-py3-none-any.whl#sha256="+digest, false)
	if err != nil {
		t.Fatal(err)
	}
	m, err := f.Find(context.Background(), Query{Name: "a", Direct: &src})
	if err != nil {
		t.Fatalf("Find direct: %v", err)
	}
	c, ok := m.Next()
	if !ok || c.VersionString() != "1.0" || c.Link().Hashes["sha256"] != digest {
		t.Errorf("direct candidate = %v %+v", c, c.Link())
	}

	vcs, _ := pip.ParseSource("git+https://example.com/a.git@main", false)
	m, err = f.Find(context.Background(), Query{Name: "a", Direct: &vcs})
	if err != nil {
		t.Fatalf("Find vcs: %v", err)
	}
	if c, _ := m.Next(); c.Version() != nil || c.Link().Kind != pip.Tree {
		t.Errorf("vcs candidate = %+v", c.Link())
	}

	wrongHash, _ := pip.NewHashSet("sha256:" + pip.ReleaseHash("y"))
	var hp *pip.HashPolicyError
	if _, err := f.Find(context.Background(), Query{Name: "a", Direct: &src, Hashes: wrongHash}); !errors.As(err, &hp) {
		t.Errorf("direct with wrong hash: got %v, want HashPolicyError", err)
	}
}

func TestLinkCache(t *testing.T) {
	ctx := context.Background()
	li := pip.MustParseLocalIndex("index", "a 1.0\n")
	lc := NewLinkCache(4)
	links, err := lc.Links(ctx, li, "a")
	if err != nil || len(links) != 1 {
		t.Fatalf("Links = %v, %v", links, err)
	}
	if err := li.AddPackage("a", "2.0"); err != nil {
		t.Fatal(err)
	}
	if links, _ := lc.Links(ctx, li, "a"); len(links) != 1 {
		t.Errorf("cached listing changed: %v", links)
	}
	lc.Forget(li, "a")
	if links, _ := lc.Links(ctx, li, "a"); len(links) != 2 {
		t.Errorf("listing after Forget has %d links, want 2", len(links))
	}
	if links, err := lc.Links(ctx, li, "missing"); err != nil || len(links) != 0 {
		t.Errorf("unknown project: %v, %v", links, err)
	}
}
