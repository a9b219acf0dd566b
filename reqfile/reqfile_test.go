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

package reqfile

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deps.dev/util/pip"
)

const (
	hashA = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

// files returns a ReadFile reading from an in-memory tree.
func files(tree map[string]string) func(string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		data, ok := tree[filepath.ToSlash(filepath.Clean(name))]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
		}
		return []byte(data), nil
	}
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

type summary struct {
	Name     string
	Extras   string
	Spec     string
	Source   string
	Kind     pip.SourceKind
	Editable bool
	Marker   bool
	Hashes   string
	Origin   string
}

func summarize(reqs []pip.Requirement) []summary {
	var out []summary
	for _, r := range reqs {
		s := summary{
			Name:     r.Name,
			Extras:   strings.Join(r.Extras, ","),
			Spec:     r.Specifier.String(),
			Source:   r.Source.String(),
			Kind:     r.Source.Kind,
			Editable: r.Source.Editable,
			Marker:   r.Marker != nil,
			Origin:   r.Origin,
		}
		if r.Hashes != nil {
			s.Hashes = strings.Join(r.Hashes.Sorted(), " ")
		}
		out = append(out, s)
	}
	return out
}

const mainFile = `# pinned for production
--index-url https://mirror.example/simple
--extra-index-url=https://extra.example/simple
-f ./wheels
--pre
requests[socks]>=2.31 ; python_version >= "3.8"  # inline comment
flask==3.0.0 \
    --hash= \
    --hash 
-r base.txt
-c constraints.txt

./dist/pkg_one-1.0-py3-none-any.whl
https://files.example/two-2.0.tar.gz#sha256=cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc
-e git+https://github.com/org/three.git@v1#egg=three
--only-binary :all:
--no-binary Some_Pkg,other
token @ https://${HOST}/token-1.0.tar.gz
`

func TestParseFile(t *testing.T) {
	tree := map[string]string{
		"req/requirements.txt": mainFile,
		"req/base.txt":         "idna>=3\n-r sub/more.txt\n",
		"req/sub/more.txt":     "six\n",
		"req/constraints.txt":  "urllib3<2\n--constraint=nested.txt\n",
		"req/nested.txt":       "-r ../req/last.txt\n",
		"req/last.txt":         "certifi==2024.2.2\n",
	}
	f, err := ParseFile("req/requirements.txt", Options{
		ReadFile:  files(tree),
		LookupEnv: env(map[string]string{"HOST": "tokens.example"}),
	})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	main := func(line int) string { return fmt.Sprintf("req/requirements.txt (line %d)", line) }
	wantReqs := []summary{
		{Name: "requests", Extras: "socks", Spec: ">=2.31", Marker: true, Origin: main(6)},
		{Name: "flask", Spec: "==3.0.0", Hashes: hashA + " " + hashB, Origin: main(7)},
		{Name: "idna", Spec: ">=3", Origin: "req/base.txt (line 1)"},
		{Name: "six", Origin: "req/sub/more.txt (line 1)"},
		{Name: "pkg-one", Source: "./dist/pkg_one-1.0-py3-none-any.whl", Kind: pip.LocalPath, Origin: main(13)},
		{Name: "two", Source: "https://files.example/two-2.0.tar.gz#sha256=cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc", Kind: pip.DirectURL, Origin: main(14)},
		{Name: "three", Source: "git+https://github.com/org/three.git@v1", Kind: pip.VCS, Editable: true, Origin: main(15)},
		{Name: "token", Source: "https://tokens.example/token-1.0.tar.gz", Kind: pip.DirectURL, Origin: main(18)},
	}
	if diff := cmp.Diff(wantReqs, summarize(f.Requirements)); diff != "" {
		t.Errorf("Requirements (-want +got):\n%s", diff)
	}
	wantConstraints := []summary{
		{Name: "urllib3", Spec: "<2", Origin: "req/constraints.txt (line 1)"},
		{Name: "certifi", Spec: "==2024.2.2", Origin: "req/last.txt (line 1)"},
	}
	if diff := cmp.Diff(wantConstraints, summarize(f.Constraints)); diff != "" {
		t.Errorf("Constraints (-want +got):\n%s", diff)
	}

	f.Requirements, f.Constraints = nil, nil
	wantFile := &File{
		IndexURL:       "https://mirror.example/simple",
		ExtraIndexURLs: []string{"https://extra.example/simple"},
		FindLinks:      []string{"./wheels"},
		Pre:            true,
		OnlyBinary:     []string{":all:"},
		NoBinary:       []string{"some-pkg", "other"},
	}
	if diff := cmp.Diff(wantFile, f); diff != "" {
		t.Errorf("options (-want +got):\n%s", diff)
	}
}

func TestParseEditableProject(t *testing.T) {
	tree := map[string]string{
		"pyproject.toml":   "[project]\nname = \"My_Project\"\nversion = \"0.1\"\n",
		"libs/a/setup.cfg": "",
	}
	f, err := Parse("requirements.txt", []byte("-e .[dev]\n-e ./libs/a#egg=lib-a\n"), Options{ReadFile: files(tree)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []summary{
		{Name: "my-project", Extras: "dev", Source: ".", Kind: pip.LocalPath, Editable: true, Origin: "requirements.txt (line 1)"},
		{Name: "lib-a", Source: "./libs/a", Kind: pip.LocalPath, Editable: true, Origin: "requirements.txt (line 2)"},
	}
	if diff := cmp.Diff(want, summarize(f.Requirements)); diff != "" {
		t.Errorf("Requirements (-want +got):\n%s", diff)
	}
}

func TestParseUnsetVariable(t *testing.T) {
	f, err := Parse("r.txt", []byte("--index-url https://${NOPE}/simple\n"), Options{LookupEnv: env(nil)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := f.IndexURL, "https://${NOPE}/simple"; got != want {
		t.Errorf("IndexURL: got %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	tree := map[string]string{
		"loop.txt":  "a\n-r loop2.txt\n",
		"loop2.txt": "-r loop.txt\n",
	}
	for _, c := range []struct {
		data string
		line int
		want error
	}{
		{data: "a\nb==\n", line: 2},
		{data: "--hash=\n", line: 1},
		{data: "a --index-url https://x\n", line: 1},
		{data: "a --hash=md5:abc\n", line: 1},
		{data: "--bogus\n", line: 1},
		{data: "\n\n-r\n", line: 3},
		{data: "--pre=yes\n", line: 1},
		{data: "a\n-r missing.txt\n", line: 2, want: fs.ErrNotExist},
		{data: "-r loop.txt\n", line: 1, want: ErrRecursiveInclude},
		{data: "https://example.com/download\n", line: 1},
		{data: "-e .\n", line: 1},
		{data: "-r https://example.com/r.txt\n", line: 1},
	} {
		_, err := Parse("main.txt", []byte(c.data), Options{ReadFile: files(tree)})
		var fe *Error
		if !errors.As(err, &fe) {
			t.Errorf("Parse(%q): got %v, want an *Error", c.data, err)
			continue
		}
		if fe.Line != c.line {
			t.Errorf("Parse(%q): error %v on line %d, want line %d", c.data, err, fe.Line, c.line)
		}
		if c.want != nil && !errors.Is(err, c.want) {
			t.Errorf("Parse(%q): got %v, want %v", c.data, err, c.want)
		}
	}
}

func TestLogicalLines(t *testing.T) {
	got := logicalLines("a \\\n  b\n# c \\\nd\\\n")
	want := []logicalLine{{1, "a   b"}, {3, " # c \\"}, {4, "d"}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(logicalLine{})); diff != "" {
		t.Errorf("logicalLines (-want +got):\n%s", diff)
	}
}
