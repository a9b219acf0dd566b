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
Package reqfile reads pip requirements files
(https://pip.pypa.io/en/stable/reference/requirements-file-format/).

Each logical line holds either a requirement, optionally followed by
per-requirement --hash options, or global options. Lines ending in a
backslash continue on the next line; "#" starts a comment at the beginning
of a line or after whitespace; ${VAR} is replaced by the environment
variable VAR when it is set. Files named by -r are read as part of the
including file and files named by -c contribute constraints; both are
resolved relative to the including file.
*/
package reqfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"deps.dev/util/pip"
	"deps.dev/util/pip/tags"
)

// File is the content of a requirements file and everything it includes.
type File struct {
	Requirements []pip.Requirement
	Constraints  []pip.Requirement

	// IndexURL is the last --index-url given, empty if none.
	IndexURL       string
	ExtraIndexURLs []string
	NoIndex        bool
	FindLinks      []string
	Pre            bool
	PreferBinary   bool
	RequireHashes  bool
	// OnlyBinary and NoBinary hold project names or the special values
	// ":all:" and ":none:", in the order given.
	OnlyBinary []string
	NoBinary   []string
}

// Error locates a problem in a requirements file.
type Error struct {
	File string
	Line int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrRecursiveInclude is wrapped by the error for a file that includes
// itself, directly or not.
var ErrRecursiveInclude = errors.New("recursive include")

// Options configures parsing.
type Options struct {
	// ReadFile reads included files; os.ReadFile if nil.
	ReadFile func(name string) ([]byte, error)
	// LookupEnv expands ${VAR}; os.LookupEnv if nil.
	LookupEnv func(key string) (string, bool)
	Logger    *log.Logger
}

type parser struct {
	opts  Options
	file  *File
	stack []string
}

// ParseFile reads the requirements file at path.
func ParseFile(path string, opts Options) (*File, error) {
	p := newParser(opts)
	if err := p.include(path, false); err != nil {
		return nil, err
	}
	return p.file, nil
}

// Parse parses data as a requirements file called name. Includes are
// resolved relative to the directory of name.
func Parse(name string, data []byte, opts Options) (*File, error) {
	p := newParser(opts)
	p.stack = append(p.stack, filepath.Clean(name))
	if err := p.parse(name, data, false); err != nil {
		return nil, err
	}
	return p.file, nil
}

func newParser(opts Options) *parser {
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &parser{opts: opts, file: &File{}}
}

func (p *parser) include(name string, constraints bool) error {
	name = filepath.Clean(name)
	if slices.Contains(p.stack, name) {
		return fmt.Errorf("%w of %s", ErrRecursiveInclude, name)
	}
	data, err := p.opts.ReadFile(name)
	if err != nil {
		return err
	}
	p.stack = append(p.stack, name)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()
	p.opts.Logger.Debug("reading requirements file", "file", name, "constraints", constraints)
	return p.parse(name, data, constraints)
}

var (
	commentPattern = regexp.MustCompile(`(^|\s+)#.*$`)
	envPattern     = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)
)

type logicalLine struct {
	number int
	text   string
}

// logicalLines joins continued lines. A comment line ends a continuation.
func logicalLines(data string) []logicalLine {
	var (
		out     []logicalLine
		pending []string
		first   int
	)
	for i, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		n := i + 1
		if !strings.HasSuffix(line, `\`) || commentPattern.MatchString(line) {
			if commentPattern.MatchString(line) {
				line = " " + line
			}
			if pending != nil {
				out = append(out, logicalLine{first, strings.Join(append(pending, line), "")})
				pending = nil
				continue
			}
			out = append(out, logicalLine{n, line})
			continue
		}
		if pending == nil {
			first = n
		}
		pending = append(pending, strings.TrimSuffix(line, `\`))
	}
	if pending != nil {
		out = append(out, logicalLine{first, strings.Join(pending, "")})
	}
	return out
}

func (p *parser) expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := p.opts.LookupEnv(m[2 : len(m)-1]); ok {
			return v
		}
		return m
	})
}

func (p *parser) parse(name string, data []byte, constraints bool) error {
	for _, ll := range logicalLines(string(data)) {
		line := commentPattern.ReplaceAllString(ll.text, "")
		line = strings.TrimSpace(p.expandEnv(line))
		if line == "" {
			continue
		}
		if err := p.line(name, ll.number, line, constraints); err != nil {
			var fe *Error
			if errors.As(err, &fe) {
				return err
			}
			return &Error{File: name, Line: ll.number, Err: err}
		}
	}
	return nil
}

type option struct {
	name  string
	value string
}

// valueOptions take an argument; the others are flags.
var valueOptions = map[string]string{
	"-r": "--requirement", "--requirement": "--requirement",
	"-c": "--constraint", "--constraint": "--constraint",
	"-e": "--editable", "--editable": "--editable",
	"-i": "--index-url", "--index-url": "--index-url",
	"--extra-index-url": "--extra-index-url",
	"-f":                "--find-links", "--find-links": "--find-links",
	"--only-binary":  "--only-binary",
	"--no-binary":    "--no-binary",
	"--hash":         "--hash",
	"--trusted-host": "--trusted-host",
	"--use-feature":  "--use-feature",
}

var flagOptions = map[string]bool{
	"--pre":            true,
	"--prefer-binary":  true,
	"--no-index":       true,
	"--require-hashes": true,
}

// splitLine separates the requirement part of a line from its options.
// The requirement runs up to the first whitespace separated token starting
// with "-".
func splitLine(line string) (string, []string) {
	fields := strings.Fields(line)
	i := slices.IndexFunc(fields, func(f string) bool { return strings.HasPrefix(f, "-") })
	if i < 0 {
		return line, nil
	}
	if i == 0 {
		return "", fields
	}
	// Cut the original text to keep the spacing inside markers.
	at := 0
	for _, f := range fields[:i] {
		at = strings.Index(line[at:], f) + at + len(f)
	}
	return strings.TrimSpace(line[:at]), fields[i:]
}

func parseOptions(fields []string) ([]option, error) {
	var opts []option
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		name, value, hasValue := strings.Cut(f, "=")
		if !strings.HasPrefix(f, "--") {
			// Short options take their value attached or as the next field.
			name, value, hasValue = f[:min(2, len(f))], f[min(2, len(f)):], len(f) > 2
		}
		if flagOptions[name] {
			if hasValue {
				return nil, fmt.Errorf("option %s takes no value", name)
			}
			opts = append(opts, option{name: name})
			continue
		}
		long, ok := valueOptions[name]
		if !ok {
			return nil, fmt.Errorf("unknown option %s", name)
		}
		if !hasValue {
			if i+1 == len(fields) {
				return nil, fmt.Errorf("option %s needs a value", name)
			}
			i++
			value = fields[i]
		}
		opts = append(opts, option{name: long, value: value})
	}
	return opts, nil
}

func (p *parser) line(name string, number int, line string, constraints bool) error {
	reqText, fields := splitLine(line)
	opts, err := parseOptions(fields)
	if err != nil {
		return err
	}
	origin := fmt.Sprintf("%s (line %d)", name, number)

	var hashes []string
	editable := ""
	for _, o := range opts {
		switch o.name {
		case "--hash":
			hashes = append(hashes, o.value)
		case "--editable":
			if reqText != "" || editable != "" {
				return fmt.Errorf("-e must be the only requirement on its line")
			}
			editable = o.value
		}
	}
	if reqText != "" || editable != "" {
		for _, o := range opts {
			if o.name != "--hash" && o.name != "--editable" {
				return fmt.Errorf("option %s is not allowed on a requirement line", o.name)
			}
		}
		var req pip.Requirement
		if editable != "" {
			req, err = p.parseLocator(editable, true)
		} else {
			req, err = p.parseRequirement(reqText)
		}
		if err != nil {
			return err
		}
		if len(hashes) > 0 {
			if req.Hashes, err = pip.NewHashSet(hashes...); err != nil {
				return err
			}
		}
		req.Origin = origin
		if constraints {
			p.file.Constraints = append(p.file.Constraints, req)
		} else {
			p.file.Requirements = append(p.file.Requirements, req)
		}
		return nil
	}
	if len(hashes) > 0 {
		return fmt.Errorf("--hash without a requirement")
	}

	f := p.file
	for _, o := range opts {
		switch o.name {
		case "--requirement", "--constraint":
			target := o.value
			if strings.Contains(target, "://") {
				return fmt.Errorf("%s %s: only local files can be included", o.name, target)
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(name), target)
			}
			if err := p.include(target, constraints || o.name == "--constraint"); err != nil {
				return err
			}
		case "--index-url":
			f.IndexURL = o.value
		case "--extra-index-url":
			f.ExtraIndexURLs = append(f.ExtraIndexURLs, o.value)
		case "--no-index":
			f.NoIndex = true
		case "--find-links":
			f.FindLinks = append(f.FindLinks, o.value)
		case "--pre":
			f.Pre = true
		case "--prefer-binary":
			f.PreferBinary = true
		case "--require-hashes":
			f.RequireHashes = true
		case "--only-binary":
			f.OnlyBinary = append(f.OnlyBinary, formatControl(o.value)...)
		case "--no-binary":
			f.NoBinary = append(f.NoBinary, formatControl(o.value)...)
		default:
			p.opts.Logger.Debug("ignoring option", "option", o.name, "origin", origin)
		}
	}
	return nil
}

// formatControl splits the comma separated value of --only-binary and
// --no-binary, canonicalizing project names.
func formatControl(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "":
		case ":all:", ":none:":
			out = append(out, s)
		default:
			out = append(out, pip.CanonName(s))
		}
	}
	return out
}

// parseRequirement parses a PEP 508 requirement, or a bare URL or path to
// an archive as pip allows in requirements files.
func (p *parser) parseRequirement(s string) (pip.Requirement, error) {
	loc, _, _ := strings.Cut(s, " ;")
	loc = strings.TrimSpace(loc)
	if isLocator(loc) {
		req, err := p.parseLocator(loc, false)
		if err != nil {
			return req, err
		}
		if _, m, ok := strings.Cut(s, " ;"); ok && strings.TrimSpace(m) != "" {
			withMarker, err := pip.ParseRequirement(req.Name + ";" + m)
			if err != nil {
				return req, err
			}
			req.Marker = withMarker.Marker
		}
		return req, nil
	}
	return pip.ParseRequirement(s)
}

func isLocator(s string) bool {
	if strings.Contains(s, "://") {
		return !strings.Contains(s, "@") || strings.Index(s, "://") < strings.Index(s, "@")
	}
	return strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~")
}

var eggPattern = regexp.MustCompile(`[#&]egg=([^&]+)`)

// parseLocator builds a direct requirement from a URL or path, optionally
// followed by extras in brackets. The project name comes from an "#egg="
// fragment, the artifact's filename or the pyproject.toml of a local
// project directory.
func (p *parser) parseLocator(loc string, editable bool) (pip.Requirement, error) {
	var extras string
	if strings.HasSuffix(loc, "]") {
		if i := strings.LastIndex(loc, "["); i > 0 {
			loc, extras = loc[:i], loc[i:]
		}
	}
	src, err := pip.ParseSource(loc, editable)
	if err != nil {
		return pip.Requirement{}, &pip.ParseError{Input: loc, Reason: err.Error()}
	}
	name := ""
	if m := eggPattern.FindStringSubmatch(loc); m != nil {
		name = m[1]
	} else {
		name = nameFromFilename(src.Filename())
	}
	if name == "" && src.Kind == pip.LocalPath {
		name = p.projectName(src.Path)
	}
	if name == "" {
		return pip.Requirement{}, &pip.ParseError{Input: loc, Reason: "cannot tell the project name, add #egg=<name>"}
	}
	req, err := pip.ParseRequirement(name + extras)
	if err != nil {
		return req, err
	}
	req.Source = src
	return req, nil
}

// projectName reads the name declared in dir/pyproject.toml, if any.
func (p *parser) projectName(dir string) string {
	data, err := p.opts.ReadFile(filepath.Join(filepath.FromSlash(dir), "pyproject.toml"))
	if err != nil {
		return ""
	}
	var pyproject struct {
		Tool struct {
			Poetry struct {
				Name string `toml:"name"`
			} `toml:"poetry"`
		} `toml:"tool"`
		Project struct {
			Name string `toml:"name"`
		} `toml:"project"`
	}
	if err := toml.Unmarshal(data, &pyproject); err != nil {
		p.opts.Logger.Warn("unreadable pyproject.toml", "dir", dir, "err", err)
		return ""
	}
	if pyproject.Project.Name != "" {
		return pyproject.Project.Name
	}
	return pyproject.Tool.Poetry.Name
}

func nameFromFilename(filename string) string {
	if w, err := tags.ParseWheelFilename(filename); err == nil {
		return w.Name
	}
	if kind, ok := pip.ArchiveKind(filename); ok && kind == pip.Sdist {
		// <name>-<version>.<ext>, where the name may contain dashes but
		// the version does not.
		stem := filename
		for _, suffix := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tar", ".zip"} {
			if s, ok := strings.CutSuffix(strings.ToLower(stem), suffix); ok {
				stem = stem[:len(s)]
				break
			}
		}
		if i := strings.LastIndex(stem, "-"); i > 0 {
			return stem[:i]
		}
	}
	return ""
}
