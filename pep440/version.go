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
Package pep440 implements the version scheme and version specifiers used by
Python packaging, as described in PEP 440.
https://peps.python.org/pep-0440/

Versions are parsed strictly: anything that PEP 440 does not permit,
including its documented normalizations, is rejected at parse time with an
*InvalidVersionError.
*/
package pep440

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidVersionError is returned when a string is not a valid PEP 440
// version.
type InvalidVersionError struct {
	Version string
	Reason  string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Version, e.Reason)
}

// preKind is the kind of a pre-release segment. The zero value means the
// version has no pre-release segment.
type preKind int8

const (
	preNone preKind = iota
	preAlpha
	preBeta
	preRC
)

func (k preKind) String() string {
	switch k {
	case preAlpha:
		return "a"
	case preBeta:
		return "b"
	case preRC:
		return "rc"
	}
	return ""
}

// Version is a parsed PEP 440 version. Within the struct all components are
// canonicalized (lower-cased, "c" -> "rc", and so on); the text the version
// was parsed from is kept for exact string matching.
type Version struct {
	epoch   int
	release []int
	pre     preKind
	preNum  int
	// post and dev are -1 when absent.
	post  int
	dev   int
	local []string
	raw   string
}

// pep440PreStrings is an ordered list of the legal names for prereleases.
// The longer string with a shared prefix must come first.
var pep440PreStrings = []struct {
	text  string
	canon preKind
}{
	{"alpha", preAlpha},
	{"a", preAlpha},
	{"beta", preBeta},
	{"b", preBeta},
	{"preview", preRC},
	{"pre", preRC},
	{"rc", preRC},
	{"c", preRC},
}

// pep440PostStrings is a list of the legal names for postreleases.
// The longer string with a shared prefix must come first.
var pep440PostStrings = []string{
	"post",
	"rev",
	"r",
}

// Parse parses a PEP 440 version string.
func Parse(s string) (*Version, error) {
	v := &Version{post: -1, dev: -1, raw: strings.TrimSpace(s)}
	if err := v.parse(v.raw); err != nil {
		return nil, &InvalidVersionError{Version: s, Reason: err.Error()}
	}
	return v, nil
}

// MustParse is like Parse but panics on malformed input. It is intended for
// tests and package-level tables.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Version) parse(input string) error {
	if input == "" {
		return fmt.Errorf("empty version")
	}
	for _, r := range input {
		if r <= ' ' || r >= 0x7F {
			return fmt.Errorf("invalid character %q", r)
		}
	}
	// There might be one v.
	if input[0] == 'v' || input[0] == 'V' {
		input = input[1:]
	}
	if bang := strings.IndexByte(input, '!'); bang >= 0 {
		e, err := strconv.ParseUint(input[:bang], 10, 31)
		if err != nil {
			return fmt.Errorf("bad epoch %q", input[:bang])
		}
		v.epoch = int(e)
		input = input[bang+1:]
	}
	var err error
	if input, err = v.parseRelease(input); err != nil {
		return err
	}
	if input, err = v.parsePre(input); err != nil {
		return err
	}
	if input, err = v.parsePost(input); err != nil {
		return err
	}
	if input, err = v.parseDev(input); err != nil {
		return err
	}
	if input, err = v.parseLocal(input); err != nil {
		return err
	}
	if input != "" {
		return fmt.Errorf("unexpected text %q", input)
	}
	return nil
}

func (v *Version) parseRelease(input string) (string, error) {
	for {
		n := digits(input)
		if n == 0 {
			if len(v.release) == 0 {
				return input, fmt.Errorf("no release number")
			}
			return input, fmt.Errorf("empty release component")
		}
		num, err := strconv.ParseUint(input[:n], 10, 62)
		if err != nil {
			return input, fmt.Errorf("release component %q out of range", input[:n])
		}
		v.release = append(v.release, int(num))
		input = input[n:]
		// A dot continues the release only if a digit follows; otherwise it
		// is a separator for the next segment.
		if len(input) < 2 || input[0] != '.' || !isDigit(input[1]) {
			return input, nil
		}
		input = input[1:]
	}
}

// parsePre parses a prerelease, if present, returning the rest of the input.
func (v *Version) parsePre(originalInput string) (string, error) {
	input := allowSeparator(originalInput)
	for _, s := range pep440PreStrings {
		if hasASCIIPrefix(input, s.text) {
			v.pre = s.canon
			var err error
			v.preNum, input, err = number(input[len(s.text):])
			return input, err
		}
	}
	return originalInput, nil
}

// parsePost parses a postrelease, if present, returning the rest of the input.
func (v *Version) parsePost(originalInput string) (string, error) {
	if originalInput == "" {
		return originalInput, nil
	}
	// "post" can be missing iff the separator is a dash and a number is provided.
	if originalInput[0] == '-' && len(originalInput) > 1 && isDigit(originalInput[1]) {
		n, rest, err := number(originalInput[1:])
		v.post = n
		return rest, err
	}
	input := allowSeparator(originalInput)
	for _, pat := range pep440PostStrings {
		if hasASCIIPrefix(input, pat) {
			var err error
			v.post, input, err = number(input[len(pat):])
			return input, err
		}
	}
	return originalInput, nil
}

// parseDev parses a dev marker, if present, returning the rest of the input.
func (v *Version) parseDev(originalInput string) (string, error) {
	const dev = "dev"
	input := allowSeparator(originalInput)
	if !hasASCIIPrefix(input, dev) {
		return originalInput, nil
	}
	var err error
	v.dev, input, err = number(input[len(dev):])
	return input, err
}

// parseLocal parses a local version label, if present. In local labels "-"
// and "_" are permitted but are not canonical; they become ".".
func (v *Version) parseLocal(input string) (string, error) {
	if input == "" || input[0] != '+' {
		return input, nil
	}
	str := input[1:]
	if str == "" {
		return input, fmt.Errorf("empty local version label")
	}
	seg := strings.FieldsFunc(str, func(r rune) bool { return r == '.' || r == '-' || r == '_' })
	if len(seg) != strings.Count(str, ".")+strings.Count(str, "-")+strings.Count(str, "_")+1 {
		return input, fmt.Errorf("empty component in local version label %q", str)
	}
	for i, s := range seg {
		for j := 0; j < len(s); j++ {
			if !isAlphanumeric(s[j]) {
				return input, fmt.Errorf("invalid local version label %q", str)
			}
		}
		seg[i] = strings.ToLower(s)
	}
	v.local = seg
	return "", nil
}

func allowSeparator(input string) string {
	// We are allowed a dot, underscore or minus.
	if len(input) > 0 {
		if c := input[0]; c == '.' || c == '-' || c == '_' {
			input = input[1:]
		}
	}
	return input
}

// number parses the optional number that follows a pre, post or dev label.
// A missing number is zero; a separator may precede it.
func number(input string) (int, string, error) {
	rest := allowSeparator(input)
	n := digits(rest)
	if n == 0 {
		return 0, input, nil
	}
	num, err := strconv.ParseUint(rest[:n], 10, 62)
	if err != nil {
		return 0, input, fmt.Errorf("number %q out of range", rest[:n])
	}
	return int(num), rest[n:], nil
}

func digits(s string) int {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return i
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isAlphanumeric(c byte) bool {
	return isDigit(c) || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// hasASCIIPrefix reports whether str begins with the pattern, ignoring case.
// The pattern must be lower case and both strings must be ASCII.
func hasASCIIPrefix(str, pat string) bool {
	if len(str) < len(pat) {
		return false
	}
	for i := 0; i < len(pat); i++ {
		if str[i]|0x20 != pat[i] {
			return false
		}
	}
	return true
}

// String returns the normalized form of the version.
func (v *Version) String() string {
	var b strings.Builder
	if v.epoch != 0 {
		fmt.Fprintf(&b, "%d!", v.epoch)
	}
	for i, n := range v.release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if v.pre != preNone {
		fmt.Fprintf(&b, "%s%d", v.pre, v.preNum)
	}
	if v.post >= 0 {
		fmt.Fprintf(&b, ".post%d", v.post)
	}
	if v.dev >= 0 {
		fmt.Fprintf(&b, ".dev%d", v.dev)
	}
	if len(v.local) > 0 {
		b.WriteByte('+')
		b.WriteString(strings.Join(v.local, "."))
	}
	return b.String()
}

// Raw returns the text the version was parsed from, without surrounding
// white space.
func (v *Version) Raw() string { return v.raw }

// Epoch returns the version epoch, zero when absent.
func (v *Version) Epoch() int { return v.epoch }

// Release returns a copy of the release segment.
func (v *Version) Release() []int { return append([]int(nil), v.release...) }

// Major, Minor and Micro return the first three release components, zero
// when absent.
func (v *Version) Major() int { return v.component(0) }
func (v *Version) Minor() int { return v.component(1) }
func (v *Version) Micro() int { return v.component(2) }

func (v *Version) component(i int) int {
	if i < len(v.release) {
		return v.release[i]
	}
	return 0
}

// Local returns the local version label, or the empty string.
func (v *Version) Local() string { return strings.Join(v.local, ".") }

// IsPrerelease reports whether the version is a pre-release or a
// development release.
func (v *Version) IsPrerelease() bool { return v.pre != preNone || v.dev >= 0 }

// IsPostrelease reports whether the version has a post-release segment.
func (v *Version) IsPostrelease() bool { return v.post >= 0 }

// IsDevrelease reports whether the version has a development segment.
func (v *Version) IsDevrelease() bool { return v.dev >= 0 }

// Public returns the version without its local label.
func (v *Version) Public() *Version {
	if len(v.local) == 0 {
		return v
	}
	w := *v
	w.local = nil
	w.raw = w.String()
	return &w
}

// BaseVersion returns the epoch and release segment only.
func (v *Version) BaseVersion() *Version {
	w := &Version{epoch: v.epoch, release: v.release, post: -1, dev: -1}
	w.raw = w.String()
	return w
}

// Equal reports whether v and w compare equal.
func (v *Version) Equal(w *Version) bool { return v.Compare(w) == 0 }

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than
// w. The order is:
//
//	1.0.dev0 < 1.0a1.dev0 < 1.0a1 < 1.0b1 < 1.0rc1 < 1.0 < 1.0+local < 1.0.post1
//
// Trailing zeros in the release segment are not significant.
func (v *Version) Compare(w *Version) int {
	if v.epoch != w.epoch {
		return sgn(v.epoch, w.epoch)
	}
	n := max(len(v.release), len(w.release))
	for i := 0; i < n; i++ {
		if s := sgn(v.component(i), w.component(i)); s != 0 {
			return s
		}
	}
	vr, vn := v.preKey()
	wr, wn := w.preKey()
	if s := sgn(vr, wr); s != 0 {
		return s
	}
	if s := sgn(vn, wn); s != 0 {
		return s
	}
	// An absent post-release sorts before post0.
	if s := sgn(v.post, w.post); s != 0 {
		return s
	}
	if s := sgn(devKey(v.dev), devKey(w.dev)); s != 0 {
		return s
	}
	return compareLocal(v.local, w.local)
}

// preKey orders the pre-release segment. A dev release without a pre or post
// segment sorts before every pre-release of the same release; a version
// without a pre-release sorts after all of them.
func (v *Version) preKey() (int, int) {
	switch {
	case v.pre != preNone:
		return int(v.pre), v.preNum
	case v.post < 0 && v.dev >= 0:
		return -1, 0
	}
	return int(preRC) + 1, 0
}

// devKey places versions without a dev segment after all dev releases.
func devKey(dev int) int {
	if dev < 0 {
		return int(^uint(0) >> 1)
	}
	return dev
}

// compareLocal compares local labels elementwise. A missing label sorts
// first. Numbers dominate strings and are evaluated numerically; strings are
// compared lexically. When all shared elements are equal the longer label
// wins.
func compareLocal(p, q []string) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if s := compareLocalElem(p[i], q[i]); s != 0 {
			return s
		}
	}
	return sgn(len(p), len(q))
}

func compareLocalElem(a, b string) int {
	aDigits := digits(a) == len(a)
	bDigits := digits(b) == len(b)
	if aDigits != bDigits {
		if aDigits {
			return 1
		}
		return -1
	}
	if aDigits {
		an, _ := strconv.ParseUint(a, 10, 64)
		bn, _ := strconv.ParseUint(b, 10, 64)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func sgn(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
