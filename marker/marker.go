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
Package marker parses and evaluates PEP 508 environment markers
(https://peps.python.org/pep-0508/#environment-markers).
The relevant parts of the grammar are:

	marker       = marker_or
	marker_or    = marker_and wsp* 'or' marker_or
	             | marker_and
	marker_and   = marker_expr wsp* 'and' marker_and
	             | marker_expr
	marker_expr  = marker_var marker_op marker_var
	             | wsp* '(' marker ')'
	marker_var   = wsp* (env_var | python_str)
	python_str   = (squote (python_str_c | dquote)* squote)
	             | (dquote (python_str_c | squote)* dquote)
	marker_op    = version_cmp | (wsp* 'in') | (wsp* 'not' wsp+ 'in')
	version_cmp  = wsp* ('<=' | '<' | '!=' | '==' | '>=' | '>' | '~=' | '===')
	wsp          = ' ' | '\t'

The rules for marker_or and marker_and have been modified to allow for more
than one marker_or/marker_and in a marker without the need for parentheses.
This reflects the actual implementation of pip.

Markers are parsed once and evaluated many times: the environment is an
argument to Evaluate, and the value of the "extra" variable is supplied
separately for each feature subset being considered.
*/
package marker

import (
	"fmt"
	"strings"

	"deps.dev/util/pip/pep440"
)

// InvalidMarkerError is returned for a marker that does not parse.
type InvalidMarkerError struct {
	Marker string
	Reason string
}

func (e *InvalidMarkerError) Error() string {
	return fmt.Sprintf("invalid marker %q: %s", e.Marker, e.Reason)
}

// Expr is a parsed environment marker.
type Expr interface {
	// String returns the marker in normalized form; it parses back to an
	// equivalent Expr.
	String() string
	// Evaluate reports whether the marker holds in env with the extra
	// variable set to extra. The empty string stands for the base package.
	Evaluate(env Environment, extra string) bool
}

// Parse parses a marker. Unknown variable names are an error.
func Parse(raw string) (Expr, error) {
	p := &envParser{input: raw}
	m, err := p.parseMarkerOr()
	if err == nil {
		p.skipWsp()
		if p.pos < len(p.input) {
			err = p.expected("EOF")
		}
	}
	if err != nil {
		return nil, &InvalidMarkerError{Marker: raw, Reason: err.Error()}
	}
	return m, nil
}

// EvaluateExtras reports whether e holds for the base package or for any of
// the given extras. A nil Expr always holds.
func EvaluateExtras(e Expr, env Environment, extras []string) bool {
	if e == nil {
		return true
	}
	if e.Evaluate(env, "") {
		return true
	}
	for _, x := range extras {
		if e.Evaluate(env, x) {
			return true
		}
	}
	return false
}

// envParser parses PEP 508 environment markers.
type envParser struct {
	// input holds the string being parsed, which is assumed to be ASCII as per
	// PEP 508.
	input string
	pos   int // The current position in input.
}

// skipWsp skips zero or more characters of whitespace. By PEP 508, allowed
// whitespace is spaces or tabs. It returns true if any characters were skipped.
func (p *envParser) skipWsp() bool {
	newPos := p.pos
	for ; newPos < len(p.input) && isSpace(p.input[newPos]); newPos++ {
	}
	if newPos == p.pos {
		return false
	}
	p.pos = newPos
	return true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// accept attempts to take a literal string from the current position of the
// input and reports whether this was successful. If it succeeds the position is
// advanced past the string.
func (p *envParser) accept(s string) bool {
	if !strings.HasPrefix(p.input[p.pos:], s) {
		return false
	}
	p.pos += len(s)
	return true
}

const eof byte = 255

// peek returns the next byte in the input or eof if there is none.
func (p *envParser) peek() byte {
	if p.pos >= len(p.input) {
		return eof
	}
	return p.input[p.pos]
}

// expected produces a formatted error to indicate the parser having not
// found what it expected.
func (p *envParser) expected(want string) error {
	end := p.input[p.pos:]
	if len(end) > 10 {
		end = end[:10]
	}
	if len(end) == 0 {
		end = "EOF"
	}
	return fmt.Errorf("expected: %s, found: %q", want, end)
}

// parseMarkerOr parses a marker_or.
func (p *envParser) parseMarkerOr() (Expr, error) {
	l, err := p.parseMarkerAnd()
	if err != nil {
		return nil, err
	}
	p.skipWsp()
	if !p.accept("or") {
		return l, nil
	}
	r, err := p.parseMarkerOr()
	if err != nil {
		return nil, err
	}
	return markerOr{left: l, right: r}, nil
}

// parseMarkerAnd parses a marker_and.
func (p *envParser) parseMarkerAnd() (Expr, error) {
	l, err := p.parseMarkerExpr()
	if err != nil {
		return nil, err
	}
	p.skipWsp()
	if !p.accept("and") {
		return l, nil
	}
	r, err := p.parseMarkerAnd()
	if err != nil {
		return nil, err
	}
	return markerAnd{left: l, right: r}, nil
}

// parseMarkerVar parses a marker_var, which is either a known variable name or
// a literal string with quotes.
func (p *envParser) parseMarkerVar() (markerVar, error) {
	p.skipWsp()
	if c := p.peek(); c == '\'' || c == '"' {
		str, err := p.parsePythonStr()
		if err != nil {
			return markerVar{}, err
		}
		return mkLiteral(str), nil
	}
	// None of the names are prefixes of one another, so we can just try them
	// all in any order.
	for alias, name := range variableNames {
		if p.accept(alias) {
			return markerVar{name: name}, nil
		}
	}
	return markerVar{}, p.expected("string or known variable name")
}

// parsePythonStr loosely parses a python_str, which is a string literal.
// The grammar defines a precise set of what is allowed inside the string,
// but pip itself does not seem to care so neither do we.
func (p *envParser) parsePythonStr() (string, error) {
	s := p.peek()
	i := strings.IndexByte(p.input[p.pos+1:], s)
	if i < 0 {
		return "", p.expected(fmt.Sprintf("%q terminating a string", s))
	}
	val := p.input[p.pos+1 : p.pos+i+1]
	p.pos += i + 2
	return val, nil
}

// parseMarkerOp parses a marker_op.
func (p *envParser) parseMarkerOp() (markerOp, error) {
	p.skipWsp()
	// Apart from "not in", the markerOps are between one and three
	// characters and some are prefixes of each other (such as < and <=).
	// There aren't that many of them, so just start by trying the largest
	// possible and work down.
	for _, o := range markerOpsByLength {
		if p.accept(o.String()) {
			return o, nil
		}
	}
	// It may be "not in", with at least one character of whitespace in the
	// middle.
	if !p.accept("not") {
		return markerOpUnknown, p.expected("comparison operator")
	}
	if !p.skipWsp() {
		return markerOpUnknown, p.expected("whitespace, in the middle of 'not in'")
	}
	if !p.accept("in") {
		return markerOpUnknown, p.expected("in after not")
	}
	return markerOpNotIn, nil
}

// parseMarkerExpr parses a marker_expr: either two marker_var separated by a
// marker_op or an entire marker expression in parentheses.
func (p *envParser) parseMarkerExpr() (Expr, error) {
	// marker_var allows leading whitespace, so it is acceptable in both
	// cases and we can skip it here.
	p.skipWsp()
	if p.accept("(") {
		m, err := p.parseMarkerOr()
		if err != nil {
			return nil, err
		}
		p.skipWsp()
		if !p.accept(")") {
			return nil, p.expected("closing )")
		}
		return m, nil
	}
	l, err := p.parseMarkerVar()
	if err != nil {
		return nil, err
	}
	o, err := p.parseMarkerOp()
	if err != nil {
		return nil, err
	}
	r, err := p.parseMarkerVar()
	if err != nil {
		return nil, err
	}
	expr := markerExpr{
		op:    o,
		left:  l,
		right: r,
	}

	// ~= can only compare versions.
	if o == markerOpTildeEqual && ((l.isLiteral() && l.version == nil) || (r.isLiteral() && r.version == nil)) {
		return nil, fmt.Errorf("~= must compare versions, got %s %s %s", l, o, r)
	}

	if l.name == "extra" || r.name == "extra" {
		// If extras are involved then only equality makes sense. This is
		// not in the grammar but it is the only expressions involving
		// extras that build tools generate.
		if o != markerOpEqualEqual && o != markerOpNotEqual {
			return nil, fmt.Errorf("extra can only be compared with '==' or '!=', got: %s %s %s", l, o, r)
		}
		return expr, nil
	}

	// If the right hand side is a literal version, parse the operator and
	// the literal as a specifier now. === is a special case because its
	// purpose is to force string comparison.
	if r.isLiteral() && o.isVersionComparison() {
		if spec, err := pep440.ParseSpecifier(o.String() + r.value); err == nil {
			expr.spec = &spec
		}
	}
	return expr, nil
}

// markerOr corresponds to the first case of marker_or in the grammar, which is
// two marker_and whose results will be joined by a logical OR.
type markerOr struct {
	left, right Expr
}

func (mo markerOr) String() string {
	return mo.left.String() + " or " + mo.right.String()
}

func (mo markerOr) Evaluate(env Environment, extra string) bool {
	return mo.left.Evaluate(env, extra) || mo.right.Evaluate(env, extra)
}

// markerAnd corresponds to the first case of a marker_and in the grammar, which
// is two marker_expr whose results will be joined by a logical AND.
type markerAnd struct {
	left, right Expr
}

func (ma markerAnd) String() string {
	return parenthesize(ma.left) + " and " + parenthesize(ma.right)
}

func parenthesize(e Expr) string {
	if _, ok := e.(markerOr); ok {
		return "(" + e.String() + ")"
	}
	return e.String()
}

func (ma markerAnd) Evaluate(env Environment, extra string) bool {
	return ma.left.Evaluate(env, extra) && ma.right.Evaluate(env, extra)
}

// markerExpr is a binary comparison between two marker_var. The intention is
// to prefer version comparisons where possible but otherwise fall back to
// Python string comparisons.
type markerExpr struct {
	op          markerOp
	left, right markerVar
	// spec is the specifier made from the operator and the right operand.
	// It is only set if the right operand is a literal that forms a valid
	// specifier with the operator.
	spec *pep440.Specifier
}

func (me markerExpr) String() string {
	return fmt.Sprintf("%s %s %s", me.left, me.op, me.right)
}

// Evaluate evaluates the comparison. Where possible it uses a PEP 440
// version comparison, otherwise it uses Python-like string operations. If
// extras are involved the operands are compared after name normalization.
func (me markerExpr) Evaluate(env Environment, extra string) bool {
	l := me.left.resolve(env, extra)
	r := me.right.resolve(env, extra)
	if me.left.name == "extra" || me.right.name == "extra" {
		eq := NormalizeExtra(l) == NormalizeExtra(r)
		if me.op == markerOpNotEqual {
			return !eq
		}
		return eq
	}
	if me.op.isVersionComparison() {
		spec := me.spec
		if spec == nil {
			if s, err := pep440.ParseSpecifier(me.op.String() + r); err == nil {
				spec = &s
			}
		}
		if spec != nil {
			if lv, err := pep440.Parse(l); err == nil {
				return spec.Contains(lv)
			}
		}
	}
	// Fall back to Python string behaviour where possible.
	switch me.op {
	case markerOpLessEqual:
		return l <= r
	case markerOpLess:
		return l < r
	case markerOpNotEqual:
		return l != r
	case markerOpEqualEqual, markerOpEqualEqualEqual:
		return l == r
	case markerOpGreaterEqual:
		return l >= r
	case markerOpGreater:
		return l > r
	case markerOpIn:
		return strings.Contains(r, l)
	case markerOpNotIn:
		return !strings.Contains(r, l)
	}
	// ~= between non-versions.
	return false
}

// markerOp covers everything from marker_op in the grammar.
type markerOp byte

const (
	markerOpUnknown markerOp = iota
	// Operators in version_cmp which are capable of comparing versions.
	markerOpLessEqual
	markerOpLess
	markerOpNotEqual
	markerOpEqualEqual
	markerOpGreaterEqual
	markerOpGreater
	// Ops that are only defined on versions (although === is slightly unusual)
	markerOpTildeEqual
	markerOpEqualEqualEqual
	// Ops that are only defined on strings
	markerOpIn
	markerOpNotIn
)

var markerOpStrings = [...]string{
	markerOpUnknown:         "?",
	markerOpLessEqual:       "<=",
	markerOpLess:            "<",
	markerOpNotEqual:        "!=",
	markerOpEqualEqual:      "==",
	markerOpGreaterEqual:    ">=",
	markerOpGreater:         ">",
	markerOpTildeEqual:      "~=",
	markerOpEqualEqualEqual: "===",
	markerOpIn:              "in",
	markerOpNotIn:           "not in",
}

func (o markerOp) String() string {
	if int(o) < len(markerOpStrings) {
		return markerOpStrings[o]
	}
	return fmt.Sprintf("markerOp(%d)", o)
}

func (o markerOp) isVersionComparison() bool {
	return o >= markerOpLessEqual && o <= markerOpTildeEqual
}

// markerOpsByLength contains all the markerOps that have a fixed-length
// string representation (everything except markerOpNotIn) in descending order
// of the length of their string representation.
var markerOpsByLength = []markerOp{
	markerOpEqualEqualEqual, // the only 3 character op
	// 2 character ops.
	markerOpLessEqual,
	markerOpNotEqual,
	markerOpEqualEqual,
	markerOpGreaterEqual,
	markerOpTildeEqual,
	markerOpIn,
	// 1 character ops.
	markerOpLess,
	markerOpGreater,
}

// markerVar corresponds to marker_var in the grammar: either a variable from
// a predefined set of names or a literal.
type markerVar struct {
	name    string // Only set if this is a variable.
	value   string
	version *pep440.Version // Only set for a literal that is a valid version.
}

func mkLiteral(value string) markerVar {
	mv := markerVar{value: value}
	if v, err := pep440.Parse(value); err == nil {
		mv.version = v
	}
	return mv
}

func (v markerVar) isLiteral() bool { return v.name == "" }

func (v markerVar) resolve(env Environment, extra string) string {
	switch v.name {
	case "":
		return v.value
	case "extra":
		return extra
	}
	return env[v.name]
}

func (v markerVar) String() string {
	if v.name != "" {
		return v.name
	}
	if strings.Contains(v.value, `"`) {
		return "'" + v.value + "'"
	}
	return `"` + v.value + `"`
}
