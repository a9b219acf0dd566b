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

// Package metadata retrieves and parses the core metadata of Python
// distributions, from standalone metadata files, wheels and sdists.
package metadata

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"unicode/utf8"

	"deps.dev/util/pip"
	"deps.dev/util/pip/marker"
	"deps.dev/util/pip/pep440"
)

// Parse reads a METADATA or PKG-INFO file. The format is a set of RFC 822
// headers optionally followed by a body
// (https://packaging.python.org/en/latest/specifications/core-metadata/), so
// it is read as an email message. Metadata must be encoded as UTF-8, so an
// error is returned if any invalid UTF-8 is found.
func Parse(data []byte) (*pip.Metadata, error) {
	md, _, err := parse(data)
	return md, err
}

// parse also returns the fields declared Dynamic.
func parse(data []byte) (*pip.Metadata, []string, error) {
	if !utf8.Valid(data) {
		return nil, nil, &pip.ParseError{Input: "metadata", Reason: "invalid UTF-8"}
	}
	// Some files have no body which is an error to net/mail. Adding a
	// newline ensures it will parse an empty body.
	buf := bytes.NewBuffer(append(data[:len(data):len(data)], '\n'))
	msg, err := mail.ReadMessage(buf)
	if err != nil {
		return nil, nil, &pip.ParseError{Input: "metadata", Reason: err.Error()}
	}
	// The body is the long description, which is not needed.
	_, _ = io.Copy(io.Discard, msg.Body)

	header := func(name string) string {
		if vs := msg.Header[name]; len(vs) > 0 && vs[0] != "UNKNOWN" {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}
	md := &pip.Metadata{
		Name:            header("Name"),
		Version:         header("Version"),
		MetadataVersion: header("Metadata-Version"),
	}
	if md.Name == "" {
		return nil, nil, &pip.ParseError{Input: "metadata", Reason: "missing Name"}
	}
	for _, d := range msg.Header["Requires-Dist"] {
		req, err := pip.ParseRequirement(d)
		if err != nil {
			return nil, nil, fmt.Errorf("%s Requires-Dist: %w", md.Name, err)
		}
		md.Requires = append(md.Requires, req)
	}
	for _, x := range msg.Header["Provides-Extra"] {
		md.Extras = append(md.Extras, marker.NormalizeExtra(x))
	}
	if rp := header("Requires-Python"); rp != "" {
		set, err := pep440.ParseSpecifierSet(rp)
		if err != nil {
			return nil, nil, fmt.Errorf("%s Requires-Python: %w", md.Name, err)
		}
		md.RequiresPython = set
	}
	var dynamic []string
	for _, d := range msg.Header["Dynamic"] {
		dynamic = append(dynamic, strings.ToLower(strings.TrimSpace(d)))
	}
	return md, dynamic, nil
}

// staticSince is the first metadata version in which an sdist's PKG-INFO
// can be trusted to match the built wheel (PEP 643).
var staticSince = pep440.MustParse("2.2")

// parseSdist parses the PKG-INFO of an sdist. Only metadata that PEP 643
// guarantees to be static is accepted; anything else would require running
// the build backend.
func parseSdist(data []byte) (*pip.Metadata, error) {
	md, dynamic, err := parse(data)
	if err != nil {
		return nil, err
	}
	mv, err := pep440.Parse(md.MetadataVersion)
	if err != nil || mv.Compare(staticSince) < 0 {
		return nil, &pip.UnsupportedError{
			Msg:         fmt.Sprintf("%s: metadata version %q predates static sdist metadata", md.Name, md.MetadataVersion),
			PackageType: "sdist",
		}
	}
	for _, d := range dynamic {
		if d == "requires-dist" || d == "requires-python" || d == "provides-extra" {
			return nil, &pip.UnsupportedError{
				Msg:         fmt.Sprintf("%s: %s is dynamic", md.Name, d),
				PackageType: "sdist",
			}
		}
	}
	return md, nil
}
