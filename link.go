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

package pip

import (
	"fmt"
	"strings"
	"time"

	"deps.dev/util/pip/tags"
)

// ArtifactKind is the type of distribution a link points at.
type ArtifactKind int

const (
	Wheel ArtifactKind = iota
	Sdist
	// Tree is a directory or VCS checkout. Its metadata can only come from
	// a MetadataProvider that knows it.
	Tree
	// Installed is a distribution already present in the target
	// environment.
	Installed
)

func (k ArtifactKind) String() string {
	switch k {
	case Wheel:
		return "wheel"
	case Sdist:
		return "sdist"
	case Tree:
		return "tree"
	case Installed:
		return "installed"
	}
	return fmt.Sprintf("ArtifactKind(%d)", int(k))
}

// Link is one installable artifact of a project version, as reported by a
// Source.
type Link struct {
	// Name is the canonical project name.
	Name string
	// Version is the version as written in the filename or index.
	Version  string
	Filename string
	URL      string
	Kind     ArtifactKind
	// Tags are the expanded compatibility tags of a wheel.
	Tags []tags.Tag
	// Build is the wheel's build tag, zero if it has none.
	Build tags.BuildTag
	// Hashes maps a digest algorithm to the artifact's hex digest.
	Hashes map[string]string
	// UploadTime is zero when the source does not report it.
	UploadTime   time.Time
	Yanked       bool
	YankedReason string
	// RequiresPython is the index-reported Requires-Python, if any.
	RequiresPython string
	// MetadataURL locates the standalone core metadata file (PEP 658), if
	// the index serves one.
	MetadataURL    string
	MetadataHashes map[string]string
	// Source is the name of the Source the link came from.
	Source string
}

func (l Link) String() string {
	if l.Filename != "" {
		return l.Filename
	}
	return l.URL
}

var sdistSuffixes = []string{".tar.gz", ".zip", ".tar.bz2", ".tar.xz", ".tgz", ".tar"}

// SdistVersion extracts the version from the name of an sdist file.
// The format of the names is not standardized, but it is a strong enough
// convention that pip relies on it. The filenames are formatted
// <name>-<version>, where the name is not necessarily canonicalized, so every
// prefix ending in "-" is tried against the canonical name.
func SdistVersion(canonName, filename string) (string, error) {
	nameVersion := ""
	for _, suffix := range sdistSuffixes {
		if s, ok := strings.CutSuffix(strings.ToLower(filename), suffix); ok {
			nameVersion = filename[:len(s)]
			break
		}
	}
	if nameVersion == "" {
		return "", fmt.Errorf("not an sdist filename: %q", filename)
	}
	for i, r := range nameVersion {
		if r != '-' {
			continue
		}
		if CanonName(nameVersion[:i]) == canonName {
			return nameVersion[i+1:], nil
		}
	}
	return "", fmt.Errorf("invalid filename for package %q: %q", canonName, filename)
}

// ArchiveKind reports whether the filename names a wheel or an sdist.
func ArchiveKind(filename string) (ArtifactKind, bool) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".whl") {
		return Wheel, true
	}
	for _, suffix := range sdistSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return Sdist, true
		}
	}
	return Tree, false
}

// ParseArtifact builds a link from an artifact filename, filling in the
// name, version, kind and tags. The filename must belong to the project with
// the given canonical name.
func ParseArtifact(canonName, filename, url string) (Link, error) {
	l := Link{Name: canonName, Filename: filename, URL: url}
	if strings.HasSuffix(filename, ".whl") {
		w, err := tags.ParseWheelFilename(filename)
		if err != nil {
			return l, err
		}
		if CanonName(w.Name) != canonName {
			return l, fmt.Errorf("wheel %q does not belong to %q", filename, canonName)
		}
		l.Kind, l.Version, l.Tags, l.Build = Wheel, w.Version, w.Tags, w.BuildTag
		return l, nil
	}
	v, err := SdistVersion(canonName, filename)
	if err != nil {
		return l, err
	}
	l.Kind, l.Version = Sdist, v
	return l, nil
}
