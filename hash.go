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
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// hashLengths holds the accepted hash algorithms and their hex digest
// lengths.
var hashLengths = map[string]int{
	"sha256": 64,
	"sha384": 96,
	"sha512": 128,
}

// HashSet is an allow-list of artifact digests, keyed "algorithm:hexdigest".
// A nil HashSet means no hashes were declared; an empty non-nil one admits
// nothing.
type HashSet map[string]bool

// ParseHash validates a hash written "algorithm:hexdigest" or
// "algorithm=hexdigest" and returns its canonical key.
func ParseHash(s string) (string, error) {
	algo, digest, ok := strings.Cut(s, ":")
	if !ok {
		algo, digest, ok = strings.Cut(s, "=")
	}
	if !ok {
		return "", fmt.Errorf("hash %q: missing algorithm", s)
	}
	algo, digest = strings.ToLower(algo), strings.ToLower(digest)
	n, known := hashLengths[algo]
	if !known {
		return "", fmt.Errorf("hash %q: unsupported algorithm %q", s, algo)
	}
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != n {
		return "", fmt.Errorf("hash %q: malformed %s digest", s, algo)
	}
	return algo + ":" + digest, nil
}

// NewHashSet builds a HashSet from hashes written as accepted by ParseHash.
func NewHashSet(hashes ...string) (HashSet, error) {
	hs := make(HashSet, len(hashes))
	for _, h := range hashes {
		key, err := ParseHash(h)
		if err != nil {
			return nil, err
		}
		hs[key] = true
	}
	return hs, nil
}

// Intersect returns the digests allowed by both sets. A nil set places no
// restriction, so the other set is returned.
func (hs HashSet) Intersect(other HashSet) HashSet {
	switch {
	case hs == nil:
		return maps.Clone(other)
	case other == nil:
		return maps.Clone(hs)
	}
	out := HashSet{}
	for h := range hs {
		if other[h] {
			out[h] = true
		}
	}
	return out
}

// Allows reports whether any of the artifact digests, given as algorithm to
// hex digest, is in the set. A nil set allows everything.
func (hs HashSet) Allows(digests map[string]string) bool {
	if hs == nil {
		return true
	}
	for algo, d := range digests {
		if hs[strings.ToLower(algo)+":"+strings.ToLower(d)] {
			return true
		}
	}
	return false
}

// Sorted returns the keys of the set in order.
func (hs HashSet) Sorted() []string {
	return slices.Sorted(maps.Keys(hs))
}
