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
	"iter"

	"deps.dev/util/pip"
)

// Matches is the ordered result of a Find, consumed at most once. Taking a
// candidate never fetches its metadata; that happens when the caller asks
// the candidate for it.
type Matches struct {
	cands []*pip.Candidate
	next  int
}

// Len returns the number of candidates not yet taken.
func (m *Matches) Len() int { return len(m.cands) - m.next }

// Next takes the next candidate.
func (m *Matches) Next() (*pip.Candidate, bool) {
	if m.next >= len(m.cands) {
		return nil, false
	}
	c := m.cands[m.next]
	m.next++
	return c, true
}

// All yields the remaining candidates in order, taking each as it goes.
func (m *Matches) All() iter.Seq[*pip.Candidate] {
	return func(yield func(*pip.Candidate) bool) {
		for {
			c, ok := m.Next()
			if !ok || !yield(c) {
				return
			}
		}
	}
}
