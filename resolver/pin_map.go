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

package resolver

import "deps.dev/util/pip"

// pinMap is a map from identifiers to the candidates pinned for them that
// also allows constant time access to the most recently inserted key.
type pinMap struct {
	m     map[pip.Identifier]*pip.Candidate
	stack []pip.Identifier // stack tracks the insertion order of the map keys.
}

// newPinMap returns a new, empty pinMap with the specified capacity.
func newPinMap(capacity int) *pinMap {
	return &pinMap{
		m:     make(map[pip.Identifier]*pip.Candidate, capacity),
		stack: make([]pip.Identifier, 0, capacity),
	}
}

// Len returns the number of elements in the map.
func (p *pinMap) Len() int {
	return len(p.m)
}

// Get retrieves a value from the map.
func (p *pinMap) Get(id pip.Identifier) (*pip.Candidate, bool) {
	c, ok := p.m[id]
	return c, ok
}

// Set puts an identifier/candidate pair into the map. If the key is already
// present it is treated as newly added.
func (p *pinMap) Set(id pip.Identifier, c *pip.Candidate) {
	if _, ok := p.m[id]; ok {
		for i, q := range p.stack {
			if q == id {
				p.stack = append(p.stack[:i], p.stack[i+1:]...)
				break
			}
		}
	}
	p.m[id] = c
	p.stack = append(p.stack, id)
}

// Pop removes the most recently inserted pair and returns it. The boolean is
// false if the map is empty.
func (p *pinMap) Pop() (pip.Identifier, *pip.Candidate, bool) {
	if len(p.stack) == 0 {
		return pip.Identifier{}, nil, false
	}
	id := p.stack[len(p.stack)-1]
	c := p.m[id]
	delete(p.m, id)
	p.stack = p.stack[:len(p.stack)-1]
	return id, c, true
}

// Iterate applies the provided function to all pairs in the map in the order
// they were inserted.
func (p *pinMap) Iterate(f func(pip.Identifier, *pip.Candidate)) {
	for _, id := range p.stack {
		f(id, p.m[id])
	}
}

// Clone makes a copy of the map with the same contents and insertion order.
func (p *pinMap) Clone() *pinMap {
	q := &pinMap{
		m:     make(map[pip.Identifier]*pip.Candidate, p.Len()),
		stack: append([]pip.Identifier(nil), p.stack...),
	}
	for id, c := range p.m {
		q.m[id] = c
	}
	return q
}
