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

// Package lru provides a size-bounded, least-recently-used cache that is safe
// for concurrent use.
package lru

import "sync"

// Cache is an LRU cache holding at most a fixed number of entries.
// The zero value is not usable; use New.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*node[K, V]
	order   ring[K, V]
	limit   int
	evicted int
}

// New returns a cache holding at most limit entries. A limit below one is
// treated as one.
func New[K comparable, V any](limit int) *Cache[K, V] {
	limit = max(limit, 1)
	c := &Cache[K, V]{
		entries: make(map[K]*node[K, V], limit),
		limit:   limit,
	}
	c.order.init()
	return c
}

// Add stores v under k and marks it most recently used, evicting the least
// recently used entry if the cache is full.
func (c *Cache[K, V]) Add(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[k]; ok {
		n.val = v
		c.order.moveToFront(n)
		return
	}
	if len(c.entries) < c.limit {
		n := &node[K, V]{key: k, val: v}
		c.order.pushFront(n)
		c.entries[k] = n
		return
	}
	// Full: recycle the oldest node.
	n := c.order.back()
	delete(c.entries, n.key)
	c.evicted++
	n.key, n.val = k, v
	c.order.moveToFront(n)
	c.entries[k] = n
}

// Get returns the value stored under k and marks it most recently used.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.moveToFront(n)
	return n.val, true
}

// Remove drops k from the cache, reporting whether it was present.
func (c *Cache[K, V]) Remove(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[k]
	if ok {
		c.order.unlink(n)
		delete(c.entries, k)
	}
	return ok
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Evicted returns how many entries have been pushed out to make room.
func (c *Cache[K, V]) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Keys returns the keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.entries))
	for n := c.order.root.next; n != &c.order.root; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

type node[K comparable, V any] struct {
	key        K
	val        V
	prev, next *node[K, V]
}

// ring is a circular doubly-linked list with a sentinel root, so no link
// operation needs a nil check.
type ring[K comparable, V any] struct {
	root node[K, V]
}

func (r *ring[K, V]) init() {
	r.root.next = &r.root
	r.root.prev = &r.root
}

func (r *ring[K, V]) back() *node[K, V] { return r.root.prev }

func (r *ring[K, V]) pushFront(n *node[K, V]) {
	n.prev = &r.root
	n.next = r.root.next
	r.root.next.prev = n
	r.root.next = n
}

func (r *ring[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (r *ring[K, V]) moveToFront(n *node[K, V]) {
	if r.root.next == n {
		return
	}
	r.unlink(n)
	r.pushFront(n)
}
