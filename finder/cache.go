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
	"context"
	"errors"

	"github.com/golang/groupcache/singleflight"

	"deps.dev/util/pip"
	"deps.dev/util/pip/internal/lru"
)

// LinkCache remembers the links each source reported for each project.
// A LinkCache may be shared by any number of Finders, including ones used
// by concurrent resolutions; it never holds per-resolution state.
type LinkCache struct {
	links *lru.Cache[string, []pip.Link]
	group singleflight.Group
}

// NewLinkCache returns a cache holding the listings of at most size
// (source, project) pairs.
func NewLinkCache(size int) *LinkCache {
	return &LinkCache{links: lru.New[string, []pip.Link](size)}
}

// Links returns the source's links for the project, listing them at most
// once for concurrent callers. A project unknown to the source yields no
// links and no error.
func (lc *LinkCache) Links(ctx context.Context, src pip.Source, name string) ([]pip.Link, error) {
	key := src.Name() + "\x00" + name
	if links, ok := lc.links.Get(key); ok {
		return links, nil
	}
	v, err := lc.group.Do(key, func() (interface{}, error) {
		links, err := src.Links(ctx, name)
		if errors.Is(err, pip.ErrNotFound) {
			links, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		for i := range links {
			if links[i].Source == "" {
				links[i].Source = src.Name()
			}
		}
		lc.links.Add(key, links)
		return links, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]pip.Link), nil
}

// Forget drops the cached listing, so the next lookup asks the source again.
func (lc *LinkCache) Forget(src pip.Source, name string) {
	lc.links.Remove(src.Name() + "\x00" + name)
}
