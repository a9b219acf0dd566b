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

package tags

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Wheel holds all of the information kept in the name of a wheel file.
type Wheel struct {
	Name     string
	Version  string
	BuildTag BuildTag
	Tags     []Tag
}

// BuildTag holds the components of a wheel's build tag.
type BuildTag struct {
	Num int
	Tag string
}

// Compare orders build tags by number, then by the rest of the tag. A wheel
// without a build tag has the zero BuildTag and sorts first.
func (b BuildTag) Compare(c BuildTag) int {
	return cmp.Or(cmp.Compare(b.Num, c.Num), strings.Compare(b.Tag, c.Tag))
}

// ParseWheelFilename extracts all of the information in the name of a wheel.
// The wheel naming format is described in PEP 427
// (https://peps.python.org/pep-0427/#file-name-convention). The name and
// version are returned as written.
func ParseWheelFilename(name string) (*Wheel, error) {
	if !strings.HasSuffix(name, ".whl") {
		return nil, fmt.Errorf("not a wheel filename: %q", name)
	}
	// Strip the suffix
	name = name[:len(name)-4]
	parts := strings.Split(name, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, fmt.Errorf("wheel name %q has %d elements, not 5 or 6", name, len(parts))
	}
	w := &Wheel{
		Name:    parts[0],
		Version: parts[1],
	}
	if len(parts) == 6 {
		buildTag := parts[2]
		split := strings.IndexFunc(buildTag, func(r rune) bool {
			return !unicode.IsDigit(r)
		})
		if split == 0 { // Must start with at least one digit.
			return nil, fmt.Errorf("invalid wheel name %q: build tag %q does not start with digit", name, buildTag)
		} else if split == -1 {
			split = len(buildTag)
		}
		num, err := strconv.Atoi(buildTag[:split])
		if err != nil {
			return nil, fmt.Errorf("invalid wheel name %q: %v", name, err)
		}
		w.BuildTag.Num = num
		w.BuildTag.Tag = buildTag[split:]
	}
	w.Tags = Expand(Tag{
		Python:   parts[len(parts)-3],
		ABI:      parts[len(parts)-2],
		Platform: parts[len(parts)-1],
	})
	return w, nil
}
