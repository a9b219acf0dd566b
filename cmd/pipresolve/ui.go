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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"deps.dev/util/pip/resolver"
)

var (
	colorCyan  = lipgloss.Color("36")
	colorGreen = lipgloss.Color("35")
	colorRed   = lipgloss.Color("167")
	colorDim   = lipgloss.Color("240")
)

var (
	styleTitle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleName      = lipgloss.NewStyle().Bold(true)
	styleVersion   = lipgloss.NewStyle().Foreground(colorCyan)
	styleDim       = lipgloss.NewStyle().Foreground(colorDim)
	styleIconOK    = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError = lipgloss.NewStyle().Foreground(colorRed)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconArrow   = "→"
)

// printPins writes the pins as requirement lines, user requested projects
// marked, with the artifact each was resolved to.
func printPins(w io.Writer, ps *resolver.PinSet) {
	fmt.Fprintln(w, styleIconOK.Render(iconSuccess)+" "+styleTitle.Render(fmt.Sprintf("Resolved %d packages", len(ps.Pins)))+
		styleDim.Render(fmt.Sprintf(" in %d rounds", ps.Rounds)))
	width := 0
	for _, p := range ps.Pins {
		width = max(width, len(p.String()))
	}
	for _, p := range ps.Pins {
		name := p.Name
		if len(p.Extras) > 0 {
			name += "[" + strings.Join(p.Extras, ",") + "]"
		}
		line := styleName.Render(name)
		if rest := strings.TrimPrefix(p.String(), name); rest != "" {
			line += styleVersion.Render(rest)
		}
		line += strings.Repeat(" ", width-len(p.String()))
		detail := p.Filename
		if p.Installed {
			detail = "installed"
		}
		if len(p.Dependencies) > 0 {
			detail += " " + iconArrow + " " + strings.Join(p.Dependencies, ", ")
		}
		fmt.Fprintln(w, "  "+line+"  "+styleDim.Render(detail))
	}
}

// printConflicts explains a failed resolution, one block per project.
func printConflicts(w io.Writer, err *resolver.ResolutionImpossibleError) {
	for _, c := range err.Conflicts() {
		fmt.Fprintln(w, styleIconError.Render(iconError)+" "+styleName.Render(c.Identifier.String()))
		for _, cause := range c.Causes {
			fmt.Fprintln(w, "    "+styleDim.Render(cause.String()))
		}
	}
}
