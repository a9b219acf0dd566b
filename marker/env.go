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

package marker

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Environment maps marker variable names to their values for one target
// interpreter and platform. Variables missing from the map evaluate as the
// empty string. The "extra" variable is never read from the map.
type Environment map[string]string

// Variables lists the marker variables, excluding "extra".
var Variables = []string{
	"implementation_name",
	"implementation_version",
	"os_name",
	"platform_machine",
	"platform_python_implementation",
	"platform_release",
	"platform_system",
	"platform_version",
	"python_full_version",
	"python_version",
	"sys_platform",
}

// variableNames maps every accepted spelling, including the legacy dotted
// forms, to the canonical variable name. No key is a prefix of another.
var variableNames = map[string]string{
	"extra":                          "extra",
	"implementation_name":            "implementation_name",
	"implementation_version":         "implementation_version",
	"os_name":                        "os_name",
	"os.name":                        "os_name",
	"platform_machine":               "platform_machine",
	"platform.machine":               "platform_machine",
	"platform_python_implementation": "platform_python_implementation",
	"platform.python_implementation": "platform_python_implementation",
	"python_implementation":          "platform_python_implementation",
	"platform_release":               "platform_release",
	"platform_system":                "platform_system",
	"platform_version":               "platform_version",
	"platform.version":               "platform_version",
	"python_full_version":            "python_full_version",
	"python_version":                 "python_version",
	"sys_platform":                   "sys_platform",
	"sys.platform":                   "sys_platform",
}

// CPython returns the environment of a CPython interpreter with the given
// full version (such as "3.12.1") running on sysPlatform ("linux",
// "darwin", "win32") and machine ("x86_64", "arm64", "AMD64").
func CPython(fullVersion, sysPlatform, machine string) Environment {
	short := fullVersion
	if parts := strings.SplitN(fullVersion, ".", 3); len(parts) >= 2 {
		short = parts[0] + "." + parts[1]
	}
	osName, system := "posix", ""
	switch sysPlatform {
	case "linux":
		system = "Linux"
	case "darwin":
		system = "Darwin"
	case "win32", "cygwin":
		osName, system = "nt", "Windows"
	}
	return Environment{
		"implementation_name":            "cpython",
		"implementation_version":         fullVersion,
		"os_name":                        osName,
		"platform_machine":               machine,
		"platform_python_implementation": "CPython",
		"platform_release":               "",
		"platform_system":                system,
		"platform_version":               "",
		"python_full_version":            fullVersion,
		"python_version":                 short,
		"sys_platform":                   sysPlatform,
	}
}

// With returns a copy of env with the given values set. Keys that are not
// marker variables are ignored.
func (env Environment) With(values map[string]string) Environment {
	out := maps.Clone(env)
	if out == nil {
		out = Environment{}
	}
	for k, v := range values {
		if name, ok := variableNames[k]; ok && name != "extra" {
			out[name] = v
		}
	}
	return out
}

// PythonVersion returns the python_full_version of env, or python_version
// when the full version is unset.
func (env Environment) PythonVersion() string {
	if v := env["python_full_version"]; v != "" {
		return v
	}
	return env["python_version"]
}

// Keys returns the variables set in env, sorted.
func (env Environment) Keys() []string {
	return slices.Sorted(maps.Keys(env))
}

var extraSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeExtra normalizes an extra name for comparison: lower case, with
// runs of "-", "_" and "." replaced by a single "-".
func NormalizeExtra(name string) string {
	return extraSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}
