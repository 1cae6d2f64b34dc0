// Copyright 2020-2026 The clumpvm Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbg provides delayed-formatting helpers and debug-build-only
// assertions and trace logging shared by every allocator component.
//
// The heavy lifting (whether logging/assertions actually do anything) is
// split across dbg_debug.go and dbg_release.go by the "debug" build tag, so
// that a release build pays nothing for any of this.
package dbg

import "fmt"

// Formatter is a fmt.Formatter implementation that just calls a function.
// Useful for deferring the cost of building a diagnostic string until (and
// unless) it is actually printed.
type Formatter func(s fmt.State)

// Format implements [fmt.Formatter].
func (f Formatter) Format(s fmt.State, verb rune) {
	if verb != 'v' {
		fmt.Fprintf(s, "%%%c(%T)", verb, f)
		return
	}
	f(s)
}

func (f Formatter) String() string { return fmt.Sprint(f) }

// Fprintf returns a value whose printing is delayed until it is formatted
// with %v.
func Fprintf(format string, args ...any) Formatter {
	return Formatter(func(s fmt.State) { fmt.Fprintf(s, format, args...) })
}
