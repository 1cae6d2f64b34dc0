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

//go:build debug

package dbg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/timandy/routine"
)

// Enabled is true when the binary is built with the "debug" tag, which
// turns on internal assertions and the allocator's per-operation trace log
// (see §6 of the allocator's debug/trace surface).
const Enabled = true

var (
	filterPattern *regexp.Regexp
	nocapture     = flag.Bool("clumpvm.nocapture", false, "disables routing debug logs through the active test's logger")
)

func init() {
	flag.Func("clumpvm.filter", "regexp to filter debug logs by", func(s string) (err error) {
		filterPattern, err = regexp.Compile(s)
		return err
	})
}

// Log prints a single trace line for an allocator operation.
//
// context, if non-empty, is a printf-style (format, args...) pair rendered
// before the operation name, used to identify which arena/clump an
// operation concerns.
func Log(context []any, operation string, format string, args ...any) {
	skip := 2
	pc, file, line, _ := runtime.Caller(skip)
	fn := runtime.FuncForPC(pc)

	name := fn.Name()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	file = filepath.Base(file)

	buf := new(strings.Builder)
	fmt.Fprintf(buf, "%s:%d [g%04d", file, line, routine.Goid())
	if len(context) >= 1 {
		fmt.Fprintf(buf, ", "+context[0].(string), context[1:]...)
	}
	fmt.Fprintf(buf, "] %s: ", operation)
	fmt.Fprintf(buf, format, args...)

	if filterPattern != nil && !filterPattern.MatchString(buf.String()) {
		return
	}

	if t := activeTest.Load(); !*nocapture && t != nil {
		t.Log(buf.String())
		return
	}

	buf.WriteByte('\n')
	_, _ = os.Stderr.WriteString(buf.String())
}

// Assert panics if cond is false. Only present in debug builds; release
// builds compile Assert calls away entirely via the counterpart in
// dbg_release.go.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("clumpvm: internal assertion failed: "+format, args...))
	}
}

// Value is storage that exists only in debug builds, such as poison bytes
// or extra bookkeeping used purely to catch misuse.
type Value[T any] struct{ x T }

// Get returns a pointer to the debug-only value.
func (v *Value[T]) Get() *T { return &v.x }
