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

//go:build !debug

package dbg

// Enabled is false in release builds: Assert and Log compile down to
// nothing and the allocator pays zero overhead for its debug/trace surface.
const Enabled = false

// Log is a no-op in release builds.
func Log([]any, string, string, ...any) {}

// Assert is a no-op in release builds: the condition isn't even evaluated
// by callers that guard the call with `if dbg.Enabled`, which is the
// convention used throughout this module.
func Assert(bool, string, ...any) {}

// Value is zero-sized in release builds.
type Value[T any] struct{}

// Get panics: debug-only storage has no backing value outside debug builds.
func (v *Value[T]) Get() *T {
	panic("clumpvm: dbg.Value accessed outside a debug build")
}
