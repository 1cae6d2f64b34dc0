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

package dbg

import "sync/atomic"

// TestLogger is satisfied by *testing.T/*testing.B. Debug builds route
// trace output through it when set, so `go test -v` captures allocator
// traces alongside the test that produced them.
type TestLogger interface {
	Log(args ...any)
}

var activeTest atomic.Pointer[TestLogger]

// SetTestLogger directs subsequent debug trace lines to t.Log instead of
// stderr, until the returned function is called.
func SetTestLogger(t TestLogger) (unset func()) {
	activeTest.Store(&t)
	return func() { activeTest.Store(nil) }
}
