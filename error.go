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

package clumpvm

import "errors"

// errCode classifies why an internal allocation helper failed, mirroring
// the error taxonomy an embedding interpreter needs to distinguish even
// though every public entry point still just returns nil on failure.
type errCode int

const (
	errNone errCode = iota
	errOutOfMemory
	errOverflow
	errSizeSanity
	errOwnership
	errDoubleFree
	errGcPressure
)

var errs = [...]error{
	errNone:        nil,
	errOutOfMemory: errors.New("clumpvm: out of memory"),
	errOverflow:    errors.New("clumpvm: size overflow"),
	errSizeSanity:  errors.New("clumpvm: type descriptor has an insane size"),
	errOwnership:   errors.New("clumpvm: pointer does not belong to this arena"),
	errDoubleFree:  errors.New("clumpvm: double free"),
	errGcPressure:  errors.New("clumpvm: allocation limit reached, gc signalled"),
}

// errAlloc is the concrete error type recorded on an Arena whenever an
// internal helper fails; retrievable via Arena.LastError for diagnostics,
// even though the allocation entry point that triggered it only returns
// nil to its caller.
type errAlloc struct {
	code  errCode
	cause error
}

func newErr(code errCode) *errAlloc { return &errAlloc{code: code} }

func wrapErr(code errCode, cause error) *errAlloc { return &errAlloc{code: code, cause: cause} }

func (e *errAlloc) Error() string {
	if e.cause != nil {
		return errs[e.code].Error() + ": " + e.cause.Error()
	}
	return errs[e.code].Error()
}

func (e *errAlloc) Unwrap() error { return e.cause }

// Is lets callers match against the package-level sentinels below via
// errors.Is, e.g. errors.Is(arena.LastError(), clumpvm.ErrOutOfMemory).
func (e *errAlloc) Is(target error) bool { return errs[e.code] == target }

// Sentinel errors exported for errors.Is comparisons.
var (
	ErrOutOfMemory = errs[errOutOfMemory]
	ErrOverflow    = errs[errOverflow]
	ErrSizeSanity  = errs[errSizeSanity]
	ErrOwnership   = errs[errOwnership]
	ErrDoubleFree  = errs[errDoubleFree]
	ErrGcPressure  = errs[errGcPressure]
)
