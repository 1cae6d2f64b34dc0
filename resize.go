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

import (
	"unsafe"

	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/xunsafe"
)

// ResizeObject grows or shrinks the object at p to newN bytes, in place
// whenever possible: no-op if the rounded size is unchanged, a bare bump
// move if p is the most recent allocation in the current clump, a trim
// (pushing the freed tail to a freelist) if shrinking elsewhere, and
// otherwise a fresh allocation, copy, and free of the original.
func (a *Arena) ResizeObject(p unsafe.Pointer, newN uintptr, client string) unsafe.Pointer {
	if p == nil {
		return a.AllocBytes(newN, client)
	}
	a.assertOwner()

	h := header.Of(p)
	oldSize := uintptr(h.Size())
	oldRounded := a.round(oldSize)
	newRounded := a.round(newN)
	addr := uintptr(p)

	if oldRounded == newRounded {
		h.SetSize(int(newN))
		return p
	}

	if a.cc != nil && addr+oldRounded == a.cc.Bot {
		grow := newRounded > oldRounded
		if !grow || a.cc.ObjectFree() >= newRounded-oldRounded {
			a.cc.LowerBot(addr + newRounded)
			h.SetSize(int(newN))
			return p
		}
	}

	if newRounded < oldRounded {
		a.trimObj(h, p, newN, nil)
		return p
	}

	fresh := a.allocObj(newN, h.Type, false, client)
	if fresh == nil {
		return nil
	}
	copyN := oldSize
	if newN < copyN {
		copyN = newN
	}
	xunsafe.Copy((*byte)(fresh), (*byte)(p), copyN)
	a.FreeObject(p)
	return fresh
}

// ResizeString grows or shrinks the string at p from oldN to newN bytes.
// It only succeeds if p is the bottom-most string in its clump (the
// general contract of the string area: only the most recently allocated
// string can move its boundary), returning the new pointer on success or
// nil if p was not eligible or there was no room to grow.
func (a *Arena) ResizeString(p unsafe.Pointer, oldN, newN uintptr) unsafe.Pointer {
	a.assertOwner()

	c := a.locateClump(uintptr(p))
	if c == nil {
		return nil
	}
	if !c.ResizeStringInPlace(uintptr(p), oldN, newN) {
		return nil
	}
	return unsafe.Pointer(c.Top)
}
