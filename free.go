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

	"github.com/cryptborne/clumpvm/internal/clump"
	"github.com/cryptborne/clumpvm/internal/dbg"
	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/splay"
	"github.com/cryptborne/clumpvm/internal/xunsafe"
)

// FreeObject reclaims an object previously returned by one of the
// allocation entry points. It is a no-op if p is nil or if freeing is
// currently disabled (see EnableFree).
func (a *Arena) FreeObject(p unsafe.Pointer) {
	if p == nil {
		return
	}
	a.assertOwner()
	if !a.freeEnabled {
		return
	}

	h := header.Of(p)
	if dbg.Enabled && h.IsFree() {
		dbg.Log([]any{"arena=%s", a.id.String()}, "FreeObject", "double free at %p, suppressed", p)
		return
	}

	if h.Type != nil && h.Type.Finalize != nil {
		h.Type.Finalize(p)
	}

	// An object allocated at a save level no longer on the save stack may
	// not be overwritten; it is surrendered as lost instead of reclaimed.
	if a.cfg.saveObserver.ObjectSaveLevel(p) < a.cfg.saveObserver.SaveLevel() {
		a.lost.Objects += int64(a.round(uintptr(h.Size())))
		h.Type = header.Free
		return
	}

	rounded := a.round(uintptr(h.Size()))
	addr := uintptr(p)

	if a.cc != nil && addr+rounded == a.cc.Bot {
		h.Type = header.Free
		a.cc.LowerBot(addr - header.SizeU)
		if addr <= a.cc.IntFreedTop {
			a.consolidateClump(a.cc)
		}
		return
	}

	if h.Alone() {
		c := a.locateClump(addr)
		h.Type = header.Free
		if c != nil && !a.isControlled {
			a.freeClump(c)
			if a.cc == nil {
				a.resetCurrentClump()
			}
		}
		return
	}

	if rounded >= uintptr(xunsafe.PointerSize) {
		h.Type = header.Free
		h.SetSize(int(rounded))
		a.bank.Push(h, rounded)
		if c := a.locateClump(addr); c != nil && addr > c.IntFreedTop {
			c.IntFreedTop = addr
		}
		return
	}

	h.Type = header.Free
	a.lost.Objects += int64(rounded)
}

// FreeString reclaims n bytes at p previously returned by AllocString: if
// p is the bottom-most string in its clump, Top is raised to reclaim the
// space; otherwise the bytes are surrendered to lost.strings.
func (a *Arena) FreeString(p unsafe.Pointer, n uintptr) {
	if p == nil || !a.freeEnabled {
		return
	}
	a.assertOwner()

	c := a.locateClump(uintptr(p))
	if c == nil {
		return
	}
	if !c.FreeString(uintptr(p), n) {
		a.lost.Strings += int64(n)
	}
}

// LocatePtr finds the clump containing p, splaying it to the root, and
// reports whether one was found.
func (a *Arena) LocatePtr(p unsafe.Pointer) bool {
	a.assertOwner()
	_, ok := a.tree.Locate(uintptr(p))
	return ok
}

// IsWithinClumps reports whether p falls inside any clump this arena
// owns.
func (a *Arena) IsWithinClumps(p unsafe.Pointer) bool { return a.LocatePtr(p) }

// resetCurrentClump re-establishes a.cc after the current clump was
// freed out from under it, matching consolidateFree's "cc = root when
// the previous cc was freed" rule.
func (a *Arena) resetCurrentClump() {
	if a.tree.Root == nil {
		return
	}
	a.cc = a.tree.Root.(*clump.Clump)
}

// LinkClump inserts an externally constructed clump into the index, for
// collaborators (the GC, save/restore) that build clumps outside the
// normal acquisition path.
func (a *Arena) LinkClump(c *clump.Clump) { a.tree.Insert(c) }

// UnlinkClump removes c from the index without releasing its backing
// buffer.
func (a *Arena) UnlinkClump(c *clump.Clump) { a.tree.Remove(c) }

// FreeClumpExternal removes and fully releases c, for collaborators that
// need to drop a clump outside the normal free path.
func (a *Arena) FreeClumpExternal(c *clump.Clump) { a.freeClump(c) }

// CloseClump and OpenClump are hooks preserved for tracing parity with
// the original interface; neither requires an observable state change in
// this implementation.
func (a *Arena) CloseClump() {}
func (a *Arena) OpenClump()  {}

// Free tears down the arena: it walks the clump index freeing every
// clump's backing buffer and detaches the arena from all of them. The
// original frees every clump except the one the allocator struct itself
// was carved from, then optionally frees that last clump too; this port
// never carves the Arena value out of one of its own clumps (it is an
// ordinary Go heap value managed by the garbage collector like any
// other), so there is no such clump to hold back — every clump is
// released here unconditionally. Free uses splay.Apply rather than a
// pooled Walker because freeClump unlinks the node it is called with,
// and Apply alone is specified to tolerate that.
//
// The Arena must not be used again after Free returns.
func (a *Arena) Free() {
	a.assertOwner()
	if a.tree.Root == nil {
		return
	}

	splay.Apply(a.tree.Root, func(n splay.Node) splay.AppResult {
		a.freeClump(n.(*clump.Clump))
		return splay.AppContinue
	})
}
