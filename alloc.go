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
	"math/bits"
	"unsafe"

	"github.com/cryptborne/clumpvm/internal/clump"
	"github.com/cryptborne/clumpvm/internal/dbg"
	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/xunsafe"
)

// bytesType is the type descriptor stamped on untyped byte-block
// allocations; it carries no finalizer or pointer-enumeration callback
// because raw bytes contain no traced references.
var bytesType = &header.TypeDescriptor{SName: "bytes"}

// clumpHeadOverhead is the nominal administrative overhead charged
// against Arena.allocated for every clump acquired, mirroring the
// "header struct size" component of the original's clump-acquisition
// byte accounting even though this port keeps the Clump struct itself on
// the Go heap rather than inside the backing buffer.
const clumpHeadOverhead = 64

// round rounds n up to ObjAlign with a floor of one pointer word, exactly
// like clump.Clump.Round, for use before a clump exists to ask.
func (a *Arena) round(n uintptr) uintptr {
	r := (n + a.cfg.objAlign - 1) &^ (a.cfg.objAlign - 1)
	if r < uintptr(xunsafe.PointerSize) {
		r = uintptr(xunsafe.PointerSize)
	}
	return r
}

func payloadAt(pos uintptr) unsafe.Pointer {
	return unsafe.Pointer(xunsafe.ByteAdd((*byte)(unsafe.Pointer(pos)), header.SizeU))
}

// acquireClump implements §4.F's clump acquisition: check GC pressure,
// allocate the backing buffer, initialize and splay-insert it, and
// update the allocated counter.
func (a *Arena) acquireClump(size uintptr, hasStrings bool) (*clump.Clump, error) {
	if a.gc.SignalValue != 0 && a.allocated >= a.limit {
		if a.limit >= a.gc.MaxVM {
			return nil, newErr(errOutOfMemory)
		}
		a.gc.Requested += int64(size)
		a.gc.SignalValue++ // raise the GC signal; see GcSignalPending.
	}

	buf, err := a.cfg.byteAllocator.Alloc(int(size))
	if err != nil {
		a.gc.Requested += int64(size)
		return nil, wrapErr(errOutOfMemory, err)
	}

	c := clump.New(buf, a.cfg.objAlign, hasStrings, nil)
	a.tree.Insert(c)
	a.allocated += int64(size) + clumpHeadOverhead

	if dbg.Enabled {
		dbg.Log([]any{"arena=%s", a.id.String()}, "acquireClump", "size=%d hasStrings=%t", size, hasStrings)
	}

	return c, nil
}

// freeClump implements §4.F's clump freeing: unlink from the tree,
// decrement allocated, and release the backing buffer unless it is
// borrowed from an outer clump.
func (a *Arena) freeClump(c *clump.Clump) {
	a.tree.Remove(c)
	a.allocated -= int64(c.Size()) + clumpHeadOverhead

	if c.Outer == nil {
		a.cfg.byteAllocator.Free(c.Bytes())
	} else {
		c.Outer.InnerCount--
	}

	if a.cc == c {
		a.cc = nil
	}
}

// consolidateClump runs one clump's per-clump consolidation pass,
// bridging clump.Clump.ConsolidateFree's bottom/top callback to the
// freelist bank by re-walking the clump's object area to collect the
// exact headers in range.
func (a *Arena) consolidateClump(c *clump.Clump) {
	c.ConsolidateFree(func(bottom, top uintptr) {
		var hs []*header.Header
		c.Walk(func(pos uintptr, h *header.Header) {
			if pos >= bottom && pos < top {
				hs = append(hs, h)
			}
		})
		a.bank.RemoveRange(hs)
	})
}

// GcSignalPending reports whether GC pressure has been raised since the
// last call to ClearGcSignal; the embedding interpreter polls this at its
// own safe points.
func (a *Arena) GcSignalPending() bool { return a.gc.SignalValue > 1 }

// ClearGcSignal resets the pending-signal flag after the interpreter has
// observed it and (presumably) run a collection.
func (a *Arena) ClearGcSignal() {
	if a.gc.SignalValue > 1 {
		a.gc.SignalValue = 1
	}
}

// fastAlloc attempts the three-step movable fast path: small freelist,
// large freelist (with excess trimmed back to a freelist), then LIFO bump
// in the current clump. It returns a payload pointer with no header
// initialized yet — the caller stamps size/type.
func (a *Arena) fastAlloc(rounded uintptr) unsafe.Pointer {
	if rounded <= a.cfg.maxFreelistSize {
		if h, ok := a.bank.PopSmall(rounded); ok {
			return header.Payload(h)
		}
	} else if h, sz, ok := a.bank.BestFit(rounded); ok {
		payload := header.Payload(h)
		if sz > rounded {
			a.trimExcess(payload, sz, rounded)
		}
		return payload
	}

	if a.cc != nil && !a.cc.Alone {
		total := header.SizeU + rounded
		if a.cc.CanBumpObject(total) && rounded < a.largeSize {
			pos := a.cc.BumpObject(total)
			return payloadAt(pos)
		}
	}

	return nil
}

// allocSlow implements §4.F's slow path: alone-clump placement for
// oversized/immovable requests, otherwise a forward splay-tree walk from
// the current clump, consolidating as it goes under a controlled arena,
// falling back to adding a clump (uncontrolled) or scavenging
// (controlled).
func (a *Arena) allocSlow(size, rounded uintptr, t *header.TypeDescriptor, forceAlone bool) unsafe.Pointer {
	if forceAlone || rounded >= a.largeSize {
		return a.allocSoloClump(size, t)
	}

	if a.cc != nil {
		w, drop := a.walkers.Get()
		first := a.tree.WalkInitMidInto(w, a.cc)
		for cur := first; cur != nil; cur = w.Next() {
			c := cur.(*clump.Clump)
			if c.Alone {
				continue
			}
			if a.isControlled {
				a.consolidateClump(c)
			}
			total := header.SizeU + rounded
			if c.CanBumpObject(total) {
				pos := c.BumpObject(total)
				payload := payloadAt(pos)
				header.Init(header.Of(payload), int(size), t)
				a.cc = c
				drop()
				return payload
			}
		}
		drop()
	}

	if a.cfg.consolidateBeforeAddingClump {
		a.ConsolidateFree()
	}

	if !a.isControlled {
		c, err := a.acquireClump(a.cfg.clumpSize, a.cfg.hasStrings)
		if err != nil {
			a.recordErr(err)
			return nil
		}
		a.cc = c
		total := header.SizeU + rounded
		if !c.CanBumpObject(total) {
			return nil
		}
		pos := c.BumpObject(total)
		payload := payloadAt(pos)
		header.Init(header.Of(payload), int(size), t)
		return payload
	}

	return a.scavengeLowFree(rounded, size, t)
}

// allocSoloClump places an oversized or immovable object in a clump of
// its own, marked Alone so no further allocation ever lands there.
func (a *Arena) allocSoloClump(size uintptr, t *header.TypeDescriptor) unsafe.Pointer {
	if a.isControlled {
		a.recordErr(newErr(errOutOfMemory))
		return nil
	}
	rounded := a.round(size)
	total := header.SizeU + rounded

	c, err := a.acquireClump(total, false)
	if err != nil {
		a.recordErr(err)
		return nil
	}
	c.Alone = true

	pos := c.BumpObject(total)
	payload := payloadAt(pos)
	h := header.Of(payload)
	header.Init(h, int(size), t)
	h.SetAlone(true)
	a.cc = c
	return payload
}

// allocObj is the shared entry point behind every typed/untyped
// allocation call: it tries the fast path unless the request must be
// alone, then falls through to the slow path.
func (a *Arena) allocObj(size uintptr, t *header.TypeDescriptor, forceAlone bool, client string) unsafe.Pointer {
	a.assertOwner()

	rounded := a.round(size)

	var payload unsafe.Pointer
	if !forceAlone {
		if payload = a.fastAlloc(rounded); payload != nil {
			header.Init(header.Of(payload), int(size), t)
		}
	}
	if payload == nil {
		payload = a.allocSlow(size, rounded, t, forceAlone)
	}

	if dbg.Enabled {
		dbg.Log([]any{"arena=%s", a.id.String()}, client, "alloc(%d) -> %p", size, payload)
	}

	return payload
}

// immovableForcesAlone reports whether an "immovable" request should
// actually force its own clump: true unless the arena is controlled, in
// which case immovable allocation is aliased to its movable equivalent
// (a controlled arena never compacts, so movable and immovable coincide).
func (a *Arena) immovableForcesAlone() bool { return !a.isControlled }

// AllocBytes allocates an untyped, movable block of n bytes.
func (a *Arena) AllocBytes(n uintptr, client string) unsafe.Pointer {
	return a.allocObj(n, bytesType, false, client)
}

// AllocBytesImmovable allocates an untyped block of n bytes in its own
// clump (unless the arena is controlled).
func (a *Arena) AllocBytesImmovable(n uintptr, client string) unsafe.Pointer {
	return a.allocObj(n, bytesType, a.immovableForcesAlone(), client)
}

// AllocStruct allocates a movable instance of t.
func (a *Arena) AllocStruct(t *TypeDescriptor, client string) unsafe.Pointer {
	return a.allocObj(uintptr(t.SSize), t, false, client)
}

// AllocStructImmovable allocates an instance of t in its own clump
// (unless the arena is controlled).
func (a *Arena) AllocStructImmovable(t *TypeDescriptor, client string) unsafe.Pointer {
	return a.allocObj(uintptr(t.SSize), t, a.immovableForcesAlone(), client)
}

// overflowingMul reports whether n*e overflows uintptr.
func overflowingMul(n, e uintptr) (uintptr, bool) {
	hi, lo := bits.Mul64(uint64(n), uint64(e))
	if hi != 0 || lo > uint64(^uintptr(0)) {
		return 0, true
	}
	return uintptr(lo), false
}

// AllocByteArray allocates n*e untyped, movable bytes, failing (returning
// nil without touching arena state) if n*e overflows.
func (a *Arena) AllocByteArray(n, e uintptr, client string) unsafe.Pointer {
	size, overflow := overflowingMul(n, e)
	if overflow {
		a.recordErr(newErr(errOverflow))
		return nil
	}
	return a.allocObj(size, bytesType, false, client)
}

// AllocByteArrayImmovable is AllocByteArray placed in its own clump
// (unless the arena is controlled).
func (a *Arena) AllocByteArrayImmovable(n, e uintptr, client string) unsafe.Pointer {
	size, overflow := overflowingMul(n, e)
	if overflow {
		a.recordErr(newErr(errOverflow))
		return nil
	}
	return a.allocObj(size, bytesType, a.immovableForcesAlone(), client)
}

// AllocStructArray allocates n movable instances of t contiguously.
func (a *Arena) AllocStructArray(n uintptr, t *TypeDescriptor, client string) unsafe.Pointer {
	size, overflow := overflowingMul(n, uintptr(t.SSize))
	if overflow {
		a.recordErr(newErr(errOverflow))
		return nil
	}
	return a.allocObj(size, t, false, client)
}

// AllocStructArrayImmovable is AllocStructArray placed in its own clump
// (unless the arena is controlled).
func (a *Arena) AllocStructArrayImmovable(n uintptr, t *TypeDescriptor, client string) unsafe.Pointer {
	size, overflow := overflowingMul(n, uintptr(t.SSize))
	if overflow {
		a.recordErr(newErr(errOverflow))
		return nil
	}
	return a.allocObj(size, t, a.immovableForcesAlone(), client)
}

// AllocString allocates n raw bytes from the current clump's string
// area, movable (i.e. the clump holding it may still accept new objects).
func (a *Arena) AllocString(n uintptr, client string) unsafe.Pointer {
	return a.allocString(n, client)
}

// AllocStringImmovable is identical to AllocString: strings have no
// header to retype and are never relocated independently of their clump,
// so movable/immovable is not a meaningful distinction for them. The
// entry point is preserved for API parity with the object allocators.
func (a *Arena) AllocStringImmovable(n uintptr, client string) unsafe.Pointer {
	return a.allocString(n, client)
}

func (a *Arena) allocString(n uintptr, client string) unsafe.Pointer {
	a.assertOwner()

	if a.cc != nil && a.cc.ObjectFree() >= n {
		addr := a.cc.AllocString(n)
		p := unsafe.Pointer(addr)
		if dbg.Enabled {
			dbg.Log([]any{"arena=%s", a.id.String()}, client, "allocString(%d) -> %p", n, p)
		}
		return p
	}

	if a.cc != nil {
		w, drop := a.walkers.Get()
		first := a.tree.WalkInitMidInto(w, a.cc)
		for cur := first; cur != nil; cur = w.Next() {
			c := cur.(*clump.Clump)
			if c.Alone || c.ObjectFree() < n {
				continue
			}
			a.cc = c
			addr := c.AllocString(n)
			drop()
			return unsafe.Pointer(addr)
		}
		drop()
	}

	if a.isControlled {
		return nil
	}

	c, err := a.acquireClump(a.cfg.clumpSize, true)
	if err != nil {
		a.recordErr(err)
		return nil
	}
	a.cc = c
	if c.ObjectFree() < n {
		return nil
	}
	addr := c.AllocString(n)
	return unsafe.Pointer(addr)
}
