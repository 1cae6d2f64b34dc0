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

	"github.com/tiendc/go-deepcopy"

	"github.com/cryptborne/clumpvm/internal/clump"
	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/splay"
)

// SizeOf reads the declared payload size of the live object at p.
func (a *Arena) SizeOf(p unsafe.Pointer) uintptr { return uintptr(header.SizeOf(p)) }

// TypeOf reads the type descriptor of the live object at p.
func (a *Arena) TypeOf(p unsafe.Pointer) *TypeDescriptor { return header.TypeOf(p) }

// SetType overwrites the type descriptor of the object at p, used when a
// generically allocated block is retyped after the fact.
func (a *Arena) SetType(p unsafe.Pointer, t *TypeDescriptor) { header.SetType(p, t) }

// ComputeFreeObjects sums every freelist's rounded sizes plus
// lost.objects, the "how much is reclaimable-but-not-yet-reclaimed" half
// of the accounting identity.
func (a *Arena) ComputeFreeObjects() uintptr {
	return a.bank.ComputeFreeObjects() + uintptr(a.lost.Objects)
}

// Status returns an independent snapshot of the arena's byte accounting:
// closes the current clump (a no-op hook in this implementation), walks
// every clump summing free bump space and inner-clump bytes, and adds the
// freelist bank's totals.
//
// The returned Status is deep-copied so a caller mutating it cannot
// reach back into the arena's live counters.
func (a *Arena) Status() Status {
	a.assertOwner()
	a.CloseClump()

	var freeBump, innerBytes int64
	if a.tree.Root != nil {
		splay.Apply(a.tree.Root, func(n splay.Node) splay.AppResult {
			c := n.(*clump.Clump)
			freeBump += int64(c.ObjectFree())
			if c.Outer != nil {
				innerBytes += int64(c.Size())
			}
			return splay.AppContinue
		})
	}

	freelistBytes := int64(a.bank.ComputeFreeObjects())
	lost := a.lost.Objects + a.lost.Strings

	live := Status{
		Allocated: a.allocated + a.previousStatus.Allocated,
		Used:      a.allocated + innerBytes - (freeBump + freelistBytes + lost) + a.previousStatus.Used,
	}

	var out Status
	if err := deepcopy.Copy(&out, &live); err != nil {
		// deepcopy.Copy can only fail on un-copyable field types; Status
		// holds only int64s, so this is unreachable in practice.
		return live
	}
	return out
}

// LostBytes returns the current lost-byte counters.
func (a *Arena) LostBytes() Lost { return a.lost }

// AllocatedBytes returns the raw bytes currently held from the byte
// allocator this session (released clumps are subtracted), before folding
// in previousStatus.
func (a *Arena) AllocatedBytes() int64 { return a.allocated }

// CurrentClump exposes the clump new allocations are tried against
// first, mainly for tests and debug dumps.
func (a *Arena) CurrentClump() *clump.Clump { return a.cc }

// Root exposes the splay tree root, mainly for tests and debug dumps.
func (a *Arena) Root() *clump.Clump {
	if a.tree.Root == nil {
		return nil
	}
	return a.tree.Root.(*clump.Clump)
}
