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
	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/splay"
)

// ConsolidateFree runs the per-clump consolidator (see
// internal/clump.Clump.ConsolidateFree) over every clump in the tree. Any
// clump left wholly empty is freed, unless the arena is controlled. If
// the current clump was freed this way, it is reset to the tree root.
func (a *Arena) ConsolidateFree() {
	a.assertOwner()
	if a.tree.Root == nil {
		return
	}

	wasCC := a.cc
	ccFreed := false

	splay.Apply(a.tree.Root, func(n splay.Node) splay.AppResult {
		c := n.(*clump.Clump)
		a.consolidateClump(c)
		if c.Empty() && !a.isControlled {
			if c == wasCC {
				ccFreed = true
			}
			a.freeClump(c)
		}
		return splay.AppContinue
	})

	if ccFreed || a.cc == nil {
		a.resetCurrentClump()
	}
}

// scavengeLowFree implements §4.F's scavenge pass: a depth-first search
// over every clump for the first contiguous run of FREE objects whose
// accumulated size can satisfy reqSize (already rounded), stopping at
// the first success.
func (a *Arena) scavengeLowFree(reqSize, declaredSize uintptr, t *header.TypeDescriptor) unsafe.Pointer {
	if a.tree.Root == nil {
		return nil
	}

	var result unsafe.Pointer
	splay.Apply(a.tree.Root, func(n splay.Node) splay.AppResult {
		c := n.(*clump.Clump)
		if c.Alone {
			return splay.AppContinue
		}
		if p := a.scavengeClump(c, reqSize, declaredSize, t); p != nil {
			result = p
			return splay.AppStop
		}
		return splay.AppContinue
	})
	return result
}

// scavengeClump looks for the first run of FREE objects in c whose total
// size (including each run member's own header) is at least
// reqSize+header.SizeU, then collapses it into a single object: removed
// from its freelists, stamped as one FREE slot spanning the run, trimmed
// down to exactly reqSize with the tail returned to a freelist.
func (a *Arena) scavengeClump(c *clump.Clump, reqSize, declaredSize uintptr, t *header.TypeDescriptor) unsafe.Pointer {
	var (
		runStart, runSize     uintptr
		inRun                 bool
		found                 bool
		foundStart, foundEnd  uintptr
	)

	c.Walk(func(pos uintptr, h *header.Header) {
		if found {
			return
		}
		size := header.SizeU + c.Round(uintptr(h.Size()))
		if h.IsFree() {
			if !inRun {
				runStart, runSize = pos, 0
				inRun = true
			}
			runSize += size
			if runSize >= reqSize+header.SizeU {
				found = true
				foundStart, foundEnd = runStart, pos+size
			}
		} else {
			inRun = false
		}
	})

	if !found {
		return nil
	}

	var hs []*header.Header
	c.Walk(func(pos uintptr, h *header.Header) {
		if pos >= foundStart && pos < foundEnd {
			hs = append(hs, h)
		}
	})
	a.bank.RemoveRange(hs)

	slotSize := (foundEnd - foundStart) - header.SizeU
	h := header.Of(payloadAt(foundStart))
	header.Init(h, 0, header.Free)
	h.SetSize(int(slotSize))

	payload := header.Payload(h)
	header.Init(h, int(declaredSize), t)
	a.trimExcess(payload, slotSize, reqSize)

	return payload
}
