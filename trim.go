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
	"github.com/cryptborne/clumpvm/internal/xunsafe"
)

// trimExcess implements the "otherwise" branch of §4.F's trim: the tail
// left over after shrinking a not-alone object from oldRounded to
// newRounded bytes is turned into a FREE header and pushed onto a
// freelist if it can hold a full header plus at least one alignment
// quantum of payload, or surrendered to lost.objects otherwise.
func (a *Arena) trimExcess(payload unsafe.Pointer, oldRounded, newRounded uintptr) {
	excess := oldRounded - newRounded
	if excess == 0 {
		return
	}
	// The tail must hold a full header plus at least a pointer-word
	// payload, or there is nowhere to carve a FREE slot without
	// clobbering whatever follows it.
	if excess < header.SizeU+a.cfg.objAlign {
		a.lost.Objects += int64(excess)
		return
	}

	tailHeaderAddr := xunsafe.ByteAdd((*byte)(payload), newRounded)
	tailPayloadAddr := xunsafe.ByteAdd(tailHeaderAddr, header.SizeU)
	h := header.Of(unsafe.Pointer(tailPayloadAddr))
	tailSize := excess - header.SizeU
	header.Init(h, int(tailSize), header.Free)
	a.bank.Push(h, tailSize)
}

// trimObj implements §4.F's trim(obj, size, clump?) in full: shrink a
// live object's declared size, reclaiming the tail either by lowering the
// owning clump's bump pointer (alone objects) or by pushing a new FREE
// header onto a freelist / accounting it as lost (ordinary objects).
// owner may be nil, in which case it is located by walking the clump
// index; callers that already know the owning clump should pass it to
// avoid the lookup.
func (a *Arena) trimObj(h *header.Header, payload unsafe.Pointer, newSize uintptr, owner *clump.Clump) {
	oldRounded := a.round(uintptr(h.Size()))
	newRounded := a.round(newSize)
	h.SetSize(int(newSize))

	if oldRounded == newRounded {
		return
	}

	if h.Alone() {
		c := owner
		if c == nil {
			c = a.locateClump(uintptr(payload))
		}
		if c != nil {
			c.LowerBot(uintptr(payload) + newRounded)
		}
		return
	}

	a.trimExcess(payload, oldRounded, newRounded)
}

// locateClump finds the clump containing ptr, splaying it to the root —
// the engine-facing counterpart of the public LocatePtr entry point.
func (a *Arena) locateClump(ptr uintptr) *clump.Clump {
	n, ok := a.tree.Locate(ptr)
	if !ok {
		return nil
	}
	return n.(*clump.Clump)
}
