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

// Package clump implements one contiguous backing region owned by an
// arena: an upward-growing object area meeting a downward-growing string
// area in the middle, plus the GC side-tables that describe the string
// area to an external collector.
//
// A Clump is also a node of the clump index (see internal/splay): it
// embeds the tree links directly rather than being boxed inside a
// separate node type, the same way the allocator this package is modeled
// on embeds its rb/splay links straight into the clump header struct.
package clump

import (
	"unsafe"

	"github.com/google/uuid"

	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/splay"
	"github.com/cryptborne/clumpvm/internal/xunsafe"
)

// Side-table sizing constants (§6 of the on-heap layout: "quanta(cend -
// cbase) * (markBytesPerQuantum + relocEntrySize) where quantum = 16").
const (
	Quantum            = 16
	MarkBytesPerQuantum = 1
	RelocEntrySize      = 4
)

// Clump is one contiguous memory region with an object area (growing up
// from Base) and a string area (growing down from Limit), GC side-tables,
// and the splay-tree links that place it in its arena's clump index.
type Clump struct {
	links splay.Links

	// ID is a stable debug-correlation identifier; see the domain-stack
	// dependency table for why uuid is wired in here.
	ID uuid.UUID

	buf []byte

	// ObjAlign is the alignment quantum objects in this clump are rounded
	// to; copied from the owning arena at construction so that this
	// package never needs a back-reference to its arena.
	ObjAlign uintptr

	Base  uintptr // First byte of the object area.
	Bot   uintptr // Bump pointer for objects; grows toward Top.
	Top   uintptr // Bump pointer for strings; grows toward Bot.
	Limit uintptr // Upper bound of the string area.
	End   uintptr // One past the last byte of the backing buffer.

	// IntFreedTop is the highest address below Bot that currently holds a
	// freed object, used to short-circuit consolidation when nothing
	// internal is reclaimable.
	IntFreedTop uintptr

	// Alone marks a clump holding a single oversized object; no further
	// allocation is permitted here.
	Alone bool

	// Outer/InnerCount implement save/restore's no-copy sub-clump
	// borrowing: an inner clump carves its region out of an outer one
	// without owning the backing bytes.
	Outer      *Clump
	InnerCount int

	// HasRefs is GC bookkeeping, set and read only by the collector.
	HasRefs bool

	sideTable []byte
}

// Links implements splay.Node.
func (c *Clump) Links() *splay.Links { return &c.links }

// Low implements splay.Node: the ordering key is the base of the object
// area.
func (c *Clump) Low() uintptr { return c.Base }

// High implements splay.Node: a pointer p belongs to this clump iff
// Base <= p < End.
func (c *Clump) High() uintptr { return c.End }

// quanta rounds n up to a whole number of Quantum-byte units.
func quanta(n uintptr) uintptr { return (n + Quantum - 1) / Quantum }

// sideTableSize returns the number of bytes [Limit, End) must reserve to
// hold mark bits and relocation entries for a string area of the given
// total clump size.
func sideTableSize(clumpSize uintptr) uintptr {
	return quanta(clumpSize) * (MarkBytesPerQuantum + RelocEntrySize)
}

// New constructs a clump backed by buf. hasStrings reserves GC side-table
// space at the top of buf for the string area; outer, if non-nil, marks
// this as a borrowed inner clump.
func New(buf []byte, objAlign uintptr, hasStrings bool, outer *Clump) *Clump {
	base := uintptr(unsafe.Pointer(xunsafe.SliceData(buf)))
	end := base + uintptr(len(buf))

	c := &Clump{
		ID:       uuid.New(),
		buf:      buf,
		ObjAlign: objAlign,
		Base:     base,
		Bot:      base,
		End:      end,
		Outer:    outer,
	}

	if hasStrings {
		c.Limit = end - sideTableSize(end-base)
		n := end - c.Limit
		c.sideTable = buf[len(buf)-int(n):]
	} else {
		c.Limit = end
	}
	c.Top = c.Limit
	c.IntFreedTop = c.Base

	if outer != nil {
		outer.InnerCount++
	}

	return c
}

// Round rounds n up to a multiple of ObjAlign, with a floor of one word so
// every stored object is large enough to carry a freelist link.
func (c *Clump) Round(n uintptr) uintptr {
	r := (n + c.ObjAlign - 1) &^ (c.ObjAlign - 1)
	if r < uintptr(xunsafe.PointerSize) {
		r = uintptr(xunsafe.PointerSize)
	}
	return r
}

// Empty reports whether the clump holds no live objects and no live
// strings.
func (c *Clump) Empty() bool { return c.Bot == c.Base && c.Top == c.Limit }

// ObjectFree returns the number of bytes available between the two bump
// pointers for a new object or string.
func (c *Clump) ObjectFree() uintptr { return c.Top - c.Bot }

// CanBumpObject reports whether an object occupying totalSize bytes
// (header included) fits below Top without disturbing the string area.
func (c *Clump) CanBumpObject(totalSize uintptr) bool {
	return c.Top-c.Bot >= totalSize
}

// BumpObject advances Bot by totalSize and returns the address the object
// should be placed at. Callers must have checked CanBumpObject first.
func (c *Clump) BumpObject(totalSize uintptr) uintptr {
	p := c.Bot
	c.Bot += totalSize
	return p
}

// LowerBot moves Bot back down to addr, used when trimming the tail of an
// object that was the most recent bump allocation, or when consolidation
// reclaims a run of free objects abutting Bot.
func (c *Clump) LowerBot(addr uintptr) { c.Bot = addr }

// AllocString lowers Top by n and returns the new Top, the address of the
// string's first byte.
func (c *Clump) AllocString(n uintptr) uintptr {
	c.Top -= n
	return c.Top
}

// IsBottomString reports whether the string at [p, p+n) is the most
// recently allocated (lowest-address) string in this clump, i.e. the only
// one eligible for in-place free or resize.
func (c *Clump) IsBottomString(p uintptr) bool { return p == c.Top }

// FreeString raises Top by n if the string at p is the bottom-most one,
// reclaiming its space; otherwise it reports false and the caller must
// account the bytes as lost.
func (c *Clump) FreeString(p, n uintptr) bool {
	if !c.IsBottomString(p) {
		return false
	}
	c.Top += n
	return true
}

// ResizeStringInPlace grows or shrinks the bottom-most string in place.
// It reports false (doing nothing) if p is not the bottom-most string or
// if growing would collide with the object area.
func (c *Clump) ResizeStringInPlace(p, oldN, newN uintptr) bool {
	if !c.IsBottomString(p) {
		return false
	}
	newTop := c.Top + oldN - newN
	if newTop < c.Bot {
		return false
	}
	c.Top = newTop
	return true
}

// MarkTable and RelocTable expose the GC side-tables carved out of
// [Limit, End). The allocator never interprets their contents; it only
// owns the storage.
func (c *Clump) MarkTable() []byte {
	if len(c.sideTable) == 0 {
		return nil
	}
	n := quanta(c.End - c.Base)
	return c.sideTable[:n]
}

func (c *Clump) RelocTable() []byte {
	if len(c.sideTable) == 0 {
		return nil
	}
	n := quanta(c.End - c.Base)
	return c.sideTable[n:]
}

// Contains reports whether ptr falls within this clump's object/string
// span, end-exclusive.
func (c *Clump) Contains(ptr uintptr) bool { return ptr >= c.Base && ptr < c.End }

// Size returns the total length of the backing buffer.
func (c *Clump) Size() uintptr { return c.End - c.Base }

// Bytes returns the raw backing buffer, for release back to the byte
// allocator that supplied it.
func (c *Clump) Bytes() []byte { return c.buf }

// headerAt returns the header placed at byte offset pos within the object
// area (i.e. the header of the object whose payload begins at
// pos+header.SizeU).
func headerAt(pos uintptr) *header.Header {
	return header.Of(unsafe.Pointer(xunsafe.ByteAdd((*byte)(unsafe.Pointer(pos)), header.SizeU)))
}

// Walk invokes fn once for every object header in the object area, from
// Base to Bot, in address order. Walk steps to the next header by the
// object's total stored size (header + rounded payload), read from the
// header after fn returns.
func (c *Clump) Walk(fn func(pos uintptr, h *header.Header)) {
	pos := c.Base
	for pos < c.Bot {
		h := headerAt(pos)
		fn(pos, h)
		pos += header.SizeU + c.Round(uintptr(h.Size()))
	}
}

// ConsolidateFree scans the object area from Base to Bot looking for a
// maximal run of FREE headers that ends exactly at Bot; if found, remove
// is called with the run's address span so the caller (the freelist bank)
// can unlink every header in it, and Bot is lowered to the run's start.
// IntFreedTop is recomputed to the first byte after the highest internal
// free run that does not abut Bot.
func (c *Clump) ConsolidateFree(remove func(bottom, top uintptr)) {
	var (
		pos                 = c.Base
		runStart            uintptr
		inRun                bool
		highestNonAbutting  = c.Base
	)

	for pos < c.Bot {
		h := headerAt(pos)
		size := header.SizeU + c.Round(uintptr(h.Size()))
		if h.IsFree() {
			if !inRun {
				runStart = pos
				inRun = true
			}
		} else if inRun {
			if pos > highestNonAbutting {
				highestNonAbutting = pos
			}
			inRun = false
		}
		pos += size
	}

	if inRun {
		remove(runStart, pos)
		c.LowerBot(runStart)
	}
	c.IntFreedTop = highestNonAbutting
}
