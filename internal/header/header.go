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

// Package header implements the fixed-size object header that prefixes
// every allocation: the returned client pointer is always one Header past
// the header itself.
package header

import (
	"unsafe"

	"github.com/cryptborne/clumpvm/internal/xunsafe"
)

// TypeDescriptor is the allocator's view of a client type: just enough to
// allocate and finalize an instance. Everything else (pointer enumeration
// for the collector, wire layout, etc.) belongs to the collaborator that
// supplied the descriptor, not to this allocator.
type TypeDescriptor struct {
	SSize    int    // Declared size of one instance, in bytes.
	SName    string // Diagnostic name, used only in logs and dumps.
	Finalize func(payload unsafe.Pointer)
	EnumPtrs func(payload unsafe.Pointer, visit func(unsafe.Pointer))
}

// Free is the sentinel descriptor stamped onto a header once its object has
// been freed, so the collector (and this package's own bookkeeping) can
// tell a live header from a free one without a separate flag bit.
var Free = &TypeDescriptor{SName: "<free>"}

const (
	flagAlone = 1 << 0
)

// Header is the fixed-size metadata word prefixed to every allocation.
// Align() bytes of padding, if any, live between the header and the
// previous object's end; the header itself always immediately precedes its
// payload.
type Header struct {
	size  uint32
	flags uint32
	Type  *TypeDescriptor
}

// Size, in bytes and alignment, of a Header value — used by callers that
// need to place one at a computed address.
var Size, Align = xunsafe.Layout[Header]()

// SizeU is Size as a uintptr, for the pointer-arithmetic-heavy callers in
// internal/clump and the root package that otherwise live entirely in
// uintptr space.
var SizeU = uintptr(Size)

// Of returns the header immediately preceding the payload pointer p.
func Of(p unsafe.Pointer) *Header {
	return xunsafe.Cast[Header](xunsafe.ByteAdd((*byte)(p), -Size))
}

// Payload returns the client-visible pointer for the object whose header
// is h: the first byte past the header.
func Payload(h *Header) unsafe.Pointer {
	return unsafe.Pointer(xunsafe.ByteAdd((*byte)(unsafe.Pointer(h)), Size))
}

// SizeOf reads the declared payload size of the object at p.
func SizeOf(p unsafe.Pointer) int { return Of(p).Size() }

// TypeOf reads the type descriptor of the object at p.
func TypeOf(p unsafe.Pointer) *TypeDescriptor { return Of(p).Type }

// SetType overwrites the type descriptor of the object at p, used when a
// generically allocated block is retyped after the fact.
func SetType(p unsafe.Pointer, t *TypeDescriptor) { Of(p).Type = t }

// Size returns the declared payload size (not the rounded storage size).
func (h *Header) Size() int { return int(h.size) }

// SetSize overwrites the declared payload size.
func (h *Header) SetSize(n int) { h.size = uint32(n) }

// Alone reports whether this object occupies an entire clump by itself.
func (h *Header) Alone() bool { return h.flags&flagAlone != 0 }

// SetAlone sets or clears the alone flag.
func (h *Header) SetAlone(v bool) {
	if v {
		h.flags |= flagAlone
	} else {
		h.flags &^= flagAlone
	}
}

// IsFree reports whether this header has been stamped with the Free
// sentinel type.
func (h *Header) IsFree() bool { return h.Type == Free }

// Init stamps a freshly placed header with the given declared size and
// type, clearing all flags.
func Init(h *Header, size int, t *TypeDescriptor) {
	h.size = uint32(size)
	h.flags = 0
	h.Type = t
}

// FreeLink reads the intrusive next-pointer stored in the first payload
// word of a freed object. Only valid when h.IsFree().
func FreeLink(h *Header) *Header {
	p := Payload(h)
	next := *xunsafe.Cast[unsafe.Pointer](p)
	if next == nil {
		return nil
	}
	return (*Header)(next)
}

// SetFreeLink stamps the first payload word of a freed object with the
// next pointer in its freelist chain, reusing payload storage that the
// object no longer needs once it is free. The payload must be at least
// pointer-sized; callers are responsible for the "too small to hold a
// link" exception described in the allocator's free path.
func SetFreeLink(h *Header, next *Header) {
	*xunsafe.Cast[unsafe.Pointer](Payload(h)) = unsafe.Pointer(next)
}
