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

// Package freelist implements the size-bucketed LIFO freelists and the
// oversized best-fit freelist that back the allocator's fast reuse path.
//
// Every list is an intrusive singly-linked chain of object headers: the
// link pointer lives in the freed object's own payload (see
// internal/header.SetFreeLink), so the bank itself holds nothing but bare
// head pointers and a handful of counters.
package freelist

import "github.com/cryptborne/clumpvm/internal/header"

// Bank holds the freelist heads for one arena: K+1 small, fixed-size
// buckets indexed by rounded size / ObjAlign (0..K, with
// K = MaxFreelistSize/ObjAlign), plus one large, variably-sized bucket
// searched best-fit.
type Bank struct {
	ObjAlign        uintptr
	MaxFreelistSize uintptr

	small []*header.Header // small[i] holds objects of rounded size i*ObjAlign.
	large *header.Header

	// largestFreeSize is a lazily maintained upper bound on the largest
	// entry in the large list: exact right after a full scan finds no
	// candidate, stale (but still a valid upper bound) otherwise.
	largestFreeSize uintptr
}

// New builds a bank sized for buckets [0, maxFreelistSize/objAlign].
func New(objAlign, maxFreelistSize uintptr) *Bank {
	k := int(maxFreelistSize/objAlign) + 1
	return &Bank{
		ObjAlign:        objAlign,
		MaxFreelistSize: maxFreelistSize,
		small:           make([]*header.Header, k),
	}
}

// bucket returns the small-bucket index for a rounded size, and whether
// the size belongs in the small range at all.
func (b *Bank) bucket(size uintptr) (int, bool) {
	if size > b.MaxFreelistSize {
		return 0, false
	}
	return int(size / b.ObjAlign), true
}

// Push adds a freed slot of the given rounded size to the appropriate
// list. The caller must have already stamped h with header.Free and
// sized it via h.SetSize(size); Push only threads the intrusive link.
func (b *Bank) Push(h *header.Header, size uintptr) {
	if i, ok := b.bucket(size); ok {
		header.SetFreeLink(h, b.small[i])
		b.small[i] = h
		return
	}
	header.SetFreeLink(h, b.large)
	b.large = h
	if size > b.largestFreeSize {
		b.largestFreeSize = size
	}
}

// PopSmall pops the most recently freed slot of exactly the given rounded
// size (LIFO), or reports false if that bucket is empty.
func (b *Bank) PopSmall(size uintptr) (*header.Header, bool) {
	i, ok := b.bucket(size)
	if !ok {
		return nil, false
	}
	h := b.small[i]
	if h == nil {
		return nil, false
	}
	b.small[i] = header.FreeLink(h)
	return h, true
}

// BestFit searches the large freelist for a slot at least minSize bytes,
// accepting the first candidate within 12.5% of minSize and otherwise
// tracking the smallest qualifying candidate seen. It reports the chosen
// header, its rounded size, and whether a candidate was found.
func (b *Bank) BestFit(minSize uintptr) (h *header.Header, size uintptr, ok bool) {
	if b.large == nil {
		return nil, 0, false
	}
	if b.largestFreeSize != 0 && b.largestFreeSize < minSize {
		return nil, 0, false
	}

	slack := minSize + minSize/8

	var prev, best, bestPrev *header.Header
	var bestSize uintptr
	observedMax := uintptr(0)
	scannedAll := true

	for cur := b.large; cur != nil; cur = header.FreeLink(cur) {
		sz := uintptr(cur.Size())
		if sz > observedMax {
			observedMax = sz
		}
		if sz >= minSize && (best == nil || sz < bestSize) {
			best, bestPrev, bestSize = cur, prev, sz
			if sz <= slack {
				scannedAll = false
				break
			}
		}
		prev = cur
	}

	if best == nil {
		if scannedAll {
			b.largestFreeSize = observedMax
		}
		return nil, 0, false
	}

	if bestPrev == nil {
		b.large = header.FreeLink(best)
	} else {
		header.SetFreeLink(bestPrev, header.FreeLink(best))
	}
	return best, bestSize, true
}

// Remove unlinks a specific header from whichever list it lives on,
// looked up by its currently stored rounded size. This backs
// removeRangeFromFreelist: the caller enumerates the free headers that
// fall in some address range (e.g. during a scavenge) and removes each
// one by identity, which is always a valid way to satisfy "unlink
// exactly that many from each list" since the lists tolerate arbitrary
// internal order.
func (b *Bank) Remove(h *header.Header) {
	size := uintptr(h.Size())
	if i, ok := b.bucket(size); ok {
		b.small[i] = unlink(b.small[i], h)
		return
	}
	b.large = unlink(b.large, h)
}

// RemoveRange removes every header in hs from the bank; used to purge a
// contiguous scavenged range from the freelists before it is rebuilt as a
// single FREE slot.
func (b *Bank) RemoveRange(hs []*header.Header) {
	for _, h := range hs {
		b.Remove(h)
	}
}

func unlink(head, target *header.Header) *header.Header {
	if head == target {
		return header.FreeLink(head)
	}
	prev := head
	for cur := header.FreeLink(head); cur != nil; cur = header.FreeLink(cur) {
		if cur == target {
			header.SetFreeLink(prev, header.FreeLink(cur))
			return head
		}
		prev = cur
	}
	return head
}

// ComputeFreeObjects sums the rounded size of every entry across every
// list: the small buckets (count * bucket size) plus the large list
// (actual sizes, since they vary).
func (b *Bank) ComputeFreeObjects() uintptr {
	var total uintptr
	for i, head := range b.small {
		bucketSize := uintptr(i) * b.ObjAlign
		for h := head; h != nil; h = header.FreeLink(h) {
			total += bucketSize
		}
	}
	for h := b.large; h != nil; h = header.FreeLink(h) {
		total += uintptr(h.Size())
	}
	return total
}

// Bucket exposes the head of a small bucket, for tests that assert on
// freelist shape (e.g. "50 freed 64-byte objects appear on freelists[8]").
func (b *Bank) Bucket(i int) *header.Header {
	if i < 0 || i >= len(b.small) {
		return nil
	}
	return b.small[i]
}

// BucketLen counts the entries on small bucket i.
func (b *Bank) BucketLen(i int) int {
	n := 0
	for h := b.Bucket(i); h != nil; h = header.FreeLink(h) {
		n++
	}
	return n
}

// LargeLen counts the entries on the large list.
func (b *Bank) LargeLen() int {
	n := 0
	for h := b.large; h != nil; h = header.FreeLink(h) {
		n++
	}
	return n
}
