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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptborne/clumpvm/internal/header"
)

// TestScavengeMergesContiguousFreeRunAcrossThreeSlots builds a tightly
// packed controlled clump (five 256-byte objects, exactly filling it),
// frees the three middle ones, and requests an object too big for any
// single freed slot, or even two of them, but small enough to be satisfied
// by merging all three — the allocation engine's last resort once ordinary
// bump allocation has no room left anywhere in the tree.
func TestScavengeMergesContiguousFreeRunAcrossThreeSlots(t *testing.T) {
	t.Parallel()

	// The initial clump New() acquires is sized at just one byte so it can
	// never satisfy a bump allocation; AddClump then attaches the real,
	// exactly-sized clump under test and switches the arena into
	// controlled mode. Controlled mode both forbids acquiring further
	// clumps and sets largeSize to the attached clump's size, so a
	// 550-byte request stays on the ordinary/scavenge paths instead of
	// being forced into a clump of its own.
	a, err := New(WithClumpSize(1), WithObjAlign(8), WithStrings(false), WithMaxFreelistSize(376))
	require.NoError(t, err)
	require.NoError(t, a.AddClump(1360)) // 5 * (256 payload + 16-byte header)

	ptrs := make([]unsafe.Pointer, 5)
	for i := range ptrs {
		p := a.AllocBytes(256, "test")
		require.NotNil(t, p)
		ptrs[i] = p
	}
	require.Equal(t, a.cc.Bot, a.cc.Top, "the clump must be completely full")

	// Free the three middle objects, leaving the first and last live; this
	// leaves one contiguous run of three FREE headers in the middle of the
	// object area.
	a.FreeObject(ptrs[1])
	a.FreeObject(ptrs[2])
	a.FreeObject(ptrs[3])
	assert.Equal(t, 3, a.bank.BucketLen(256/8))

	// 550 + its header (566, rounded to 552+16=568) comfortably exceeds
	// two merged 272-byte slots (544) but fits within three (816).
	got := a.AllocBytes(550, "test")
	require.NotNil(t, got)
	assert.Equal(t, ptrs[1], got, "the merged run starts at the freed slot nearest Base")
	assert.Equal(t, uintptr(550), a.SizeOf(got))

	// All three original small-bucket entries were consumed by the merge.
	assert.Equal(t, 0, a.bank.BucketLen(256/8))

	// The 248-byte remainder (800 - 552) left after trimming the merged
	// 800-byte slot down to the 552-byte rounded request was pushed back
	// as its own free slot.
	tailBucket := int((800 - 552 - header.SizeU) / a.cfg.objAlign)
	assert.Equal(t, 1, a.bank.BucketLen(tailBucket))

	// The two surviving objects are untouched.
	assert.Equal(t, uintptr(256), a.SizeOf(ptrs[0]))
	assert.Equal(t, uintptr(256), a.SizeOf(ptrs[4]))
}

// TestConsolidateFreeReclaimsEmptyClumpsAndResetsCurrent drives an
// uncontrolled arena into acquiring a second clump, empties the first by
// freeing its only object, and checks that a tree-wide consolidation pass
// recognizes the now-empty clump, releases it, and leaves the current
// clump pointer on the clump that is actually still in use.
func TestConsolidateFreeReclaimsEmptyClumpsAndResetsCurrent(t *testing.T) {
	t.Parallel()

	a, err := New(WithClumpSize(128), WithObjAlign(8), WithStrings(false))
	require.NoError(t, err)

	// largeSize for a 128-byte clump is (128/4)&^7 + 1 = 33, so a 32-byte
	// request is bump-allocated into the first clump.
	firstClump := a.cc
	p := a.AllocBytes(32, "test")
	require.NotNil(t, p)
	require.Same(t, firstClump, a.cc)

	// A 64-byte request is at or above largeSize, so it gets an alone clump
	// of its own, which becomes the second clump and the current one.
	q := a.AllocBytes(64, "test")
	require.NotNil(t, q)
	require.NotSame(t, firstClump, a.cc)
	secondClump := a.cc

	a.FreeObject(p)
	// FreeObject only recognizes an in-place bump reclaim against the
	// *current* clump (secondClump here), so firstClump's now-free object
	// is merely pushed to a freelist bucket; only the tree-wide
	// consolidation pass below collapses its trailing free run.
	assert.Equal(t, 2, countNodes(a.tree.Root))

	a.ConsolidateFree()
	assert.Equal(t, 1, countNodes(a.tree.Root), "the now-empty first clump must be freed")
	assert.Same(t, secondClump, a.cc)
}

// TestScavengeRemovesNonAlignedFreedHeadersFromTheirBucket guards against a
// freelist-bucket mismatch: a header's rounded bucket is derived from its
// stored size both when it is pushed and, independently, when scavengeClump
// later removes it by identity, so the two computations must agree even
// when the object's declared size (here 60, not a multiple of objAlign)
// differs from its rounded storage size (64). If a freed header is ever
// pushed without its size stamped to match the bucket it lands in, removal
// looks in the wrong bucket, leaves the header dangling, and the memory it
// points at is handed out twice once the merge below reuses it.
func TestScavengeRemovesNonAlignedFreedHeadersFromTheirBucket(t *testing.T) {
	t.Parallel()

	a, err := New(WithClumpSize(1), WithObjAlign(8), WithStrings(false), WithMaxFreelistSize(376))
	require.NoError(t, err)
	// 5 * (64 rounded payload + 16-byte header) = 400, exactly filling the
	// attached clump.
	require.NoError(t, a.AddClump(400))

	ty := &TypeDescriptor{SSize: 60}
	ptrs := make([]unsafe.Pointer, 5)
	for i := range ptrs {
		p := a.AllocStruct(ty, "test")
		require.NotNil(t, p)
		ptrs[i] = p
	}
	require.Equal(t, a.cc.Bot, a.cc.Top, "the clump must be completely full")

	a.FreeObject(ptrs[1])
	a.FreeObject(ptrs[2])
	a.FreeObject(ptrs[3])
	assert.Equal(t, 3, a.bank.BucketLen(64/8), "all three freed 60-byte objects round to the same 64-byte bucket")

	got := a.AllocStruct(&TypeDescriptor{SSize: 150}, "test")
	require.NotNil(t, got)
	assert.Equal(t, ptrs[1], got, "the merged run starts at the freed slot nearest Base")
	assert.Equal(t, uintptr(150), a.SizeOf(got))

	// Every one of the three merged headers must have been unlinked from
	// its bucket; a leftover entry here would alias memory now live at
	// got.
	assert.Equal(t, 0, a.bank.BucketLen(64/8))
}
