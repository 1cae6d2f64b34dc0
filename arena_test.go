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

package clumpvm_test

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptborne/clumpvm"
	"github.com/cryptborne/clumpvm/internal/roots"
)

func TestNewAppliesDefaultsAndAcquiresFirstClump(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", a.ID().String())
	assert.False(t, a.IsThreadSafe())
	assert.False(t, a.IsControlled())

	st := a.Status()
	assert.GreaterOrEqual(t, st.Allocated, int64(clumpvm.DefaultClumpSize))
}

func TestOptionsOverrideDefaults(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(
		clumpvm.WithClumpSize(8192),
		clumpvm.WithObjAlign(16),
		clumpvm.WithMaxFreelistSize(128),
		clumpvm.WithStrings(false),
	)
	require.NoError(t, err)

	p := a.AllocBytes(100, "test")
	require.NotNil(t, p)
	assert.True(t, a.IsWithinClumps(p))
	assert.Equal(t, uintptr(100), a.SizeOf(p))

	a.FreeObject(p)
}

func TestAllocZeroSizeFloorsToWordSize(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(clumpvm.WithClumpSize(4096))
	require.NoError(t, err)

	p := a.AllocBytes(0, "test")
	require.NotNil(t, p)
	assert.Equal(t, uintptr(0), a.SizeOf(p))

	// A second allocation must not overlap the first, proving the
	// zero-size object still reserved a real, word-floored slot.
	q := a.AllocBytes(8, "test")
	require.NotNil(t, q)
	assert.NotEqual(t, p, q)
}

func TestAllocByteArrayOverflowReturnsNilWithoutTouchingState(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	before := a.AllocatedBytes()
	p := a.AllocByteArray(^uintptr(0), 2, "test")
	assert.Nil(t, p)
	assert.True(t, errors.Is(a.LastError(), clumpvm.ErrOverflow))
	assert.Equal(t, before, a.AllocatedBytes())
}

func TestAllocStructArrayOverflowReturnsNil(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	ty := &clumpvm.TypeDescriptor{SSize: 1 << 20, SName: "huge"}
	p := a.AllocStructArray(^uintptr(0)/2, ty, "test")
	assert.Nil(t, p)
	assert.True(t, errors.Is(a.LastError(), clumpvm.ErrOverflow))
}

func TestOversizedAllocationLandsInAloneClump(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(clumpvm.WithClumpSize(4096), clumpvm.WithObjAlign(8))
	require.NoError(t, err)

	// largeSize = (4096/4) &^ 7 + 1 = 1025; request something comfortably
	// past that threshold so it must take the alone-clump path.
	p := a.AllocBytes(2000, "test")
	require.NotNil(t, p)

	root := a.Root()
	require.NotNil(t, root)
	assert.True(t, root.Alone)
	assert.True(t, root.Contains(uintptr(p)))
}

func TestRegisterAndUnregisterRoot(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	var x int
	r := a.RegisterRoot(nil, roots.KindRef, unsafe.Pointer(&x), "x")
	require.NotNil(t, r)
	assert.Equal(t, "x", r.Name)

	a.UnregisterRoot(r)
}

func TestGcStatusRoundTrips(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	want := clumpvm.GcStatus{Enabled: true, VMThreshold: 5000, MaxVM: 1 << 20}
	a.SetGcStatus(want)

	got := a.GetGcStatus()
	assert.Equal(t, want.Enabled, got.Enabled)
	assert.Equal(t, want.VMThreshold, got.VMThreshold)
	assert.Equal(t, want.MaxVM, got.MaxVM)
}

func TestSetVMThresholdClamps(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	a.SetVMThreshold(1)
	assert.Equal(t, int64(clumpvm.MinVMThreshold), a.GetGcStatus().VMThreshold)

	a.SetVMThreshold(clumpvm.MaxVMThreshold + 1000)
	assert.Equal(t, int64(clumpvm.MaxVMThreshold), a.GetGcStatus().VMThreshold)
}

func TestStatusAccountingNeverGoesNegative(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(clumpvm.WithClumpSize(4096))
	require.NoError(t, err)

	var ptrs []unsafe.Pointer
	for i := 0; i < 10; i++ {
		p := a.AllocBytes(32, "test")
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		a.FreeObject(p)
	}

	st := a.Status()
	assert.GreaterOrEqual(t, st.Used, int64(0))
	assert.GreaterOrEqual(t, st.Allocated, int64(0))
}

func TestAddClumpSwitchesToControlledMode(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(clumpvm.WithClumpSize(4096))
	require.NoError(t, err)
	assert.False(t, a.IsControlled())

	require.NoError(t, a.AddClump(8192))
	assert.True(t, a.IsControlled())

	p := a.AllocBytes(64, "test")
	require.NotNil(t, p)
	assert.True(t, a.IsWithinClumps(p))
}

func TestSetVMReclaimTogglesGcEnabledAndRecomputesLimit(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)
	require.False(t, a.GetGcStatus().Enabled)

	a.SetVMReclaim(true)
	assert.True(t, a.GetGcStatus().Enabled)

	a.SetVMReclaim(false)
	assert.False(t, a.GetGcStatus().Enabled)
}

func TestFreeReleasesEveryClumpInTheIndex(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(clumpvm.WithClumpSize(128), clumpvm.WithObjAlign(8), clumpvm.WithStrings(false))
	require.NoError(t, err)

	// largeSize for a 128-byte clump is (128/4)&^7 + 1 = 33, so each 64-byte
	// request is placed in an alone clump of its own: the tree ends up
	// holding three clumps.
	p := a.AllocBytes(64, "test")
	require.NotNil(t, p)
	q := a.AllocBytes(64, "test")
	require.NotNil(t, q)

	require.NotNil(t, a.Root(), "the tree must hold at least one clump before teardown")

	a.Free()
	assert.Nil(t, a.Root(), "Free must unlink and release every clump")
}

func TestLocatePtrReportsForeignPointers(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	var x int
	assert.False(t, a.IsWithinClumps(unsafe.Pointer(&x)))

	p := a.AllocBytes(16, "test")
	require.NotNil(t, p)
	assert.True(t, a.IsWithinClumps(p))
}

func TestHeaderRoundTripsSizeAndType(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)

	ty := &clumpvm.TypeDescriptor{SSize: 24, SName: "widget"}
	p := a.AllocStructArray(3, ty, "test")
	require.NotNil(t, p)

	assert.Equal(t, uintptr(72), a.SizeOf(p))
	assert.Same(t, ty, a.TypeOf(p))
}

func TestFreeObjectNilIsNoOp(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New()
	require.NoError(t, err)
	a.FreeObject(nil) // must not panic
}

func TestEnableFreeSuppressesReclamation(t *testing.T) {
	t.Parallel()

	a, err := clumpvm.New(clumpvm.WithClumpSize(4096))
	require.NoError(t, err)

	p := a.AllocBytes(32, "test")
	require.NotNil(t, p)

	before := a.Status()
	a.EnableFree(false)
	a.FreeObject(p)
	after := a.Status()
	assert.Equal(t, before, after, "disabled free must leave accounting untouched")
}
