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

import "unsafe"

// Tunables with sane, spec-matched defaults.
const (
	DefaultClumpSize       = 64 << 10 // 64 KiB.
	DefaultObjAlign        = 8
	DefaultMaxFreelistSize = 376

	MinVMThreshold = 2000
	MaxVMThreshold = 1 << 30

	// MaxMaxVM is the ceiling an arena's maxVm can never exceed; chosen
	// far larger than any real address space slice this allocator will
	// ever be asked to manage.
	MaxMaxVM = int64(1) << 48

	// ForceGCLimit is added on top of gcAllocated to compute limit when
	// GC is disabled, forcing periodic collection even without an
	// explicit threshold.
	ForceGCLimit = 8 << 20
)

// ByteAllocator is the out-of-scope "underlying untyped byte allocator"
// collaborator: the thing this allocator asks for raw backing buffers.
// Arenas built by New use a trivial make([]byte, n)-based implementation
// by default; embedders that want to track process memory
// independently can supply their own.
type ByteAllocator interface {
	Alloc(n int) ([]byte, error)
	Free([]byte)
}

type heapAllocator struct{}

func (heapAllocator) Alloc(n int) ([]byte, error) { return make([]byte, n), nil }
func (heapAllocator) Free([]byte)                 {}

// SaveObserver is the out-of-scope save/restore collaborator's interface
// as seen by this allocator: just enough to decide whether an object may
// be reclaimed immediately or must be surrendered as lost. The default
// observer reports save level zero, i.e. nothing is protected.
type SaveObserver interface {
	// SaveLevel returns the save level currently in effect.
	SaveLevel() int
	// ObjectSaveLevel returns the save level at which ptr was allocated.
	ObjectSaveLevel(ptr unsafe.Pointer) int
}

type noSaveObserver struct{}

func (noSaveObserver) SaveLevel() int                        { return 0 }
func (noSaveObserver) ObjectSaveLevel(unsafe.Pointer) int     { return 0 }

type arenaConfig struct {
	clumpSize       uintptr
	objAlign        uintptr
	maxFreelistSize uintptr
	hasStrings      bool

	consolidateBeforeAddingClump bool

	byteAllocator ByteAllocator
	saveObserver  SaveObserver
}

func defaultConfig() arenaConfig {
	return arenaConfig{
		clumpSize:       DefaultClumpSize,
		objAlign:        DefaultObjAlign,
		maxFreelistSize: DefaultMaxFreelistSize,
		hasStrings:      true,
		byteAllocator:   heapAllocator{},
		saveObserver:    noSaveObserver{},
	}
}

// ArenaOption configures an Arena at construction time.
type ArenaOption func(*arenaConfig)

// WithClumpSize overrides the default size of new clumps.
func WithClumpSize(n uintptr) ArenaOption {
	return func(c *arenaConfig) { c.clumpSize = n }
}

// WithObjAlign overrides the object alignment quantum. Must be a power of
// two and at least the platform pointer size.
func WithObjAlign(n uintptr) ArenaOption {
	return func(c *arenaConfig) { c.objAlign = n }
}

// WithMaxFreelistSize overrides the boundary between small, bucketed
// freelists and the large best-fit freelist.
func WithMaxFreelistSize(n uintptr) ArenaOption {
	return func(c *arenaConfig) { c.maxFreelistSize = n }
}

// WithStrings controls whether clumps reserve GC side-table space for a
// string area. Disabling it is only useful for arenas that will never
// serve allocString/allocStringImmovable.
func WithStrings(v bool) ArenaOption {
	return func(c *arenaConfig) { c.hasStrings = v }
}

// WithByteAllocator overrides how raw backing buffers for new clumps are
// obtained.
func WithByteAllocator(a ByteAllocator) ArenaOption {
	return func(c *arenaConfig) { c.byteAllocator = a }
}

// WithSaveObserver wires in a save/restore collaborator so freeObject can
// correctly surrender objects from older save levels as lost instead of
// reclaiming them.
func WithSaveObserver(s SaveObserver) ArenaOption {
	return func(c *arenaConfig) { c.saveObserver = s }
}

// WithConsolidateBeforeAddingClump toggles the optional tree-wide
// consolidation pass before the slow path gives up and acquires a new
// clump. When enabled, the slow path runs ConsolidateFree before
// acquiring a new clump; disabled by default.
func WithConsolidateBeforeAddingClump(v bool) ArenaOption {
	return func(c *arenaConfig) { c.consolidateBeforeAddingClump = v }
}
