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

// Package clumpvm implements a garbage-collection-aware arena allocator:
// a splay-tree-indexed set of contiguous memory regions ("clumps"), each
// split into an upward-growing object area and a downward-growing string
// area, served through a freelist bank and a multi-stage allocation
// engine.
//
// An Arena is single-owner: every entry point must be called from the
// goroutine that constructed it. In debug builds (`-tags debug`) this is
// enforced with an assertion; release builds pay nothing for the check.
package clumpvm

import (
	"unsafe"

	"github.com/google/uuid"
	"github.com/timandy/routine"

	"github.com/cryptborne/clumpvm/internal/clump"
	"github.com/cryptborne/clumpvm/internal/dbg"
	"github.com/cryptborne/clumpvm/internal/freelist"
	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/roots"
	"github.com/cryptborne/clumpvm/internal/splay"
	"github.com/cryptborne/clumpvm/internal/sync2"
)

// TypeDescriptor describes a client type to the allocator: just enough to
// place and finalize an instance. Exported as an alias so callers never
// need to import internal/header directly.
type TypeDescriptor = header.TypeDescriptor

// Lost accumulates bytes the allocator surrendered without being able to
// reclaim them: objects freed at an older save level, trimmed object
// tails too small to hold a free header, strings freed other than from
// the bottom of a string area, and the like.
type Lost struct {
	Objects int64
	Strings int64
}

// Status is a point-in-time snapshot of an arena's byte accounting.
type Status struct {
	Allocated int64 // Bytes currently held from the byte allocator.
	Used      int64 // Bytes currently occupied by live objects and strings.
}

// GcStatus is the GC policy and pressure state an embedding interpreter
// reads and writes via SetGcStatus/GetGcStatus.
type GcStatus struct {
	Enabled     bool
	VMThreshold int64
	MaxVM       int64
	SignalValue int
	Requested   int64
	GcAllocated int64
}

type streamNode struct {
	next *streamNode
	ptr  unsafe.Pointer
}

// Arena is the top-level allocator instance. It owns a splay tree of
// clumps, a freelist bank, the GC root registry, and the byte-accounting
// and GC-pressure state an embedding interpreter drives.
type Arena struct {
	id uuid.UUID

	ownerGoroutine int64

	cfg arenaConfig

	tree splay.Tree
	cc   *clump.Clump

	bank *freelist.Bank

	roots roots.List

	largeSize uintptr

	isControlled bool

	allocated      int64
	previousStatus Status

	limit int64
	gc    GcStatus

	lost Lost

	freeEnabled bool

	saveLevel int
	streams   *streamNode

	walkers sync2.Pool[splay.Walker]

	lastErr error
}

// New constructs an arena: it acquires its first clump from the
// configured byte allocator, wires the freelist bank, and computes the
// derived limits (largeSize, vmThreshold, maxVm) from the clump size.
func New(opts ...ArenaOption) (*Arena, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	a := &Arena{
		id:             uuid.New(),
		ownerGoroutine: routine.Goid(),
		cfg:            cfg,
		bank:           freelist.New(cfg.objAlign, cfg.maxFreelistSize),
		freeEnabled:    true,
		largeSize:      (cfg.clumpSize/4)&^(cfg.objAlign-1) + 1,
		gc: GcStatus{
			VMThreshold: int64(cfg.clumpSize) * 3,
			MaxVM:       MaxMaxVM,
			Enabled:     false,
		},
	}
	a.setLimit()

	first, err := a.acquireClump(cfg.clumpSize, cfg.hasStrings)
	if err != nil {
		return nil, err
	}
	a.cc = first

	if dbg.Enabled {
		dbg.Log([]any{"arena=%s", a.id.String()}, "New", "clumpSize=%d objAlign=%d", cfg.clumpSize, cfg.objAlign)
	}

	return a, nil
}

// assertOwner enforces the single-owner model in debug builds.
func (a *Arena) assertOwner() {
	if dbg.Enabled {
		dbg.Assert(routine.Goid() == a.ownerGoroutine, "clumpvm: arena %s accessed from goroutine %d, owned by %d", a.id, routine.Goid(), a.ownerGoroutine)
	}
}

// ID returns the arena's debug-correlation identifier.
func (a *Arena) ID() uuid.UUID { return a.id }

// LastError returns the most recent internal failure recorded by an
// allocation helper, for diagnostics; allocation entry points themselves
// still only return nil on failure.
func (a *Arena) LastError() error { return a.lastErr }

func (a *Arena) recordErr(err error) { a.lastErr = err }

// IsControlled reports whether this arena may acquire new clumps.
func (a *Arena) IsControlled() bool { return a.isControlled }

// IsThreadSafe always reports false: an Arena is single-owner per
// instance, with no internal locking.
func (a *Arena) IsThreadSafe() bool { return false }

// AddClump attaches an externally supplied clump (e.g. one carved from a
// fixed render-worker budget) and switches the arena into controlled
// mode: after this call the arena may never acquire further clumps, and
// every movable allocation entry point behaves identically to its
// immovable counterpart (a controlled arena never compacts, so the
// distinction is moot).
func (a *Arena) AddClump(size uintptr) error {
	a.assertOwner()

	wasControlled := a.isControlled
	a.isControlled = false
	savedLarge, savedLimit, savedMaxVM := a.largeSize, a.limit, a.gc.MaxVM
	a.largeSize = size
	a.limit, a.gc.MaxVM = 0, MaxMaxVM

	c, err := a.acquireClump(size, a.cfg.hasStrings)
	if err != nil {
		a.isControlled, a.largeSize, a.limit, a.gc.MaxVM = wasControlled, savedLarge, savedLimit, savedMaxVM
		a.recordErr(err)
		return err
	}
	a.cc = c

	a.isControlled = true
	a.limit = 0
	return nil
}

// SetGcStatus installs a new GC policy.
func (a *Arena) SetGcStatus(s GcStatus) {
	a.assertOwner()
	a.gc = s
	a.setLimit()
}

// GetGcStatus returns the current GC policy.
func (a *Arena) GetGcStatus() GcStatus { return a.gc }

// SetVMThreshold sets the GC threshold, clamped to
// [MinVMThreshold, MaxVMThreshold].
func (a *Arena) SetVMThreshold(n int64) {
	a.assertOwner()
	if n < MinVMThreshold {
		n = MinVMThreshold
	}
	if n > MaxVMThreshold {
		n = MaxVMThreshold
	}
	a.gc.VMThreshold = n
	a.setLimit()
}

// SetVMReclaim enables or disables GC-threshold-driven allocation
// pressure: when disabled, acquireClump's GC-pressure gate falls back to
// the fixed ForceGCLimit window instead of the configured VMThreshold
// budget (see setLimit).
func (a *Arena) SetVMReclaim(enabled bool) {
	a.assertOwner()
	a.gc.Enabled = enabled
	a.setLimit()
}

// EnableFree turns object/string reclamation on or off; while disabled,
// FreeObject and FreeString are no-ops.
func (a *Arena) EnableFree(v bool) { a.freeEnabled = v }

// DeferFrees is a reserved hook preserved from the original interface; it
// intentionally does not implement deferral (see DESIGN.md's Open
// Question resolution).
func (a *Arena) DeferFrees(int) {}

// PrepareGc unlinks every stream node from the arena's intrusive list so
// the garbage collector can trace and collect them independently of the
// arena's own clump walk.
func (a *Arena) PrepareGc() {
	a.assertOwner()
	a.streams = nil
}

// RegisterStream links a stream-library node into the arena's
// GC-prepare list; a pure bookkeeping hook for the out-of-scope stream
// collaborator.
func (a *Arena) RegisterStream(ptr unsafe.Pointer) {
	a.streams = &streamNode{next: a.streams, ptr: ptr}
}

// RegisterRoot adds ptr (of the given kind, with a diagnostic name) to
// the GC root registry. If existing is non-nil it is reused in place
// (the caller owns its storage); otherwise a new record is allocated and
// returned.
func (a *Arena) RegisterRoot(existing *roots.Root, kind roots.Kind, addr unsafe.Pointer, name string) *roots.Root {
	a.assertOwner()
	return a.roots.Register(existing, kind, addr, name)
}

// UnregisterRoot removes r from the registry.
func (a *Arena) UnregisterRoot(r *roots.Root) {
	a.assertOwner()
	a.roots.Unregister(r)
}

// setLimit recomputes the allocation ceiling from the current GC policy
// and accounting snapshot, per §4.E: the lesser of headroom to maxVm and,
// if GC is enabled, headroom to the next GC threshold crossing; if GC is
// disabled, a fixed force-collection window is used instead.
func (a *Arena) setLimit() {
	limit := a.gc.MaxVM - a.previousStatus.Allocated
	var budget int64
	if a.gc.Enabled {
		budget = a.gc.GcAllocated + a.gc.VMThreshold - a.previousStatus.Allocated
	} else {
		budget = a.gc.GcAllocated + ForceGCLimit
	}
	if budget < limit {
		limit = budget
	}
	a.limit = limit
}
