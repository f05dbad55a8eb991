// Package daemon implements the per-device resources, stack allocator,
// device vector, and index kernels that run on behalf of the host
// façade's RPCs.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package daemon

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/cmn/debug"
)

// StackAllocator is a bump allocator over one contiguous region, either
// owned (mmap'd anonymous/private memory) or wrapped (a caller-supplied
// slice, e.g. the device vector's backing store). Reservations are
// RAII handles that must be released in LIFO order; a violation is a
// debug-asserted fatal, since it indicates scope-discipline corruption
// rather than a recoverable condition.
type StackAllocator struct {
	mu       sync.Mutex
	region   []byte
	owned    bool
	top      int
	highWater atomic.Int64
}

// NewOwned allocates size bytes of anonymous, private mmap'd memory.
// size == 0 yields a valid allocator with no capacity. The daemon passes
// its own Server.ResourceSize here (anndaemon's -resource-size flag);
// the ResourceSize a host sends with CreateContext is not read.
func NewOwned(size int) (*StackAllocator, error) {
	if size == 0 {
		return &StackAllocator{owned: true}, nil
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, cmn.NewErr("daemon.NewOwned", cmn.Device, -1, err)
	}
	return &StackAllocator{region: region, owned: true}, nil
}

// Wrap builds a stack allocator over an externally owned region (not
// unmapped on Close).
func Wrap(region []byte) *StackAllocator {
	return &StackAllocator{region: region, owned: false}
}

func (a *StackAllocator) Cap() int { return len(a.region) }

// HighWaterMark is the largest concurrent allocation this allocator
// has ever served, exported as the daemon resource gauge.
func (a *StackAllocator) HighWaterMark() int64 { return a.highWater.Load() }

// Reservation is a move-only LIFO handle: release it exactly once, and
// release nested reservations in reverse acquisition order.
type Reservation struct {
	a      *StackAllocator
	offset int
	size   int
	freed  bool
}

func (r *Reservation) Bytes() []byte { return r.a.region[r.offset : r.offset+r.size] }
func (r *Reservation) Len() int      { return r.size }

// Reserve bumps the stack top by n bytes and returns a handle over the
// reserved slice.
func (a *StackAllocator) Reserve(n int) (*Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.top+n > len(a.region) {
		return nil, cmn.NewErrf("daemon.StackAllocator.Reserve", cmn.Device, -1,
			"out of stack memory: want %d, have %d of %d", n, len(a.region)-a.top, len(a.region))
	}
	r := &Reservation{a: a, offset: a.top, size: n}
	a.top += n
	if int64(a.top) > a.highWater.Load() {
		a.highWater.Store(int64(a.top))
	}
	return r, nil
}

// Release returns r's bytes to the allocator. r must be the
// most-recently-reserved still-live handle (LIFO); violating this is a
// debug-asserted fatal since it corrupts the stack's notion of "top".
func (a *StackAllocator) Release(r *Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.freed {
		return
	}
	debug.Assert(r.offset+r.size == a.top, "daemon: LIFO violation releasing stack reservation")
	a.top = r.offset
	r.freed = true
}

// Close unmaps an owned region; wrapped regions are left untouched.
func (a *StackAllocator) Close() error {
	if !a.owned || a.region == nil {
		return nil
	}
	return unix.Munmap(a.region)
}
