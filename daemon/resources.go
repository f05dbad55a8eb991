package daemon

import (
	"sync"

	"github.com/ascend-vs/annserve/cmn"
)

// Resources bundles the per-device execution context every index
// kernel instance needs: a default stream, K alternate streams for
// overlap, and the stack allocator. Grounded on the original's
// per-device resources object (default stream + alternates + stack
// allocator), acquired/released with an explicit ref count one level
// above the allocator itself — teardown runs at the last release, not
// the allocator's own refcount.
type Resources struct {
	Device int

	DefaultStream int // stream handles are opaque ints in this repo's daemon model
	AltStreams    []int

	Alloc *StackAllocator

	mu   sync.Mutex
	refs int
}

// resMap is the process-wide registry of per-device
// Resources, ref-counted the same way the client session registry is.
var (
	resMu  sync.Mutex
	resMap = make(map[int]*Resources)
)

// AcquireResources returns the shared Resources for device, creating it
// (with an owned stack allocator of resourceSize bytes, altStreams
// alternate streams) on first acquisition.
func AcquireResources(device, resourceSize, altStreams int) (*Resources, error) {
	resMu.Lock()
	defer resMu.Unlock()

	if r, ok := resMap[device]; ok {
		r.mu.Lock()
		r.refs++
		r.mu.Unlock()
		return r, nil
	}

	alloc, err := NewOwned(resourceSize)
	if err != nil {
		return nil, err
	}
	alts := make([]int, altStreams)
	for i := range alts {
		alts[i] = i + 1
	}
	r := &Resources{
		Device:        device,
		DefaultStream: 0,
		AltStreams:    alts,
		Alloc:         alloc,
		refs:          1,
	}
	resMap[device] = r
	return r, nil
}

// ReleaseResources drops one reference; the allocator is closed and the device
// evicted from the registry at the last release.
func ReleaseResources(r *Resources) error {
	r.mu.Lock()
	r.refs--
	done := r.refs <= 0
	r.mu.Unlock()

	if !done {
		return nil
	}
	resMu.Lock()
	delete(resMap, r.Device)
	resMu.Unlock()
	return r.Alloc.Close()
}

func (r *Resources) RefCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// ReserveWorking reserves n bytes of working memory for one kernel call
// (query norms, tile outputs, reducer outputs); callers must Release in
// reverse acquisition order within the call.
func (r *Resources) ReserveWorking(n int) (*Reservation, error) {
	if r.Alloc.Cap() == 0 {
		return nil, cmn.NewErrf("daemon.Resources.ReserveWorking", cmn.Device, r.Device,
			"stack allocator disabled for device %d (resourceSize == 0)", r.Device)
	}
	return r.Alloc.Reserve(n)
}
