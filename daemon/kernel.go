package daemon

// Kernel is the capability set shared by every index family (spec §9's
// tagged-variant model): train, add, search, remove, reset, reserve,
// reclaim. Family-specific behavior (e.g. nprobe, which only IVF
// variants expose) lives on the concrete type and is reached by a type
// switch at the host/server boundary, not by widening this interface.
type Kernel interface {
	Train(points []float32, n int) error
	Add(vectors []float32, ids []uint64) error
	Search(queries []float32, n, k int) (ids [][]uint64, dists [][]float32)
	RemoveIds(sel Selector) (removed int)
	Reset()
	Ntotal() int
	Dim() int
	// ReserveMemory/ReclaimMemory take a list id for IVF families;
	// Flat families (which have no lists) ignore it.
	ReserveMemory(listID, n int) error
	ReclaimMemory(listID int) error
	IsTrained() bool
}
