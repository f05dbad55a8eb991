package daemon

import "github.com/ascend-vs/annserve/cmn/prob"

// Selector decides whether a stored id is subject to removal. The two
// concrete forms are a contiguous [Lo, Hi) range (IndexRemoveRangeIds)
// and an explicit id batch (IndexRemoveIds), the latter fronted by a
// Bloom filter sized exactly per spec so the common case (id absent)
// avoids a linear scan of the batch.
type Selector interface {
	Select(id uint64) bool
}

type RangeSelector struct {
	Lo, Hi uint64
}

func (s RangeSelector) Select(id uint64) bool { return id >= s.Lo && id < s.Hi }

// BatchSelector fronts an exact id set with a probabilistic filter:
// MayContain==false is a definite rejection; MayContain==true falls
// back to the exact set to avoid false-positive removals.
type BatchSelector struct {
	filter *prob.Filter
	ids    map[uint64]struct{}
}

func NewBatchSelector(ids []uint64) *BatchSelector {
	f := prob.New(len(ids))
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		f.Add(id)
		set[id] = struct{}{}
	}
	return &BatchSelector{filter: f, ids: set}
}

func (s *BatchSelector) Select(id uint64) bool {
	if !s.filter.MayContain(id) {
		return false
	}
	_, ok := s.ids[id]
	return ok
}
