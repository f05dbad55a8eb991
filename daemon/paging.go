package daemon

// Paging constants from spec §4.4: add pages by the smaller of a raw
// byte cap and a vector-count cap; search selects the largest
// preferred batch size that still fits the remaining request.
const (
	AddPageSizeBytes = 256 << 20 // 256 MiB of raw vector bytes
	AddVecSizeMax    = 500_000   // ~5e5 vectors
)

// SearchBatchSizes are the kernel-supplied preferred batch sizes used
// by SearchPaged's greedy selection, largest first.
var SearchBatchSizes = []int{4096, 1024, 256, 64, 16, 4, 1}

// AddPaged dispatches n vectors of dim float32 components each through
// addOne once per page, where a page holds at most
// min(AddVecSizeMax, AddPageSizeBytes/(dim*4)) vectors — but always at
// least one vector, even if a single vector's byte size exceeds the
// cap (spec §4.4: "at least one vector per page").
func AddPaged(n, dim int, addOne func(lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	bytesPerVec := dim * 4
	pageVecs := AddVecSizeMax
	if bytesPerVec > 0 {
		if byPages := AddPageSizeBytes / bytesPerVec; byPages < pageVecs {
			pageVecs = byPages
		}
	}
	if pageVecs < 1 {
		pageVecs = 1
	}
	for lo := 0; lo < n; lo += pageVecs {
		hi := lo + pageVecs
		if hi > n {
			hi = n
		}
		if err := addOne(lo, hi); err != nil {
			return err
		}
	}
	return nil
}

// SearchPaged greedily selects, for the n remaining queries, the
// largest entry of SearchBatchSizes that still fits, falling back to
// single-query calls for the tail (spec §4.4's search paging
// discipline). searchOne is called once per chosen batch and must
// append its results in query order.
func SearchPaged(n int, searchOne func(lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	lo := 0
	for lo < n {
		remaining := n - lo
		batch := 1
		for _, b := range SearchBatchSizes {
			if b <= remaining {
				batch = b
				break
			}
		}
		hi := lo + batch
		if err := searchOne(lo, hi); err != nil {
			return err
		}
		lo = hi
	}
	return nil
}
