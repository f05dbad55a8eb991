package daemon

import (
	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/quant"
)

// int8IVFBase mirrors ivfBase for the int8 family: coarse centroids
// stay float32 (the host's native precision) but per-list codes are
// int8. The L1 coarse stage runs the float32 query against the float32
// centroids under the same metric as ivfBase; it does not quantize the
// query to int8 and applies no per-dimension scale factors.
type int8IVFBase struct {
	*ivfBase
}

func newInt8IVFBase(device, dim, nlist, nprobe, codeSize int, metric Metric) *int8IVFBase {
	return &int8IVFBase{ivfBase: newIVFBase(device, dim, nlist, nprobe, codeSize, metric)}
}

func int8ToF32(codes []int8) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = float32(c)
	}
	return out
}

func quantizeInt8(v []float32) []int8 {
	out := make([]int8, len(v))
	for i, f := range v {
		out[i] = int8(clampInt8(f))
	}
	return out
}

// Int8IVFFlatIndex keeps raw int8 codes per list (no further quantization).
type Int8IVFFlatIndex struct {
	*int8IVFBase
}

func NewInt8IVFFlatIndex(device, dim, nlist, nprobe int, metric Metric) *Int8IVFFlatIndex {
	return &Int8IVFFlatIndex{int8IVFBase: newInt8IVFBase(device, dim, nlist, nprobe, dim, metric)}
}

func (x *Int8IVFFlatIndex) IsTrained() bool      { return x.trained }
func (x *Int8IVFFlatIndex) Train([]float32, int) error { return nil }

func (x *Int8IVFFlatIndex) Add(vectors []float32, ids []uint64) error {
	if !x.trained {
		return cmn.NewErrf("daemon.Int8IVFFlatIndex.Add", cmn.Precondition, x.device, "add before train")
	}
	return AddPaged(len(ids), x.dim, func(lo, hi int) error {
		byList := make(map[int][]int)
		for i := lo; i < hi; i++ {
			list := x.assign(vectors[i*x.dim : (i+1)*x.dim])
			byList[list] = append(byList[list], i)
		}
		for list, rows := range byList {
			codes := make([]byte, 0, len(rows)*x.dim)
			listIds := make([]uint64, 0, len(rows))
			for _, i := range rows {
				q := quantizeInt8(vectors[i*x.dim : (i+1)*x.dim])
				for _, c := range q {
					codes = append(codes, byte(c))
				}
				listIds = append(listIds, ids[i])
			}
			x.addVectors(list, codes, listIds)
		}
		return nil
	})
}

func (x *Int8IVFFlatIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
	labels := make([][]uint64, n)
	dists := make([][]float32, n)
	SearchPaged(n, func(lo, hi int) error {
		for qi := lo; qi < hi; qi++ {
			q := queries[qi*x.dim : (qi+1)*x.dim]
			probed := x.coarseTopNProbe(q)
			var cands []mergeCandidate
			for _, listID := range probed {
				l := x.lists[listID]
				ln := l.len()
				ids := l.idsSlice()
				for p := 0; p < ln; p++ {
					raw := l.codeAt(p, x.codeSize)
					codes := make([]int8, len(raw))
					for i, b := range raw {
						codes[i] = int8(b)
					}
					base := int8ToF32(codes)
					var d float32
					if x.metric == InnerProductMetric {
						d = -int8Cosine(quantizeInt8(q), codes)
					} else {
						d = L2Sq(q, base)
					}
					cands = append(cands, mergeCandidate{id: ids[p], dist: d})
				}
			}
			ids, ds := mergeTopK(cands, k)
			if x.metric == InnerProductMetric {
				for i := range ds {
					ds[i] = -ds[i]
				}
			}
			labels[qi] = ids
			dists[qi] = ds
		}
		return nil
	})
	return labels, dists
}

// Int8IVFSQIndex scalar-quantizes the int8 residual further into a
// uniform per-dimension code (used when the int8 base itself still
// needs a trained range, mirroring IVFSQIndex but over int8 input).
type Int8IVFSQIndex struct {
	*int8IVFBase
	sq *quant.SQ
}

func NewInt8IVFSQIndex(device, dim, nlist, nprobe, bits int, metric Metric) *Int8IVFSQIndex {
	return &Int8IVFSQIndex{int8IVFBase: newInt8IVFBase(device, dim, nlist, nprobe, dim, metric), sq: &quant.SQ{Dim: dim, Bits: bits}}
}

func (x *Int8IVFSQIndex) UpdateSQTrainedValue(vmin, vdiff []float32) {
	x.sq.Vmin, x.sq.Vdiff = vmin, vdiff
}

func (x *Int8IVFSQIndex) IsTrained() bool      { return x.trained && x.sq.Vmin != nil }
func (x *Int8IVFSQIndex) Train([]float32, int) error { return nil }

func (x *Int8IVFSQIndex) Add(vectors []float32, ids []uint64) error {
	if !x.IsTrained() {
		return cmn.NewErrf("daemon.Int8IVFSQIndex.Add", cmn.Precondition, x.device, "add before train")
	}
	return AddPaged(len(ids), x.dim, func(lo, hi int) error {
		byList := make(map[int][]int)
		for i := lo; i < hi; i++ {
			list := x.assign(vectors[i*x.dim : (i+1)*x.dim])
			byList[list] = append(byList[list], i)
		}
		for list, rows := range byList {
			codes := make([]byte, 0, len(rows)*x.dim)
			listIds := make([]uint64, 0, len(rows))
			for _, i := range rows {
				v := vectors[i*x.dim : (i+1)*x.dim]
				r := residual(v, x.centroids[list])
				codes = append(codes, x.sq.Encode(r)...)
				listIds = append(listIds, ids[i])
			}
			x.addVectors(list, codes, listIds)
		}
		return nil
	})
}

func (x *Int8IVFSQIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
	labels := make([][]uint64, n)
	dists := make([][]float32, n)
	SearchPaged(n, func(lo, hi int) error {
		for qi := lo; qi < hi; qi++ {
			q := queries[qi*x.dim : (qi+1)*x.dim]
			probed := x.coarseTopNProbe(q)
			var cands []mergeCandidate
			for _, listID := range probed {
				l := x.lists[listID]
				ln := l.len()
				if ln == 0 {
					continue
				}
				r := residual(q, x.centroids[listID])
				ids := l.idsSlice()
				for p := 0; p < ln; p++ {
					approx := x.sq.Decode(l.codeAt(p, x.codeSize))
					var d float32
					if x.metric == InnerProductMetric {
						d = -(InnerProduct(q, approx) + InnerProduct(q, x.centroids[listID]))
					} else {
						d = L2Sq(r, approx)
					}
					cands = append(cands, mergeCandidate{id: ids[p], dist: d})
				}
			}
			ids, ds := mergeTopK(cands, k)
			if x.metric == InnerProductMetric {
				for i := range ds {
					ds[i] = -ds[i]
				}
			}
			labels[qi] = ids
			dists[qi] = ds
		}
		return nil
	})
	return labels, dists
}
