package daemon

import (
	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/quant"
)

// IVFSQIndex scalar-quantizes the residual per dimension (spec §4.4.2:
// "SQ dequantizes on-the-fly via vmin + code*vdiff; residual mode
// subtracts the coarse centroid before quantization on insert and adds
// it back in the distance term").
type IVFSQIndex struct {
	*ivfBase
	sq *quant.SQ
}

func NewIVFSQIndex(device, dim, nlist, nprobe, bits int, metric Metric) *IVFSQIndex {
	return &IVFSQIndex{
		ivfBase: newIVFBase(device, dim, nlist, nprobe, dim, metric),
		sq:      &quant.SQ{Dim: dim, Bits: bits},
	}
}

// UpdateSQTrainedValue installs the per-dimension [vmin, vdiff] range
// (spec §6 IndexSQUpdateTrainedValue).
func (x *IVFSQIndex) UpdateSQTrainedValue(vmin, vdiff []float32) {
	x.sq.Vmin, x.sq.Vdiff = vmin, vdiff
}

func (x *IVFSQIndex) IsTrained() bool      { return x.ivfBase.trained && x.sq.Vmin != nil }
func (x *IVFSQIndex) Train([]float32, int) error { return nil }

func (x *IVFSQIndex) Add(vectors []float32, ids []uint64) error {
	if !x.IsTrained() {
		return cmn.NewErrf("daemon.IVFSQIndex.Add", cmn.Precondition, x.device, "add before train")
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

func (x *IVFSQIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
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
					code := l.codeAt(p, x.codeSize)
					approx := x.sq.Decode(code)
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
