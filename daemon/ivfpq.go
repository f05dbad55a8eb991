package daemon

import (
	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/quant"
)

// IVFPQIndex product-quantizes the residual (vector minus its assigned
// coarse centroid) into M sub-codes, each 2^Bits-ary (spec §4.4.2 /
// §3 PQ sub-quantizers).
type IVFPQIndex struct {
	*ivfBase
	pq *quant.PQ
}

func NewIVFPQIndex(device, dim, nlist, nprobe, m, bits int, metric Metric) *IVFPQIndex {
	return &IVFPQIndex{
		ivfBase: newIVFBase(device, dim, nlist, nprobe, m, metric),
		pq:      &quant.PQ{Dim: dim, M: m, Bits: bits, SubDim: dim / m},
	}
}

// UpdatePQCent installs the trained sub-quantizer centroids (spec §6
// IndexIVFPQUpdatePQCent).
func (x *IVFPQIndex) UpdatePQCent(centroids [][][]float32) {
	x.pq.Centroids = centroids
}

func (x *IVFPQIndex) IsTrained() bool      { return x.ivfBase.trained && x.pq.Centroids != nil }
func (x *IVFPQIndex) Train([]float32, int) error { return nil }

func residual(v, centroid []float32) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] - centroid[i]
	}
	return out
}

func (x *IVFPQIndex) Add(vectors []float32, ids []uint64) error {
	if !x.IsTrained() {
		return cmn.NewErrf("daemon.IVFPQIndex.Add", cmn.Precondition, x.device, "add before train")
	}
	return AddPaged(len(ids), x.dim, func(lo, hi int) error {
		byList := make(map[int][]int)
		for i := lo; i < hi; i++ {
			list := x.assign(vectors[i*x.dim : (i+1)*x.dim])
			byList[list] = append(byList[list], i)
		}
		for list, rows := range byList {
			codes := make([]byte, 0, len(rows)*x.pq.M)
			listIds := make([]uint64, 0, len(rows))
			for _, i := range rows {
				v := vectors[i*x.dim : (i+1)*x.dim]
				r := residual(v, x.centroids[list])
				codes = append(codes, x.pq.Encode(r)...)
				listIds = append(listIds, ids[i])
			}
			x.addVectors(list, codes, listIds)
		}
		return nil
	})
}

func (x *IVFPQIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
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
				table := x.pq.DistanceTable(r)
				ids := l.idsSlice()
				for p := 0; p < ln; p++ {
					code := l.codeAt(p, x.codeSize)
					d := quant.SearchADC(table, code)
					cands = append(cands, mergeCandidate{id: ids[p], dist: d})
				}
			}
			ids, ds := mergeTopK(cands, k)
			labels[qi] = ids
			dists[qi] = ds
		}
		return nil
	})
	return labels, dists
}
