package daemon

import "github.com/ascend-vs/annserve/cmn"

// IVFFlatIndex stores fp16-encoded raw vectors (no quantization loss
// beyond half precision) per coarse list.
type IVFFlatIndex struct {
	*ivfBase
}

func NewIVFFlatIndex(device, dim, nlist, nprobe int, metric Metric) *IVFFlatIndex {
	return &IVFFlatIndex{ivfBase: newIVFBase(device, dim, nlist, nprobe, dim*2, metric)}
}

func (x *IVFFlatIndex) IsTrained() bool      { return x.trained }
func (x *IVFFlatIndex) Train([]float32, int) error { return nil } // training happens host-side; see UpdateCoarseCent

func (x *IVFFlatIndex) encode(v []float32) []byte {
	buf := make([]byte, x.dim*2)
	for d := 0; d < x.dim; d++ {
		h := cmn.F32ToFp16(v[d])
		buf[d*2] = byte(h)
		buf[d*2+1] = byte(h >> 8)
	}
	return buf
}

func (x *IVFFlatIndex) decode(code []byte) []float32 {
	out := make([]float32, x.dim)
	for d := 0; d < x.dim; d++ {
		bits := uint16(code[d*2]) | uint16(code[d*2+1])<<8
		out[d] = cmn.Fp16(bits).Fp16ToF32()
	}
	return out
}

// Add assigns each vector to its nearest coarse list, fp16-encodes it,
// and groups the append into one addVectors call per touched list
// (spec §4.4.2 Add dispatch).
func (x *IVFFlatIndex) Add(vectors []float32, ids []uint64) error {
	if !x.trained {
		return cmn.NewErrf("daemon.IVFFlatIndex.Add", cmn.Precondition, x.device, "add before train")
	}
	return AddPaged(len(ids), x.dim, func(lo, hi int) error {
		byList := make(map[int][]int)
		for i := lo; i < hi; i++ {
			list := x.assign(vectors[i*x.dim : (i+1)*x.dim])
			byList[list] = append(byList[list], i)
		}
		for list, rows := range byList {
			codes := make([]byte, 0, len(rows)*x.dim*2)
			listIds := make([]uint64, 0, len(rows))
			for _, i := range rows {
				codes = append(codes, x.encode(vectors[i*x.dim:(i+1)*x.dim])...)
				listIds = append(listIds, ids[i])
			}
			x.addVectors(list, codes, listIds)
		}
		return nil
	})
}

// Search runs the two-stage IVF search (spec §4.4.2): coarse
// top-nprobe, then per-list fp16 decode + L2/IP distance, merged to a
// global top-k.
func (x *IVFFlatIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
	labels := make([][]uint64, n)
	dists := make([][]float32, n)
	SearchPaged(n, func(lo, hi int) error {
		for qi := lo; qi < hi; qi++ {
			q := queries[qi*x.dim : (qi+1)*x.dim]
			probed := x.coarseTopNProbe(q)
			var cands []mergeCandidate
			for _, listID := range probed {
				l := x.lists[listID]
				n := l.len()
				ids := l.idsSlice()
				for p := 0; p < n; p++ {
					v := x.decode(l.codeAt(p, x.codeSize))
					var d float32
					if x.metric == InnerProductMetric {
						d = -InnerProduct(q, v)
					} else {
						d = L2Sq(q, v)
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
