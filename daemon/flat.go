package daemon

import (
	"github.com/ascend-vs/annserve/cmn"
)

// Metric selects the distance family used by a kernel; 0 == L2, 1 ==
// InnerProduct/Cosine, matching proto.Request.Metric's wire encoding.
type Metric uint32

const (
	L2 Metric = iota
	InnerProductMetric
)

// FlatIndex stores vectors as fp16 rows with no per-device id list:
// positions are dense and the external id of the vector at position p
// on this device is cmn.EncodeID(device, p) (spec §3, §4.4.1 — flat
// indexes accept only auto-ids). Codes are kept as raw fp16 bit
// patterns, two bytes per dimension, mirroring the half-precision wire
// format end to end.
type FlatIndex struct {
	device int
	dim    int
	metric Metric
	res    *Resources

	codes *DeviceVector // elemSize = dim*2
}

func NewFlatIndex(device, dim int, metric Metric, res *Resources) *FlatIndex {
	return &FlatIndex{device: device, dim: dim, metric: metric, res: res, codes: NewDeviceVector(dim * 2)}
}

func (f *FlatIndex) Dim() int         { return f.dim }
func (f *FlatIndex) Ntotal() int      { return f.codes.Len() }
func (f *FlatIndex) IsTrained() bool  { return true } // Flat needs no training
func (f *FlatIndex) Train([]float32, int) error { return nil }

func (f *FlatIndex) rowsAsFloat() [][]float32 {
	n := f.codes.Len()
	out := make([][]float32, n)
	raw := f.codes.Bytes()
	for i := 0; i < n; i++ {
		row := make([]float32, f.dim)
		off := i * f.dim * 2
		for d := 0; d < f.dim; d++ {
			bits := uint16(raw[off+d*2]) | uint16(raw[off+d*2+1])<<8
			row[d] = cmn.Fp16(bits).Fp16ToF32()
		}
		out[i] = row
	}
	return out
}

// Add appends n vectors, paging per the ADD_PAGE_SIZE/ADD_VEC_SIZE
// discipline in AddPaged (spec §4.4 common paging). Only len(ids) is
// used, as the vector count; the id values are ignored, since Flat
// computes auto-ids from position at the host façade layer.
func (f *FlatIndex) Add(vectors []float32, ids []uint64) error {
	return AddPaged(len(ids), f.dim, func(lo, hi int) error {
		page := vectors[lo*f.dim : hi*f.dim]
		buf := make([]byte, len(page)*2)
		for i, v := range page {
			h := cmn.F32ToFp16(v)
			buf[i*2] = byte(h)
			buf[i*2+1] = byte(h >> 8)
		}
		f.codes.Append(buf)
		return nil
	})
}

// Search runs the distance-then-reduce pipeline described in §4.4.1:
// L2 via the ||q||^2+||b||^2-2Q.B^T identity (L2SqBatch), inner
// product raw Q.B^T, then TopK per query. Paging is not needed here
// since the whole base is held in memory; SearchPaged governs the
// host-visible page size contract for callers that batch queries.
// Flat keeps no on-device id list, so the position TopK returns is
// mapped to its external id via cmn.EncodeID before it leaves this
// kernel (spec §3: flat ids are derived from (device, position)).
func (f *FlatIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
	if n == 0 || k == 0 {
		return nil, nil
	}
	base := f.rowsAsFloat()
	qs := splitRows(queries, n, f.dim)

	var dist [][]float32
	switch f.metric {
	case InnerProductMetric:
		dist = make([][]float32, n)
		for i, q := range qs {
			row := make([]float32, len(base))
			for j, b := range base {
				row[j] = -InnerProduct(q, b) // negate: TopK always selects smallest
			}
			dist[i] = row
		}
	default:
		dist = L2SqBatch(qs, base)
	}

	ids := make([][]uint64, n)
	dists := make([][]float32, n)
	for i, row := range dist {
		lbl, d := TopK(row, k)
		if f.metric == InnerProductMetric {
			for j := range d {
				d[j] = -d[j]
			}
		}
		rowIds := make([]uint64, len(lbl))
		for j, pos := range lbl {
			rowIds[j] = cmn.EncodeID(f.device, int(pos))
		}
		ids[i], dists[i] = rowIds, d
	}
	return ids, dists
}

// RemoveIds drops every position whose derived external id matches
// sel, compacting the backing store and preserving relative order of
// survivors (positions stay dense, per spec §3 Lifecycle).
func (f *FlatIndex) RemoveIds(sel Selector) int {
	n := f.codes.Len()
	removed := 0
	kept := make([]byte, 0, len(f.codes.Bytes()))
	es := f.dim * 2
	raw := f.codes.Bytes()
	for p := 0; p < n; p++ {
		id := cmn.EncodeID(f.device, p)
		if sel.Select(id) {
			removed++
			continue
		}
		kept = append(kept, raw[p*es:(p+1)*es]...)
	}
	f.codes.Reset()
	f.codes.Append(kept)
	return removed
}

func (f *FlatIndex) Reset() { f.codes.Reset() }

func (f *FlatIndex) ReserveMemory(_, n int) error {
	f.codes.Reserve(n)
	return nil
}

func (f *FlatIndex) ReclaimMemory(_ int) error {
	f.codes.ReclaimExact()
	return nil
}

// GetBase returns every stored row as float32, the fp16->f32 expansion
// boundary documented in SPEC_FULL §9 (wire->host conversion).
func (f *FlatIndex) GetBase() [][]float32 { return f.rowsAsFloat() }

func splitRows(flat []float32, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = flat[i*dim : (i+1)*dim]
	}
	return out
}
