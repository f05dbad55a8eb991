package daemon

// Int8FlatIndex stores signed-8-bit codes plus an explicit id list
// (spec §4.4.1: "only Int8 and explicit variants keep ids"). Metric is
// raw inner product, or cosine over codes the caller has already
// L2-normalized at add time (spec §4.4.1).
type Int8FlatIndex struct {
	device int
	dim    int
	metric Metric

	codes *DeviceVector // elemSize = dim (int8 per component)
	ids   *DeviceVector // elemSize = 8 (uint64)
}

func NewInt8FlatIndex(device, dim int, metric Metric) *Int8FlatIndex {
	return &Int8FlatIndex{device: device, dim: dim, metric: metric,
		codes: NewDeviceVector(dim), ids: NewDeviceVector(8)}
}

func (f *Int8FlatIndex) Dim() int        { return f.dim }
func (f *Int8FlatIndex) Ntotal() int     { return f.codes.Len() }
func (f *Int8FlatIndex) IsTrained() bool { return true }
func (f *Int8FlatIndex) Train([]float32, int) error { return nil }

func (f *Int8FlatIndex) rows() [][]int8 {
	n := f.codes.Len()
	raw := f.codes.Bytes()
	out := make([][]int8, n)
	for i := 0; i < n; i++ {
		row := make([]int8, f.dim)
		off := i * f.dim
		for d := 0; d < f.dim; d++ {
			row[d] = int8(raw[off+d])
		}
		out[i] = row
	}
	return out
}

func (f *Int8FlatIndex) idList() []uint64 {
	n := f.ids.Len()
	raw := f.ids.Bytes()
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = le64(raw[i*8 : i*8+8])
	}
	return out
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func put64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Add quantizes float32 vectors to int8 by round-to-nearest clamp into
// [-127,127] and appends codes and ids in lockstep, paged per §4.4.
func (f *Int8FlatIndex) Add(vectors []float32, ids []uint64) error {
	return AddPaged(len(ids), f.dim, func(lo, hi int) error {
		codeBuf := make([]byte, (hi-lo)*f.dim)
		idBuf := make([]byte, (hi-lo)*8)
		for i := lo; i < hi; i++ {
			for d := 0; d < f.dim; d++ {
				v := vectors[i*f.dim+d]
				codeBuf[(i-lo)*f.dim+d] = byte(int8(clampInt8(v)))
			}
			put64(idBuf[(i-lo)*8:], ids[i])
		}
		f.codes.Append(codeBuf)
		f.ids.Append(idBuf)
		return nil
	})
}

func clampInt8(v float32) int32 {
	r := int32(v + 0.5)
	if v < 0 {
		r = int32(v - 0.5)
	}
	if r > 127 {
		r = 127
	}
	if r < -127 {
		r = -127
	}
	return r
}

// Search computes cosine (metric==InnerProductMetric, codes assumed
// pre-normalized) or raw inner product via Int8CosineBatch/plain dot,
// selecting top-k by descending similarity (spec §5 ordering: "ascending
// for L2, descending for inner product / cosine"). TopK's positions
// are mapped back through the stored id list before returning, since
// Int8Flat keeps ids explicitly rather than deriving them positionally.
func (f *Int8FlatIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
	if n == 0 || k == 0 {
		return nil, nil
	}
	base := f.rows()
	storedIds := f.idList()
	qCodes := make([][]int8, n)
	for i := 0; i < n; i++ {
		row := make([]int8, f.dim)
		for d := 0; d < f.dim; d++ {
			row[d] = int8(clampInt8(queries[i*f.dim+d]))
		}
		qCodes[i] = row
	}
	sims := Int8CosineBatch(qCodes, base)

	ids := make([][]uint64, n)
	dists := make([][]float32, n)
	for i, row := range sims {
		neg := make([]float32, len(row))
		for j, s := range row {
			neg[j] = -s
		}
		lbl, d := TopK(neg, k)
		for j := range d {
			d[j] = -d[j]
		}
		rowIds := make([]uint64, len(lbl))
		for j, pos := range lbl {
			rowIds[j] = storedIds[pos]
		}
		ids[i], dists[i] = rowIds, d
	}
	return ids, dists
}

func (f *Int8FlatIndex) RemoveIds(sel Selector) int {
	n := f.codes.Len()
	removed := 0
	keptCodes := make([]byte, 0, len(f.codes.Bytes()))
	keptIds := make([]byte, 0, len(f.ids.Bytes()))
	codeRaw, idRaw := f.codes.Bytes(), f.ids.Bytes()
	for p := 0; p < n; p++ {
		id := le64(idRaw[p*8 : p*8+8])
		if sel.Select(id) {
			removed++
			continue
		}
		keptCodes = append(keptCodes, codeRaw[p*f.dim:(p+1)*f.dim]...)
		keptIds = append(keptIds, idRaw[p*8:(p+1)*8]...)
	}
	f.codes.Reset()
	f.codes.Append(keptCodes)
	f.ids.Reset()
	f.ids.Append(keptIds)
	return removed
}

func (f *Int8FlatIndex) Reset() {
	f.codes.Reset()
	f.ids.Reset()
}

func (f *Int8FlatIndex) ReserveMemory(_, n int) error {
	f.codes.Reserve(n)
	f.ids.Reserve(n)
	return nil
}

func (f *Int8FlatIndex) ReclaimMemory(_ int) error {
	f.codes.ReclaimExact()
	f.ids.ReclaimExact()
	return nil
}

// GetBase returns the stored int8 codes and their ids, in insertion
// (position) order.
func (f *Int8FlatIndex) GetBase() ([][]int8, []uint64) { return f.rows(), f.idList() }
