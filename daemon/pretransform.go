package daemon

import "github.com/ascend-vs/annserve/cmn"

// LinearTransform is one Ax+b stage of a PreTransform chain (spec §3
// Transform chain). A is row-major DOut x DIn.
type LinearTransform struct {
	DIn, DOut int
	A         []float32
	B         []float32
}

// Apply computes Ax+b for one input vector.
func (t *LinearTransform) Apply(x []float32) []float32 {
	out := make([]float32, t.DOut)
	for r := 0; r < t.DOut; r++ {
		var sum float32
		row := t.A[r*t.DIn : (r+1)*t.DIn]
		for c := 0; c < t.DIn; c++ {
			sum += row[c] * x[c]
		}
		if t.B != nil {
			sum += t.B[r]
		}
		out[r] = sum
	}
	return out
}

// PreTransformIndex applies an ordered chain of linear transforms
// before delegating to an inner Kernel (spec §4.4.3). Ping-pong
// buffers for the chain's intermediate vectors are drawn from the
// device's stack allocator, scoped to one call.
type PreTransformIndex struct {
	device int
	dim    int // d_in of chain[0], or inner.Dim() if the chain is empty
	chain  []*LinearTransform
	inner  Kernel
	res    *Resources
}

func NewPreTransformIndex(device, dim int, inner Kernel, res *Resources) *PreTransformIndex {
	return &PreTransformIndex{device: device, dim: dim, inner: inner, res: res}
}

func (p *PreTransformIndex) Dim() int        { return p.dim }
func (p *PreTransformIndex) Ntotal() int     { return p.inner.Ntotal() }
func (p *PreTransformIndex) IsTrained() bool { return p.inner.IsTrained() }

// Prepend adds a transform at the head of the chain and updates d to
// the new chain head's DIn, re-checking the dimension contract (spec
// §3/§4.4.3: chain[0].d_in == index.dim; chain[k].d_out ==
// chain[k+1].d_in; chain[last].d_out == inner_index.d).
func (p *PreTransformIndex) Prepend(t *LinearTransform) error {
	nextIn := p.dim
	if len(p.chain) > 0 {
		nextIn = p.chain[0].DIn
	} else {
		nextIn = p.inner.Dim()
	}
	if t.DOut != nextIn {
		return cmn.NewErrf("daemon.PreTransformIndex.Prepend", cmn.Precondition, p.device,
			"chain dimension mismatch: new head d_out=%d, next stage wants %d", t.DOut, nextIn)
	}
	p.chain = append([]*LinearTransform{t}, p.chain...)
	p.dim = t.DIn
	return nil
}

// applyChain runs the transform chain, scoping each stage's output
// through a stack-allocator reservation (when one is configured) the
// way the device kernel would scope its ping-pong buffer, even though
// the actual arithmetic here runs on the host-side float32 slice.
func (p *PreTransformIndex) applyChain(v []float32) []float32 {
	cur := v
	for _, t := range p.chain {
		var r *Reservation
		if p.res != nil {
			if res, err := p.res.ReserveWorking(t.DOut * 4); err == nil {
				r = res
			}
		}
		out := t.Apply(cur)
		if r != nil {
			r.a.Release(r)
		}
		cur = out
	}
	return cur
}

func (p *PreTransformIndex) Train(points []float32, n int) error {
	dim := p.Dim()
	transformed := make([]float32, 0, n*p.inner.Dim())
	for i := 0; i < n; i++ {
		t := p.applyChain(points[i*dim : (i+1)*dim])
		transformed = append(transformed, t...)
	}
	return p.inner.Train(transformed, n)
}

func (p *PreTransformIndex) Add(vectors []float32, ids []uint64) error {
	dim := p.Dim()
	n := len(ids)
	out := make([]float32, 0, n*p.inner.Dim())
	for i := 0; i < n; i++ {
		out = append(out, p.applyChain(vectors[i*dim:(i+1)*dim])...)
	}
	return p.inner.Add(out, ids)
}

func (p *PreTransformIndex) Search(queries []float32, n, k int) ([][]uint64, [][]float32) {
	dim := p.Dim()
	out := make([]float32, 0, n*p.inner.Dim())
	for i := 0; i < n; i++ {
		out = append(out, p.applyChain(queries[i*dim:(i+1)*dim])...)
	}
	return p.inner.Search(out, n, k)
}

func (p *PreTransformIndex) RemoveIds(sel Selector) int    { return p.inner.RemoveIds(sel) }
func (p *PreTransformIndex) Reset()                        { p.inner.Reset() }
func (p *PreTransformIndex) ReserveMemory(l, n int) error   { return p.inner.ReserveMemory(l, n) }
func (p *PreTransformIndex) ReclaimMemory(l int) error      { return p.inner.ReclaimMemory(l) }
