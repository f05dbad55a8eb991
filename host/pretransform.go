package host

import (
	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/proto"
)

// PreTransformIndex wraps an inner Index with an ordered chain of
// linear transforms the daemon applies before every Train/Add/Search
// call (spec §4.4.3 / §3 Transform chain). The chain lives entirely in
// the daemon's PreTransformIndex kernel, so Add/Search/Train are
// inherited unchanged from Index once the node handles are rewritten
// to the wrapper; only Prepend needs host-side bookkeeping of the
// chain's current head dimension.
//
// Training a PreTransform-wrapped IVF kind is out of scope: the coarse
// centroid push addresses the node handle directly (IndexIVFUpdateCoarseCent
// expects an IVF kernel, not a PreTransform wrapper), so PreTransformIndex
// is meant for Flat/Int8Flat inner kinds, where Train is a no-op.
type PreTransformIndex struct {
	*Index
	dIn int // current chain head's input dimension
}

// NewPreTransform builds an inner index of cfg.Kind across cfg.Devices,
// then wraps each device's kernel handle with CreateIndexPreTransform
// so every later call addresses the wrapper instead of the bare kernel.
func NewPreTransform(cfg Config, dIn int, reg *client.Registry) (*PreTransformIndex, error) {
	inner, err := NewIndex(cfg, reg)
	if err != nil {
		return nil, err
	}
	err = forEachDevice(len(inner.nodes), func(i int) error {
		n := inner.nodes[i]
		resp, err := n.sess.SendAndReceive(proto.CreateIndexPreTransform, &proto.Request{
			ContextID: n.ctxID, Handle: n.handle, Dim: uint32(dIn),
		})
		if err != nil {
			return err
		}
		n.handle = resp.Handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PreTransformIndex{Index: inner, dIn: dIn}, nil
}

// Prepend adds one Ax+b stage at the head of the chain on every device:
// a is DOut*DIn row-major, b is DOut-length (or nil for no bias). newDIn
// is the new outer dimension a caller must present to Train/Add/Search
// after this call (spec §4.4.3: chain[0].d_in == index.dim).
func (p *PreTransformIndex) Prepend(newDIn int, a, b []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	dOut := p.dIn
	err := forEachDevice(len(p.nodes), func(i int) error {
		n := p.nodes[i]
		vectors := append([]float32(nil), a...)
		if b != nil {
			vectors = append(vectors, b...)
		}
		tResp, err := n.sess.SendAndReceive(proto.CreateLinearTransform, &proto.Request{
			Dim: uint32(newDIn), NList: uint32(dOut), Vectors: vectors,
		})
		if err != nil {
			return err
		}
		_, err = n.sess.SendAndReceive(proto.IndexPreTransformPrepend, &proto.Request{
			Handle: n.handle, RangeLo: tResp.Handle,
		})
		return err
	})
	if err != nil {
		return err
	}
	p.dIn = newDIn
	return nil
}
