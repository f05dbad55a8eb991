package host

import (
	"time"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/proto"
)

// NNDimReduction is the host-side handle lifecycle for the daemon's
// neural-network dimensionality-reduction inference adapter stand-in
// (spec §4.4.4 / §6): create once per device, Infer any number of
// batches, Close to release the device-side model.
type NNDimReduction struct {
	reg     *client.Registry
	dimIn   int
	dimOut  int
	nodes   []*deviceNode
}

// NewNNDimReduction creates one model per device, batchSize fixing the
// daemon's IdentityInferencer batch width.
func NewNNDimReduction(devices []DeviceSpec, dimIn, dimOut, batchSize int, dialTimeoutMs int, reg *client.Registry) (*NNDimReduction, error) {
	dialTimeout := time.Duration(dialTimeoutMs) * time.Millisecond
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	nodes := make([]*deviceNode, len(devices))
	for i, spec := range devices {
		nodes[i] = &deviceNode{spec: spec}
	}
	err := forEachDevice(len(nodes), func(i int) error {
		n := nodes[i]
		sess, err := reg.Acquire(n.spec.Addr, dialTimeout)
		if err != nil {
			return err
		}
		n.sess = sess
		resp, err := sess.SendAndReceive(proto.CreateNNDimReduction, &proto.Request{
			Device: int32(n.spec.Device), Dim: uint32(dimIn), NList: uint32(dimOut), N: uint32(batchSize),
		})
		if err != nil {
			reg.Release(n.spec.Addr)
			return err
		}
		n.handle = resp.Handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &NNDimReduction{reg: reg, dimIn: dimIn, dimOut: dimOut, nodes: nodes}, nil
}

// Infer runs one device's model over a batch of dimIn-wide rows,
// returning dimOut-wide rows in the same order.
func (m *NNDimReduction) Infer(device int, rows [][]float32) ([][]float32, error) {
	var node *deviceNode
	for _, n := range m.nodes {
		if n.spec.Device == device {
			node = n
			break
		}
	}
	if node == nil {
		return nil, nil
	}
	resp, err := node.sess.SendAndReceive(proto.InferNNDimReduction, &proto.Request{
		Handle: node.handle, N: uint32(len(rows)), Vectors: flattenRows(rows),
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(rows))
	for i := range out {
		out[i] = resp.Vectors[i*m.dimOut : (i+1)*m.dimOut]
	}
	return out, nil
}

// Close destroys every device's model and releases its session.
func (m *NNDimReduction) Close() error {
	var firstErr error
	for _, n := range m.nodes {
		if _, err := n.sess.SendAndReceive(proto.DestroyNNDimReduction, &proto.Request{Handle: n.handle}); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := m.reg.Release(n.spec.Addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
