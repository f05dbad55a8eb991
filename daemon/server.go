// Package daemon implements the per-device resources, stack allocator,
// device vector, and index kernels that run on behalf of the host
// façade's RPCs.
package daemon

import (
	"sync"
	"sync/atomic"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/cmn/nlog"
	"github.com/ascend-vs/annserve/proto"
	"github.com/ascend-vs/annserve/stats"
)

// Server dispatches proto.Command requests to per-device Resources and
// per-index Kernel instances. One Server backs one daemon process
// (spec §2: "one daemon per accelerator device"); DeviceID fixes which
// physical device this process answers for, and CreateContext verifies
// the client agrees.
type Server struct {
	DeviceID     int
	AltStreams   int
	ResourceSize int
	Stats        *stats.DaemonStats // nil disables metrics entirely

	mu           sync.Mutex
	nextHandle   atomic.Uint64
	contexts     map[uint64]*Resources
	kernels      map[uint64]Kernel
	transforms   map[uint64]*LinearTransform
	nnModels     map[uint64]*NNDimReduction
	fastChannels map[uint64]*fastChannel
}

func NewServer(deviceID int) *Server {
	return &Server{
		DeviceID:     deviceID,
		AltStreams:   2,
		contexts:     make(map[uint64]*Resources),
		kernels:      make(map[uint64]Kernel),
		transforms:   make(map[uint64]*LinearTransform),
		nnModels:     make(map[uint64]*NNDimReduction),
		fastChannels: make(map[uint64]*fastChannel),
	}
}

func (s *Server) newHandle() uint64 { return s.nextHandle.Add(1) }

func ok(handle uint64) *proto.Response   { return &proto.Response{Status: proto.OK, Handle: handle} }
func fail(code proto.Status, err error) *proto.Response {
	return &proto.Response{Status: code, Message: err.Error()}
}

// Dispatch is the single entry point the daemon's transport loop
// (serveConn in cmd/anndaemon) calls for every framed request (spec
// §4.1 send_and_receive). Kernel/precondition errors come back as a
// Status != OK response rather than a torn connection (spec §7
// policy); a panic raised inside a dispatch case is not recovered here.
func (s *Server) Dispatch(cmd proto.Command, req *proto.Request) *proto.Response {
	nlog.Infof("daemon[%d]: <- %s", s.DeviceID, cmd)
	if s.Stats != nil {
		s.Stats.ObserveRequest(cmd.String())
	}
	resp, err := s.dispatch(cmd, req)
	if err != nil {
		status := statusFor(err)
		if s.Stats != nil {
			s.Stats.ObserveError(cmd.String(), status.String())
		}
		return fail(status, err)
	}
	if s.Stats != nil {
		s.mu.Lock()
		n := len(s.contexts)
		var res *Resources
		for _, r := range s.contexts {
			res = r
			break
		}
		s.mu.Unlock()
		s.Stats.SetSessionCount(n)
		if res != nil {
			s.Stats.SetAllocatorCapacity(res.Alloc.Cap())
			s.Stats.SetStackHighWater(res.Alloc.HighWaterMark())
		}
	}
	return resp
}

func statusFor(err error) proto.Status {
	switch {
	case cmn.IsCode(err, cmn.Precondition):
		return proto.ErrPrecondition
	case cmn.IsCode(err, cmn.Device):
		return proto.ErrDevice
	case cmn.IsCode(err, cmn.Invariant):
		return proto.ErrInvariant
	case cmn.IsCode(err, cmn.Transport):
		return proto.ErrTransport
	default:
		return proto.ErrGeneric
	}
}

func (s *Server) kernel(handle uint64) (Kernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.kernels[handle]
	if !ok {
		return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unknown index handle %d", handle)
	}
	return k, nil
}

func (s *Server) resources(ctxID uint64) (*Resources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.contexts[ctxID]
	if !ok {
		return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unknown context %d", ctxID)
	}
	return r, nil
}

func metricOf(req *proto.Request) Metric {
	if req.Metric == 1 {
		return InnerProductMetric
	}
	return L2
}

//nolint:gocyclo // one dispatch table per spec §6's command list; splitting it would scatter the wire contract across files.
func (s *Server) dispatch(cmd proto.Command, req *proto.Request) (*proto.Response, error) {
	switch cmd {
	case proto.CreateContext:
		if int(req.Device) != s.DeviceID {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID,
				"context requested for device %d, this daemon serves device %d", req.Device, s.DeviceID)
		}
		res, err := AcquireResources(s.DeviceID, s.ResourceSize, s.AltStreams)
		if err != nil {
			return nil, err
		}
		h := s.newHandle()
		s.mu.Lock()
		s.contexts[h] = res
		s.mu.Unlock()
		return ok(h), nil

	case proto.DestroyContext:
		res, err := s.resources(req.ContextID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		delete(s.contexts, req.ContextID)
		s.mu.Unlock()
		return ok(0), ReleaseResources(res)

	case proto.TestDataIntegrity:
		return &proto.Response{Status: proto.OK, Blob: req.Blob}, nil

	case proto.CreateIndexFlat:
		res, err := s.resources(req.ContextID)
		if err != nil {
			return nil, err
		}
		h := s.newHandle()
		s.mu.Lock()
		s.kernels[h] = NewFlatIndex(s.DeviceID, int(req.Dim), metricOf(req), res)
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateIndexInt8Flat:
		h := s.newHandle()
		s.mu.Lock()
		s.kernels[h] = NewInt8FlatIndex(s.DeviceID, int(req.Dim), metricOf(req))
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateIndexSQ:
		// Flat SQ is modeled as an IVF-SQ with nlist=1, nprobe=1: the
		// same residual/dequant math applies with a single, implicit
		// "coarse centroid" at the origin.
		h := s.newHandle()
		idx := NewIVFSQIndex(s.DeviceID, int(req.Dim), 1, 1, int(req.Bits), metricOf(req))
		idx.UpdateCoarseCent([][]float32{make([]float32, req.Dim)})
		s.mu.Lock()
		s.kernels[h] = idx
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateIndexIVFFlat, proto.CreateIndexInt8IVFFlat:
		h := s.newHandle()
		s.mu.Lock()
		if cmd == proto.CreateIndexIVFFlat {
			s.kernels[h] = NewIVFFlatIndex(s.DeviceID, int(req.Dim), int(req.NList), int(req.NProbe), metricOf(req))
		} else {
			s.kernels[h] = NewInt8IVFFlatIndex(s.DeviceID, int(req.Dim), int(req.NList), int(req.NProbe), metricOf(req))
		}
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateIndexIVFPQ:
		h := s.newHandle()
		s.mu.Lock()
		s.kernels[h] = NewIVFPQIndex(s.DeviceID, int(req.Dim), int(req.NList), int(req.NProbe), int(req.M), int(req.Bits), metricOf(req))
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateIndexIVFSQ, proto.CreateIndexInt8IVFSQ:
		h := s.newHandle()
		s.mu.Lock()
		if cmd == proto.CreateIndexIVFSQ {
			s.kernels[h] = NewIVFSQIndex(s.DeviceID, int(req.Dim), int(req.NList), int(req.NProbe), int(req.Bits), metricOf(req))
		} else {
			s.kernels[h] = NewInt8IVFSQIndex(s.DeviceID, int(req.Dim), int(req.NList), int(req.NProbe), int(req.Bits), metricOf(req))
		}
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateIndexPreTransform:
		inner, err := s.kernel(req.Handle) // Handle carries the already-created inner index
		if err != nil {
			return nil, err
		}
		res, _ := s.resources(req.ContextID)
		h := s.newHandle()
		s.mu.Lock()
		s.kernels[h] = NewPreTransformIndex(s.DeviceID, int(req.Dim), inner, res)
		s.mu.Unlock()
		return ok(h), nil

	case proto.CreateLinearTransform:
		dOut := int(req.NList) // NList doubles as DOut for this command
		dIn := int(req.Dim)
		t := &LinearTransform{DIn: dIn, DOut: dOut}
		if len(req.Vectors) >= dOut*dIn {
			t.A = append([]float32(nil), req.Vectors[:dOut*dIn]...)
		}
		if len(req.Vectors) >= dOut*dIn+dOut {
			t.B = append([]float32(nil), req.Vectors[dOut*dIn:dOut*dIn+dOut]...)
		}
		h := s.newHandle()
		s.mu.Lock()
		s.transforms[h] = t
		s.mu.Unlock()
		return ok(h), nil

	case proto.DestroyLinearTransform:
		s.mu.Lock()
		delete(s.transforms, req.Handle)
		s.mu.Unlock()
		return ok(0), nil

	case proto.LinearTransformUpdateTrainedValue:
		s.mu.Lock()
		t, found := s.transforms[req.Handle]
		s.mu.Unlock()
		if !found {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unknown transform handle %d", req.Handle)
		}
		dOut := t.DOut
		t.A = append([]float32(nil), req.Vectors[:dOut*t.DIn]...)
		if len(req.Vectors) >= dOut*t.DIn+dOut {
			t.B = append([]float32(nil), req.Vectors[dOut*t.DIn:dOut*t.DIn+dOut]...)
		}
		return ok(0), nil

	case proto.IndexPreTransformPrepend:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		pt, isPT := k.(*PreTransformIndex)
		if !isPT {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not a PreTransform index", req.Handle)
		}
		s.mu.Lock()
		t, found := s.transforms[req.RangeLo] // RangeLo carries the transform handle to prepend
		s.mu.Unlock()
		if !found {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unknown transform handle %d", req.RangeLo)
		}
		return ok(0), pt.Prepend(t)

	case proto.CreateNNDimReduction:
		h := s.newHandle()
		model := &NNDimReduction{Model: NewIdentityInferencer(int(req.N)), DimIn: int(req.Dim), DimOut: int(req.NList)}
		s.mu.Lock()
		s.nnModels[h] = model
		s.mu.Unlock()
		return ok(h), nil

	case proto.InferNNDimReduction:
		s.mu.Lock()
		model, found := s.nnModels[req.Handle]
		s.mu.Unlock()
		if !found {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unknown NN model handle %d", req.Handle)
		}
		out := model.Infer(req.Vectors, int(req.N))
		return &proto.Response{Status: proto.OK, Vectors: out}, nil

	case proto.DestroyNNDimReduction:
		s.mu.Lock()
		delete(s.nnModels, req.Handle)
		s.mu.Unlock()
		return ok(0), nil

	case proto.IndexFlatAdd, proto.IndexInt8FlatAdd, proto.IndexSQAdd,
		proto.IndexIVFFlatAdd, proto.IndexIVFPQAdd, proto.IndexIVFSQAdd,
		proto.IndexInt8IVFFlatAdd, proto.IndexInt8IVFSQAdd:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		vecs := req.Vectors
		if vecs == nil && req.Int8Codes != nil {
			vecs = int8CodesToFloat(req.Int8Codes)
		}
		if err := k.Add(vecs, req.Ids); err != nil {
			return nil, err
		}
		return &proto.Response{Status: proto.OK, N: uint32(k.Ntotal())}, nil

	case proto.IndexSearch, proto.IndexInt8Search:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		vecs := req.Vectors
		if vecs == nil && req.Int8Codes != nil {
			vecs = int8CodesToFloat(req.Int8Codes)
		}
		ids, dists := k.Search(vecs, int(req.N), int(req.K))
		return &proto.Response{Status: proto.OK, Ids: flattenIDs(ids), Distances: flattenDists(dists), Counts: rowCounts(ids)}, nil

	case proto.IndexReset:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		k.Reset()
		return ok(0), nil

	default:
		return s.dispatchMaintenance(cmd, req)
	}
}

// dispatchMaintenance handles remove/reserve/reclaim and IVF
// maintenance RPCs, split out from dispatch purely to keep each
// function body within a readable size.
func (s *Server) dispatchMaintenance(cmd proto.Command, req *proto.Request) (*proto.Response, error) {
	switch cmd {
	case proto.IndexRemoveIds:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		removed := k.RemoveIds(NewBatchSelector(req.Ids))
		return &proto.Response{Status: proto.OK, N: uint32(removed)}, nil

	case proto.IndexRemoveRangeIds:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		removed := k.RemoveIds(RangeSelector{Lo: req.RangeLo, Hi: req.RangeHi})
		return &proto.Response{Status: proto.OK, N: uint32(removed)}, nil

	case proto.IndexReserveMem, proto.IndexInt8ReserveMem:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		return ok(0), k.ReserveMemory(int(req.ListID), int(req.N))

	case proto.IndexReclaimMem, proto.IndexInt8ReclaimMem:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		return ok(0), k.ReclaimMemory(int(req.ListID))

	case proto.IndexFlatGetBaseSize, proto.IndexInt8FlatGetBaseSize, proto.IndexSQGetBaseSize:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		return &proto.Response{Status: proto.OK, N: uint32(k.Ntotal())}, nil

	case proto.IndexFlatGetBase:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		f, isFlat := k.(*FlatIndex)
		if !isFlat {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not Flat", req.Handle)
		}
		return &proto.Response{Status: proto.OK, Vectors: flattenRows(f.GetBase())}, nil

	case proto.IndexInt8FlatGetBase:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		f, isFlat := k.(*Int8FlatIndex)
		if !isFlat {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not Int8Flat", req.Handle)
		}
		rows, ids := f.GetBase()
		codes := make([]byte, 0, len(rows)*f.Dim())
		for _, r := range rows {
			for _, c := range r {
				codes = append(codes, byte(c))
			}
		}
		return &proto.Response{Status: proto.OK, Int8Codes: codes, Ids: ids}, nil

	case proto.IndexSQGetBase:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		sq, isSQ := k.(*IVFSQIndex)
		if !isSQ {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not SQ", req.Handle)
		}
		return &proto.Response{Status: proto.OK, Vectors: decodeAllSQ(sq)}, nil

	case proto.IndexSQFastGetBase:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		sq, isSQ := k.(*IVFSQIndex)
		if !isSQ {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not SQ", req.Handle)
		}
		vectors := decodeAllSQ(sq)
		chHandle := s.newHandle()
		s.mu.Lock()
		s.fastChannels[chHandle] = &fastChannel{vectors: vectors}
		s.mu.Unlock()
		return &proto.Response{Status: proto.OK, Handle: chHandle, N: uint32(len(vectors))}, nil

	case proto.IndexIVFUpdateCoarseCent:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		b, err := ivfBaseOf(k)
		if err != nil {
			return nil, err
		}
		b.UpdateCoarseCent(splitRows(req.Vectors, int(req.NList), int(req.Dim)))
		return ok(0), nil

	case proto.IndexIVFPQUpdatePQCent:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		pq, isPQ := k.(*IVFPQIndex)
		if !isPQ {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not IVFPQ", req.Handle)
		}
		ksub := 1 << uint(req.Bits)
		subDim := int(req.Dim) / int(req.M)
		cent := make([][][]float32, req.M)
		off := 0
		for sub := 0; sub < int(req.M); sub++ {
			cent[sub] = make([][]float32, ksub)
			for c := 0; c < ksub; c++ {
				cent[sub][c] = append([]float32(nil), req.Vectors[off:off+subDim]...)
				off += subDim
			}
		}
		pq.UpdatePQCent(cent)
		return ok(0), nil

	case proto.IndexSQUpdateTrainedValue, proto.IndexInt8SQUpdateTrainedValue:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		dim := int(req.Dim)
		vmin := req.Vectors[:dim]
		vdiff := req.Vectors[dim : 2*dim]
		switch idx := k.(type) {
		case *IVFSQIndex:
			idx.UpdateSQTrainedValue(vmin, vdiff)
		case *Int8IVFSQIndex:
			idx.UpdateSQTrainedValue(vmin, vdiff)
		default:
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "handle %d is not SQ-family", req.Handle)
		}
		return ok(0), nil

	case proto.IndexIVFGetListLength:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		b, err := ivfBaseOf(k)
		if err != nil {
			return nil, err
		}
		return &proto.Response{Status: proto.OK, ListLength: uint32(b.GetListLength(int(req.ListID)))}, nil

	case proto.IndexIVFGetListCodes:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		b, err := ivfBaseOf(k)
		if err != nil {
			return nil, err
		}
		listID := int(req.ListID)
		if listID < 0 || listID >= len(b.lists) {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "list %d out of range", listID)
		}
		ids := b.GetListIds(listID)
		codes := b.lists[listID].codes.Bytes()
		return &proto.Response{Status: proto.OK, Ids: ids, Int8Codes: append([]byte(nil), codes...)}, nil

	case proto.IndexIVFFastGetListCodes:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		b, err := ivfBaseOf(k)
		if err != nil {
			return nil, err
		}
		listID := int(req.ListID)
		if listID < 0 || listID >= len(b.lists) {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "list %d out of range", listID)
		}
		ids := b.GetListIds(listID)
		codes := append([]byte(nil), b.lists[listID].codes.Bytes()...)
		chHandle := s.newHandle()
		s.mu.Lock()
		s.fastChannels[chHandle] = &fastChannel{codes: codes, ids: ids}
		s.mu.Unlock()
		return &proto.Response{Status: proto.OK, Handle: chHandle, N: uint32(len(codes))}, nil

	case proto.FastRecvNext:
		s.mu.Lock()
		ch, found := s.fastChannels[req.Handle]
		s.mu.Unlock()
		if !found {
			return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unknown fast-recv channel %d", req.Handle)
		}
		return ch.next(fastRecvChunkElems)

	case proto.ReleaseFastRecv:
		s.mu.Lock()
		delete(s.fastChannels, req.Handle)
		s.mu.Unlock()
		return ok(0), nil

	case proto.IndexIVFUpdateNprobe:
		k, err := s.kernel(req.Handle)
		if err != nil {
			return nil, err
		}
		b, err := ivfBaseOf(k)
		if err != nil {
			return nil, err
		}
		b.SetNProbe(int(req.NProbe))
		return ok(0), nil

	default:
		return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, s.DeviceID, "unsupported command %s", cmd)
	}
}

// ivfBaseOf extracts the shared *ivfBase from any IVF-family kernel via
// a tiny interface, avoiding a type switch over every concrete IVF type
// at each call site.
type ivfBaseHolder interface{ base() *ivfBase }

func (x *IVFFlatIndex) base() *ivfBase     { return x.ivfBase }
func (x *IVFPQIndex) base() *ivfBase       { return x.ivfBase }
func (x *IVFSQIndex) base() *ivfBase       { return x.ivfBase }
func (x *Int8IVFFlatIndex) base() *ivfBase { return x.ivfBase }
func (x *Int8IVFSQIndex) base() *ivfBase   { return x.ivfBase }

func ivfBaseOf(k Kernel) (*ivfBase, error) {
	h, isIVF := k.(ivfBaseHolder)
	if !isIVF {
		return nil, cmn.NewErrf("daemon.Server", cmn.Precondition, -1, "not an IVF-family index")
	}
	return h.base(), nil
}

func decodeAllSQ(sq *IVFSQIndex) []float32 {
	out := make([]float32, 0, sq.Ntotal()*sq.Dim())
	for listID := range sq.lists {
		l := sq.lists[listID]
		n := l.len()
		for p := 0; p < n; p++ {
			approx := sq.sq.Decode(l.codeAt(p, sq.codeSize))
			residual := approx
			c := sq.centroids[listID]
			for d := range residual {
				residual[d] += c[d]
			}
			out = append(out, residual...)
		}
	}
	return out
}

func int8CodesToFloat(codes []byte) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = float32(int8(c))
	}
	return out
}

func flattenIDs(ids [][]uint64) []uint64 {
	var out []uint64
	for _, row := range ids {
		out = append(out, row...)
	}
	return out
}

func flattenDists(dists [][]float32) []float32 {
	var out []float32
	for _, row := range dists {
		out = append(out, row...)
	}
	return out
}

// rowCounts records each query's result count so the host can
// de-interleave flattenIDs/flattenDists without assuming a fixed k
// stride: kernels cap every row at min(k, candidates), so rows before
// the last query can come back short.
func rowCounts(ids [][]uint64) []uint32 {
	out := make([]uint32, len(ids))
	for i, row := range ids {
		out[i] = uint32(len(row))
	}
	return out
}

func flattenRows(rows [][]float32) []float32 {
	var out []float32
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
