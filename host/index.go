package host

import (
	"strconv"
	"sync"
	"time"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/clustering"
	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/proto"
	"github.com/ascend-vs/annserve/quant"
	"github.com/ascend-vs/annserve/stats"
)

// State is the host-side index lifecycle (spec §4.8): Unconfigured is
// never observed outside Config validation, so NewIndex starts a
// caller directly at Configured.
type State int

const (
	Configured State = iota
	Trained
	Populated
	Closed
)

func (st State) String() string {
	switch st {
	case Configured:
		return "Configured"
	case Trained:
		return "Trained"
	case Populated:
		return "Populated"
	case Closed:
		return "Closed"
	default:
		return "Unconfigured"
	}
}

type deviceNode struct {
	spec   DeviceSpec
	sess   *client.Session
	ctxID  uint64
	handle uint64
	ntotal int
}

// Index is the generic host façade: one Config fixes a Kind for its
// whole lifetime, and every operation fans the same RPC out to every
// device node in parallel via forEachDevice/mapEachDevice (spec §4.5).
type Index struct {
	cfg   Config
	reg   *client.Registry
	Stats *stats.HostStats // nil disables metrics entirely

	mu    sync.Mutex
	state State
	nodes []*deviceNode
	rr    uint64 // round-robin add cursor, persists across Add calls

	trainedCentroids [][]float32
	trainedPQ        *quant.PQ
	trainedSQ        *quant.SQ
}

func createCmd(k Kind) proto.Command {
	switch k {
	case KindFlat:
		return proto.CreateIndexFlat
	case KindInt8Flat:
		return proto.CreateIndexInt8Flat
	case KindSQ:
		return proto.CreateIndexSQ
	case KindIVFFlat:
		return proto.CreateIndexIVFFlat
	case KindIVFPQ:
		return proto.CreateIndexIVFPQ
	case KindIVFSQ:
		return proto.CreateIndexIVFSQ
	case KindInt8IVFFlat:
		return proto.CreateIndexInt8IVFFlat
	case KindInt8IVFSQ:
		return proto.CreateIndexInt8IVFSQ
	default:
		return proto.CmdUnknown
	}
}

func addCmd(k Kind) proto.Command {
	switch k {
	case KindFlat:
		return proto.IndexFlatAdd
	case KindInt8Flat:
		return proto.IndexInt8FlatAdd
	case KindSQ:
		return proto.IndexSQAdd
	case KindIVFFlat:
		return proto.IndexIVFFlatAdd
	case KindIVFPQ:
		return proto.IndexIVFPQAdd
	case KindIVFSQ:
		return proto.IndexIVFSQAdd
	case KindInt8IVFFlat:
		return proto.IndexInt8IVFFlatAdd
	case KindInt8IVFSQ:
		return proto.IndexInt8IVFSQAdd
	default:
		return proto.CmdUnknown
	}
}

func (k Kind) isInt8() bool {
	switch k {
	case KindInt8Flat, KindInt8IVFFlat, KindInt8IVFSQ:
		return true
	default:
		return false
	}
}

func (c *Config) searchCmd() proto.Command {
	if c.Kind.isInt8() {
		return proto.IndexInt8Search
	}
	return proto.IndexSearch
}

func (c *Config) reserveCmd() proto.Command {
	if c.Kind.isInt8() {
		return proto.IndexInt8ReserveMem
	}
	return proto.IndexReserveMem
}

func (c *Config) reclaimCmd() proto.Command {
	if c.Kind.isInt8() {
		return proto.IndexInt8ReclaimMem
	}
	return proto.IndexReclaimMem
}

// NewIndex dials every configured device, opens one context per device
// and creates cfg.Kind's index kernel on it, all in parallel.
func NewIndex(cfg Config, reg *client.Registry) (*Index, error) {
	dialTimeout := time.Duration(cfg.DialTimeoutMs) * time.Millisecond
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	nodes := make([]*deviceNode, len(cfg.Devices))
	for i, spec := range cfg.Devices {
		nodes[i] = &deviceNode{spec: spec}
	}
	create := createCmd(cfg.Kind)

	err := forEachDevice(len(nodes), func(i int) error {
		n := nodes[i]
		sess, err := reg.Acquire(n.spec.Addr, dialTimeout)
		if err != nil {
			return err
		}
		n.sess = sess

		ctxResp, err := sess.SendAndReceive(proto.CreateContext, &proto.Request{
			Device: int32(n.spec.Device),
			N:      uint32(cfg.ResourceSize),
		})
		if err != nil {
			reg.Release(n.spec.Addr)
			return err
		}
		n.ctxID = ctxResp.Handle

		idxResp, err := sess.SendAndReceive(create, &proto.Request{
			ContextID: n.ctxID,
			Device:    int32(n.spec.Device),
			Dim:       uint32(cfg.Dim),
			NList:     uint32(cfg.NList),
			NProbe:    uint32(cfg.NProbe),
			M:         uint32(cfg.M),
			Bits:      uint32(cfg.Bits),
			Metric:    uint32(cfg.Metric),
		})
		if err != nil {
			return err
		}
		n.handle = idxResp.Handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Index{cfg: cfg, reg: reg, state: Configured, nodes: nodes}, nil
}

// Train runs coarse k-means (IVF kinds) and any sub-quantizer training
// (PQ/SQ) host-side, then pushes the trained values to every device
// (spec §4.6). Flat and Int8Flat have nothing to train.
func (idx *Index) Train(points [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cfg := idx.cfg
	var centroids [][]float32
	if cfg.Kind.isIVF() {
		niter, maxPerCentroid := clustering.DefaultNIterIVF, 0
		if cfg.Kind.isSQ() {
			niter, maxPerCentroid = clustering.DefaultNIterIVFSQ, clustering.MaxPointsPerCentroidIVFSQ
		}
		res, err := clustering.Train(points, clustering.Config{
			K: cfg.NList, NIter: niter, MaxPointsPerCentroid: maxPerCentroid, Seed: cfg.Seed,
		})
		if err != nil {
			return err
		}
		centroids = res.Centroids
		idx.trainedCentroids = centroids
		if err := idx.pushCoarseCentroids(centroids); err != nil {
			return err
		}
	}

	switch {
	case cfg.Kind == KindIVFPQ:
		residuals := assignResiduals(points, centroids)
		pq := quant.TrainPQ(residuals, cfg.Dim, cfg.M, cfg.Bits, cfg.Seed)
		idx.trainedPQ = pq
		if err := idx.pushPQCentroids(pq); err != nil {
			return err
		}
	case cfg.Kind == KindIVFSQ || cfg.Kind == KindInt8IVFSQ:
		residuals := assignResiduals(points, centroids)
		sq := quant.TrainSQ(residuals, cfg.Dim, cfg.Bits)
		idx.trainedSQ = sq
		if err := idx.pushSQTrainedValue(sq); err != nil {
			return err
		}
	case cfg.Kind == KindSQ:
		sq := quant.TrainSQ(points, cfg.Dim, cfg.Bits)
		idx.trainedSQ = sq
		if err := idx.pushSQTrainedValue(sq); err != nil {
			return err
		}
	}

	idx.state = Trained
	return nil
}

func assignResiduals(points, centroids [][]float32) [][]float32 {
	out := make([][]float32, len(points))
	for i, p := range points {
		c := centroids[clustering.Assign(centroids, p)]
		r := make([]float32, len(p))
		for d := range p {
			r[d] = p[d] - c[d]
		}
		out[i] = r
	}
	return out
}

func (idx *Index) pushCoarseCentroids(centroids [][]float32) error {
	flat := flattenRows(centroids)
	return forEachDevice(len(idx.nodes), func(i int) error {
		n := idx.nodes[i]
		_, err := n.sess.SendAndReceive(proto.IndexIVFUpdateCoarseCent, &proto.Request{
			Handle: n.handle, NList: uint32(idx.cfg.NList), Dim: uint32(idx.cfg.Dim), Vectors: flat,
		})
		return err
	})
}

// pushPQCentroids flattens [sub][code][subdim] sub-major, matching the
// daemon's IndexIVFPQUpdatePQCent reconstruction order.
func (idx *Index) pushPQCentroids(pq *quant.PQ) error {
	var flat []float32
	for _, sub := range pq.Centroids {
		for _, code := range sub {
			flat = append(flat, code...)
		}
	}
	return forEachDevice(len(idx.nodes), func(i int) error {
		n := idx.nodes[i]
		_, err := n.sess.SendAndReceive(proto.IndexIVFPQUpdatePQCent, &proto.Request{
			Handle: n.handle, Dim: uint32(idx.cfg.Dim), M: uint32(idx.cfg.M), Bits: uint32(idx.cfg.Bits), Vectors: flat,
		})
		return err
	})
}

func (idx *Index) pushSQTrainedValue(sq *quant.SQ) error {
	flat := make([]float32, 0, 2*idx.cfg.Dim)
	flat = append(flat, sq.Vmin...)
	flat = append(flat, sq.Vdiff...)
	cmd := proto.IndexSQUpdateTrainedValue
	if idx.cfg.Kind == KindInt8IVFSQ {
		cmd = proto.IndexInt8SQUpdateTrainedValue
	}
	return forEachDevice(len(idx.nodes), func(i int) error {
		n := idx.nodes[i]
		_, err := n.sess.SendAndReceive(cmd, &proto.Request{
			Handle: n.handle, Dim: uint32(idx.cfg.Dim), Vectors: flat,
		})
		return err
	})
}

// Add places vectors round-robin across devices and derives every
// external id as cmn.EncodeID(device, localPos), uniformly across all
// Kinds (spec §4.5/§4.4.1's explicit-id families and Flat's positional
// ids both collapse to the same host-assigned scheme).
func (idx *Index) Add(vectors [][]float32) ([]uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := len(idx.nodes)
	ids := make([]uint64, len(vectors))
	byDevice := make([][]float32, n)
	byDeviceIds := make([][]uint64, n)
	for i, v := range vectors {
		d := int(idx.rr % uint64(n))
		idx.rr++
		pos := idx.nodes[d].ntotal
		idx.nodes[d].ntotal++
		id := cmn.EncodeID(idx.nodes[d].spec.Device, pos)
		ids[i] = id
		byDevice[d] = append(byDevice[d], v...)
		byDeviceIds[d] = append(byDeviceIds[d], id)
	}

	cmd := addCmd(idx.cfg.Kind)
	err := forEachDevice(n, func(i int) error {
		if len(byDeviceIds[i]) == 0 {
			return nil
		}
		node := idx.nodes[i]
		_, err := node.sess.SendAndReceive(cmd, &proto.Request{
			Handle: node.handle, Dim: uint32(idx.cfg.Dim),
			N: uint32(len(byDeviceIds[i])), Vectors: byDevice[i], Ids: byDeviceIds[i],
		})
		if idx.Stats != nil {
			dev := strconv.Itoa(node.spec.Device)
			if err != nil {
				idx.Stats.ObserveError(dev, "add")
			} else {
				idx.Stats.ObserveAdd(dev, len(byDeviceIds[i]))
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	idx.state = Populated
	return ids, nil
}

// Search broadcasts the whole query batch to every device (vectors are
// sharded, so every shard must be probed) and merges each query's
// per-device top-k into one global top-k.
func (idx *Index) Search(queries [][]float32, k int) ([][]uint64, [][]float32, error) {
	idx.mu.Lock()
	n := len(idx.nodes)
	dim := idx.cfg.Dim
	flat := flattenRows(queries)
	cmd := idx.cfg.searchCmd()
	nodes := idx.nodes
	idx.mu.Unlock()

	hostStats := idx.Stats
	resps, err := mapEachDevice(n, func(i int) (*proto.Response, error) {
		resp, err := nodes[i].sess.SendAndReceive(cmd, &proto.Request{
			Handle: nodes[i].handle, Dim: uint32(dim),
			N: uint32(len(queries)), K: uint32(k), Vectors: flat,
		})
		if hostStats != nil {
			dev := strconv.Itoa(nodes[i].spec.Device)
			if err != nil {
				hostStats.ObserveError(dev, "search")
			} else {
				hostStats.ObserveSearch(dev, len(queries))
			}
		}
		return resp, err
	})
	if err != nil {
		return nil, nil, err
	}

	// Each device's Ids/Distances are a ragged concatenation, one row
	// per query capped at min(k, candidates) rather than a fixed k
	// stride (daemon kernels short-row whenever ntotal or a probed
	// list has fewer than k candidates); Counts carries each row's
	// length so queries after a short one don't misalign.
	offsets := make([][]int, len(resps))
	for ri, r := range resps {
		offs := make([]int, len(queries)+1)
		for qi, c := range r.Counts {
			offs[qi+1] = offs[qi] + int(c)
		}
		offsets[ri] = offs
	}

	outIds := make([][]uint64, len(queries))
	outDists := make([][]float32, len(queries))
	for qi := range queries {
		var cands []candidate
		for ri, r := range resps {
			lo, hi := offsets[ri][qi], offsets[ri][qi+1]
			ids := r.Ids[lo:hi]
			dists := r.Distances[lo:hi]
			for j := range ids {
				cands = append(cands, candidate{id: ids[j], dist: dists[j]})
			}
		}
		outIds[qi], outDists[qi] = mergeTopK(cands, k, idx.cfg.Metric)
	}
	return outIds, outDists, nil
}

type candidate struct {
	id   uint64
	dist float32
}

// mergeTopK keeps the k best candidates, ascending for L2 and
// descending for inner product / cosine, mirroring the daemon's own
// per-list merge (daemon.mergeTopK).
func mergeTopK(cands []candidate, k int, metric daemon.Metric) ([]uint64, []float32) {
	better := func(a, b float32) bool { return a < b }
	if metric == daemon.InnerProductMetric {
		better = func(a, b float32) bool { return a > b }
	}
	for i := 1; i < len(cands); i++ {
		c := cands[i]
		j := i - 1
		for j >= 0 && better(c.dist, cands[j].dist) {
			cands[j+1] = cands[j]
			j--
		}
		cands[j+1] = c
	}
	if len(cands) > k {
		cands = cands[:k]
	}
	ids := make([]uint64, len(cands))
	dists := make([]float32, len(cands))
	for i, c := range cands {
		ids[i] = c.id
		dists[i] = c.dist
	}
	return ids, dists
}

// RemoveIds routes each id to the device cmn.DecodeID recovers it from,
// batching per device before issuing one IndexRemoveIds RPC each.
func (idx *Index) RemoveIds(ids []uint64) (int, error) {
	idx.mu.Lock()
	n := len(idx.nodes)
	nodes := idx.nodes
	idx.mu.Unlock()

	byDevicePos := make(map[int][]uint64, n)
	for _, id := range ids {
		device, _ := cmn.DecodeID(id)
		byDevicePos[device] = append(byDevicePos[device], id)
	}
	deviceOf := make(map[int]int, n)
	for i, nd := range nodes {
		deviceOf[nd.spec.Device] = i
	}

	counts, err := mapEachDevice(n, func(i int) (int, error) {
		node := nodes[i]
		batch := byDevicePos[node.spec.Device]
		if len(batch) == 0 {
			return 0, nil
		}
		resp, err := node.sess.SendAndReceive(proto.IndexRemoveIds, &proto.Request{
			Handle: node.handle, Ids: batch,
		})
		if err != nil {
			if idx.Stats != nil {
				idx.Stats.ObserveError(strconv.Itoa(node.spec.Device), "remove")
			}
			return 0, err
		}
		if idx.Stats != nil {
			idx.Stats.ObserveRemove(strconv.Itoa(node.spec.Device), int(resp.N))
		}
		return int(resp.N), nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// RemoveRangeIds broadcasts a contiguous [lo, hi) range to every device,
// since a range can straddle multiple devices' id spaces.
func (idx *Index) RemoveRangeIds(lo, hi uint64) (int, error) {
	idx.mu.Lock()
	n := len(idx.nodes)
	nodes := idx.nodes
	idx.mu.Unlock()

	counts, err := mapEachDevice(n, func(i int) (int, error) {
		resp, err := nodes[i].sess.SendAndReceive(proto.IndexRemoveRangeIds, &proto.Request{
			Handle: nodes[i].handle, RangeLo: lo, RangeHi: hi,
		})
		if err != nil {
			return 0, err
		}
		return int(resp.N), nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Reset clears every device's index in place; the host keeps its
// Trained state (coarse/PQ/SQ training survives a reset per spec §4.8).
func (idx *Index) Reset() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	err := forEachDevice(len(idx.nodes), func(i int) error {
		node := idx.nodes[i]
		_, err := node.sess.SendAndReceive(proto.IndexReset, &proto.Request{Handle: node.handle})
		return err
	})
	if err != nil {
		return err
	}
	for _, n := range idx.nodes {
		n.ntotal = 0
	}
	if idx.state == Populated {
		idx.state = Trained
	}
	return nil
}

func (idx *Index) ReserveMemory(listID, n int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cmd := idx.cfg.reserveCmd()
	return forEachDevice(len(idx.nodes), func(i int) error {
		node := idx.nodes[i]
		_, err := node.sess.SendAndReceive(cmd, &proto.Request{
			Handle: node.handle, ListID: uint32(listID), N: uint32(n),
		})
		return err
	})
}

func (idx *Index) ReclaimMemory(listID int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cmd := idx.cfg.reclaimCmd()
	return forEachDevice(len(idx.nodes), func(i int) error {
		node := idx.nodes[i]
		_, err := node.sess.SendAndReceive(cmd, &proto.Request{
			Handle: node.handle, ListID: uint32(listID),
		})
		return err
	})
}

// Ntotal sums each device's reported base size.
func (idx *Index) Ntotal() (int, error) {
	idx.mu.Lock()
	n := len(idx.nodes)
	nodes := idx.nodes
	idx.mu.Unlock()

	cmd := proto.IndexFlatGetBaseSize
	switch idx.cfg.Kind {
	case KindInt8Flat, KindInt8IVFFlat, KindInt8IVFSQ:
		cmd = proto.IndexInt8FlatGetBaseSize
	case KindSQ:
		cmd = proto.IndexSQGetBaseSize
	}
	counts, err := mapEachDevice(n, func(i int) (int, error) {
		resp, err := nodes[i].sess.SendAndReceive(cmd, &proto.Request{Handle: nodes[i].handle})
		if err != nil {
			return 0, err
		}
		return int(resp.N), nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Close releases every device session, decrementing the registry's ref
// count (spec §4.8: Closed is terminal).
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var firstErr error
	for _, n := range idx.nodes {
		if n.ctxID != 0 {
			n.sess.SendAndReceive(proto.DestroyContext, &proto.Request{ContextID: n.ctxID})
		}
		if err := idx.reg.Release(n.spec.Addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	idx.state = Closed
	return firstErr
}

func flattenRows(rows [][]float32) []float32 {
	var out []float32
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
