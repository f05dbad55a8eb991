package daemon

import "github.com/ascend-vs/annserve/cmn"

// ivfList is one coarse-centroid bucket: parallel code and id stores,
// always the same length (spec §3 invariant sum_i|L_i| == ntotal).
type ivfList struct {
	codes *DeviceVector
	ids   *DeviceVector // elemSize 8 (uint64), stored verbatim (spec §3: "IVF accepts user ids and stores them verbatim")
}

func newIVFList(codeSize int) *ivfList {
	return &ivfList{codes: NewDeviceVector(codeSize), ids: NewDeviceVector(8)}
}

func (l *ivfList) len() int { return l.ids.Len() }

func (l *ivfList) idsSlice() []uint64 {
	raw := l.ids.Bytes()
	out := make([]uint64, l.len())
	for i := range out {
		out[i] = le64(raw[i*8 : i*8+8])
	}
	return out
}

func (l *ivfList) codeAt(i, codeSize int) []byte {
	raw := l.codes.Bytes()
	return raw[i*codeSize : (i+1)*codeSize]
}

func (l *ivfList) append(codes []byte, ids []uint64) {
	l.codes.Append(codes)
	idBuf := make([]byte, len(ids)*8)
	for i, id := range ids {
		put64(idBuf[i*8:], id)
	}
	l.ids.Append(idBuf)
}

// removeBySelector compacts l in place, dropping entries whose id
// matches sel; returns the number removed.
func (l *ivfList) removeBySelector(sel Selector, codeSize int) int {
	n := l.len()
	idRaw, codeRaw := l.ids.Bytes(), l.codes.Bytes()
	keptIds := make([]byte, 0, len(idRaw))
	keptCodes := make([]byte, 0, len(codeRaw))
	removed := 0
	for p := 0; p < n; p++ {
		id := le64(idRaw[p*8 : p*8+8])
		if sel.Select(id) {
			removed++
			continue
		}
		keptIds = append(keptIds, idRaw[p*8:(p+1)*8]...)
		keptCodes = append(keptCodes, codeRaw[p*codeSize:(p+1)*codeSize]...)
	}
	l.ids.Reset()
	l.ids.Append(keptIds)
	l.codes.Reset()
	l.codes.Append(keptCodes)
	return removed
}

// ivfBase is the shared inverted-file machinery common to IVF-Flat,
// IVF-PQ, and IVF-SQ (and their int8 twins): coarse centroids, per-list
// storage, the coarse (L1) top-nprobe stage, and maintenance RPC
// bodies. Concrete kernels embed it and supply their own code
// size/encode/decode/fine-distance.
type ivfBase struct {
	device   int
	dim      int
	nlist    int
	nprobe   int
	metric   Metric
	codeSize int

	centroids [][]float32
	trained   bool
	lists     []*ivfList
}

func newIVFBase(device, dim, nlist, nprobe, codeSize int, metric Metric) *ivfBase {
	lists := make([]*ivfList, nlist)
	for i := range lists {
		lists[i] = newIVFList(codeSize)
	}
	np := nprobe
	if np > nlist {
		np = nlist
	}
	if np > MaxKSelection {
		np = MaxKSelection
	}
	return &ivfBase{device: device, dim: dim, nlist: nlist, nprobe: np, metric: metric, codeSize: codeSize, lists: lists}
}

func (b *ivfBase) Dim() int    { return b.dim }
func (b *ivfBase) Nlist() int  { return b.nlist }
func (b *ivfBase) NProbe() int { return b.nprobe }

// SetNProbe applies the auto-tune knob, capped per §4.7/§9.
func (b *ivfBase) SetNProbe(n int) {
	if n > b.nlist {
		n = b.nlist
	}
	if n > MaxKSelection {
		n = MaxKSelection
	}
	if n < 1 {
		n = 1
	}
	b.nprobe = n
}

func (b *ivfBase) Ntotal() int {
	total := 0
	for _, l := range b.lists {
		total += l.len()
	}
	return total
}

// UpdateCoarseCent replaces the coarse centroid matrix (host push after
// training, spec §4.5/§6 IndexIVFUpdateCoarseCent).
func (b *ivfBase) UpdateCoarseCent(centroids [][]float32) {
	b.centroids = centroids
	b.trained = true
}

// assign returns the coarse list nearest to v under b.metric.
func (b *ivfBase) assign(v []float32) int {
	best, bestD := 0, float32(0)
	init := false
	for i, c := range b.centroids {
		var d float32
		if b.metric == InnerProductMetric {
			d = -InnerProduct(c, v)
		} else {
			d = L2Sq(c, v)
		}
		if !init || d < bestD {
			bestD, best, init = d, i, true
		}
	}
	return best
}

// coarseTopNProbe is the L1 stage: distance from q to every coarse
// centroid, keep the nprobe nearest list ids (spec §4.4.2).
func (b *ivfBase) coarseTopNProbe(q []float32) []int {
	dist := make([]float32, len(b.centroids))
	for i, c := range b.centroids {
		if b.metric == InnerProductMetric {
			dist[i] = -InnerProduct(c, q)
		} else {
			dist[i] = L2Sq(c, q)
		}
	}
	labels, _ := TopK(dist, b.nprobe)
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = int(l)
	}
	return out
}

func (b *ivfBase) GetListLength(listID int) int {
	if listID < 0 || listID >= len(b.lists) {
		return 0
	}
	return b.lists[listID].len()
}

func (b *ivfBase) GetListIds(listID int) []uint64 {
	if listID < 0 || listID >= len(b.lists) {
		return nil
	}
	return b.lists[listID].idsSlice()
}

func (b *ivfBase) Reset() {
	for _, l := range b.lists {
		l.codes.Reset()
		l.ids.Reset()
	}
}

// removeIds scans every list for sel matches, compacting in place
// (spec §4.4.2 Remove).
func (b *ivfBase) removeIds(sel Selector) int {
	removed := 0
	for _, l := range b.lists {
		removed += l.removeBySelector(sel, b.codeSize)
	}
	return removed
}

// ReserveMemory/ReclaimMemory implement the Kernel interface's
// per-list reserve/reclaim (spec §6 IndexReserveMem/IndexReclaimMem).
func (b *ivfBase) ReserveMemory(listID, n int) error {
	if listID < 0 || listID >= len(b.lists) {
		return cmn.NewErrf("daemon.ivfBase.ReserveMemory", cmn.Precondition, b.device, "list %d out of range", listID)
	}
	b.lists[listID].codes.Reserve(n)
	b.lists[listID].ids.Reserve(n)
	return nil
}

func (b *ivfBase) ReclaimMemory(listID int) error {
	if listID < 0 || listID >= len(b.lists) {
		return cmn.NewErrf("daemon.ivfBase.ReclaimMemory", cmn.Precondition, b.device, "list %d out of range", listID)
	}
	b.lists[listID].codes.ReclaimExact()
	b.lists[listID].ids.ReclaimExact()
	return nil
}

// RemoveIds implements the Kernel interface across every list.
func (b *ivfBase) RemoveIds(sel Selector) int { return b.removeIds(sel) }

// addVectors appends pre-encoded codes/ids to one list (spec §6
// IndexIVFPQAdd/IndexIVFSQAdd/IndexIVFFlatAdd RPC body).
func (b *ivfBase) addVectors(listID int, codes []byte, ids []uint64) {
	b.lists[listID].append(codes, ids)
}

// mergeCandidate is one (id, distance) pair gathered from a probed
// list during the fine stage.
type mergeCandidate struct {
	id   uint64
	dist float32
}

// mergeTopK keeps the k best candidates ascending by distance (L2) or
// descending (inner product/cosine, via pre-negated dist), tie-broken
// by the order candidates were appended (matching per-list insertion
// order, spec §5 "stable tie-break by position").
func mergeTopK(cands []mergeCandidate, k int) (ids []uint64, dists []float32) {
	if k <= 0 || len(cands) == 0 {
		return nil, nil
	}
	if k > len(cands) {
		k = len(cands)
	}
	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}
	insertionSort(idx, cands)
	ids = make([]uint64, k)
	dists = make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = cands[idx[i]].id
		dists[i] = cands[idx[i]].dist
	}
	return ids, dists
}

// insertionSort orders idx by cands[idx[i]].dist ascending, stable.
// Candidate counts per query (nprobe * average list length) are small
// enough that an O(n^2) stable sort is not a real cost versus the
// extra indirection of sort.SliceStable for this hot path.
func insertionSort(idx []int, cands []mergeCandidate) {
	for i := 1; i < len(idx); i++ {
		j := i
		for j > 0 && cands[idx[j]].dist < cands[idx[j-1]].dist {
			idx[j], idx[j-1] = idx[j-1], idx[j]
			j--
		}
	}
}
