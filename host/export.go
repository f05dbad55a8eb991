package host

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/proto"
	"github.com/ascend-vs/annserve/quant"
)

// TrainedSnapshot is a JSON-serializable copy of everything Train
// computed, independent of the live RPC session: coarse centroids, PQ
// or SQ tables, and the first device's (nodes[0]) per-list lengths at
// export time; other devices' lists are not queried
// (spec [SUPPLEMENT] Export/import parity, following original_source's
// AscendIndexIVF copy-to/copy-from-CPU pattern).
type TrainedSnapshot struct {
	Kind      Kind
	Dim       int
	NList     int
	Centroids [][]float32      `json:",omitempty"`
	PQ        *quant.PQ        `json:",omitempty"`
	SQ        *quant.SQ        `json:",omitempty"`
	ListLens  []int            `json:",omitempty"`
}

// ExportTrained snapshots this index's trained state. Only meaningful
// after Train; Flat/Int8Flat indexes export an empty snapshot since
// they carry no trained state.
func (idx *Index) ExportTrained() (*TrainedSnapshot, error) {
	idx.mu.Lock()
	snap := &TrainedSnapshot{
		Kind:      idx.cfg.Kind,
		Dim:       idx.cfg.Dim,
		NList:     idx.cfg.NList,
		Centroids: idx.trainedCentroids,
		PQ:        idx.trainedPQ,
		SQ:        idx.trainedSQ,
	}
	isIVF := idx.cfg.Kind.isIVF()
	node := idx.nodes[0]
	nlist := idx.cfg.NList
	idx.mu.Unlock()

	if !isIVF || nlist == 0 {
		return snap, nil
	}
	lens := make([]int, nlist)
	for l := 0; l < nlist; l++ {
		resp, err := node.sess.SendAndReceive(proto.IndexIVFGetListLength, &proto.Request{
			Handle: node.handle, ListID: uint32(l),
		})
		if err != nil {
			return nil, err
		}
		lens[l] = int(resp.ListLength)
	}
	snap.ListLens = lens
	return snap, nil
}

// ImportTrained pushes a previously exported snapshot to every device
// and marks the index Trained, skipping the host-side k-means/PQ/SQ
// training pass Train would otherwise run.
func (idx *Index) ImportTrained(snap *TrainedSnapshot) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(snap.Centroids) > 0 {
		idx.trainedCentroids = snap.Centroids
		if err := idx.pushCoarseCentroids(snap.Centroids); err != nil {
			return err
		}
	}
	if snap.PQ != nil {
		idx.trainedPQ = snap.PQ
		if err := idx.pushPQCentroids(snap.PQ); err != nil {
			return err
		}
	}
	if snap.SQ != nil {
		idx.trainedSQ = snap.SQ
		if err := idx.pushSQTrainedValue(snap.SQ); err != nil {
			return err
		}
	}
	idx.state = Trained
	return nil
}

// GetBaseSQ fetches every vector this SQ-family device holds,
// reconstructed from its scalar-quantized codes, over the bulk
// fast-recv side channel (spec §6 IndexSQFastGetBase) rather than the
// ordinary request/response envelope.
func (idx *Index) GetBaseSQ(nodeIndex int) ([][]float32, error) {
	idx.mu.Lock()
	if nodeIndex < 0 || nodeIndex >= len(idx.nodes) {
		idx.mu.Unlock()
		return nil, cmn.NewErrf("host.Index.GetBaseSQ", cmn.Precondition, -1, "node %d out of range", nodeIndex)
	}
	node := idx.nodes[nodeIndex]
	dim := idx.cfg.Dim
	idx.mu.Unlock()

	vectors, _, _, err := node.sess.FastRecvExport(proto.IndexSQFastGetBase, &proto.Request{Handle: node.handle})
	if err != nil {
		return nil, err
	}
	return splitRows(vectors, dim), nil
}

// GetListCodesAndIds fetches one coarse list's raw codes and external
// ids from one device over the bulk fast-recv side channel (spec §4.1/
// §8 "id-set round trip via getListCodesAndIds"), rather than the
// ordinary request/response envelope that IndexIVFGetListCodes uses
// for small lists.
func (idx *Index) GetListCodesAndIds(nodeIndex, listID int) (codes []byte, ids []uint64, err error) {
	idx.mu.Lock()
	if !idx.cfg.Kind.isIVF() {
		idx.mu.Unlock()
		return nil, nil, cmn.NewErrf("host.Index.GetListCodesAndIds", cmn.Precondition, -1, "kind %s is not IVF", idx.cfg.Kind)
	}
	if nodeIndex < 0 || nodeIndex >= len(idx.nodes) {
		idx.mu.Unlock()
		return nil, nil, cmn.NewErrf("host.Index.GetListCodesAndIds", cmn.Precondition, -1, "node %d out of range", nodeIndex)
	}
	node := idx.nodes[nodeIndex]
	idx.mu.Unlock()

	_, codes, ids, err = node.sess.FastRecvExport(proto.IndexIVFFastGetListCodes, &proto.Request{
		Handle: node.handle, ListID: uint32(listID),
	})
	return codes, ids, err
}

func splitRows(flat []float32, dim int) [][]float32 {
	if dim == 0 {
		return nil
	}
	rows := make([][]float32, len(flat)/dim)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim]
	}
	return rows
}

var snapshotJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON/UnmarshalJSON route through json-iterator like Config,
// keeping the snapshot on the same JSON codec the rest of host uses.
func (s *TrainedSnapshot) MarshalJSON() ([]byte, error) {
	type alias TrainedSnapshot
	return snapshotJSON.Marshal((*alias)(s))
}

func (s *TrainedSnapshot) UnmarshalJSON(b []byte) error {
	type alias TrainedSnapshot
	return snapshotJSON.Unmarshal(b, (*alias)(s))
}
