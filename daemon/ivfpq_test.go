package daemon_test

import (
	"testing"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/quant"
)

func TestIVFPQTrainAddSearchNtotal(t *testing.T) {
	const dim, m, bits = 4, 2, 4
	x := daemon.NewIVFPQIndex(0, dim, 1, 1, m, bits, daemon.L2)
	x.UpdateCoarseCent([][]float32{{0, 0, 0, 0}})

	points := make([][]float32, 32)
	for i := range points {
		points[i] = []float32{float32(i % 3), float32(i % 5), float32(i % 2), float32(i % 4)}
	}
	pq := quant.TrainPQ(points, dim, m, bits, 1)
	x.UpdatePQCent(pq.Centroids)
	if !x.IsTrained() {
		t.Fatalf("index not trained after coarse+PQ centroid push")
	}

	ids := make([]uint64, len(points))
	for i := range ids {
		ids[i] = cmn.EncodeID(0, i)
	}
	if err := x.Add(flatten(points), ids); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := x.Ntotal(); n != len(points) {
		t.Fatalf("Ntotal = %d, want %d", n, len(points))
	}

	gotIds, _ := x.Search(flatten([][]float32{points[0]}), 1, 1)
	if len(gotIds[0]) != 1 {
		t.Fatalf("expected 1 result, got %d", len(gotIds[0]))
	}
}

func TestIVFSQTrainAddSearchRoundTrip(t *testing.T) {
	const dim, bits = 2, 8
	x := daemon.NewIVFSQIndex(0, dim, 1, 1, bits, daemon.L2)
	x.UpdateCoarseCent([][]float32{{0, 0}})

	points := [][]float32{{0, 0}, {1, 2}, {2, 4}, {0.5, 1}}
	sq := quant.TrainSQ(points, dim, bits)
	x.UpdateSQTrainedValue(sq.Vmin, sq.Vdiff)
	if !x.IsTrained() {
		t.Fatalf("index not trained after coarse+SQ push")
	}

	ids := []uint64{cmn.EncodeID(0, 0), cmn.EncodeID(0, 1), cmn.EncodeID(0, 2), cmn.EncodeID(0, 3)}
	if err := x.Add(flatten(points), ids); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := x.Ntotal(); n != 4 {
		t.Fatalf("Ntotal = %d, want 4", n)
	}

	gotIds, _ := x.Search(flatten([][]float32{{1, 2}}), 1, 1)
	if gotIds[0][0] != ids[1] {
		t.Fatalf("nearest-neighbor id = %d, want %d", gotIds[0][0], ids[1])
	}
}
