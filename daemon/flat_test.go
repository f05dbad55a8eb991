package daemon_test

import (
	"testing"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/daemon"
)

func flatten(rows [][]float32) []float32 {
	var out []float32
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func TestFlatIndexAddSearchFindsSelf(t *testing.T) {
	f := daemon.NewFlatIndex(0, 4, daemon.L2, nil)
	rows := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	ids := []uint64{0, 0, 0, 0} // Flat ignores ids; auto-ids from position
	if err := f.Add(flatten(rows), ids); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := f.Ntotal(); n != 4 {
		t.Fatalf("Ntotal = %d, want 4", n)
	}

	queries := flatten([][]float32{{1, 0, 0, 0}})
	gotIds, gotDists := f.Search(queries, 1, 1)
	if len(gotIds) != 1 || len(gotIds[0]) != 1 {
		t.Fatalf("unexpected result shape: %#v", gotIds)
	}
	wantID := cmn.EncodeID(0, 0)
	if gotIds[0][0] != wantID {
		t.Fatalf("self-match id = %d, want %d", gotIds[0][0], wantID)
	}
	if gotDists[0][0] > 0.01 {
		t.Fatalf("self-match distance = %v, want ~0", gotDists[0][0])
	}
}

func TestFlatIndexRemoveIdsExcludesFromSearch(t *testing.T) {
	f := daemon.NewFlatIndex(0, 2, daemon.L2, nil)
	rows := [][]float32{{0, 0}, {10, 10}, {20, 20}}
	if err := f.Add(flatten(rows), make([]uint64, 3)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	removeID := cmn.EncodeID(0, 1) // the {10,10} row
	removed := f.RemoveIds(daemon.NewBatchSelector([]uint64{removeID}))
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if n := f.Ntotal(); n != 2 {
		t.Fatalf("Ntotal after remove = %d, want 2", n)
	}

	ids, _ := f.Search(flatten([][]float32{{10, 10}}), 1, 3)
	for _, id := range ids[0] {
		if id == removeID {
			t.Fatalf("removed id %d still present in search results", removeID)
		}
	}
}

func TestFlatIndexResetIsIdempotentWithAdd(t *testing.T) {
	f := daemon.NewFlatIndex(0, 2, daemon.L2, nil)
	if err := f.Add(flatten([][]float32{{1, 1}}), make([]uint64, 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.Reset()
	if n := f.Ntotal(); n != 0 {
		t.Fatalf("Ntotal after Reset = %d, want 0", n)
	}
	if err := f.Add(flatten([][]float32{{2, 2}, {3, 3}}), make([]uint64, 2)); err != nil {
		t.Fatalf("Add after reset: %v", err)
	}
	if n := f.Ntotal(); n != 2 {
		t.Fatalf("Ntotal after reset+add = %d, want 2", n)
	}
}

func TestInt8FlatCosineSelfMatch(t *testing.T) {
	f := daemon.NewInt8FlatIndex(0, 4, daemon.InnerProductMetric)
	rows := [][]float32{
		{1, 2, 3, 4},
		{-1, -2, -3, -4},
	}
	ids := []uint64{cmn.EncodeID(0, 100), cmn.EncodeID(0, 101)}
	if err := f.Add(flatten(rows), ids); err != nil {
		t.Fatalf("Add: %v", err)
	}
	gotIds, _ := f.Search(flatten([][]float32{rows[0]}), 1, 1)
	if gotIds[0][0] != ids[0] {
		t.Fatalf("cosine self-match id = %d, want %d", gotIds[0][0], ids[0])
	}
}
