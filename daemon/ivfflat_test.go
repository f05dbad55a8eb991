package daemon_test

import (
	"testing"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/daemon"
)

func TestIVFFlatTrainAddSearch(t *testing.T) {
	x := daemon.NewIVFFlatIndex(0, 2, 2, 2, daemon.L2)
	if x.IsTrained() {
		t.Fatalf("fresh index reports trained")
	}
	x.UpdateCoarseCent([][]float32{{0, 0}, {100, 100}})
	if !x.IsTrained() {
		t.Fatalf("index not trained after UpdateCoarseCent")
	}

	vectors := [][]float32{{0, 1}, {1, 0}, {99, 100}, {100, 99}}
	ids := []uint64{
		cmn.EncodeID(0, 0), cmn.EncodeID(0, 1),
		cmn.EncodeID(0, 2), cmn.EncodeID(0, 3),
	}
	if err := x.Add(flatten(vectors), ids); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := x.Ntotal(); n != 4 {
		t.Fatalf("Ntotal = %d, want 4", n)
	}

	gotIds, _ := x.Search(flatten([][]float32{{0, 0}}), 1, 2)
	if len(gotIds[0]) != 2 {
		t.Fatalf("expected 2 results, got %d", len(gotIds[0]))
	}
	for _, id := range gotIds[0] {
		if id != ids[0] && id != ids[1] {
			t.Fatalf("query near origin returned far id %d", id)
		}
	}
}

func TestIVFFlatAddBeforeTrainFails(t *testing.T) {
	x := daemon.NewIVFFlatIndex(0, 2, 1, 1, daemon.L2)
	err := x.Add(flatten([][]float32{{1, 1}}), []uint64{cmn.EncodeID(0, 0)})
	if err == nil {
		t.Fatalf("expected error adding before train")
	}
}

func TestIVFFlatRemoveRangeExcludesFromSearch(t *testing.T) {
	x := daemon.NewIVFFlatIndex(0, 2, 1, 1, daemon.L2)
	x.UpdateCoarseCent([][]float32{{0, 0}})

	ids := []uint64{cmn.EncodeID(0, 10), cmn.EncodeID(0, 11), cmn.EncodeID(0, 12)}
	vectors := [][]float32{{1, 1}, {2, 2}, {3, 3}}
	if err := x.Add(flatten(vectors), ids); err != nil {
		t.Fatalf("Add: %v", err)
	}

	removed := x.RemoveIds(daemon.RangeSelector{Lo: ids[1], Hi: ids[1] + 1})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if n := x.Ntotal(); n != 2 {
		t.Fatalf("Ntotal after range remove = %d, want 2", n)
	}

	gotIds, _ := x.Search(flatten([][]float32{{2, 2}}), 1, 3)
	for _, id := range gotIds[0] {
		if id == ids[1] {
			t.Fatalf("range-removed id %d still present", id)
		}
	}
}

func TestIVFFlatResetClearsListsNotTraining(t *testing.T) {
	x := daemon.NewIVFFlatIndex(0, 2, 1, 1, daemon.L2)
	x.UpdateCoarseCent([][]float32{{0, 0}})
	if err := x.Add(flatten([][]float32{{1, 1}}), []uint64{cmn.EncodeID(0, 0)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	x.Reset()
	if n := x.Ntotal(); n != 0 {
		t.Fatalf("Ntotal after Reset = %d, want 0", n)
	}
	if !x.IsTrained() {
		t.Fatalf("Reset must not clear training state (coarse centroids survive, spec §4.8)")
	}
}
