package host_test

import (
	"encoding/json"
	"testing"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/host"
)

// TestExportImportTrainedParity is the §8 "copyTo/copyFrom parity"
// property: training one index, exporting its trained state, and
// importing it into a second freshly-created index on another device
// reproduces equivalent search behavior.
func TestExportImportTrainedParity(t *testing.T) {
	addrA := startDaemon(t, 0)
	addrB := startDaemon(t, 1)
	reg := client.NewRegistry()

	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addrA, Device: 0}},
		Kind:    host.KindIVFFlat,
		Dim:     2,
		NList:   2,
		NProbe:  2,
		Metric:  daemon.L2,
	}
	src, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex src: %v", err)
	}
	defer src.Close()

	points := [][]float32{{0, 0}, {1, 1}, {50, 50}, {51, 51}}
	if err := src.Train(points); err != nil {
		t.Fatalf("Train: %v", err)
	}

	snap, err := src.ExportTrained()
	if err != nil {
		t.Fatalf("ExportTrained: %v", err)
	}
	if len(snap.Centroids) != 2 {
		t.Fatalf("exported %d centroids, want 2", len(snap.Centroids))
	}

	// round-trip through JSON, as a caller persisting the snapshot would
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var reloaded host.TrainedSnapshot
	if err := json.Unmarshal(raw, &reloaded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	dstCfg := cfg
	dstCfg.Devices = []host.DeviceSpec{{Addr: addrB, Device: 1}}
	dst, err := host.NewIndex(dstCfg, reg)
	if err != nil {
		t.Fatalf("NewIndex dst: %v", err)
	}
	defer dst.Close()

	if err := dst.ImportTrained(&reloaded); err != nil {
		t.Fatalf("ImportTrained: %v", err)
	}

	ids, err := dst.Add([][]float32{{0, 0}, {50, 50}})
	if err != nil {
		t.Fatalf("Add to imported index: %v", err)
	}
	gotIds, _, err := dst.Search([][]float32{{0, 0}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotIds[0][0] != ids[0] {
		t.Fatalf("imported index search mismatch: got %d, want %d", gotIds[0][0], ids[0])
	}
}
