package host_test

import (
	"testing"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/host"
)

// TestPreTransformIdentityPrependPreservesSearch wraps a Flat inner
// index with an identity 2x2 transform and checks Add/Search still
// find the same nearest neighbor, exercising the chain-dimension
// contract on Prepend (spec §4.4.3).
func TestPreTransformIdentityPrependPreservesSearch(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindFlat,
		Dim:     2,
		Metric:  daemon.L2,
	}
	pt, err := host.NewPreTransform(cfg, 2, reg)
	if err != nil {
		t.Fatalf("NewPreTransform: %v", err)
	}
	defer pt.Close()

	identity := []float32{1, 0, 0, 1}
	if err := pt.Prepend(2, identity, nil); err != nil {
		t.Fatalf("Prepend: %v", err)
	}

	ids, err := pt.Add([][]float32{{3, 4}, {-3, -4}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	gotIds, _, err := pt.Search([][]float32{{3, 4}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotIds[0][0] != ids[0] {
		t.Fatalf("identity-transformed self-match id = %d, want %d", gotIds[0][0], ids[0])
	}
}
