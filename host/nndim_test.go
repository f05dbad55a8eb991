package host_test

import (
	"testing"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/host"
)

// TestNNDimReductionInferTruncatesToOutputWidth exercises the
// dim-reduction adapter's identity stand-in (spec §4.4.4): with
// dimOut < dimIn, each output row is the input row truncated to
// dimOut components.
func TestNNDimReductionInferTruncatesToOutputWidth(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()

	m, err := host.NewNNDimReduction(
		[]host.DeviceSpec{{Addr: addr, Device: 0}},
		4, 2, 8, 0, reg,
	)
	if err != nil {
		t.Fatalf("NewNNDimReduction: %v", err)
	}
	defer m.Close()

	rows := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	out, err := m.Infer(0, rows)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d output rows, want 2", len(out))
	}
	want := [][]float32{{1, 2}, {5, 6}}
	for i, row := range out {
		if len(row) != 2 || row[0] != want[i][0] || row[1] != want[i][1] {
			t.Fatalf("row %d = %v, want %v", i, row, want[i])
		}
	}
}

// TestNNDimReductionUnknownDeviceReturnsNil covers the lookup-miss
// path: Infer against a device the model wasn't created on.
func TestNNDimReductionUnknownDeviceReturnsNil(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	m, err := host.NewNNDimReduction(
		[]host.DeviceSpec{{Addr: addr, Device: 0}},
		2, 2, 4, 0, reg,
	)
	if err != nil {
		t.Fatalf("NewNNDimReduction: %v", err)
	}
	defer m.Close()

	out, err := m.Infer(99, [][]float32{{1, 1}})
	if err != nil {
		t.Fatalf("Infer on unknown device returned error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil result for unknown device, got %v", out)
	}
}
