package host_test

import (
	"net"
	"testing"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/host"
	"github.com/ascend-vs/annserve/proto"
)

// startDaemon runs one daemon.Server over a real TCP listener on
// 127.0.0.1, the same request/response loop cmd/anndaemon drives, and
// returns its address. The listener and every accepted connection are
// closed when the test ends.
func startDaemon(t *testing.T, device int) string {
	t.Helper()
	srv := daemon.NewServer(device)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(srv, conn)
		}
	}()
	return ln.Addr().String()
}

func serveConn(srv *daemon.Server, conn net.Conn) {
	defer conn.Close()
	for {
		env, err := proto.ReadEnvelope(conn)
		if err != nil {
			return
		}
		req := &proto.Request{}
		if _, err := req.UnmarshalMsg(env.Payload); err != nil {
			return
		}
		resp := srv.Dispatch(env.Command, req)
		payload, err := resp.MarshalMsg(nil)
		if err != nil {
			return
		}
		out := &proto.Envelope{Command: env.Command, Payload: payload}
		if _, err := out.WriteTo(conn); err != nil {
			return
		}
	}
}

// TestFlatL2Dim4 is SPEC_FULL.md §8's "Flat L2 dim-4" end-to-end
// scenario: add a handful of dim-4 vectors, search one, expect the
// self-match to come back first.
func TestFlatL2Dim4(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindFlat,
		Dim:     4,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	ids, err := idx.Add(vectors)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("got %d ids, want 4", len(ids))
	}

	gotIds, gotDists, err := idx.Search([][]float32{{1, 0, 0, 0}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(gotIds) != 1 || len(gotIds[0]) != 1 {
		t.Fatalf("unexpected result shape: %#v", gotIds)
	}
	if gotIds[0][0] != ids[0] {
		t.Fatalf("self-match id = %d, want %d", gotIds[0][0], ids[0])
	}
	if gotDists[0][0] > 0.01 {
		t.Fatalf("self-match distance = %v, want ~0", gotDists[0][0])
	}

	n, err := idx.Ntotal()
	if err != nil {
		t.Fatalf("Ntotal: %v", err)
	}
	if n != 4 {
		t.Fatalf("Ntotal = %d, want 4", n)
	}
}

// TestIVFFlatSingleVector is SPEC_FULL.md §8's "IVF-Flat single-vector"
// scenario: one coarse list, one vector, searching returns it.
func TestIVFFlatSingleVector(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindIVFFlat,
		Dim:     2,
		NList:   1,
		NProbe:  1,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	if err := idx.Train([][]float32{{0, 0}, {1, 1}, {2, 2}}); err != nil {
		t.Fatalf("Train: %v", err)
	}
	ids, err := idx.Add([][]float32{{5, 5}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	gotIds, _, err := idx.Search([][]float32{{5, 5}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotIds[0][0] != ids[0] {
		t.Fatalf("got id %d, want %d", gotIds[0][0], ids[0])
	}
}

// TestRemoveRangeExcludesFromSearch is SPEC_FULL.md §8's
// "remove-range exclusion" scenario.
func TestRemoveRangeExcludesFromSearch(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindFlat,
		Dim:     2,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	ids, err := idx.Add([][]float32{{0, 0}, {1, 1}, {2, 2}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	removed, err := idx.RemoveRangeIds(ids[1], ids[1]+1)
	if err != nil {
		t.Fatalf("RemoveRangeIds: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	gotIds, _, err := idx.Search([][]float32{{1, 1}}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, id := range gotIds[0] {
		if id == ids[1] {
			t.Fatalf("range-removed id %d still returned by search", id)
		}
	}
}

// TestInt8FlatCosineSelfMatch is SPEC_FULL.md §8's "Int8-Flat cosine
// self-match" scenario.
func TestInt8FlatCosineSelfMatch(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindInt8Flat,
		Dim:     4,
		Metric:  daemon.InnerProductMetric,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	ids, err := idx.Add([][]float32{{1, 2, 3, 4}, {-1, -2, -3, -4}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	gotIds, _, err := idx.Search([][]float32{{1, 2, 3, 4}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotIds[0][0] != ids[0] {
		t.Fatalf("cosine self-match id = %d, want %d", gotIds[0][0], ids[0])
	}
}

// TestIVFPQThousandVectorNtotalMatchesListSum is the §8 "IVF-PQ
// 1000-vector ntotal/list-sum" scenario: ntotal after adding 1000
// vectors equals the sum of every coarse list's length.
func TestIVFPQThousandVectorNtotalMatchesListSum(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindIVFPQ,
		Dim:     8,
		NList:   8,
		NProbe:  4,
		M:       4,
		Bits:    4,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	const n = 1000
	points := make([][]float32, n)
	for i := range points {
		points[i] = []float32{
			float32(i % 3), float32(i % 5), float32(i % 2), float32(i % 7),
			float32(i % 4), float32(i % 6), float32(i % 8), float32(i % 9),
		}
	}
	if err := idx.Train(points); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := idx.Add(points); err != nil {
		t.Fatalf("Add: %v", err)
	}

	total, err := idx.Ntotal()
	if err != nil {
		t.Fatalf("Ntotal: %v", err)
	}
	if total != n {
		t.Fatalf("Ntotal = %d, want %d", total, n)
	}

	snap, err := idx.ExportTrained()
	if err != nil {
		t.Fatalf("ExportTrained: %v", err)
	}
	sum := 0
	for _, l := range snap.ListLens {
		sum += l
	}
	if sum != total {
		t.Fatalf("sum of list lengths = %d, want ntotal %d", sum, total)
	}
}

// TestSQRoundTripSelfMatch is the §8 "SQ round-trip" scenario: the
// flat-modeled SQ family (nlist=1/nprobe=1) recovers each vector as its
// own nearest neighbor after scalar-quantized round trip.
func TestSQRoundTripSelfMatch(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindSQ,
		Dim:     2,
		Bits:    8,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	points := [][]float32{{0, 0}, {10, 20}, {30, 40}, {5, 15}}
	if err := idx.Train(points); err != nil {
		t.Fatalf("Train: %v", err)
	}
	ids, err := idx.Add(points)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	for i, p := range points {
		gotIds, _, err := idx.Search([][]float32{p}, 1)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if gotIds[0][0] != ids[i] {
			t.Fatalf("point %d: self-match id = %d, want %d", i, gotIds[0][0], ids[i])
		}
	}
}

// TestMultiQuerySearchShortRowsDoNotMisalign covers the case the
// fixed-stride de-interleave used to get wrong: a multi-query batch
// where an earlier query's ntotal is smaller than k, so its result row
// is shorter than k. Later queries in the same batch must still come
// back aligned to their own results.
func TestMultiQuerySearchShortRowsDoNotMisalign(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindFlat,
		Dim:     2,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	// ntotal (3) < k (5): every query's row comes back short.
	vectors := [][]float32{{0, 0}, {10, 10}, {20, 20}}
	ids, err := idx.Add(vectors)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	const k = 5
	queries := [][]float32{{0, 0}, {10, 10}, {20, 20}}
	gotIds, gotDists, err := idx.Search(queries, k)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(gotIds) != len(queries) {
		t.Fatalf("got %d result rows, want %d", len(gotIds), len(queries))
	}
	for qi := range queries {
		if len(gotIds[qi]) != len(vectors) {
			t.Fatalf("query %d: got %d results, want %d (ntotal)", qi, len(gotIds[qi]), len(vectors))
		}
		if gotIds[qi][0] != ids[qi] {
			t.Fatalf("query %d: self-match id = %d, want %d (results misaligned across queries)", qi, gotIds[qi][0], ids[qi])
		}
		if gotDists[qi][0] > 0.01 {
			t.Fatalf("query %d: self-match distance = %v, want ~0", qi, gotDists[qi][0])
		}
	}
}

// TestResetThenAddIdempotent is the §8 "reset/add idempotence" property:
// resetting an already-populated index and re-adding the same vectors
// reproduces the same ntotal.
func TestResetThenAddIdempotent(t *testing.T) {
	addr := startDaemon(t, 0)
	reg := client.NewRegistry()
	cfg := host.Config{
		Devices: []host.DeviceSpec{{Addr: addr, Device: 0}},
		Kind:    host.KindFlat,
		Dim:     2,
		Metric:  daemon.L2,
	}
	idx, err := host.NewIndex(cfg, reg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer idx.Close()

	vectors := [][]float32{{1, 1}, {2, 2}}
	if _, err := idx.Add(vectors); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := idx.Ntotal(); n != 0 {
		t.Fatalf("Ntotal after Reset = %d, want 0", n)
	}
	if _, err := idx.Add(vectors); err != nil {
		t.Fatalf("Add after reset: %v", err)
	}
	if n, _ := idx.Ntotal(); n != len(vectors) {
		t.Fatalf("Ntotal after reset+add = %d, want %d", n, len(vectors))
	}
}
