package daemon_test

import (
	"net"
	"testing"

	"github.com/ascend-vs/annserve/client"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/proto"
)

// TestSQFastGetBaseRoundTripOverFastRecv exercises the bulk fast-recv
// side channel end to end: IndexSQFastGetBase opens a channel, a real
// net.Listen-backed connection drains it via FastRecvNext, and the
// reconstructed SQ base matches what an ordinary IndexSQGetBase call
// would have returned.
func TestSQFastGetBaseRoundTripOverFastRecv(t *testing.T) {
	addr := startDaemonServer(t, 0)
	sess, err := client.NewSession(addr, 0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	createResp, err := sess.SendAndReceive(proto.CreateIndexIVFSQ, &proto.Request{
		Dim: 2, NList: 1, NProbe: 1, Bits: 8,
	})
	if err != nil {
		t.Fatalf("CreateIndexIVFSQ: %v", err)
	}
	handle := createResp.Handle

	if _, err := sess.SendAndReceive(proto.IndexIVFUpdateCoarseCent, &proto.Request{
		Handle: handle, Dim: 2, NList: 1, Vectors: []float32{0, 0},
	}); err != nil {
		t.Fatalf("IndexIVFUpdateCoarseCent: %v", err)
	}
	if _, err := sess.SendAndReceive(proto.IndexSQUpdateTrainedValue, &proto.Request{
		Handle: handle, Dim: 2, Vectors: []float32{0, 0, 10, 10},
	}); err != nil {
		t.Fatalf("IndexSQUpdateTrainedValue: %v", err)
	}

	// enough rows to force more than one fast-recv buffer
	const n = 3000
	vectors := make([]float32, n*2)
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		vectors[i*2], vectors[i*2+1] = float32(i%10), float32(i%7)
		ids[i] = uint64(i + 1)
	}
	if _, err := sess.SendAndReceive(proto.IndexIVFSQAdd, &proto.Request{
		Handle: handle, Dim: 2, N: uint32(n), Vectors: vectors, Ids: ids,
	}); err != nil {
		t.Fatalf("IndexIVFSQAdd: %v", err)
	}

	plain, err := sess.SendAndReceive(proto.IndexSQGetBase, &proto.Request{Handle: handle})
	if err != nil {
		t.Fatalf("IndexSQGetBase: %v", err)
	}

	fastVectors, _, _, err := sess.FastRecvExport(proto.IndexSQFastGetBase, &proto.Request{Handle: handle})
	if err != nil {
		t.Fatalf("FastRecvExport: %v", err)
	}
	if len(fastVectors) != len(plain.Vectors) {
		t.Fatalf("fast-recv returned %d floats, want %d", len(fastVectors), len(plain.Vectors))
	}
	for i := range plain.Vectors {
		if fastVectors[i] != plain.Vectors[i] {
			t.Fatalf("element %d mismatch: fast-recv %v, plain %v", i, fastVectors[i], plain.Vectors[i])
		}
	}
}

// TestIVFFastGetListCodesRoundTrip exercises the IVF codes/ids side of
// the fast-recv channel and checks the "total element count must
// equal num" invariant by comparing against IndexIVFGetListCodes.
func TestIVFFastGetListCodesRoundTrip(t *testing.T) {
	addr := startDaemonServer(t, 0)
	sess, err := client.NewSession(addr, 0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	createResp, err := sess.SendAndReceive(proto.CreateIndexIVFFlat, &proto.Request{
		Dim: 2, NList: 1, NProbe: 1,
	})
	if err != nil {
		t.Fatalf("CreateIndexIVFFlat: %v", err)
	}
	handle := createResp.Handle

	if _, err := sess.SendAndReceive(proto.IndexIVFUpdateCoarseCent, &proto.Request{
		Handle: handle, Dim: 2, NList: 1, Vectors: []float32{0, 0},
	}); err != nil {
		t.Fatalf("IndexIVFUpdateCoarseCent: %v", err)
	}

	const n = 2500
	vectors := make([]float32, n*2)
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		vectors[i*2], vectors[i*2+1] = float32(i), float32(-i)
		ids[i] = uint64(1000 + i)
	}
	if _, err := sess.SendAndReceive(proto.IndexIVFFlatAdd, &proto.Request{
		Handle: handle, Dim: 2, N: uint32(n), Vectors: vectors, Ids: ids,
	}); err != nil {
		t.Fatalf("IndexIVFFlatAdd: %v", err)
	}

	plain, err := sess.SendAndReceive(proto.IndexIVFGetListCodes, &proto.Request{Handle: handle, ListID: 0})
	if err != nil {
		t.Fatalf("IndexIVFGetListCodes: %v", err)
	}

	_, codes, gotIds, err := sess.FastRecvExport(proto.IndexIVFFastGetListCodes, &proto.Request{Handle: handle, ListID: 0})
	if err != nil {
		t.Fatalf("FastRecvExport: %v", err)
	}
	if len(codes) != len(plain.Int8Codes) {
		t.Fatalf("fast-recv returned %d code bytes, want %d", len(codes), len(plain.Int8Codes))
	}
	if len(gotIds) != len(ids) {
		t.Fatalf("fast-recv returned %d ids, want %d", len(gotIds), len(ids))
	}
}

// startDaemonServer runs one daemon.Server over a real TCP listener,
// the same request/response loop cmd/anndaemon drives, and returns its
// address. The listener and every accepted connection are closed when
// the test ends.
func startDaemonServer(t *testing.T, device int) string {
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
			go serveFastRecvConn(srv, conn)
		}
	}()
	return ln.Addr().String()
}

func serveFastRecvConn(srv *daemon.Server, conn net.Conn) {
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
