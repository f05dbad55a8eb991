package client

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/cmn/nlog"
	"github.com/ascend-vs/annserve/proto"
)

// Session is one transport connection to a daemon process. Exactly one
// RPC is ever in flight on a session at a time; callers that need
// cross-device parallelism hold one Session per device.
type Session struct {
	ID   string
	Addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewSession connects to addr and assigns it a short, human-loggable id.
func NewSession(addr string, dialTimeout time.Duration) (*Session, error) {
	conn, err := Connect(addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	id, err := shortid.Generate()
	if err != nil {
		id = addr // never fatal: id is for logging only
	}
	return &Session{ID: id, Addr: addr, conn: conn}, nil
}

// SendAndReceive serializes one request/response round trip. The
// envelope's checksum is verified by proto.ReadEnvelope; a mismatch or
// any I/O failure surfaces as a cmn.Err with code TRANSPORT.
func (s *Session) SendAndReceive(cmd proto.Command, req *proto.Request) (*proto.Response, error) {
	payload, err := req.MarshalMsg(nil)
	if err != nil {
		return nil, cmn.NewErr("client.SendAndReceive", cmn.Transport, -1, errors.Wrap(err, "marshal request"))
	}
	env := &proto.Envelope{Command: cmd, Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()

	nlog.Infof("client[%s]: -> %s (%d bytes)", s.ID, cmd, len(payload))
	if _, err := env.WriteTo(s.conn); err != nil {
		return nil, cmn.NewErr("client.SendAndReceive", cmn.Transport, -1, err)
	}
	respEnv, err := proto.ReadEnvelope(s.conn)
	if err != nil {
		return nil, cmn.NewErr("client.SendAndReceive", cmn.Transport, -1, err)
	}
	resp := &proto.Response{}
	if _, err := resp.UnmarshalMsg(respEnv.Payload); err != nil {
		return nil, cmn.NewErr("client.SendAndReceive", cmn.Transport, -1, errors.Wrap(err, "unmarshal response"))
	}
	if resp.Status != proto.OK {
		return resp, cmn.NewErrf("client.SendAndReceive", statusToCode(resp.Status), -1, "%s: %s", resp.Status, resp.Message)
	}
	return resp, nil
}

func statusToCode(s proto.Status) cmn.Code {
	switch s {
	case proto.ErrPrecondition:
		return cmn.Precondition
	case proto.ErrDevice:
		return cmn.Device
	case proto.ErrInvariant:
		return cmn.Invariant
	default:
		return cmn.Transport
	}
}

// Close tears down the underlying connection. Safe to call once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
