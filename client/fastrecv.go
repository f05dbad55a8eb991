package client

import (
	"sync"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/proto"
)

// ChannelCtrl is the three-field control record that accompanies every
// buffer on the bulk fast-receive side channel:
//   - ListSize: number of elements (float32s or code bytes) this buffer carries.
//   - ListLast: true on the final buffer of the current list.
//   - ChannelLast: true on the final buffer of the entire transfer.
type ChannelCtrl struct {
	ListSize    uint32
	ListLast    bool
	ChannelLast bool
	Compressed  bool
}

// chanBuf is one slot in the fast-recv ring.
type chanBuf struct {
	ctrl ChannelCtrl
	data []byte
}

// FastRecv is the host-side reader for IndexSQFastGetBase / IVF's
// IndexIVFFastGetListCodes: a bounded ring of buffers the daemon fills
// and the host drains, avoiding a copy through the request/response
// envelope for bulk data.
type FastRecv struct {
	mu   sync.Mutex
	cond *sync.Cond
	ring []chanBuf
	head int // next slot to fill
	tail int // next slot to drain
	size int
	full bool
	done bool
}

func NewFastRecv(ringLen int) *FastRecv {
	if ringLen < 1 {
		ringLen = 1
	}
	fr := &FastRecv{ring: make([]chanBuf, ringLen), size: ringLen}
	fr.cond = sync.NewCond(&fr.mu)
	return fr
}

// Push is called by the transport reader goroutine as raw channel
// buffers arrive; it blocks while the ring is full.
func (fr *FastRecv) Push(ctrl ChannelCtrl, data []byte) error {
	if ctrl.Compressed {
		plain, err := cmn.DecompressLZ4(data)
		if err != nil {
			return cmn.NewErr("client.FastRecv.Push", cmn.Transport, -1, err)
		}
		data = plain
	}

	fr.mu.Lock()
	for fr.full {
		fr.cond.Wait()
	}
	fr.ring[fr.head] = chanBuf{ctrl: ctrl, data: data}
	fr.head = (fr.head + 1) % fr.size
	fr.full = fr.head == fr.tail
	if ctrl.ChannelLast {
		fr.done = true
	}
	fr.cond.Broadcast()
	fr.mu.Unlock()
	return nil
}

// Recv blocks until a buffer is available or the channel has finished;
// ok is false once every pushed buffer has been drained and the sender
// signaled ChannelLast.
func (fr *FastRecv) Recv() (ctrl ChannelCtrl, data []byte, ok bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for fr.tail == fr.head && !fr.full && !fr.done {
		fr.cond.Wait()
	}
	if fr.tail == fr.head && !fr.full {
		return ChannelCtrl{}, nil, false
	}
	buf := fr.ring[fr.tail]
	fr.ring[fr.tail] = chanBuf{}
	fr.tail = (fr.tail + 1) % fr.size
	fr.full = false
	fr.cond.Broadcast()
	return buf.ctrl, buf.data, true
}

// FastRecvExport drains one bulk export opened by prepareCmd (one of
// proto.IndexSQFastGetBase / proto.IndexIVFFastGetListCodes) over the
// fast-recv side channel: prepareReq opens the channel and reports its
// total element count, then a background goroutine issues the
// repeated FastRecvNext "send_recv_signal" round trip and pushes each
// buffer into a ring while this call drains it, and ReleaseFastRecv
// frees the daemon's cursor once the channel reports ChannelLast.
//
// Exactly one of the returned vectors/codes is non-nil, matching
// whichever kind prepareCmd opened; ids is non-nil only for
// IndexIVFFastGetListCodes.
func (s *Session) FastRecvExport(prepareCmd proto.Command, prepareReq *proto.Request) (vectors []float32, codes []byte, ids []uint64, err error) {
	prepareResp, err := s.SendAndReceive(prepareCmd, prepareReq)
	if err != nil {
		return nil, nil, nil, err
	}
	chHandle := prepareResp.Handle
	expected := int(prepareResp.N)

	fr := NewFastRecv(4)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			resp, err := s.SendAndReceive(proto.FastRecvNext, &proto.Request{Handle: chHandle})
			if err != nil {
				errCh <- err
				return
			}
			var buf []byte
			switch {
			case resp.Compressed:
				buf = resp.Blob
			case resp.Vectors != nil:
				buf = cmn.Float32SliceToBytes(resp.Vectors)
			default:
				buf = resp.Int8Codes
			}
			if resp.Ids != nil {
				ids = resp.Ids
			}
			ctrl := ChannelCtrl{
				ListSize: resp.N, ListLast: resp.ListLast,
				ChannelLast: resp.ChannelLast, Compressed: resp.Compressed,
			}
			if err := fr.Push(ctrl, buf); err != nil {
				errCh <- err
				return
			}
			if resp.ChannelLast {
				return
			}
		}
	}()

	var raw []byte
	isVectors := prepareCmd == proto.IndexSQFastGetBase
	total := 0
	for {
		ctrl, data, ok := fr.Recv()
		if !ok {
			break
		}
		raw = append(raw, data...)
		total += int(ctrl.ListSize)
		if ctrl.ChannelLast {
			break
		}
	}
	if err := <-errCh; err != nil {
		return nil, nil, nil, err
	}
	if total != expected {
		return nil, nil, nil, cmn.NewErrf("client.FastRecvExport", cmn.Transport, -1,
			"fast-recv channel closed with %d elements, expected %d", total, expected)
	}
	if _, err := s.SendAndReceive(proto.ReleaseFastRecv, &proto.Request{Handle: chHandle}); err != nil {
		return nil, nil, nil, err
	}

	if isVectors {
		vectors = cmn.BytesToFloat32Slice(raw)
	} else {
		codes = raw
	}
	return vectors, codes, ids, nil
}
