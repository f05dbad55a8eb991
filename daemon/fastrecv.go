package daemon

import (
	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/proto"
)

// fastRecvChunkElems bounds how many elements (float32s or int8 code
// bytes) one FastRecvNext response carries, mirroring the bounded ring
// slot size client.FastRecv drains into (spec §4.1: the daemon streams
// buffers through a ring of channels).
const fastRecvChunkElems = 4096

// fastRecvCompressThreshold is the byte size at or above which a buffer is
// worth LZ4-framing; small buffers aren't (spec §4.1: "may optionally
// be LZ4-framed").
const fastRecvCompressThreshold = 256

// fastChannel is the daemon-side cursor over one bulk export opened by
// IndexSQFastGetBase or IndexIVFFastGetListCodes. Exactly one of
// vectors/codes is set depending on which command opened it; ids, when
// present, is delivered whole on the first buffer since it is always
// far smaller than the codes/vectors it labels.
type fastChannel struct {
	vectors []float32
	codes   []byte
	ids     []uint64

	sent    int // elements already returned from vectors/codes
	idsSent bool
}

func (ch *fastChannel) total() int {
	if ch.vectors != nil {
		return len(ch.vectors)
	}
	return len(ch.codes)
}

// next packages the next up-to-maxElems buffer as a FastRecvNext
// response, setting ListLast/ChannelLast once the channel is drained
// (spec §4.1: "when list_last is set ... total element count must
// equal the expected num" — the caller checks that against the N
// reported when the channel was opened).
func (ch *fastChannel) next(maxElems int) (*proto.Response, error) {
	total := ch.total()
	hi := ch.sent + maxElems
	last := false
	if hi >= total {
		hi = total
		last = true
	}

	resp := &proto.Response{Status: proto.OK, ListLast: last, ChannelLast: last}
	if ch.vectors != nil {
		buf := ch.vectors[ch.sent:hi]
		resp.N = uint32(len(buf))
		if raw := cmn.Float32SliceToBytes(buf); len(raw) >= fastRecvCompressThreshold {
			compressed, err := cmn.CompressLZ4(raw)
			if err != nil {
				return nil, cmn.NewErr("daemon.fastChannel.next", cmn.Transport, -1, err)
			}
			resp.Blob, resp.Compressed = compressed, true
		} else {
			resp.Vectors = append([]float32(nil), buf...)
		}
	} else {
		buf := ch.codes[ch.sent:hi]
		resp.N = uint32(len(buf))
		if len(buf) >= fastRecvCompressThreshold {
			compressed, err := cmn.CompressLZ4(buf)
			if err != nil {
				return nil, cmn.NewErr("daemon.fastChannel.next", cmn.Transport, -1, err)
			}
			resp.Blob, resp.Compressed = compressed, true
		} else {
			resp.Int8Codes = append([]byte(nil), buf...)
		}
	}
	ch.sent = hi

	if !ch.idsSent {
		resp.Ids = ch.ids
		ch.idsSent = true
	}
	return resp, nil
}
