package proto

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/ascend-vs/annserve/cmn"
)

func cmnF32ToFp16(f float32) cmn.Fp16 { return cmn.F32ToFp16(f) }
func cmnFp16ToF32(h uint16) float32   { return cmn.Fp16(h).Fp16ToF32() }

// Request is the single payload shape carried by every command. Not
// every field is meaningful for every command (the family is modeled
// as a tagged variant per the shared capability set {train, add,
// search, remove, reset, reserve, reclaim}); daemon/server.go reads
// only the fields its dispatch case needs.
type Request struct {
	ContextID uint64
	Handle    uint64 // daemon-assigned index handle; 0 for CreateContext/CreateIndex* calls, except CreateIndexPreTransform, where it names the inner index
	Device    int32

	Dim    uint32
	NList  uint32
	NProbe uint32
	Bits   uint32 // PQ sub-quantizer bit width
	M      uint32 // PQ sub-quantizer count
	Metric uint32 // 0 = L2, 1 = InnerProduct/Cosine

	N       uint32 // vector count for this call
	K       uint32 // search top-k
	ListID  uint32
	RangeLo uint64
	RangeHi uint64

	Ids       []uint64
	Vectors   []float32 // flattened N*Dim
	Int8Codes []byte    // flattened N*Dim int8 codes
	Blob      []byte    // opaque trained-state / raw payload (TestDataIntegrity, fast-recv)
}

// MarshalMsg appends the msgp encoding of r to b.
func (r *Request) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 18)
	b = msgp.AppendUint64(b, r.ContextID)
	b = msgp.AppendUint64(b, r.Handle)
	b = msgp.AppendInt32(b, r.Device)
	b = msgp.AppendUint32(b, r.Dim)
	b = msgp.AppendUint32(b, r.NList)
	b = msgp.AppendUint32(b, r.NProbe)
	b = msgp.AppendUint32(b, r.Bits)
	b = msgp.AppendUint32(b, r.M)
	b = msgp.AppendUint32(b, r.Metric)
	b = msgp.AppendUint32(b, r.N)
	b = msgp.AppendUint32(b, r.K)
	b = msgp.AppendUint32(b, r.ListID)
	b = msgp.AppendUint64(b, r.RangeLo)
	b = msgp.AppendUint64(b, r.RangeHi)

	b = msgp.AppendArrayHeader(b, uint32(len(r.Ids)))
	for _, id := range r.Ids {
		b = msgp.AppendUint64(b, id)
	}
	b = msgp.AppendArrayHeader(b, uint32(len(r.Vectors)))
	for _, v := range r.Vectors {
		b = msgp.AppendFloat32(b, v)
	}
	b = msgp.AppendBytes(b, r.Int8Codes)
	b = msgp.AppendBytes(b, r.Blob)
	return b, nil
}

// UnmarshalMsg decodes r from the msgp encoding in b, returning the
// remaining bytes.
func (r *Request) UnmarshalMsg(b []byte) ([]byte, error) {
	var (
		sz  uint32
		err error
	)
	if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	_ = sz
	if r.ContextID, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if r.Handle, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if r.Device, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if r.Dim, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.NList, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.NProbe, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Bits, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.M, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Metric, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.N, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.K, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.ListID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.RangeLo, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if r.RangeHi, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}

	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	r.Ids = make([]uint64, n)
	for i := range r.Ids {
		if r.Ids[i], b, err = msgp.ReadUint64Bytes(b); err != nil {
			return b, err
		}
	}
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	r.Vectors = make([]float32, n)
	for i := range r.Vectors {
		if r.Vectors[i], b, err = msgp.ReadFloat32Bytes(b); err != nil {
			return b, err
		}
	}
	if r.Int8Codes, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if r.Blob, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	return b, nil
}

// Response mirrors Request's tagged-variant shape for replies.
type Response struct {
	Status  Status
	Message string

	Handle     uint64 // daemon-assigned index handle, set on Create* responses
	N          uint32
	ListLength uint32

	Ids       []uint64  // labels, host-mapped to external ids where applicable
	Distances []float32 // carried as fp16 on the wire, expanded here
	Vectors   []float32 // GetBase-style exports (full float32 precision, not fp16)
	Int8Codes []byte
	Blob      []byte
	Counts    []uint32 // per-query result count for Ids/Distances on search responses; len(Counts) == N queries, sum(Counts) == len(Ids)

	// Fast-recv side-channel ctrl fields (spec §4.1), set on
	// FastRecvNext responses: ListLast marks the final buffer of the
	// channel's one list, ChannelLast the final buffer of the whole
	// transfer (the two coincide here since one channel ever serves
	// one list), and Compressed marks Blob as LZ4-framed raw bytes
	// rather than Vectors/Int8Codes carrying the buffer directly.
	ListLast    bool
	ChannelLast bool
	Compressed  bool
}

func (r *Response) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 14)
	b = msgp.AppendUint32(b, uint32(r.Status))
	b = msgp.AppendString(b, r.Message)
	b = msgp.AppendUint64(b, r.Handle)
	b = msgp.AppendUint32(b, r.N)
	b = msgp.AppendUint32(b, r.ListLength)

	b = msgp.AppendArrayHeader(b, uint32(len(r.Ids)))
	for _, id := range r.Ids {
		b = msgp.AppendUint64(b, id)
	}
	b = msgp.AppendArrayHeader(b, uint32(len(r.Distances)))
	for _, d := range r.Distances {
		b = msgp.AppendUint16(b, uint16(cmnF32ToFp16(d)))
	}
	b = msgp.AppendArrayHeader(b, uint32(len(r.Vectors)))
	for _, v := range r.Vectors {
		b = msgp.AppendFloat32(b, v)
	}
	b = msgp.AppendBytes(b, r.Int8Codes)
	b = msgp.AppendBytes(b, r.Blob)
	b = msgp.AppendArrayHeader(b, uint32(len(r.Counts)))
	for _, c := range r.Counts {
		b = msgp.AppendUint32(b, c)
	}
	b = msgp.AppendBool(b, r.ListLast)
	b = msgp.AppendBool(b, r.ChannelLast)
	b = msgp.AppendBool(b, r.Compressed)
	return b, nil
}

func (r *Response) UnmarshalMsg(b []byte) ([]byte, error) {
	var (
		err error
		n   uint32
	)
	if _, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	var status uint32
	if status, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	r.Status = Status(status)
	if r.Message, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if r.Handle, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if r.N, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.ListLength, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}

	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	r.Ids = make([]uint64, n)
	for i := range r.Ids {
		if r.Ids[i], b, err = msgp.ReadUint64Bytes(b); err != nil {
			return b, err
		}
	}
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	r.Distances = make([]float32, n)
	for i := range r.Distances {
		var half uint16
		if half, b, err = msgp.ReadUint16Bytes(b); err != nil {
			return b, err
		}
		r.Distances[i] = cmnFp16ToF32(half)
	}
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	r.Vectors = make([]float32, n)
	for i := range r.Vectors {
		if r.Vectors[i], b, err = msgp.ReadFloat32Bytes(b); err != nil {
			return b, err
		}
	}
	if r.Int8Codes, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if r.Blob, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return b, err
	}
	r.Counts = make([]uint32, n)
	for i := range r.Counts {
		if r.Counts[i], b, err = msgp.ReadUint32Bytes(b); err != nil {
			return b, err
		}
	}
	if r.ListLast, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if r.ChannelLast, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if r.Compressed, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	return b, nil
}
