package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

// Envelope is the length-prefixed binary frame every message travels in:
//
//	[u32 length][u32 command][u32 crc][payload]
//
// length counts only the payload; crc is xxhash.Checksum32(payload).
// All integers are little-endian.
const headerSize = 4 + 4 + 4

type Envelope struct {
	Command Command
	Payload []byte
}

// WriteTo frames e onto w.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(e.Payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(e.Command))
	binary.LittleEndian.PutUint32(hdr[8:12], xxhash.Checksum32(e.Payload))

	n1, err := w.Write(hdr)
	if err != nil {
		return int64(n1), errors.Wrap(err, "proto: write envelope header")
	}
	n2, err := w.Write(e.Payload)
	if err != nil {
		return int64(n1 + n2), errors.Wrap(err, "proto: write envelope payload")
	}
	return int64(n1 + n2), nil
}

// ReadEnvelope reads and checksum-verifies one frame from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, errors.Wrap(err, "proto: read envelope header")
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	cmd := binary.LittleEndian.Uint32(hdr[4:8])
	crc := binary.LittleEndian.Uint32(hdr[8:12])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errors.Wrap(err, "proto: read envelope payload")
		}
	}
	if got := xxhash.Checksum32(payload); got != crc {
		return nil, fmt.Errorf("proto: checksum mismatch for command %s: got %#x want %#x", Command(cmd), got, crc)
	}
	return &Envelope{Command: Command(cmd), Payload: payload}, nil
}
