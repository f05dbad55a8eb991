package cmn

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"
)

// CompressLZ4 frames b for the bulk fast-recv side channel (spec
// §4.1: "buffers may optionally be LZ4-framed"). Shared by daemon,
// the producer, and client, the consumer, so both sides agree on one
// framing.
func CompressLZ4(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressLZ4 reverses CompressLZ4.
func DecompressLZ4(b []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(b))
	return io.ReadAll(r)
}
