// Package host implements the host-side index façade: device
// placement, transport fan-out, host-driven training, and the public
// state machine a caller drives (Unconfigured -> Configured ->
// Trained -> Populated -> Closed).
package host

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/ascend-vs/annserve/daemon"
)

// Kind selects which daemon index family a host Index shards across
// devices; one Config describes exactly one kind for the lifetime of
// the Index (spec §3/§4.8: the family is fixed at construction).
type Kind int

const (
	KindFlat Kind = iota
	KindInt8Flat
	KindSQ
	KindIVFFlat
	KindIVFPQ
	KindIVFSQ
	KindInt8IVFFlat
	KindInt8IVFSQ
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "Flat"
	case KindInt8Flat:
		return "Int8Flat"
	case KindSQ:
		return "SQ"
	case KindIVFFlat:
		return "IVFFlat"
	case KindIVFPQ:
		return "IVFPQ"
	case KindIVFSQ:
		return "IVFSQ"
	case KindInt8IVFFlat:
		return "Int8IVFFlat"
	case KindInt8IVFSQ:
		return "Int8IVFSQ"
	default:
		return "Unknown"
	}
}

// DeviceSpec names one daemon process this Index shards vectors onto:
// Addr is the daemon's listen address, Device its accelerator id
// (spec §2: "one daemon per device").
type DeviceSpec struct {
	Addr   string
	Device int
}

// Config fully describes one index's shape, serializable for logging
// and debugging the way the teacher's own config types are (spec
// [AMBIENT] Configuration: json-iterator, no file-based parsing in
// scope).
type Config struct {
	Devices      []DeviceSpec
	ResourceSize int
	AltStreams   int
	DialTimeoutMs int

	Kind   Kind
	Dim    int
	Metric daemon.Metric

	NList  int
	NProbe int
	M      int // PQ sub-quantizer count
	Bits   int // PQ/SQ bit width

	Seed uint64
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	return jsonAPI.Marshal((*alias)(c))
}

func (c *Config) UnmarshalJSON(b []byte) error {
	type alias Config
	return jsonAPI.Unmarshal(b, (*alias)(c))
}

// isIVF reports whether Kind shards vectors into coarse lists, the
// split that decides whether Train pushes coarse centroids at all.
func (k Kind) isIVF() bool {
	switch k {
	case KindIVFFlat, KindIVFPQ, KindIVFSQ, KindInt8IVFFlat, KindInt8IVFSQ:
		return true
	default:
		return false
	}
}

// isPQ / isSQ report which sub-quantizer training pass a kind needs on
// top of (or instead of) coarse centroids.
func (k Kind) isPQ() bool { return k == KindIVFPQ }

func (k Kind) isSQ() bool {
	switch k {
	case KindSQ, KindIVFSQ, KindInt8IVFSQ:
		return true
	default:
		return false
	}
}

// usesExplicitIDs reports whether the family keeps an on-device id
// list (spec §4.4.1: "only Int8 and explicit variants keep ids"); Flat
// derives ids purely from position and ignores whatever the host
// sends.
func (k Kind) usesExplicitIDs() bool { return k != KindFlat }
