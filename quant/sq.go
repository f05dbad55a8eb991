// Package quant implements scalar and product quantization: training,
// encoding, and decoding for the SQ and PQ index families.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package quant

import "math"

// SQ is a per-dimension uniform scalar quantizer: each dimension d is
// mapped to an integer code in [0, 2^bits) via (v - vmin[d]) / vdiff[d].
type SQ struct {
	Dim  int
	Bits int
	Vmin []float32
	Vdiff []float32 // (vmax - vmin) per dimension; 0 if constant
}

// TrainSQ computes per-dimension [vmin, vmax] from the training set.
func TrainSQ(points [][]float32, dim, bits int) *SQ {
	vmin := make([]float32, dim)
	vmax := make([]float32, dim)
	for d := 0; d < dim; d++ {
		vmin[d] = float32(math.Inf(1))
		vmax[d] = float32(math.Inf(-1))
	}
	for _, p := range points {
		for d := 0; d < dim; d++ {
			if p[d] < vmin[d] {
				vmin[d] = p[d]
			}
			if p[d] > vmax[d] {
				vmax[d] = p[d]
			}
		}
	}
	vdiff := make([]float32, dim)
	for d := 0; d < dim; d++ {
		if math.IsInf(float64(vmin[d]), 1) {
			vmin[d], vmax[d] = 0, 0
		}
		vdiff[d] = vmax[d] - vmin[d]
	}
	return &SQ{Dim: dim, Bits: bits, Vmin: vmin, Vdiff: vdiff}
}

func (q *SQ) levels() float32 { return float32((uint32(1) << uint(q.Bits)) - 1) }

// Encode quantizes v into dim codes, one byte per dimension (bits <= 8
// in this repo's scope).
func (q *SQ) Encode(v []float32) []byte {
	out := make([]byte, q.Dim)
	lv := q.levels()
	for d := 0; d < q.Dim; d++ {
		if q.Vdiff[d] == 0 {
			out[d] = 0
			continue
		}
		t := (v[d] - q.Vmin[d]) / q.Vdiff[d]
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		out[d] = byte(t*lv + 0.5)
	}
	return out
}

// Decode reconstructs an approximate vector from codes.
func (q *SQ) Decode(codes []byte) []float32 {
	out := make([]float32, q.Dim)
	lv := q.levels()
	for d := 0; d < q.Dim; d++ {
		if q.Vdiff[d] == 0 {
			out[d] = q.Vmin[d]
			continue
		}
		out[d] = q.Vmin[d] + (float32(codes[d])/lv)*q.Vdiff[d]
	}
	return out
}
