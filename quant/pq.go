package quant

import (
	"github.com/ascend-vs/annserve/clustering"
)

// PQ is a product quantizer: the vector (or IVF residual) is split into
// M equal sub-vectors, each independently quantized to one of 2^Bits
// centroids trained by k-means over that sub-vector slice.
type PQ struct {
	Dim       int
	M         int
	Bits      int
	SubDim    int
	Centroids [][][]float32 // [sub][code] -> subvector
}

func TrainPQ(points [][]float32, dim, m, bits int, seed uint64) *PQ {
	subDim := dim / m
	k := 1 << uint(bits)
	centroids := make([][][]float32, m)
	for s := 0; s < m; s++ {
		sub := make([][]float32, len(points))
		for i, p := range points {
			sub[i] = p[s*subDim : (s+1)*subDim]
		}
		res, _ := clustering.Train(sub, clustering.Config{
			K: k, NIter: clustering.DefaultNIterIVF, UseKmeansPP: true, Seed: seed + uint64(s),
		})
		centroids[s] = res.Centroids
	}
	return &PQ{Dim: dim, M: m, Bits: bits, SubDim: subDim, Centroids: centroids}
}

// Encode quantizes v (or an IVF residual of v) into M codes.
func (q *PQ) Encode(v []float32) []byte {
	out := make([]byte, q.M)
	for s := 0; s < q.M; s++ {
		sub := v[s*q.SubDim : (s+1)*q.SubDim]
		out[s] = byte(clustering.Assign(q.Centroids[s], sub))
	}
	return out
}

// Decode reconstructs an approximate vector from codes.
func (q *PQ) Decode(codes []byte) []float32 {
	out := make([]float32, q.Dim)
	for s := 0; s < q.M; s++ {
		copy(out[s*q.SubDim:(s+1)*q.SubDim], q.Centroids[s][codes[s]])
	}
	return out
}

// DistanceTable precomputes, for a single query's residual, the
// per-sub-quantizer distance from each query sub-vector to every one
// of its 2^Bits centroids (the asymmetric distance computation table),
// so SearchADC can sum M table lookups per candidate instead of
// decoding codes back to float vectors.
func (q *PQ) DistanceTable(v []float32) [][]float32 {
	table := make([][]float32, q.M)
	for s := 0; s < q.M; s++ {
		sub := v[s*q.SubDim : (s+1)*q.SubDim]
		row := make([]float32, len(q.Centroids[s]))
		for c, cent := range q.Centroids[s] {
			var d float32
			for i := range sub {
				diff := sub[i] - cent[i]
				d += diff * diff
			}
			row[c] = d
		}
		table[s] = row
	}
	return table
}

// SearchADC sums the precomputed distance table across a code's M
// sub-quantizer indices (asymmetric distance computation).
func SearchADC(table [][]float32, codes []byte) float32 {
	var sum float32
	for s, row := range table {
		sum += row[codes[s]]
	}
	return sum
}
