package quant_test

import (
	"math"
	"testing"

	"github.com/ascend-vs/annserve/quant"
)

func TestSQRoundTrip(t *testing.T) {
	points := [][]float32{{0, 0}, {1, 2}, {2, 4}, {0.5, 1}}
	sq := quant.TrainSQ(points, 2, 8)
	for _, p := range points {
		codes := sq.Encode(p)
		got := sq.Decode(codes)
		for d := range p {
			if math.Abs(float64(got[d]-p[d])) > 0.05 {
				t.Fatalf("SQ round trip too lossy: want %v got %v", p, got)
			}
		}
	}
}

func TestPQEncodeDecodeDim(t *testing.T) {
	dim, m, bits := 8, 4, 4
	points := make([][]float32, 64)
	for i := range points {
		points[i] = []float32{
			float32(i % 3), float32(i % 5), float32(i % 2), float32(i % 7),
			float32(i % 4), float32(i % 6), float32(i % 8), float32(i % 9),
		}
	}
	pq := quant.TrainPQ(points, dim, m, bits, 1)
	codes := pq.Encode(points[0])
	if len(codes) != m {
		t.Fatalf("expected %d codes, got %d", m, len(codes))
	}
	decoded := pq.Decode(codes)
	if len(decoded) != dim {
		t.Fatalf("expected decoded dim %d, got %d", dim, len(decoded))
	}
}

func TestPQSearchADCMatchesTableSum(t *testing.T) {
	dim, m, bits := 4, 2, 3
	points := [][]float32{{0, 0, 1, 1}, {1, 1, 0, 0}, {2, 2, 2, 2}, {0, 1, 0, 1}}
	pq := quant.TrainPQ(points, dim, m, bits, 2)
	codes := pq.Encode(points[0])
	table := pq.DistanceTable(points[0])
	dist := quant.SearchADC(table, codes)
	if dist < 0 {
		t.Fatalf("ADC distance should be non-negative, got %v", dist)
	}
}
