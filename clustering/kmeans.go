// Package clustering implements the seeding and refinement algorithms
// used to train IVF coarse quantizers and PQ sub-quantizers: k-means++
// (sequential, O(k*n) seeding) and k-means|| (oversampled, parallel
// seeding rounds finished with a weighted k-means++ pass).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package clustering

import (
	"math"

	"github.com/ascend-vs/annserve/cmn/xoshiro256"
)

const (
	DefaultNIterIVF   = 10
	DefaultNIterIVFSQ = 16
	MaxPointsPerCentroidIVFSQ = 512
)

type Config struct {
	K                    int
	NIter                int
	MaxPointsPerCentroid int // 0 disables subsampling
	Seed                 uint64
	UseKmeansPP          bool // false selects k-means|| seeding
}

// Result is the trained coarse quantizer: K centroids of the input
// dimension.
type Result struct {
	Centroids [][]float32
}

func sqDist(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// subsample deterministically thins points to at most k*maxPerCentroid
// rows, matching the original's max_points_per_centroid knob.
func subsample(points [][]float32, k, maxPerCentroid int, rng *xoshiro256.State) [][]float32 {
	if maxPerCentroid <= 0 {
		return points
	}
	limit := k * maxPerCentroid
	if len(points) <= limit {
		return points
	}
	out := make([][]float32, limit)
	for i := range out {
		j := int(rng.Next() % uint64(len(points)))
		out[i] = points[j]
	}
	return out
}

// seedPlusPlus runs sequential k-means++ seeding: draw the first
// centroid uniformly, then repeatedly draw a point with probability
// proportional to its squared distance from the nearest centroid
// chosen so far.
func seedPlusPlus(points [][]float32, k int, rng *xoshiro256.State) [][]float32 {
	n := len(points)
	centroids := make([][]float32, 0, k)
	first := points[int(rng.Next()%uint64(n))]
	centroids = append(centroids, append([]float32(nil), first...))

	dist := make([]float32, n)
	for i, p := range points {
		dist[i] = sqDist(p, first)
	}

	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += float64(d)
		}
		var next []float32
		if total == 0 {
			next = points[int(rng.Next()%uint64(n))]
		} else {
			target := rng.Float64() * total
			var acc float64
			idx := n - 1
			for i, d := range dist {
				acc += float64(d)
				if acc >= target {
					idx = i
					break
				}
			}
			next = points[idx]
		}
		centroids = append(centroids, append([]float32(nil), next...))
		for i, p := range points {
			d := sqDist(p, next)
			if d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

// seedScalable runs k-means||: O(log n) oversample rounds each drawing
// points with probability proportional to l*d(x)^2/phi, then weights
// the resulting candidate pool by how many original points it's
// closest to and finishes with weighted k-means++ down to k centroids.
func seedScalable(points [][]float32, k int, rng *xoshiro256.State) [][]float32 {
	n := len(points)
	oversample := 2.0 * float64(k)
	rounds := int(math.Ceil(math.Log(float64(n) + 1)))
	if rounds < 1 {
		rounds = 1
	}

	candidates := [][]float32{points[int(rng.Next()%uint64(n))]}
	dist := make([]float32, n)
	for i, p := range points {
		dist[i] = sqDist(p, candidates[0])
	}

	for r := 0; r < rounds; r++ {
		var phi float64
		for _, d := range dist {
			phi += float64(d)
		}
		if phi == 0 {
			break
		}
		var newOnes [][]float32
		for i, p := range points {
			prob := oversample * float64(dist[i]) / phi
			if rng.Float64() < prob {
				newOnes = append(newOnes, p)
			}
		}
		candidates = append(candidates, newOnes...)
		for i, p := range points {
			for _, c := range newOnes {
				d := sqDist(p, c)
				if d < dist[i] {
					dist[i] = d
				}
			}
		}
	}

	weights := make([]float32, len(candidates))
	for i, p := range points {
		best, bestD := 0, float32(math.MaxFloat32)
		for ci, c := range candidates {
			d := sqDist(p, c)
			if d < bestD {
				bestD, best = d, ci
			}
		}
		_ = i
		weights[best]++
	}
	return weightedSeedPlusPlus(candidates, weights, k, rng)
}

func weightedSeedPlusPlus(points [][]float32, weights []float32, k int, rng *xoshiro256.State) [][]float32 {
	if len(points) <= k {
		out := make([][]float32, len(points))
		for i, p := range points {
			out[i] = append([]float32(nil), p...)
		}
		return out
	}
	n := len(points)
	var totalW float64
	for _, w := range weights {
		totalW += float64(w)
	}
	pick := func() int {
		target := rng.Float64() * totalW
		var acc float64
		for i, w := range weights {
			acc += float64(w)
			if acc >= target {
				return i
			}
		}
		return n - 1
	}

	first := pick()
	centroids := [][]float32{append([]float32(nil), points[first]...)}
	dist := make([]float32, n)
	for i, p := range points {
		dist[i] = sqDist(p, centroids[0])
	}
	for len(centroids) < k {
		var total float64
		for i, d := range dist {
			total += float64(d) * float64(weights[i])
		}
		var next []float32
		if total == 0 {
			next = points[pick()]
		} else {
			target := rng.Float64() * total
			var acc float64
			idx := n - 1
			for i, d := range dist {
				acc += float64(d) * float64(weights[i])
				if acc >= target {
					idx = i
					break
				}
			}
			next = points[idx]
		}
		centroids = append(centroids, append([]float32(nil), next...))
		for i, p := range points {
			d := sqDist(p, next)
			if d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

// lloydRefine runs cfg.NIter Lloyd iterations (assign to nearest
// centroid, recompute as the mean of assigned points) starting from the
// seeded centroids.
func lloydRefine(points, centroids [][]float32, niter int) [][]float32 {
	if len(points) == 0 {
		return centroids
	}
	dim := len(points[0])
	k := len(centroids)
	assign := make([]int, len(points))

	for iter := 0; iter < niter; iter++ {
		for i, p := range points {
			best, bestD := 0, float32(math.MaxFloat32)
			for ci, c := range centroids {
				d := sqDist(p, c)
				if d < bestD {
					bestD, best = d, ci
				}
			}
			assign[i] = best
		}
		sums := make([][]float32, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += p[d]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // keep previous centroid rather than produce NaN
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}
	}
	return centroids
}

// Train seeds cfg.K centroids from points (using k-means++ or
// k-means||, optionally subsampled to MaxPointsPerCentroid*K rows) and
// refines them for cfg.NIter Lloyd iterations.
func Train(points [][]float32, cfg Config) (*Result, error) {
	rng := xoshiro256.New(cfg.Seed)
	work := subsample(points, cfg.K, cfg.MaxPointsPerCentroid, rng)

	var centroids [][]float32
	if cfg.UseKmeansPP {
		centroids = seedPlusPlus(work, cfg.K, rng)
	} else {
		centroids = seedScalable(work, cfg.K, rng)
	}
	niter := cfg.NIter
	if niter <= 0 {
		niter = DefaultNIterIVF
	}
	centroids = lloydRefine(work, centroids, niter)
	return &Result{Centroids: centroids}, nil
}

// Assign returns the index of the centroid nearest to v.
func Assign(centroids [][]float32, v []float32) int {
	best, bestD := 0, float32(math.MaxFloat32)
	for i, c := range centroids {
		d := sqDist(c, v)
		if d < bestD {
			bestD, best = d, i
		}
	}
	return best
}
