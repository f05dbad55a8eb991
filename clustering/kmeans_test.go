package clustering_test

import (
	"github.com/ascend-vs/annserve/clustering"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func cluster(cx, cy float32, n int, jitter float32) [][]float32 {
	pts := make([][]float32, n)
	for i := range pts {
		f := jitter * float32(i%3-1) / 10
		pts[i] = []float32{cx + f, cy + f}
	}
	return pts
}

var _ = Describe("Train", func() {
	It("recovers well-separated clusters with k-means++ seeding", func() {
		points := append(cluster(0, 0, 20, 1), cluster(100, 100, 20, 1)...)
		res, err := clustering.Train(points, clustering.Config{K: 2, NIter: 10, UseKmeansPP: true, Seed: 7})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Centroids).To(HaveLen(2))

		near0 := clustering.Assign(res.Centroids, []float32{0, 0})
		near1 := clustering.Assign(res.Centroids, []float32{100, 100})
		Expect(near0).NotTo(Equal(near1))
	})

	It("recovers well-separated clusters with k-means|| seeding", func() {
		points := append(cluster(0, 0, 30, 1), cluster(50, -50, 30, 1)...)
		res, err := clustering.Train(points, clustering.Config{K: 2, NIter: 10, UseKmeansPP: false, Seed: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Centroids).To(HaveLen(2))

		near0 := clustering.Assign(res.Centroids, []float32{0, 0})
		near1 := clustering.Assign(res.Centroids, []float32{50, -50})
		Expect(near0).NotTo(Equal(near1))
	})
})
