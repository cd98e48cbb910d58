// Package cluster partitions embedded 2D points into k groups by iterative
// centroid refinement (Lloyd's k-means).
//
// Initialization is deliberately non-random: the first k points in input
// order seed the centroids. That makes the assignment reproducible from the
// same point order at the cost of clustering quality versus random
// multi-start — acceptable for an illustrative grouping, and callers should
// know the output depends on the order the embedding emitted its points.
package cluster

import "github.com/classlens/classlens/internal/embed"

// MaxIterations bounds the refinement loop.
const MaxIterations = 50

// Assign returns one cluster index per point, aligned with the input order.
// k is capped to len(points); k <= 0 or an empty input yields an all-zero /
// empty assignment respectively.
func Assign(points []embed.Point, k int) []int {
	n := len(points)
	assignments := make([]int, n)
	if n == 0 || k <= 1 {
		return assignments
	}
	if k > n {
		k = n
	}

	// Seed centroids from the first k points, in input order.
	centroids := make([][2]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = [2]float64{points[i].X, points[i].Y}
	}

	for iter := 0; iter < MaxIterations; iter++ {
		changed := false
		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids as member means. A centroid that lost all its
		// members stays where it is rather than dividing by zero.
		sums := make([][2]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assignments[i]
			sums[c][0] += p.X
			sums[c][1] += p.Y
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			centroids[c][0] = sums[c][0] / float64(counts[c])
			centroids[c][1] = sums[c][1] / float64(counts[c])
		}
	}
	return assignments
}

// nearestCentroid picks the closest centroid by squared Euclidean distance,
// ties broken by the first-encountered (lowest) index.
func nearestCentroid(p embed.Point, centroids [][2]float64) int {
	best := 0
	bestDist := sqDist(p, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := sqDist(p, centroids[c]); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func sqDist(p embed.Point, c [2]float64) float64 {
	dx := p.X - c[0]
	dy := p.Y - c[1]
	return dx*dx + dy*dy
}
