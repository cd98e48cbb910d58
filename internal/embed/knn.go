package embed

import (
	"math"
	"sort"
)

// neighborGraph holds, per point, its k nearest neighbors (excluding itself)
// and the Euclidean distances to them.
type neighborGraph struct {
	k       int
	indices [][]int
	dists   [][]float64
}

// nearestNeighbors computes the exact kNN graph by pairwise distance.
// Classroom-scale inputs (tens of points) don't justify an approximate index;
// exactness also keeps the output reproducible.
func nearestNeighbors(vectors [][]float64, k int) neighborGraph {
	n := len(vectors)
	g := neighborGraph{
		k:       k,
		indices: make([][]int, n),
		dists:   make([][]float64, n),
	}

	type cand struct {
		idx  int
		dist float64
	}

	for i := 0; i < n; i++ {
		cands := make([]cand, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			cands = append(cands, cand{idx: j, dist: euclidean(vectors[i], vectors[j])})
		}
		// Stable ordering: distance first, index as tiebreak, so equal-distance
		// neighbors never flip between runs.
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].dist != cands[b].dist {
				return cands[a].dist < cands[b].dist
			}
			return cands[a].idx < cands[b].idx
		})

		g.indices[i] = make([]int, k)
		g.dists[i] = make([]float64, k)
		for c := 0; c < k; c++ {
			g.indices[i][c] = cands[c].idx
			g.dists[i][c] = cands[c].dist
		}
	}
	return g
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
