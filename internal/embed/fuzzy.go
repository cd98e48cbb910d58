package embed

import "math"

// Smooth-kNN calibration constants.
const (
	smoothTolerance  = 1e-5
	smoothIterations = 64
	minSigma         = 1e-3
)

// edge is one weighted undirected connection in the fuzzy graph.
type edge struct {
	from, to int
	weight   float64
}

// fuzzySimplicialSet converts the kNN graph into symmetric membership
// strengths. Per point, rho is the distance to the nearest neighbor and sigma
// is calibrated so the neighborhood's total membership equals log2(k); the
// directed strengths are then combined with the probabilistic t-conorm
// w + w' - w*w'.
func fuzzySimplicialSet(g neighborGraph) []edge {
	n := len(g.indices)
	target := math.Log2(float64(g.k))

	directed := make(map[[2]int]float64, n*g.k)
	for i := 0; i < n; i++ {
		rho := g.dists[i][0]
		sigma := smoothKNNDist(g.dists[i], rho, target)
		for c, j := range g.indices[i] {
			d := g.dists[i][c] - rho
			var w float64
			if d <= 0 || sigma == 0 {
				w = 1
			} else {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, j}] = w
		}
	}

	// Emit edges in loop order, not map order: the SGD samples edges by index,
	// so a nondeterministic edge order would defeat the fixed seed.
	edges := make([]edge, 0, len(directed))
	emitted := make(map[[2]int]bool, len(directed))
	for i := 0; i < n; i++ {
		for _, j := range g.indices[i] {
			lo, hi := i, j
			if lo > hi {
				lo, hi = hi, lo
			}
			key := [2]int{lo, hi}
			if emitted[key] {
				continue
			}
			emitted[key] = true

			w := directed[[2]int{lo, hi}]
			back := directed[[2]int{hi, lo}]
			combined := w + back - w*back
			if combined > 0 {
				edges = append(edges, edge{from: lo, to: hi, weight: combined})
			}
		}
	}
	return edges
}

// smoothKNNDist binary-searches the kernel bandwidth sigma so that the sum of
// exp(-(d-rho)/sigma) over the neighborhood hits the log2(k) target.
func smoothKNNDist(dists []float64, rho, target float64) float64 {
	lo, hi := 0.0, math.Inf(1)
	mid := 1.0

	for iter := 0; iter < smoothIterations; iter++ {
		var sum float64
		for _, d := range dists {
			adjusted := d - rho
			if adjusted <= 0 {
				sum++
			} else {
				sum += math.Exp(-adjusted / mid)
			}
		}

		if math.Abs(sum-target) < smoothTolerance {
			break
		}
		if sum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}

	if mid < minSigma {
		mid = minSigma
	}
	return mid
}
