// Package embed projects the matrix of response vectors into 2D so the
// opinion map can be rendered: points close in response space stay close in
// the plane.
//
// The procedure is the standard approximate-manifold one: build a nearest
// neighbor graph, calibrate it into a fuzzy simplicial set, then optimize a
// two-dimensional layout by stochastic gradient descent balancing attraction
// between neighbors against repulsion from sampled non-neighbors. The whole
// pipeline is deterministic for a fixed seed.
package embed

import (
	"context"
	"math"

	"github.com/classlens/classlens/internal/model"
)

// Params tune the embedding.
type Params struct {
	NNeighbors         int     // capped to N-1 at run time
	MinDist            float64 // minimum point separation in the layout
	Spread             float64 // scale of the embedded cloud
	NEpochs            int
	NegativeSampleRate int
	LearningRate       float64
	Seed               uint64
}

// DefaultParams are tuned for classroom-scale inputs.
func DefaultParams() Params {
	return Params{
		NNeighbors:         15,
		MinDist:            0.1,
		Spread:             1.0,
		NEpochs:            200,
		NegativeSampleRate: 5,
		LearningRate:       1.0,
		Seed:               42,
	}
}

// Point is one embedded student position.
type Point struct {
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Embed reduces len(labels) vectors to 2D. labels and vectors are aligned.
//
// Fewer than two points short-circuits to a trivial deterministic placement:
// the optimizer needs neighbor relationships that do not exist below N=2.
// A ragged input matrix is an EMBEDDING_ERROR.
func Embed(ctx context.Context, labels []string, vectors [][]float64, p Params) ([]Point, error) {
	if len(labels) != len(vectors) {
		return nil, model.Embeddingf(nil, "labels/vectors length mismatch: %d != %d", len(labels), len(vectors))
	}
	n := len(vectors)
	if n == 0 {
		return []Point{}, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, model.Embeddingf(nil, "vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	if n < 2 {
		return trivialPlacement(labels), nil
	}

	k := p.NNeighbors
	if k > n-1 {
		k = n - 1
	}
	if k < 1 {
		k = 1
	}

	graph := nearestNeighbors(vectors, k)
	graph.k = k
	edges := fuzzySimplicialSet(graph)
	coords, err := optimizeLayout(ctx, n, edges, p)
	if err != nil {
		return nil, err
	}

	points := make([]Point, n)
	for i := range points {
		points[i] = Point{Label: labels[i], X: coords[i][0], Y: coords[i][1]}
	}
	return points, nil
}

// trivialPlacement spreads points along the x axis by index.
func trivialPlacement(labels []string) []Point {
	points := make([]Point, len(labels))
	for i, label := range labels {
		points[i] = Point{Label: label, X: float64(i), Y: 0}
	}
	return points
}

// optimizeLayout runs the SGD force loop over the fuzzy graph.
// Cancellation is checked once per epoch; a cancelled run returns ctx.Err()
// wrapped as an EMBEDDING_ERROR so the caller sees a typed failure.
func optimizeLayout(ctx context.Context, n int, edges []edge, p Params) ([][2]float64, error) {
	a, b := fitCurve(p.MinDist, p.Spread)
	r := newRNG(p.Seed)

	// Random init in a 20-unit box, same convention as the reference optimizer.
	coords := make([][2]float64, n)
	for i := range coords {
		coords[i][0] = r.Float64()*20 - 10
		coords[i][1] = r.Float64()*20 - 10
	}

	if len(edges) == 0 {
		return coords, nil
	}

	maxWeight := 0.0
	for _, e := range edges {
		if e.weight > maxWeight {
			maxWeight = e.weight
		}
	}

	// Sampling schedule: the heaviest edge is visited every epoch, lighter
	// edges proportionally less often.
	epochsPerSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))
	for i, e := range edges {
		epochsPerSample[i] = maxWeight / e.weight
		nextSample[i] = epochsPerSample[i]
		nextNegative[i] = epochsPerSample[i] / float64(p.NegativeSampleRate)
	}

	for epoch := 0; epoch < p.NEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, model.Embeddingf(err, "layout optimization cancelled")
		}

		alpha := p.LearningRate * (1 - float64(epoch)/float64(p.NEpochs))
		fe := float64(epoch)

		for i, e := range edges {
			if nextSample[i] > fe {
				continue
			}
			nextSample[i] += epochsPerSample[i]

			attract(&coords[e.from], &coords[e.to], a, b, alpha)

			// Repulse each positive sample against a few random points.
			epochsPerNeg := epochsPerSample[i] / float64(p.NegativeSampleRate)
			negs := int((fe - nextNegative[i]) / epochsPerNeg)
			if negs < 0 {
				negs = 0
			}
			for s := 0; s < negs; s++ {
				other := r.Intn(n)
				if other == e.from {
					continue
				}
				repulse(&coords[e.from], &coords[other], a, b, alpha)
			}
			nextNegative[i] += float64(negs) * epochsPerNeg
		}
	}
	return coords, nil
}

// attract pulls both endpoints of a positive edge together.
func attract(p1, p2 *[2]float64, a, b, alpha float64) {
	dx := p1[0] - p2[0]
	dy := p1[1] - p2[1]
	d2 := dx*dx + dy*dy
	if d2 <= 0 {
		return
	}

	coeff := -2 * a * b * math.Pow(d2, b-1) / (1 + a*math.Pow(d2, b))
	gx := clip(coeff * dx)
	gy := clip(coeff * dy)
	p1[0] += gx * alpha
	p1[1] += gy * alpha
	p2[0] -= gx * alpha
	p2[1] -= gy * alpha
}

// repulse pushes a point away from a sampled non-neighbor.
func repulse(p1, p2 *[2]float64, a, b, alpha float64) {
	dx := p1[0] - p2[0]
	dy := p1[1] - p2[1]
	d2 := dx*dx + dy*dy

	if d2 <= 0 {
		// Coincident points: nudge deterministically apart.
		p1[0] += clip(4) * alpha
		return
	}

	coeff := 2 * b / ((0.001 + d2) * (1 + a*math.Pow(d2, b)))
	p1[0] += clip(coeff*dx) * alpha
	p1[1] += clip(coeff*dy) * alpha
}

// clip bounds a gradient component to ±4, preventing a single step from
// flinging a point out of the layout.
func clip(v float64) float64 {
	if v > 4 {
		return 4
	}
	if v < -4 {
		return -4
	}
	return v
}

// fitCurve picks the (a, b) pair whose low-dimensional similarity curve
// 1/(1+a*d^(2b)) best matches the target shape implied by minDist and
// spread. A coarse-to-fine grid search is used instead of a library
// least-squares fit: it is deterministic and accurate to three decimals,
// which is all the layout needs.
func fitCurve(minDist, spread float64) (float64, float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := 0; i < samples; i++ {
		x := 3 * spread * float64(i+1) / samples
		xs[i] = x
		if x <= minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	loss := func(a, b float64) float64 {
		var sum float64
		for i := range xs {
			f := 1 / (1 + a*math.Pow(xs[i], 2*b))
			d := f - ys[i]
			sum += d * d
		}
		return sum
	}

	bestA, bestB := 1.0, 1.0
	best := math.Inf(1)
	aLo, aHi := 0.001, 10.0
	bLo, bHi := 0.1, 2.5
	for pass := 0; pass < 3; pass++ {
		const steps = 40
		for ai := 0; ai <= steps; ai++ {
			a := aLo + (aHi-aLo)*float64(ai)/steps
			for bi := 0; bi <= steps; bi++ {
				b := bLo + (bHi-bLo)*float64(bi)/steps
				if l := loss(a, b); l < best {
					best, bestA, bestB = l, a, b
				}
			}
		}
		// Zoom in around the current best for the next pass.
		aSpan := (aHi - aLo) / steps
		bSpan := (bHi - bLo) / steps
		aLo, aHi = math.Max(0.001, bestA-2*aSpan), bestA+2*aSpan
		bLo, bHi = math.Max(0.05, bestB-2*bSpan), bestB+2*bSpan
	}
	return bestA, bestB
}
