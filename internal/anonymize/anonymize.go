// Package anonymize maps real student identities to session-scoped pseudonyms
// for non-teacher consumers.
//
// The mapping is recomputed from the current roster on every aggregation run.
// With an unchanged roster (same ids, same join order) repeated runs yield the
// same labels, but a join or leave changes N and can reassign every label —
// callers must not treat "P03" in one snapshot as the same person as "P03" in
// a later one once the roster has changed.
package anonymize

import "fmt"

// LCG constants (Numerical Recipes). The generator is hand-rolled rather than
// math/rand because the label assignment must be bit-for-bit reproducible
// across releases; the stdlib stream carries no such guarantee.
const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
)

// Seed folds a session identifier into a deterministic 32-bit shuffle seed by
// summing its character codes.
func Seed(sessionID string) uint32 {
	var seed uint32
	for _, c := range sessionID {
		seed += uint32(c)
	}
	return seed
}

// Map is a run-scoped bijection from base-order roster position to pseudonym.
type Map struct {
	labels []string
}

// New derives the pseudonym map for a roster of n students, taken in the
// fixed base ordering (ascending join time). A seeded Fisher–Yates shuffle
// over [0..n) decides which label each position receives; the seed advances
// by one LCG step per swap.
func New(sessionID string, n int) Map {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	seed := Seed(sessionID)
	for i := n - 1; i > 0; i-- {
		seed = seed*lcgMultiplier + lcgIncrement
		j := int(seed % uint32(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}

	width := labelWidth(n)
	labels := make([]string, n)
	for i, p := range perm {
		labels[i] = fmt.Sprintf("P%0*d", width, p+1)
	}
	return Map{labels: labels}
}

// Label returns the pseudonym for the student at base-order position i.
func (m Map) Label(i int) string {
	return m.labels[i]
}

// Labels returns all pseudonyms in base order.
func (m Map) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// labelWidth is the zero-pad width for n labels: at least two digits (P01),
// growing with the roster.
func labelWidth(n int) int {
	width := len(fmt.Sprintf("%d", n))
	if width < 2 {
		width = 2
	}
	return width
}
