// Package vector builds the fixed-length numeric representation of one
// student's answers. The downstream embedding requires a rectangular matrix,
// so the vector length is invariant across students regardless of how many
// questions each actually answered.
package vector

import (
	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/model"
)

// TraitAxes is the number of personality axes appended to every vector.
const TraitAxes = 5

// Length returns the vector length for a run over the given question count.
func Length(questionCount int) int {
	return questionCount + TraitAxes
}

// Build encodes one student's responses against the run's ordered question
// set: YES=+1, NO=-1, UNKNOWN or missing=0, followed by the five trait axes
// in fixed order. Traits are zeroed when absent or when the caller lacks
// privilege to see them. No normalization is applied; the embedding step
// consumes raw values.
func Build(questions []model.Question, responses map[uuid.UUID]model.ResponseValue, traits *model.TraitScores, includeTraits bool) []float64 {
	v := make([]float64, 0, Length(len(questions)))
	for _, q := range questions {
		v = append(v, responses[q.ID].Encode())
	}

	if traits != nil && includeTraits {
		axes := traits.Axes()
		v = append(v, axes[:]...)
	} else {
		v = append(v, make([]float64, TraitAxes)...)
	}
	return v
}

// BuildAll builds one vector per student, in roster order. responsesByStudent
// maps student id to that student's answer map; students with no entry get an
// all-UNKNOWN question block.
func BuildAll(
	students []model.Student,
	questions []model.Question,
	responsesByStudent map[uuid.UUID]map[uuid.UUID]model.ResponseValue,
	traitsByStudent map[uuid.UUID]model.TraitScores,
	includeTraits bool,
) [][]float64 {
	vectors := make([][]float64, len(students))
	for i, s := range students {
		var traits *model.TraitScores
		if t, ok := traitsByStudent[s.ID]; ok {
			traits = &t
		}
		vectors[i] = Build(questions, responsesByStudent[s.ID], traits, includeTraits)
	}
	return vectors
}
