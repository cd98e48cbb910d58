// Package model defines the domain types shared across Classlens packages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ProgressStatus is a student's current stage in the fixed learning sequence.
// The stages form a strict forward order; the gate in internal/progress is the
// only component allowed to approve a transition.
type ProgressStatus string

const (
	StatusNotStarted     ProgressStatus = "NOT_STARTED"
	StatusBigFive        ProgressStatus = "BIG_FIVE"
	StatusThemeSelection ProgressStatus = "THEME_SELECTION"
	StatusBriefing       ProgressStatus = "BRIEFING"
	StatusQuestions      ProgressStatus = "QUESTIONS"
	StatusCompleted      ProgressStatus = "COMPLETED"
)

// AllStatuses lists the statuses in forward order.
var AllStatuses = []ProgressStatus{
	StatusNotStarted,
	StatusBigFive,
	StatusThemeSelection,
	StatusBriefing,
	StatusQuestions,
	StatusCompleted,
}

// Valid reports whether s is one of the six known statuses.
func (s ProgressStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Student is a participant in a session. Created on join, mutated only
// through gate-approved status transitions or a teacher-issued reset,
// never deleted by the core.
type Student struct {
	ID          uuid.UUID      `json:"id"`
	SessionID   uuid.UUID      `json:"session_id"`
	DisplayName string         `json:"display_name"`
	Progress    ProgressStatus `json:"progress"`
	JoinedAt    time.Time      `json:"joined_at"` // stable base ordering for anonymization
}

// Session is the classroom session a teacher created. Only the fields the
// core collaborators need; lifecycle states beyond creation are out of scope.
type Session struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	JoinCodeHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Trait score bounds. Each axis is the sum of eight 0–5 inventory items.
const (
	TraitScoreMin = 0
	TraitScoreMax = 40
)

// TraitScores holds the five bounded personality axes for one student.
// Absent until the BIG_FIVE stage completes.
type TraitScores struct {
	StudentID         uuid.UUID `json:"student_id"`
	Openness          int       `json:"openness"`
	Conscientiousness int       `json:"conscientiousness"`
	Extraversion      int       `json:"extraversion"`
	Agreeableness     int       `json:"agreeableness"`
	Neuroticism       int       `json:"neuroticism"`
}

// Axes returns the five scores in their fixed vector order.
func (t TraitScores) Axes() [5]float64 {
	return [5]float64{
		float64(t.Openness),
		float64(t.Conscientiousness),
		float64(t.Extraversion),
		float64(t.Agreeableness),
		float64(t.Neuroticism),
	}
}

// Validate checks every axis against the trait score bounds.
func (t TraitScores) Validate() error {
	for _, v := range []int{t.Openness, t.Conscientiousness, t.Extraversion, t.Agreeableness, t.Neuroticism} {
		if v < TraitScoreMin || v > TraitScoreMax {
			return Validationf("trait score %d out of range [%d, %d]", v, TraitScoreMin, TraitScoreMax)
		}
	}
	return nil
}
