package model

import (
	"time"

	"github.com/google/uuid"
)

// ResponseValue is a student's answer to one question.
type ResponseValue string

const (
	ResponseYes     ResponseValue = "YES"
	ResponseNo      ResponseValue = "NO"
	ResponseUnknown ResponseValue = "UNKNOWN"
)

// Valid reports whether v is a known response value.
func (v ResponseValue) Valid() bool {
	return v == ResponseYes || v == ResponseNo || v == ResponseUnknown
}

// Encode maps a response to its numeric vector component.
// Missing responses encode as UNKNOWN (0).
func (v ResponseValue) Encode() float64 {
	switch v {
	case ResponseYes:
		return 1
	case ResponseNo:
		return -1
	default:
		return 0
	}
}

// Theme groups a session's questions. Each student picks exactly one theme
// during THEME_SELECTION; questions from all themes still form one ordered set.
type Theme struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Title     string    `json:"title"`
	Rank      int       `json:"rank"`
}

// Question is one yes/no/unknown question belonging to a session theme.
// ThemeRank and Rank together define the session-wide stable ordering
// (theme rank first, question rank within the theme).
type Question struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	ThemeID   uuid.UUID `json:"theme_id"`
	Text      string    `json:"text"`
	ThemeRank int       `json:"theme_rank"`
	Rank      int       `json:"rank"`
}

// QuestionResponse is the latest answer one student gave to one question.
// Upserted; the latest write per (student, question) wins.
type QuestionResponse struct {
	StudentID  uuid.UUID     `json:"student_id"`
	QuestionID uuid.UUID     `json:"question_id"`
	Value      ResponseValue `json:"value"`
	AnsweredAt time.Time     `json:"answered_at"`
}

// Reflection is the free-text note a student saves during the QUESTIONS stage.
type Reflection struct {
	StudentID uuid.UUID `json:"student_id"`
	Text      string    `json:"text"`
	SavedAt   time.Time `json:"saved_at"`
}

// Distribution counts the YES/NO/UNKNOWN answers for one question across a
// run's roster. Students without a stored answer count as UNKNOWN, so
// Yes+No+Unknown always equals the roster size.
type Distribution struct {
	QuestionID uuid.UUID `json:"question_id"`
	Yes        int       `json:"yes"`
	No         int       `json:"no"`
	Unknown    int       `json:"unknown"`
}
