package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field length limits for student-supplied text. These keep caller-controlled
// strings out of unbounded Postgres TEXT growth.
const (
	MaxDisplayNameLen = 80
	MaxReflectionLen  = 8 * 1024 // 8 KB
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TeacherTokenRequest is the request body for POST /auth/teacher.
type TeacherTokenRequest struct {
	TeacherKey string `json:"teacher_key"`
}

// TokenResponse is the response for both token-issuing endpoints.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSessionRequest is the request body for POST /v1/sessions.
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// CreateSessionResponse returns the created session and its join code.
// The join code is returned exactly once; only its hash is stored.
type CreateSessionResponse struct {
	Session  Session `json:"session"`
	JoinCode string  `json:"join_code"`
}

// JoinSessionRequest is the request body for POST /v1/sessions/{session_id}/join.
type JoinSessionRequest struct {
	JoinCode    string `json:"join_code"`
	DisplayName string `json:"display_name"`
}

// JoinSessionResponse returns the created student, their token, and where the
// client should navigate first.
type JoinSessionResponse struct {
	Student  Student   `json:"student"`
	Token    string    `json:"token"`
	ExpireAt time.Time `json:"expires_at"`
	NextPath string    `json:"next_path"`
}

// TraitScoresRequest is the request body for POST /v1/me/traits.
type TraitScoresRequest struct {
	Openness          int `json:"openness"`
	Conscientiousness int `json:"conscientiousness"`
	Extraversion      int `json:"extraversion"`
	Agreeableness     int `json:"agreeableness"`
	Neuroticism       int `json:"neuroticism"`
}

// SelectThemeRequest is the request body for POST /v1/me/theme.
type SelectThemeRequest struct {
	ThemeID uuid.UUID `json:"theme_id"`
}

// SubmitResponseRequest is the request body for POST /v1/me/responses.
type SubmitResponseRequest struct {
	QuestionID uuid.UUID     `json:"question_id"`
	Value      ResponseValue `json:"value"`
}

// SaveReflectionRequest is the request body for POST /v1/me/reflection.
type SaveReflectionRequest struct {
	Text string `json:"text"`
}

// EmbeddingPoint is one student's position on the opinion map. Label is the
// caller-appropriate identity (pseudonym unless the caller is a teacher).
// Recomputed from scratch each run; there is no layout stability guarantee
// across successive computations.
type EmbeddingPoint struct {
	Label   string  `json:"label"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Cluster int     `json:"cluster"`
}

// ProgressResponse reports a student's stage after a gate-approved mutation,
// plus where the client should navigate next.
type ProgressResponse struct {
	Progress ProgressStatus `json:"progress"`
	NextPath string         `json:"next_path"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Postgres      string `json:"postgres"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	JobsInFlight  int    `json:"jobs_in_flight"`
}

// SessionStats is the live progress snapshot for a session: how many students
// sit at each stage plus response totals. Recomputed from scratch per tick.
type SessionStats struct {
	SessionID     uuid.UUID              `json:"session_id"`
	RosterSize    int                    `json:"roster_size"`
	StatusCounts  map[ProgressStatus]int `json:"status_counts"`
	ResponseTotal int                    `json:"response_total"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

// OpinionMap is the full aggregation result: the ordered question set, one
// label and vector per roster member, the layout points, and per-question
// answer distributions. Labels are pseudonyms unless the caller is a teacher;
// vectors carry zeroed trait axes for unprivileged callers; Responses is
// teacher-only and nil otherwise. Labels, Vectors, and Points share one
// roster ordering. Points may be empty when the layout computation failed;
// everything else is still populated.
type OpinionMap struct {
	SessionID     uuid.UUID                           `json:"session_id"`
	Questions     []Question                          `json:"questions"`
	Labels        []string                            `json:"labels"`
	Vectors       [][]float64                         `json:"vectors"`
	Points        []EmbeddingPoint                    `json:"points"`
	Distributions []Distribution                      `json:"distributions"`
	Responses     map[string]map[string]ResponseValue `json:"responses,omitempty"` // student id -> question id -> value
	GeneratedAt   time.Time                           `json:"generated_at"`
}

// Validate checks the join request fields.
func (r JoinSessionRequest) Validate() error {
	if strings.TrimSpace(r.JoinCode) == "" {
		return Validationf("join_code is required")
	}
	name := strings.TrimSpace(r.DisplayName)
	if name == "" {
		return Validationf("display_name is required")
	}
	if len(name) > MaxDisplayNameLen {
		return Validationf("display_name exceeds maximum length of %d characters", MaxDisplayNameLen)
	}
	return nil
}
