package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/aggregate"
	"github.com/classlens/classlens/internal/auth"
	"github.com/classlens/classlens/internal/ctxutil"
	"github.com/classlens/classlens/internal/model"
	"github.com/classlens/classlens/internal/progress"
	"github.com/classlens/classlens/internal/storage"
	"github.com/classlens/classlens/internal/worker"
)

// Store is the persistence surface handlers depend on. *storage.DB satisfies
// it; tests substitute fakes.
type Store interface {
	aggregate.Store

	CreateSession(ctx context.Context, session model.Session) (model.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (model.Session, error)
	CreateStudent(ctx context.Context, student model.Student) (model.Student, error)
	GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error)
	SetProgressStatus(ctx context.Context, studentID uuid.UUID, status model.ProgressStatus) error
	SetSelectedTheme(ctx context.Context, studentID, themeID uuid.UUID) error
	ListThemes(ctx context.Context, sessionID uuid.UUID) ([]model.Theme, error)
	ThemeInSession(ctx context.Context, sessionID, themeID uuid.UUID) (bool, error)
	UpsertResponse(ctx context.Context, resp model.QuestionResponse) error
	SaveReflection(ctx context.Context, refl model.Reflection) error
	UpsertTraitScores(ctx context.Context, scores model.TraitScores) error
	Notify(ctx context.Context, channel, payload string) error
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               Store
	jwtMgr              *auth.JWTManager
	aggSvc              *aggregate.Service
	broker              *Broker
	runner              *worker.Runner
	teacherKey          string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, Runner.
type HandlersDeps struct {
	Store               Store
	JWTMgr              *auth.JWTManager
	AggSvc              *aggregate.Service
	Broker              *Broker
	Runner              *worker.Runner
	TeacherKey          string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		aggSvc:              d.AggSvc,
		broker:              d.Broker,
		runner:              d.Runner,
		teacherKey:          d.TeacherKey,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleTeacherToken handles POST /auth/teacher: exchanges the shared teacher
// key for a teacher JWT.
func (h *Handlers) HandleTeacherToken(w http.ResponseWriter, r *http.Request) {
	var req model.TeacherTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.TeacherKey), []byte(h.teacherKey)) != 1 {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid teacher key")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueTeacherToken(uuid.Nil)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleCreateSession handles POST /v1/sessions (teacher only). The plaintext
// join code appears in this response and nowhere else.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "name is required")
		return
	}

	joinCode, err := auth.GenerateJoinCode()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	hash, err := auth.HashJoinCode(joinCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	session, err := h.store.CreateSession(r.Context(), model.Session{Name: name, JoinCodeHash: hash})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("session created", "session_id", session.ID, "name", session.Name)
	writeJSON(w, r, http.StatusCreated, model.CreateSessionResponse{Session: session, JoinCode: joinCode})
}

// HandleJoinSession handles POST /v1/sessions/{session_id}/join (public).
// Creates a roster entry and issues the student token.
func (h *Handlers) HandleJoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid session id")
		return
	}

	var req model.JoinSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		// Same hashing cost as the real check, so timing does not reveal
		// whether the session exists.
		auth.DummyVerify()
		h.writeServiceError(w, r, err)
		return
	}

	ok, err := auth.VerifyJoinCode(req.JoinCode, session.JoinCodeHash)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid join code")
		return
	}

	student, err := h.store.CreateStudent(r.Context(), model.Student{
		SessionID:   sessionID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Progress:    model.StatusNotStarted,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueStudentToken(student)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.aggSvc.InvalidateStats(r.Context(), sessionID)
	h.notifyProgress(r.Context(), sessionID)

	h.logger.Info("student joined", "session_id", sessionID, "student_id", student.ID)
	writeJSON(w, r, http.StatusCreated, model.JoinSessionResponse{
		Student:  student,
		Token:    token,
		ExpireAt: expiresAt,
		NextPath: progress.ResolveNextPath(student.Progress),
	})
}

// HandleMyPath handles GET /v1/me/path (student only).
func (h *Handlers) HandleMyPath(w http.ResponseWriter, r *http.Request) {
	student, ok := h.currentStudent(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, model.ProgressResponse{
		Progress: student.Progress,
		NextPath: progress.ResolveNextPath(student.Progress),
	})
}

// HandleSubmitTraits handles POST /v1/me/traits: stores the five-axis
// inventory result and moves the student to THEME_SELECTION.
func (h *Handlers) HandleSubmitTraits(w http.ResponseWriter, r *http.Request) {
	var req model.TraitScoresRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	h.studentTransition(w, r, model.StatusThemeSelection, func(ctx context.Context, student model.Student) error {
		scores := model.TraitScores{
			StudentID:         student.ID,
			Openness:          req.Openness,
			Conscientiousness: req.Conscientiousness,
			Extraversion:      req.Extraversion,
			Agreeableness:     req.Agreeableness,
			Neuroticism:       req.Neuroticism,
		}
		if err := scores.Validate(); err != nil {
			return err
		}
		return h.store.UpsertTraitScores(ctx, scores)
	})
}

// HandleListThemes handles GET /v1/me/themes.
func (h *Handlers) HandleListThemes(w http.ResponseWriter, r *http.Request) {
	student, ok := h.currentStudent(w, r)
	if !ok {
		return
	}
	themes, err := h.store.ListThemes(r.Context(), student.SessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, themes)
}

// HandleSelectTheme handles POST /v1/me/theme: records the choice and moves
// the student to BRIEFING.
func (h *Handlers) HandleSelectTheme(w http.ResponseWriter, r *http.Request) {
	var req model.SelectThemeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ThemeID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "theme_id is required")
		return
	}

	h.studentTransition(w, r, model.StatusBriefing, func(ctx context.Context, student model.Student) error {
		ok, err := h.store.ThemeInSession(ctx, student.SessionID, req.ThemeID)
		if err != nil {
			return err
		}
		if !ok {
			return model.Validationf("theme %s does not belong to this session", req.ThemeID)
		}
		return h.store.SetSelectedTheme(ctx, student.ID, req.ThemeID)
	})
}

// HandleAckBriefing handles POST /v1/me/briefing/ack: moves the student to
// QUESTIONS.
func (h *Handlers) HandleAckBriefing(w http.ResponseWriter, r *http.Request) {
	h.studentTransition(w, r, model.StatusQuestions, nil)
}

// HandleSubmitResponse handles POST /v1/me/responses. Re-answering a question
// overwrites the previous answer; concurrent double submits converge on the
// last write.
func (h *Handlers) HandleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitResponseRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.QuestionID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "question_id is required")
		return
	}
	if !req.Value.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "value must be YES, NO, or UNKNOWN")
		return
	}

	h.studentTransition(w, r, model.StatusQuestions, func(ctx context.Context, student model.Student) error {
		if err := h.store.UpsertResponse(ctx, model.QuestionResponse{
			StudentID:  student.ID,
			QuestionID: req.QuestionID,
			Value:      req.Value,
		}); err != nil {
			return err
		}
		h.aggSvc.InvalidateStats(ctx, student.SessionID)
		if err := h.store.Notify(ctx, storage.ChannelResponses, student.SessionID.String()); err != nil {
			h.logger.Warn("notify responses failed", "error", err)
		}
		return nil
	})
}

// HandleSaveReflection handles POST /v1/me/reflection.
func (h *Handlers) HandleSaveReflection(w http.ResponseWriter, r *http.Request) {
	var req model.SaveReflectionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Text) > model.MaxReflectionLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "reflection text too long")
		return
	}

	h.studentTransition(w, r, model.StatusQuestions, func(ctx context.Context, student model.Student) error {
		return h.store.SaveReflection(ctx, model.Reflection{StudentID: student.ID, Text: req.Text})
	})
}

// HandleComplete handles POST /v1/me/complete. Idempotent: completing twice
// is a no-op success.
func (h *Handlers) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.studentTransition(w, r, model.StatusCompleted, nil)
}

// HandleResetStudent handles POST /v1/students/{student_id}/reset (teacher
// only): the single legal regression, back to the inventory stage.
func (h *Handlers) HandleResetStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(r.PathValue("student_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid student id")
		return
	}

	student, err := h.store.GetStudent(r.Context(), studentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := progress.AssertReset(student.Progress, model.StatusBigFive); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.store.SetProgressStatus(r.Context(), studentID, model.StatusBigFive); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.aggSvc.InvalidateStats(r.Context(), student.SessionID)
	h.notifyProgress(r.Context(), student.SessionID)

	h.logger.Info("student reset", "student_id", studentID, "session_id", student.SessionID)
	writeJSON(w, r, http.StatusOK, model.ProgressResponse{
		Progress: model.StatusBigFive,
		NextPath: progress.ResolveNextPath(model.StatusBigFive),
	})
}

// HandleOpinionMap handles GET /v1/sessions/{session_id}/map. Students get
// pseudonymized points for their own session; teachers get real names plus
// the raw response map for any session.
func (h *Handlers) HandleOpinionMap(w http.ResponseWriter, r *http.Request) {
	sessionID, claims, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	out, err := h.aggSvc.OpinionMap(r.Context(), sessionID, claims.Role, claims.Subject)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleSessionStats handles GET /v1/sessions/{session_id}/stats (teacher only).
func (h *Handlers) HandleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	stats, err := h.aggSvc.Stats(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleSubscribe handles GET /v1/sessions/{session_id}/subscribe (teacher
// only): a long-lived SSE stream of live stats snapshots.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternal, "live stats not available")
		return
	}

	flusher, flushOK := w.(http.Flusher)
	if !flushOK {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(sessionID, ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	inFlight := 0
	if h.runner != nil {
		inFlight = h.runner.InFlight()
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:        status,
		Version:       h.version,
		Postgres:      pgStatus,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		JobsInFlight:  inFlight,
	})
}

// currentStudent loads the caller's roster row from their claims. Routes
// using it are already restricted to the student role.
func (h *Handlers) currentStudent(w http.ResponseWriter, r *http.Request) (model.Student, bool) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil || claims.StudentID == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no student identity in token")
		return model.Student{}, false
	}

	student, err := h.store.GetStudent(r.Context(), *claims.StudentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return model.Student{}, false
	}
	return student, true
}

// studentTransition runs the shared mutation sequence: load the student,
// consult the gate, apply the write, then advance the stored status only when
// the request moves strictly forward. A legal re-entry keeps the stored
// status where it is.
func (h *Handlers) studentTransition(
	w http.ResponseWriter,
	r *http.Request,
	requested model.ProgressStatus,
	mutate func(ctx context.Context, student model.Student) error,
) {
	student, ok := h.currentStudent(w, r)
	if !ok {
		return
	}

	if err := progress.AssertForwardTransition(student.Progress, requested); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if mutate != nil {
		if err := mutate(r.Context(), student); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	status := student.Progress
	if progress.Advances(student.Progress, requested) {
		if err := h.store.SetProgressStatus(r.Context(), student.ID, requested); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		status = requested
		h.aggSvc.InvalidateStats(r.Context(), student.SessionID)
		h.notifyProgress(r.Context(), student.SessionID)
	}

	writeJSON(w, r, http.StatusOK, model.ProgressResponse{
		Progress: status,
		NextPath: progress.ResolveNextPath(status),
	})
}

// sessionScope parses the session id from the path and enforces that student
// callers only reach their own session. Teacher tokens span sessions.
func (h *Handlers) sessionScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "invalid session id")
		return uuid.Nil, nil, false
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return uuid.Nil, nil, false
	}
	if claims.Role == model.RoleStudent && ctxutil.SessionIDFromContext(r.Context()) != sessionID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "session does not match token")
		return uuid.Nil, nil, false
	}
	return sessionID, claims, true
}

// notifyProgress signals a progress change for live stats listeners.
// Best-effort.
func (h *Handlers) notifyProgress(ctx context.Context, sessionID uuid.UUID) {
	if err := h.store.Notify(ctx, storage.ChannelProgress, sessionID.String()); err != nil {
		h.logger.Warn("notify progress failed", "error", err)
	}
}
