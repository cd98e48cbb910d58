package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlens/classlens/internal/aggregate"
	"github.com/classlens/classlens/internal/auth"
	"github.com/classlens/classlens/internal/embed"
	"github.com/classlens/classlens/internal/model"
	"github.com/classlens/classlens/internal/storage"
	"github.com/classlens/classlens/internal/worker"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	sessions  map[uuid.UUID]model.Session
	students  map[uuid.UUID]model.Student
	themes    map[uuid.UUID]model.Theme
	questions []model.Question
	responses map[string]model.QuestionResponse // studentID:questionID
	traits    map[uuid.UUID]model.TraitScores
	refl      map[uuid.UUID]model.Reflection
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[uuid.UUID]model.Session),
		students:  make(map[uuid.UUID]model.Student),
		themes:    make(map[uuid.UUID]model.Theme),
		responses: make(map[string]model.QuestionResponse),
		traits:    make(map[uuid.UUID]model.TraitScores),
		refl:      make(map[uuid.UUID]model.Reflection),
	}
}

func (m *memStore) CreateSession(_ context.Context, s model.Session) (model.Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (model.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("storage: session %s: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) CreateStudent(_ context.Context, s model.Student) (model.Student, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.JoinedAt.IsZero() {
		s.JoinedAt = time.Now()
	}
	m.students[s.ID] = s
	return s, nil
}

func (m *memStore) GetStudent(_ context.Context, id uuid.UUID) (model.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return model.Student{}, fmt.Errorf("storage: student %s: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) ListStudents(_ context.Context, sessionID uuid.UUID) ([]model.Student, error) {
	var out []model.Student
	for _, s := range m.students {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) SetProgressStatus(_ context.Context, id uuid.UUID, status model.ProgressStatus) error {
	s, ok := m.students[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Progress = status
	m.students[id] = s
	return nil
}

func (m *memStore) SetSelectedTheme(_ context.Context, _, _ uuid.UUID) error { return nil }

func (m *memStore) ListThemes(_ context.Context, sessionID uuid.UUID) ([]model.Theme, error) {
	var out []model.Theme
	for _, t := range m.themes {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ThemeInSession(_ context.Context, sessionID, themeID uuid.UUID) (bool, error) {
	t, ok := m.themes[themeID]
	return ok && t.SessionID == sessionID, nil
}

func (m *memStore) ListOrderedQuestions(_ context.Context, sessionID uuid.UUID) ([]model.Question, error) {
	var out []model.Question
	for _, q := range m.questions {
		if q.SessionID == sessionID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memStore) UpsertResponse(_ context.Context, r model.QuestionResponse) error {
	m.responses[r.StudentID.String()+":"+r.QuestionID.String()] = r
	return nil
}

func (m *memStore) ListResponses(_ context.Context, sessionID uuid.UUID) ([]model.QuestionResponse, error) {
	var out []model.QuestionResponse
	for _, r := range m.responses {
		if s, ok := m.students[r.StudentID]; ok && s.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CountResponses(ctx context.Context, sessionID uuid.UUID) (int, error) {
	rs, _ := m.ListResponses(ctx, sessionID)
	return len(rs), nil
}

func (m *memStore) SaveReflection(_ context.Context, r model.Reflection) error {
	m.refl[r.StudentID] = r
	return nil
}

func (m *memStore) UpsertTraitScores(_ context.Context, t model.TraitScores) error {
	m.traits[t.StudentID] = t
	return nil
}

func (m *memStore) GetTraitScores(_ context.Context, id uuid.UUID) (model.TraitScores, error) {
	t, ok := m.traits[id]
	if !ok {
		return model.TraitScores{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *memStore) ListTraitScores(_ context.Context, sessionID uuid.UUID) (map[uuid.UUID]model.TraitScores, error) {
	out := make(map[uuid.UUID]model.TraitScores)
	for id, t := range m.traits {
		if s, ok := m.students[id]; ok && s.SessionID == sessionID {
			out[id] = t
		}
	}
	return out, nil
}

func (m *memStore) CountStudentsByStatus(_ context.Context, sessionID uuid.UUID) (map[model.ProgressStatus]int, error) {
	counts := make(map[model.ProgressStatus]int)
	for _, status := range model.AllStatuses {
		counts[status] = 0
	}
	for _, s := range m.students {
		if s.SessionID == sessionID {
			counts[s.Progress]++
		}
	}
	return counts, nil
}

func (m *memStore) Notify(_ context.Context, _, _ string) error { return nil }
func (m *memStore) Ping(_ context.Context) error                { return nil }

type testEnv struct {
	store   *memStore
	server  *Server
	jwtMgr  *auth.JWTManager
	session model.Session
	code    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := newMemStore()

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	params := embed.DefaultParams()
	params.NEpochs = 30
	runner := worker.NewRunner(logger)
	aggSvc := aggregate.NewService(store, runner, nil, params, 2, logger)

	handlers := NewHandlers(HandlersDeps{
		Store:               store,
		JWTMgr:              jwtMgr,
		AggSvc:              aggSvc,
		Runner:              runner,
		TeacherKey:          "sekrit",
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	srv := New(Config{
		Handlers: handlers,
		JWTMgr:   jwtMgr,
		Logger:   logger,
		Port:     0,
	})

	code := "ABC234"
	hash, err := auth.HashJoinCode(code)
	require.NoError(t, err)
	session, err := store.CreateSession(context.Background(), model.Session{Name: "Period 3", JoinCodeHash: hash})
	require.NoError(t, err)

	return &testEnv{store: store, server: srv, jwtMgr: jwtMgr, session: session, code: code}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) teacherToken(t *testing.T) string {
	t.Helper()
	token, _, err := e.jwtMgr.IssueTeacherToken(uuid.Nil)
	require.NoError(t, err)
	return token
}

func (e *testEnv) joinStudent(t *testing.T, name string) (model.Student, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions/"+e.session.ID.String()+"/join", "",
		model.JoinSessionRequest{JoinCode: e.code, DisplayName: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope struct {
		Data model.JoinSessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data.Student, envelope.Data.Token
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHealthNoAuth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	health := decodeData[model.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Postgres)
}

func TestTeacherToken(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/auth/teacher", "", model.TeacherTokenRequest{TeacherKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/auth/teacher", "", model.TeacherTokenRequest{TeacherKey: "sekrit"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[model.TokenResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
}

func TestCreateSessionTeacherOnly(t *testing.T) {
	e := newTestEnv(t)
	_, studentToken := e.joinStudent(t, "Ada")

	rec := e.do(t, http.MethodPost, "/v1/sessions", studentToken, model.CreateSessionRequest{Name: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/sessions", e.teacherToken(t), model.CreateSessionRequest{Name: "Period 4"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeData[model.CreateSessionResponse](t, rec)
	assert.Len(t, resp.JoinCode, auth.JoinCodeLen)
	assert.NotEqual(t, uuid.Nil, resp.Session.ID)
}

func TestJoinSession(t *testing.T) {
	e := newTestEnv(t)

	student, token := e.joinStudent(t, "Ada")
	assert.Equal(t, model.StatusNotStarted, student.Progress)
	assert.NotEmpty(t, token)

	rec := e.do(t, http.MethodPost, "/v1/sessions/"+e.session.ID.String()+"/join", "",
		model.JoinSessionRequest{JoinCode: "WRONG2", DisplayName: "Eve"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/sessions/"+uuid.NewString()+"/join", "",
		model.JoinSessionRequest{JoinCode: e.code, DisplayName: "Eve"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJoinNextPathIsFirstStage(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/sessions/"+e.session.ID.String()+"/join", "",
		model.JoinSessionRequest{JoinCode: e.code, DisplayName: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeData[model.JoinSessionResponse](t, rec)
	assert.Equal(t, "/survey/big-five", resp.NextPath)
}

func TestTraitSubmissionAdvances(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")

	rec := e.do(t, http.MethodPost, "/v1/me/traits", token, model.TraitScoresRequest{
		Openness: 30, Conscientiousness: 22, Extraversion: 15, Agreeableness: 38, Neuroticism: 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeData[model.ProgressResponse](t, rec)
	assert.Equal(t, model.StatusThemeSelection, resp.Progress)
	assert.Equal(t, "/survey/themes", resp.NextPath)
}

func TestTraitSubmissionRejectsOutOfRange(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")

	rec := e.do(t, http.MethodPost, "/v1/me/traits", token, model.TraitScoresRequest{Openness: 41})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, model.ErrCodeValidation, envelope.Error.Code)
}

func TestResubmitKeepsLaterProgress(t *testing.T) {
	e := newTestEnv(t)
	student, token := e.joinStudent(t, "Ada")
	require.NoError(t, e.store.SetProgressStatus(context.Background(), student.ID, model.StatusQuestions))

	// Re-entering the inventory stage updates the scores but never regresses
	// the stored status.
	rec := e.do(t, http.MethodPost, "/v1/me/traits", token, model.TraitScoresRequest{Openness: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[model.ProgressResponse](t, rec)
	assert.Equal(t, model.StatusQuestions, resp.Progress)
}

func TestSubmitResponseValidation(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")

	rec := e.do(t, http.MethodPost, "/v1/me/responses", token, model.SubmitResponseRequest{
		QuestionID: uuid.New(),
		Value:      model.ResponseValue("MAYBE"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteIdempotent(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")

	for range 2 {
		rec := e.do(t, http.MethodPost, "/v1/me/complete", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeData[model.ProgressResponse](t, rec)
		assert.Equal(t, model.StatusCompleted, resp.Progress)
		assert.Equal(t, "/survey/done", resp.NextPath)
	}
}

func TestTeacherReset(t *testing.T) {
	e := newTestEnv(t)
	student, token := e.joinStudent(t, "Ada")

	rec := e.do(t, http.MethodPost, "/v1/me/complete", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Students cannot reach the reset route at all.
	rec = e.do(t, http.MethodPost, "/v1/students/"+student.ID.String()+"/reset", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/students/"+student.ID.String()+"/reset", e.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[model.ProgressResponse](t, rec)
	assert.Equal(t, model.StatusBigFive, resp.Progress)

	got, err := e.store.GetStudent(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBigFive, got.Progress)
}

func TestOpinionMapPrivilege(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")
	e.joinStudent(t, "Grace")
	e.joinStudent(t, "Mary")

	path := "/v1/sessions/" + e.session.ID.String() + "/map"

	rec := e.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	studentView := decodeData[model.OpinionMap](t, rec)
	require.Len(t, studentView.Points, 3)
	assert.Nil(t, studentView.Responses)
	for _, p := range studentView.Points {
		assert.Regexp(t, `^P\d{2}$`, p.Label)
	}

	rec = e.do(t, http.MethodGet, path, e.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	teacherView := decodeData[model.OpinionMap](t, rec)
	require.Len(t, teacherView.Points, 3)
	assert.NotNil(t, teacherView.Responses)
}

func TestOpinionMapSessionScope(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")

	rec := e.do(t, http.MethodGet, "/v1/sessions/"+uuid.NewString()+"/map", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatsTeacherOnly(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.joinStudent(t, "Ada")
	path := "/v1/sessions/" + e.session.ID.String() + "/stats"

	rec := e.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, path, e.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData[model.SessionStats](t, rec)
	assert.Equal(t, 1, stats.RosterSize)
	assert.Equal(t, 1, stats.StatusCounts[model.StatusNotStarted])
}

func TestUnauthenticatedRejected(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/me/path", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/me/path", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
