package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlens/classlens/internal/embed"
	"github.com/classlens/classlens/internal/model"
	"github.com/classlens/classlens/internal/worker"
)

type fakeStore struct {
	students  []model.Student
	questions []model.Question
	responses []model.QuestionResponse
	traits    map[uuid.UUID]model.TraitScores
}

func (f *fakeStore) ListStudents(_ context.Context, _ uuid.UUID) ([]model.Student, error) {
	return f.students, nil
}

func (f *fakeStore) ListOrderedQuestions(_ context.Context, _ uuid.UUID) ([]model.Question, error) {
	return f.questions, nil
}

func (f *fakeStore) ListResponses(_ context.Context, _ uuid.UUID) ([]model.QuestionResponse, error) {
	return f.responses, nil
}

func (f *fakeStore) ListTraitScores(_ context.Context, _ uuid.UUID) (map[uuid.UUID]model.TraitScores, error) {
	return f.traits, nil
}

func (f *fakeStore) CountStudentsByStatus(_ context.Context, _ uuid.UUID) (map[model.ProgressStatus]int, error) {
	counts := make(map[model.ProgressStatus]int)
	for _, status := range model.AllStatuses {
		counts[status] = 0
	}
	for _, s := range f.students {
		counts[s.Progress]++
	}
	return counts, nil
}

func (f *fakeStore) CountResponses(_ context.Context, _ uuid.UUID) (int, error) {
	return len(f.responses), nil
}

// classroom builds a 5-student, 4-question session with a realistic spread of
// answers: two students agree on everything, two disagree, one answered nothing.
func classroom(t *testing.T) *fakeStore {
	t.Helper()
	sessionID := uuid.New()

	students := make([]model.Student, 5)
	for i := range students {
		students[i] = model.Student{
			ID:          uuid.New(),
			SessionID:   sessionID,
			DisplayName: string(rune('A' + i)),
			Progress:    model.StatusQuestions,
			JoinedAt:    time.Now().Add(time.Duration(i) * time.Second),
		}
	}
	students[4].Progress = model.StatusBigFive // joined late, answered nothing

	questions := make([]model.Question, 4)
	for i := range questions {
		questions[i] = model.Question{
			ID:        uuid.New(),
			SessionID: sessionID,
			ThemeRank: 1,
			Rank:      i + 1,
		}
	}

	var responses []model.QuestionResponse
	answer := func(studentIdx int, value model.ResponseValue) {
		for _, q := range questions {
			responses = append(responses, model.QuestionResponse{
				StudentID:  students[studentIdx].ID,
				QuestionID: q.ID,
				Value:      value,
			})
		}
	}
	answer(0, model.ResponseYes)
	answer(1, model.ResponseYes)
	answer(2, model.ResponseNo)
	answer(3, model.ResponseNo)

	return &fakeStore{
		students:  students,
		questions: questions,
		responses: responses,
		traits:    map[uuid.UUID]model.TraitScores{},
	}
}

func newTestService(store Store) *Service {
	logger := slog.New(slog.DiscardHandler)
	params := embed.DefaultParams()
	params.NEpochs = 50 // keep tests fast
	return NewService(store, worker.NewRunner(logger), nil, params, 2, logger)
}

func TestOpinionMapStudentView(t *testing.T) {
	store := classroom(t)
	svc := newTestService(store)
	sessionID := store.students[0].SessionID

	out, err := svc.OpinionMap(context.Background(), sessionID, model.RoleStudent, uuid.NewString())
	require.NoError(t, err)

	require.Len(t, out.Points, 5)
	for _, p := range out.Points {
		assert.True(t, strings.HasPrefix(p.Label, "P"), "expected pseudonym, got %q", p.Label)
	}
	assert.Nil(t, out.Responses, "raw responses are teacher-only")

	assert.Len(t, out.Questions, 4)
	require.Len(t, out.Labels, 5)
	require.Len(t, out.Vectors, 5)
	for _, v := range out.Vectors {
		assert.Len(t, v, 9, "vector length is question count plus five trait axes")
	}

	require.Len(t, out.Distributions, 4)
	for _, d := range out.Distributions {
		assert.Equal(t, 5, d.Yes+d.No+d.Unknown, "distribution must sum to roster size")
		assert.Equal(t, 2, d.Yes)
		assert.Equal(t, 2, d.No)
		assert.Equal(t, 1, d.Unknown)
	}
}

func TestOpinionMapTeacherView(t *testing.T) {
	store := classroom(t)
	svc := newTestService(store)
	sessionID := store.students[0].SessionID

	out, err := svc.OpinionMap(context.Background(), sessionID, model.RoleTeacher, uuid.NewString())
	require.NoError(t, err)

	require.Len(t, out.Points, 5)
	labels := make(map[string]bool)
	for _, p := range out.Points {
		labels[p.Label] = true
	}
	for _, st := range store.students {
		assert.True(t, labels[st.DisplayName], "teacher view should carry real names")
	}

	require.NotNil(t, out.Responses)
	assert.Len(t, out.Responses, 5)
	assert.Len(t, out.Responses[store.students[0].ID.String()], 4)
	assert.Empty(t, out.Responses[store.students[4].ID.String()])
}

func TestOpinionMapEmptySession(t *testing.T) {
	svc := newTestService(&fakeStore{})

	out, err := svc.OpinionMap(context.Background(), uuid.New(), model.RoleTeacher, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, out.Points)
	assert.Empty(t, out.Distributions)
}

func TestOpinionMapCancelledContext(t *testing.T) {
	store := classroom(t)
	svc := newTestService(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.OpinionMap(ctx, store.students[0].SessionID, model.RoleStudent, uuid.NewString())
	assert.Error(t, err)
}

func TestOpinionMapConcurrentStudents(t *testing.T) {
	store := classroom(t)
	svc := newTestService(store)
	sessionID := store.students[0].SessionID

	// Two different students asking for the map at once must both get an
	// answer: a pending computation is superseded only by the same client
	// asking again, never by a classmate.
	const callers = 2
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			requester := store.students[i].ID.String()
			out, err := svc.OpinionMap(context.Background(), sessionID, model.RoleStudent, requester)
			if err == nil && len(out.Points) != len(store.students) {
				err = fmt.Errorf("got %d points, want %d", len(out.Points), len(store.students))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestOpinionMapSameStudentSupersedes(t *testing.T) {
	store := classroom(t)
	svc := newTestService(store)
	sessionID := store.students[0].SessionID
	requester := store.students[0].ID.String()

	// Two overlapping requests from the same client share a key: the later
	// registration cancels the earlier one, so exactly one of the pair can
	// fail, and only with a cancellation.
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := svc.OpinionMap(context.Background(), sessionID, model.RoleStudent, requester)
			errs <- err
		}()
	}

	var failures int
	for range 2 {
		if err := <-errs; err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			failures++
		}
	}
	assert.LessOrEqual(t, failures, 1, "at least one request must complete")
}

func TestStatsSnapshot(t *testing.T) {
	store := classroom(t)
	svc := newTestService(store)
	sessionID := store.students[0].SessionID

	stats, err := svc.Stats(context.Background(), sessionID)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.RosterSize)
	assert.Equal(t, 4, stats.StatusCounts[model.StatusQuestions])
	assert.Equal(t, 1, stats.StatusCounts[model.StatusBigFive])
	assert.Equal(t, 0, stats.StatusCounts[model.StatusCompleted])
	assert.Equal(t, 16, stats.ResponseTotal)
	assert.False(t, stats.GeneratedAt.IsZero())
}

func TestTallyDistributionsIgnoresUnknownQuestions(t *testing.T) {
	q := model.Question{ID: uuid.New()}
	responses := []model.QuestionResponse{
		{StudentID: uuid.New(), QuestionID: q.ID, Value: model.ResponseYes},
		{StudentID: uuid.New(), QuestionID: uuid.New(), Value: model.ResponseYes}, // stale question id
	}

	out := tallyDistributions([]model.Question{q}, responses, 3)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Yes)
	assert.Equal(t, 0, out[0].No)
	assert.Equal(t, 2, out[0].Unknown)
}
