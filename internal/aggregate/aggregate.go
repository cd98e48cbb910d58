// Package aggregate composes the opinion-map pipeline: roster and answers out
// of storage, vectors, pseudonyms, the embedding worker, clustering, and the
// per-question distributions. It is the only package that sequences those
// collaborators; handlers call it and never touch the pipeline pieces directly.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/classlens/classlens/internal/anonymize"
	"github.com/classlens/classlens/internal/cache"
	"github.com/classlens/classlens/internal/embed"
	"github.com/classlens/classlens/internal/model"
	"github.com/classlens/classlens/internal/vector"
	"github.com/classlens/classlens/internal/worker"
)

// Store is the persistence surface the facade reads from.
type Store interface {
	ListStudents(ctx context.Context, sessionID uuid.UUID) ([]model.Student, error)
	ListOrderedQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error)
	ListResponses(ctx context.Context, sessionID uuid.UUID) ([]model.QuestionResponse, error)
	ListTraitScores(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]model.TraitScores, error)
	CountStudentsByStatus(ctx context.Context, sessionID uuid.UUID) (map[model.ProgressStatus]int, error)
	CountResponses(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// Service runs the aggregation pipeline.
type Service struct {
	store    Store
	runner   *worker.Runner
	cache    *cache.StatsCache // nil-safe, may be disabled
	params   embed.Params
	clusters int
	logger   *slog.Logger

	statsGroup singleflight.Group
}

// NewService creates the facade. statsCache may be nil.
func NewService(store Store, runner *worker.Runner, statsCache *cache.StatsCache, params embed.Params, clusters int, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		runner:   runner,
		cache:    statsCache,
		params:   params,
		clusters: clusters,
		logger:   logger,
	}
}

// snapshot is one consistent read of everything the pipeline consumes.
type snapshot struct {
	students  []model.Student
	questions []model.Question
	responses []model.QuestionResponse
	traits    map[uuid.UUID]model.TraitScores
}

func (s *Service) fetchSnapshot(ctx context.Context, sessionID uuid.UUID) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.students, err = s.store.ListStudents(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.questions, err = s.store.ListOrderedQuestions(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.responses, err = s.store.ListResponses(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.traits, err = s.store.ListTraitScores(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, fmt.Errorf("aggregate: fetch snapshot: %w", err)
	}
	return snap, nil
}

// OpinionMap runs the full pipeline for one caller. Privileged callers get
// real names as point labels plus the raw response map; everyone else gets
// pseudonyms and trait axes zeroed out of the vectors.
//
// requester identifies the requesting client (the token subject). A repeat
// request from the same client supersedes its own pending layout computation;
// requests from distinct clients run independently.
//
// The distributions are tallied straight from the responses, independent of
// the embedding: if the layout computation fails the map still carries the
// per-question counts, just no points. Cancellation is the exception and
// propagates, since a superseded or abandoned request has no reader left.
func (s *Service) OpinionMap(ctx context.Context, sessionID uuid.UUID, role model.Role, requester string) (model.OpinionMap, error) {
	snap, err := s.fetchSnapshot(ctx, sessionID)
	if err != nil {
		return model.OpinionMap{}, err
	}

	out := model.OpinionMap{
		SessionID:     sessionID,
		Questions:     snap.questions,
		Distributions: tallyDistributions(snap.questions, snap.responses, len(snap.students)),
		GeneratedAt:   time.Now().UTC(),
	}
	if len(snap.students) == 0 {
		out.Labels = []string{}
		out.Vectors = [][]float64{}
		out.Points = []model.EmbeddingPoint{}
		return out, nil
	}

	responsesByStudent := groupResponses(snap.responses)
	privileged := role.Privileged()

	labels := make([]string, len(snap.students))
	if privileged {
		for i, st := range snap.students {
			labels[i] = st.DisplayName
		}
		out.Responses = responseMap(snap.students, responsesByStudent)
	} else {
		labels = anonymize.New(sessionID.String(), len(snap.students)).Labels()
	}

	vectors := vector.BuildAll(snap.students, snap.questions, responsesByStudent, snap.traits, privileged)
	out.Labels = labels
	out.Vectors = vectors

	key := sessionID.String() + ":" + requester
	points, err := s.runner.Compute(ctx, key, worker.Request{
		Labels:   labels,
		Vectors:  vectors,
		Params:   s.params,
		Clusters: s.clusters,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return model.OpinionMap{}, err
		}
		s.logger.Error("opinion map embedding failed, returning distributions only",
			"session_id", sessionID, "error", err)
		out.Points = []model.EmbeddingPoint{}
		return out, nil
	}

	out.Points = points
	return out, nil
}

// Stats computes the live progress snapshot. Concurrent callers for the same
// session share one computation; a short-TTL cache absorbs dashboard polling
// between ticks. Never touches the embedding pipeline, so it stays available
// when layout computation is failing.
func (s *Service) Stats(ctx context.Context, sessionID uuid.UUID) (model.SessionStats, error) {
	if stats, err := s.cache.GetStats(ctx, sessionID); err == nil {
		return stats, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("stats cache read failed", "session_id", sessionID, "error", err)
	}

	v, err, _ := s.statsGroup.Do(sessionID.String(), func() (any, error) {
		return s.computeStats(ctx, sessionID)
	})
	if err != nil {
		return model.SessionStats{}, err
	}

	stats := v.(model.SessionStats)
	s.cache.SetStats(ctx, sessionID, stats)
	return stats, nil
}

// InvalidateStats drops the cached snapshot after a stats-changing write.
func (s *Service) InvalidateStats(ctx context.Context, sessionID uuid.UUID) {
	s.cache.Invalidate(ctx, sessionID)
}

func (s *Service) computeStats(ctx context.Context, sessionID uuid.UUID) (model.SessionStats, error) {
	var (
		counts map[model.ProgressStatus]int
		total  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.CountStudentsByStatus(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountResponses(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.SessionStats{}, fmt.Errorf("aggregate: compute stats: %w", err)
	}

	roster := 0
	for _, n := range counts {
		roster += n
	}

	return model.SessionStats{
		SessionID:     sessionID,
		RosterSize:    roster,
		StatusCounts:  counts,
		ResponseTotal: total,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

// tallyDistributions counts YES/NO per question; everyone else on the roster
// counts as UNKNOWN, so each distribution sums to the roster size.
func tallyDistributions(questions []model.Question, responses []model.QuestionResponse, rosterSize int) []model.Distribution {
	byQuestion := make(map[uuid.UUID]*model.Distribution, len(questions))
	out := make([]model.Distribution, len(questions))
	for i, q := range questions {
		out[i] = model.Distribution{QuestionID: q.ID}
		byQuestion[q.ID] = &out[i]
	}

	for _, r := range responses {
		d, ok := byQuestion[r.QuestionID]
		if !ok {
			continue
		}
		switch r.Value {
		case model.ResponseYes:
			d.Yes++
		case model.ResponseNo:
			d.No++
		}
	}

	for i := range out {
		out[i].Unknown = rosterSize - out[i].Yes - out[i].No
	}
	return out
}

func groupResponses(responses []model.QuestionResponse) map[uuid.UUID]map[uuid.UUID]model.ResponseValue {
	grouped := make(map[uuid.UUID]map[uuid.UUID]model.ResponseValue)
	for _, r := range responses {
		m, ok := grouped[r.StudentID]
		if !ok {
			m = make(map[uuid.UUID]model.ResponseValue)
			grouped[r.StudentID] = m
		}
		m[r.QuestionID] = r.Value
	}
	return grouped
}

// responseMap is the teacher-only raw answer view, keyed by student id.
func responseMap(students []model.Student, grouped map[uuid.UUID]map[uuid.UUID]model.ResponseValue) map[string]map[string]model.ResponseValue {
	out := make(map[string]map[string]model.ResponseValue, len(students))
	for _, st := range students {
		answers := grouped[st.ID]
		m := make(map[string]model.ResponseValue, len(answers))
		for qid, v := range answers {
			m[qid.String()] = v
		}
		out[st.ID.String()] = m
	}
	return out
}
