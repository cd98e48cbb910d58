// Package worker isolates the CPU-bound embedding and clustering work from
// goroutines serving live HTTP/SSE requests, with a message-passing contract:
// the caller submits vectors plus parameters and receives points or a typed
// error.
//
// Only one computation is in flight per requesting key at a time. A new
// submission for the same key supersedes the pending one — the superseded
// job is cancelled rather than queued behind, since results from different
// input snapshots are not comparable. Abandoning the requesting context also
// cancels the job, so navigation away never leaves orphaned CPU-bound work.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/classlens/classlens/internal/cluster"
	"github.com/classlens/classlens/internal/embed"
	"github.com/classlens/classlens/internal/model"
)

// Request carries one embedding computation's full input snapshot.
type Request struct {
	Labels   []string
	Vectors  [][]float64
	Params   embed.Params
	Clusters int
}

// jobHandle identifies one in-flight computation.
type jobHandle struct {
	cancel context.CancelFunc
}

// Runner owns the in-flight job registry.
type Runner struct {
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*jobHandle
}

// NewRunner creates a Runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger:   logger,
		inflight: make(map[string]*jobHandle),
	}
}

// Compute runs embedding and clustering for key, blocking until the job
// finishes, is superseded, or ctx is done. All failure modes — including a
// panic inside the algorithm — surface as an EMBEDDING_ERROR.
func (r *Runner) Compute(ctx context.Context, key string, req Request) ([]model.EmbeddingPoint, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	handle := &jobHandle{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.inflight[key]; ok {
		prev.cancel() // supersede the pending computation for this client
	}
	r.inflight[key] = handle
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		// Only clear the slot if it is still ours; a superseding call may
		// already have replaced it.
		if r.inflight[key] == handle {
			delete(r.inflight, key)
		}
		r.mu.Unlock()
		cancel()
	}()

	type outcome struct {
		points []model.EmbeddingPoint
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("embedding worker panic", "key", key, "panic", rec)
				ch <- outcome{err: model.Embeddingf(nil, "embedding worker panicked: %v", rec)}
			}
		}()

		points, err := embed.Embed(jobCtx, req.Labels, req.Vectors, req.Params)
		if err != nil {
			ch <- outcome{err: err}
			return
		}

		assignments := cluster.Assign(points, req.Clusters)
		out := make([]model.EmbeddingPoint, len(points))
		for i, p := range points {
			out[i] = model.EmbeddingPoint{Label: p.Label, X: p.X, Y: p.Y, Cluster: assignments[i]}
		}
		ch <- outcome{points: out}
	}()

	select {
	case <-jobCtx.Done():
		return nil, model.Embeddingf(jobCtx.Err(), "embedding computation cancelled")
	case out := <-ch:
		return out.points, out.err
	}
}

// InFlight reports how many computations are currently running (for tests
// and the health endpoint).
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
