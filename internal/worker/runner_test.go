package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlens/classlens/internal/embed"
	"github.com/classlens/classlens/internal/model"
)

func testRequest() Request {
	return Request{
		Labels: []string{"P01", "P02", "P03", "P04"},
		Vectors: [][]float64{
			{1, 1, 0, 0, 0},
			{1, 0, 0, 0, 0},
			{-1, -1, 0, 0, 0},
			{-1, 0, 0, 0, 0},
		},
		Params:   embed.DefaultParams(),
		Clusters: 2,
	}
}

func TestCompute_ProducesClusteredPoints(t *testing.T) {
	r := NewRunner(slog.Default())
	points, err := r.Compute(context.Background(), "client-1", testRequest())
	require.NoError(t, err)
	require.Len(t, points, 4)

	for _, p := range points {
		assert.NotEmpty(t, p.Label)
		assert.GreaterOrEqual(t, p.Cluster, 0)
		assert.Less(t, p.Cluster, 2)
	}
	assert.Zero(t, r.InFlight(), "registry must be empty after completion")
}

func TestCompute_DimensionMismatchIsTyped(t *testing.T) {
	r := NewRunner(slog.Default())
	req := testRequest()
	req.Vectors[2] = []float64{1} // ragged matrix

	_, err := r.Compute(context.Background(), "client-1", req)
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeEmbedding, model.ErrCode(err))
}

func TestCompute_CancelledContext(t *testing.T) {
	r := NewRunner(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Compute(ctx, "client-1", testRequest())
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeEmbedding, model.ErrCode(err))
}

func TestCompute_NewRequestSupersedesPending(t *testing.T) {
	r := NewRunner(slog.Default())

	slow := testRequest()
	slow.Params.NEpochs = 5_000_000 // long enough to still be running when superseded

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = r.Compute(context.Background(), "client-1", slow)
	}()

	// Give the first job a moment to register.
	time.Sleep(50 * time.Millisecond)

	points, err := r.Compute(context.Background(), "client-1", testRequest())
	require.NoError(t, err, "the superseding computation must succeed")
	assert.Len(t, points, 4)

	wg.Wait()
	require.Error(t, firstErr, "the superseded computation must be cancelled")
	assert.Equal(t, model.ErrCodeEmbedding, model.ErrCode(firstErr))
}

func TestCompute_IndependentKeysRunConcurrently(t *testing.T) {
	r := NewRunner(slog.Default())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, key := range []string{"teacher", "student"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, errs[i] = r.Compute(context.Background(), key, testRequest())
		}(i, key)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}
