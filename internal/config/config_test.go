package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLASSLENS_TEACHER_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15, cfg.EmbedNeighbors)
	assert.Equal(t, 200, cfg.EmbedEpochs)
	assert.Equal(t, uint64(42), cfg.EmbedSeed)
	assert.Equal(t, 4, cfg.ClusterCount)
	assert.Equal(t, 5*time.Second, cfg.StatsTickInterval)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CLASSLENS_TEACHER_KEY", "test-key")
	t.Setenv("CLASSLENS_PORT", "9090")
	t.Setenv("CLASSLENS_EMBED_MIN_DIST", "0.25")
	t.Setenv("CLASSLENS_STATS_TICK_INTERVAL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 0.25, cfg.EmbedMinDist)
	assert.Equal(t, 10*time.Second, cfg.StatsTickInterval)
}

func TestValidateRejectsMissingTeacherKey(t *testing.T) {
	t.Setenv("CLASSLENS_TEACHER_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadEmbedParams(t *testing.T) {
	cfg := Config{
		DatabaseURL:         "postgres://localhost/x",
		TeacherKey:          "k",
		EmbedNeighbors:      0,
		EmbedEpochs:         200,
		ClusterCount:        4,
		StatsTickInterval:   time.Second,
		MaxRequestBodyBytes: 1024,
	}
	assert.Error(t, cfg.Validate())
}
