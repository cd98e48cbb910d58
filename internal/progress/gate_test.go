package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlens/classlens/internal/model"
)

func TestResolveNextPath(t *testing.T) {
	tests := []struct {
		status model.ProgressStatus
		want   string
	}{
		{model.StatusNotStarted, "/survey/big-five"},
		{model.StatusBigFive, "/survey/big-five"},
		{model.StatusThemeSelection, "/survey/themes"},
		{model.StatusBriefing, "/survey/briefing"},
		{model.StatusQuestions, "/survey/questions"},
		{model.StatusCompleted, "/survey/done"},
		{model.ProgressStatus("GARBAGE"), "/survey/big-five"}, // unknown falls to first stage
		{model.ProgressStatus(""), "/survey/big-five"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveNextPath(tt.status), "status %q", tt.status)
	}
}

// Every (current, requested) pair succeeds iff requested >= current in the
// forward order.
func TestAssertForwardTransition_AllPairs(t *testing.T) {
	for i, current := range model.AllStatuses {
		for j, requested := range model.AllStatuses {
			err := AssertForwardTransition(current, requested)
			if j >= i {
				assert.NoError(t, err, "%s -> %s should be allowed", current, requested)
			} else {
				require.Error(t, err, "%s -> %s should be rejected", current, requested)
				assert.Equal(t, model.ErrCodeForbidden, model.ErrCode(err))
			}
		}
	}
}

func TestAssertForwardTransition_UnknownStatus(t *testing.T) {
	err := AssertForwardTransition(model.ProgressStatus("bogus"), model.StatusQuestions)
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeValidation, model.ErrCode(err))

	err = AssertForwardTransition(model.StatusQuestions, model.ProgressStatus("bogus"))
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeValidation, model.ErrCode(err))
}

func TestAssertForwardTransition_CompletionIdempotent(t *testing.T) {
	// Marking complete twice is a no-op success the second time, never an error.
	require.NoError(t, AssertForwardTransition(model.StatusQuestions, model.StatusCompleted))
	require.NoError(t, AssertForwardTransition(model.StatusCompleted, model.StatusCompleted))
}

func TestAdvances(t *testing.T) {
	assert.True(t, Advances(model.StatusNotStarted, model.StatusBigFive))
	assert.True(t, Advances(model.StatusQuestions, model.StatusCompleted))

	// Re-entry and regression never advance the stored status.
	assert.False(t, Advances(model.StatusQuestions, model.StatusQuestions))
	assert.False(t, Advances(model.StatusQuestions, model.StatusBigFive))
}

func TestAssertReset(t *testing.T) {
	// Teacher reset back to the inventory stage is the one legal regression.
	require.NoError(t, AssertReset(model.StatusCompleted, model.StatusBigFive))
	require.NoError(t, AssertReset(model.StatusQuestions, model.StatusBigFive))

	// Even privileged callers cannot regress to arbitrary stages.
	err := AssertReset(model.StatusCompleted, model.StatusBriefing)
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeForbidden, model.ErrCode(err))

	// Reset requests that are not regressions behave like forward transitions.
	require.NoError(t, AssertReset(model.StatusNotStarted, model.StatusBigFive))
}
