package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlens/classlens/internal/auth"
	"github.com/classlens/classlens/internal/model"
)

func TestClaimsRoundTrip(t *testing.T) {
	studentID := uuid.New()
	claims := &auth.Claims{
		Role:      model.RoleStudent,
		SessionID: uuid.New(),
		StudentID: &studentID,
	}
	ctx := WithClaims(context.Background(), claims)

	got := ClaimsFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, claims.StudentID, got.StudentID)
	assert.Equal(t, claims.SessionID, SessionIDFromContext(ctx))
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ClaimsFromContext(ctx))
	assert.Equal(t, uuid.Nil, SessionIDFromContext(ctx))
}
