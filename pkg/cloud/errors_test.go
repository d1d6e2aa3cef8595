package cloud

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusRequestEntityTooLarge, KindSizeRejected},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusBadRequest, KindInternal},
		{http.StatusUnprocessableEntity, KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestClassifyPreservesExistingKind(t *testing.T) {
	orig := NewError(KindSizeRejected, "CreateSnapshot", fmt.Errorf("too big"))
	got := classify("CreateSnapshot", fmt.Errorf("wrapped: %w", orig))
	assert.Equal(t, KindSizeRejected, KindOf(got))
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(classify("Op", context.DeadlineExceeded)))
	assert.Equal(t, KindTimeout, KindOf(classify("Op", context.Canceled)))
}

func TestRetryOnlyRetriesTransient(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 0, Factor: 1, RequestTimeout: 0}

	attempts := 0
	err := policy.Do(context.Background(), "Op", func(ctx context.Context) error {
		attempts++
		return NewError(KindTransient, "Op", fmt.Errorf("flaky"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, IsTransient(err))

	attempts = 0
	err = policy.Do(context.Background(), "Op", func(ctx context.Context) error {
		attempts++
		return NewError(KindForbidden, "Op", fmt.Errorf("denied"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsForbidden(err))
}

func TestRetryEventualSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: 0, Factor: 1, RequestTimeout: 0}

	attempts := 0
	err := policy.Do(context.Background(), "Op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return NewError(KindTransient, "Op", fmt.Errorf("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
