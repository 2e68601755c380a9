package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal},
		{ErrCodeDomainNotAvailable, CategoryTool, SeverityError},
		{ErrCodeToolTimeout, CategoryTool, SeverityError},
		{ErrCodeStoreWrite, CategoryStore, SeverityFatal},
		{ErrCodeInvalidInput, CategoryValidation, SeverityError},
		{ErrCodeInternal, CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestHasCode(t *testing.T) {
	base := DomainNotAvailable("semantic", "missing API key")
	wrapped := fmt.Errorf("stage 2: %w", base)

	assert.True(t, HasCode(wrapped, ErrCodeDomainNotAvailable))
	assert.False(t, HasCode(wrapped, ErrCodeToolTimeout))
	assert.Equal(t, "semantic", base.Details["domain"])
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return New(ErrCodeConfigInvalid, "bad config", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable error must not be retried")
}

func TestRetry_RetriesRetryableUntilSuccess(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return StoreWrite(fmt.Errorf("disk busy"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return StoreWrite(fmt.Errorf("never reached"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}
