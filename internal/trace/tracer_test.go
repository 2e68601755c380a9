package trace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

func TestTracer_SequentialChaining(t *testing.T) {
	tr := NewTracer("run-1")

	first := tr.Begin("find", map[string]any{"pattern": "*.go"})
	tr.Finish(first, map[string]any{"items": 3}, nil)

	second := tr.Begin("grep", map[string]any{"pattern": "TODO"})
	tr.Finish(second, map[string]any{"hits": 2}, nil)

	ft := tr.Seal()
	require.Len(t, ft.Calls, 2)
	assert.Empty(t, ft.Calls[0].ParentID)
	assert.Equal(t, ft.Calls[0].ID, ft.Calls[1].ParentID)
	assert.Equal(t, RunOK, ft.Status)
}

func TestTracer_TimestampOrderAndTermination(t *testing.T) {
	tr := NewTracer("run-2")

	call := tr.Begin("grep", nil)
	time.Sleep(time.Millisecond)
	tr.Finish(call, nil, nil)

	ft := tr.Seal()
	c := ft.Calls[0]
	assert.False(t, c.EndedAt.Before(c.StartedAt), "end must be >= start")
	assert.True(t, c.Terminal())
	assert.Equal(t, StatusOK, c.Status)
}

func TestTracer_TimeoutClassification(t *testing.T) {
	tr := NewTracer("run-3")

	deadline := tr.Begin("grep", nil)
	tr.Finish(deadline, nil, context.DeadlineExceeded)

	tagged := tr.Begin("semantic", nil)
	tr.Finish(tagged, nil, laberrors.ToolTimeout("semantic", nil))

	plain := tr.Begin("keyword", nil)
	tr.Finish(plain, nil, fmt.Errorf("index build failed"))

	ft := tr.Seal()
	assert.Equal(t, StatusTimeout, ft.Calls[0].Status)
	assert.Equal(t, StatusTimeout, ft.Calls[1].Status)
	assert.Equal(t, StatusError, ft.Calls[2].Status)
	assert.Equal(t, RunFailed, ft.Status)
}

func TestTracer_DoubleFinishIsNoop(t *testing.T) {
	tr := NewTracer("run-4")

	call := tr.Begin("find", nil)
	tr.Finish(call, map[string]any{"items": 1}, nil)
	tr.Finish(call, nil, fmt.Errorf("late failure"))

	ft := tr.Seal()
	assert.Equal(t, StatusOK, ft.Calls[0].Status)
	assert.Empty(t, ft.Calls[0].Error)
}

func TestTracer_SealClosesOpenCalls(t *testing.T) {
	tr := NewTracer("run-5")

	tr.Begin("grep", nil) // never finished

	ft := tr.Seal()
	require.Len(t, ft.Calls, 1)
	assert.True(t, ft.Calls[0].Terminal())
	assert.Equal(t, StatusError, ft.Calls[0].Status)
	assert.Contains(t, ft.Calls[0].Error, "did not terminate")
}

func TestTracer_PartialFailureStatus(t *testing.T) {
	tr := NewTracer("run-6")

	ok := tr.Begin("keyword", nil)
	tr.Finish(ok, nil, nil)
	bad := tr.Begin("semantic", nil)
	tr.Finish(bad, nil, laberrors.DomainNotAvailable("semantic", "missing API key"))

	ft := tr.Seal()
	assert.Equal(t, RunPartialFailure, ft.Status)
	assert.Equal(t, 1, ft.FailureCount())
}

func TestTracer_EmptyTraceIsOK(t *testing.T) {
	ft := NewTracer("run-7").Seal()
	assert.Equal(t, RunOK, ft.Status)
	assert.Empty(t, ft.Calls)
}
