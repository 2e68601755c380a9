package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/logging"
	"github.com/searchlab/searchlab/internal/tool"
	"github.com/searchlab/searchlab/internal/trace"
)

type fakeParams struct {
	Query string `json:"query,omitempty" jsonschema:"query string"`
}

type fakeResult struct {
	Hits int `json:"hits"`
}

// fakeTool runs a canned behavior and records the inputs it saw.
type fakeTool struct {
	desc   tool.Descriptor
	run    func(ctx context.Context, input map[string]any) (*tool.Result, error)
	inputs []map[string]any
}

func newFakeTool(t *testing.T, domain string, run func(ctx context.Context, input map[string]any) (*tool.Result, error)) *fakeTool {
	t.Helper()
	desc, err := tool.NewDescriptor[fakeParams, fakeResult](domain, domain+" fake")
	require.NoError(t, err)
	return &fakeTool{desc: desc, run: run}
}

func (f *fakeTool) Descriptor() tool.Descriptor { return f.desc }

func (f *fakeTool) Run(ctx context.Context, input map[string]any) (*tool.Result, error) {
	f.inputs = append(f.inputs, input)
	return f.run(ctx, input)
}

func okTool(t *testing.T, domain string, hits int) *fakeTool {
	return newFakeTool(t, domain, func(context.Context, map[string]any) (*tool.Result, error) {
		return &tool.Result{
			OK:      true,
			Summary: map[string]any{"hits": hits},
			Payload: fakeResult{Hits: hits},
		}, nil
	})
}

func failTool(t *testing.T, domain string) *fakeTool {
	return newFakeTool(t, domain, func(context.Context, map[string]any) (*tool.Result, error) {
		return nil, fmt.Errorf("backend exploded")
	})
}

func buildRegistry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, r.Register(tl, nil))
	}
	r.Seal()
	return r
}

func TestExecute_AllStagesOK(t *testing.T) {
	reg := buildRegistry(t, okTool(t, "find", 3), okTool(t, "grep", 2))
	exec := New(reg, logging.Discard(), Options{})

	stages := []Stage{
		{Domain: "find", Params: map[string]any{"query": "*.py"}},
		{Domain: "grep", Params: map[string]any{"query": "TODO"}},
	}

	ft, res, err := exec.Execute(context.Background(), "run-ok", stages, nil)
	require.NoError(t, err)

	require.Len(t, ft.Calls, 2)
	assert.Equal(t, trace.StatusOK, ft.Calls[0].Status)
	assert.Equal(t, trace.StatusOK, ft.Calls[1].Status)
	assert.Equal(t, trace.RunOK, res.Status)
	assert.Equal(t, 2, res.Attempted)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, fakeResult{Hits: 2}, res.Outputs[1].Payload)
}

func TestExecute_ContainAndContinue(t *testing.T) {
	reg := buildRegistry(t, okTool(t, "keyword", 5), failTool(t, "ast"), okTool(t, "grep", 1))
	exec := New(reg, logging.Discard(), Options{})

	stages := []Stage{
		{Domain: "keyword"},
		{Domain: "ast"},
		{Domain: "grep"},
	}

	ft, res, err := exec.Execute(context.Background(), "run-contain", stages, nil)
	require.NoError(t, err)

	// Every attempted stage produced exactly one ToolCall.
	assert.Len(t, ft.Calls, 3)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, trace.RunPartialFailure, res.Status)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, "ast", res.Failures[0].Domain)
	assert.Equal(t, laberrors.ErrCodeToolExecution, res.Failures[0].Code)

	// The earlier keyword result and the later grep result both survive.
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "keyword", res.Outputs[0].Domain)
	assert.Equal(t, "grep", res.Outputs[1].Domain)
}

func TestExecute_FailFastStopsEarly(t *testing.T) {
	reg := buildRegistry(t, okTool(t, "keyword", 5), failTool(t, "ast"), okTool(t, "grep", 1))
	exec := New(reg, logging.Discard(), Options{FailFast: true})

	stages := []Stage{
		{Domain: "keyword"},
		{Domain: "ast"},
		{Domain: "grep"},
	}

	ft, res, err := exec.Execute(context.Background(), "run-failfast", stages, nil)
	require.NoError(t, err)

	// Attempted < declared only under fail-fast.
	assert.Len(t, ft.Calls, 2)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, trace.RunPartialFailure, res.Status)
	require.Len(t, res.Failures, 1)
}

func TestExecute_UnregisteredDomainRecordedAsErrorCall(t *testing.T) {
	reg := buildRegistry(t, okTool(t, "keyword", 5))
	exec := New(reg, logging.Discard(), Options{})

	stages := []Stage{
		{Domain: "semantic"}, // not registered (e.g., no credentials)
		{Domain: "keyword"},
	}

	ft, res, err := exec.Execute(context.Background(), "run-unavail", stages, nil)
	require.NoError(t, err)

	require.Len(t, ft.Calls, 2)
	assert.Equal(t, trace.StatusError, ft.Calls[0].Status)
	assert.Contains(t, ft.Calls[0].Error, "semantic")
	assert.Equal(t, trace.StatusOK, ft.Calls[1].Status)

	assert.Equal(t, trace.RunPartialFailure, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, laberrors.ErrCodeDomainNotAvailable, res.Failures[0].Code)
}

func TestExecute_StageTimeoutRecordedAsTimeout(t *testing.T) {
	slow := newFakeTool(t, "grep", func(ctx context.Context, _ map[string]any) (*tool.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &tool.Result{OK: true}, nil
		}
	})
	reg := buildRegistry(t, slow)
	exec := New(reg, logging.Discard(), Options{})

	start := time.Now()
	ft, res, err := exec.Execute(context.Background(), "run-timeout",
		[]Stage{{Domain: "grep", Timeout: config.Duration(50 * time.Millisecond)}}, nil)
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*time.Second, "timeout must bound the stage, not the tool's sleep")

	require.Len(t, ft.Calls, 1)
	assert.Equal(t, trace.StatusTimeout, ft.Calls[0].Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, laberrors.ErrCodeToolTimeout, res.Failures[0].Code)
}

func TestExecute_SeedsNextStageFromPreviousSummary(t *testing.T) {
	producer := newFakeTool(t, "find", func(context.Context, map[string]any) (*tool.Result, error) {
		return &tool.Result{
			OK:      true,
			Summary: map[string]any{"first_path": "pkg/main.go"},
		}, nil
	})
	consumer := okTool(t, "grep", 1)
	reg := buildRegistry(t, producer, consumer)
	exec := New(reg, logging.Discard(), Options{})

	stages := []Stage{
		{Domain: "find"},
		{Domain: "grep", SeedFrom: map[string]string{"root": "first_path"}},
	}

	_, res, err := exec.Execute(context.Background(), "run-seed",
		stages, map[string]any{"root": "."})
	require.NoError(t, err)
	require.Equal(t, trace.RunOK, res.Status)

	require.Len(t, consumer.inputs, 1)
	assert.Equal(t, "pkg/main.go", consumer.inputs[0]["root"], "seeded value overrides root input")
}

func TestExecute_PanickingToolIsContained(t *testing.T) {
	panicky := newFakeTool(t, "ast", func(context.Context, map[string]any) (*tool.Result, error) {
		panic("grammar not loaded")
	})
	reg := buildRegistry(t, panicky, okTool(t, "grep", 1))
	exec := New(reg, logging.Discard(), Options{})

	ft, res, err := exec.Execute(context.Background(), "run-panic",
		[]Stage{{Domain: "ast"}, {Domain: "grep"}}, nil)
	require.NoError(t, err)

	require.Len(t, ft.Calls, 2)
	assert.Equal(t, trace.StatusError, ft.Calls[0].Status)
	assert.Equal(t, trace.RunPartialFailure, res.Status)
}

func TestExecute_EmptyRunID(t *testing.T) {
	reg := buildRegistry(t)
	exec := New(reg, logging.Discard(), Options{})

	_, _, err := exec.Execute(context.Background(), "", nil, nil)
	require.Error(t, err)
	assert.True(t, laberrors.HasCode(err, laberrors.ErrCodeInvalidPipeline))
}
