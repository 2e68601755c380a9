package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlab/searchlab/internal/config"
	"github.com/searchlab/searchlab/internal/lab"
	"github.com/searchlab/searchlab/internal/logging"
	"github.com/searchlab/searchlab/internal/pipeline"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	l, err := lab.New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s, err := NewServer(l, "test", logging.Discard())
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresLab(t *testing.T) {
	_, err := NewServer(nil, "test", logging.Discard())
	require.Error(t, err)
}

func TestDomainStatus(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.domainStatusHandler(context.Background(), nil, DomainStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ast", "find", "grep", "keyword"}, out.Available)
	assert.Contains(t, out.Unavailable, "semantic")
}

func TestPipelineHandler(t *testing.T) {
	s := newTestServer(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("# TODO\n"), 0o644))

	_, out, err := s.pipelineHandler(context.Background(), nil, PipelineInput{
		Stages: []pipeline.Stage{
			{Domain: "grep", Params: map[string]any{"pattern": "TODO"}},
		},
		Input: map[string]any{"root": root},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	assert.NotEmpty(t, out.RunID)
	require.Len(t, out.Outputs, 1)
	assert.Equal(t, 1, out.Outputs[0].Summary["hits"])
}

func TestPipelineHandler_RejectsEmptyStages(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.pipelineHandler(context.Background(), nil, PipelineInput{})
	require.Error(t, err)
}

func TestDomainHandler_RoundTripsInput(t *testing.T) {
	s := newTestServer(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("x\n"), 0o644))

	handler := domainHandler[map[string]any](s, "find")
	_, out, err := handler(context.Background(), nil, map[string]any{
		"root": root, "glob": "*.py",
	})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 1, out.Summary["paths"])
}
