package lab

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/experiment"
	"github.com/searchlab/searchlab/internal/logging"
	"github.com/searchlab/searchlab/internal/optimize"
	"github.com/searchlab/searchlab/internal/pipeline"
	"github.com/searchlab/searchlab/internal/trace"
)

func newTestLab(t *testing.T) *Lab {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	l, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.py":           "import os\n# TODO: remove this\n# TODO: tighten errors\n",
		"lib/util.py":       "def helper():\n    pass\n",
		"tests/test_app.py": "from lib import util\n",
		"notes.md":          "TODO in docs\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestNew_RegistryDomains(t *testing.T) {
	l := newTestLab(t)

	assert.Equal(t, []string{"ast", "find", "grep", "keyword"}, l.Registry.Available())

	// Semantic registers as unavailable without a key, and resolving it
	// reports the reason.
	_, err := l.Registry.Resolve("semantic")
	require.Error(t, err)
	assert.True(t, laberrors.HasCode(err, laberrors.ErrCodeDomainNotAvailable))
	assert.Contains(t, err.Error(), "API key")
}

func TestRunPipeline_DiscoverThenSearch(t *testing.T) {
	l := newTestLab(t)
	root := writeProject(t)

	stages := []pipeline.Stage{
		{Domain: "find", Params: map[string]any{"glob": "*.py"}},
		{Domain: "grep", Params: map[string]any{"pattern": "TODO", "glob": "*.py"}},
	}

	res, err := l.RunPipeline(context.Background(), "run-a", stages, map[string]any{"root": root})
	require.NoError(t, err)
	assert.Equal(t, trace.RunOK, res.Status)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, 3, res.Outputs[0].Summary["paths"])

	// Both TODO hits come from the one matching file; the TODO in
	// notes.md is outside the glob.
	assert.Equal(t, 2, res.Outputs[1].Summary["hits"])
	assert.Equal(t, 1, res.Outputs[1].Summary["files"])
	assert.Equal(t, "main.py", res.Outputs[1].Summary["first_path"])

	// The run and its trace landed in the ledger.
	rec, err := l.Store.Get(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Equal(t, string(trace.RunOK), rec.Status)
	assert.Equal(t, 5.0, rec.Metrics["results"])

	ft, err := l.Store.LoadTrace(rec.TraceRef)
	require.NoError(t, err)
	require.Len(t, ft.Calls, 2)
	assert.Equal(t, "find", ft.Calls[0].Domain)
	assert.Equal(t, "grep", ft.Calls[1].Domain)
}

func TestRunPipeline_SeedsNextStage(t *testing.T) {
	l := newTestLab(t)
	root := writeProject(t)

	stages := []pipeline.Stage{
		{Domain: "find", Params: map[string]any{"glob": "*.py", "max_results": 1}},
		{Domain: "grep", Params: map[string]any{"pattern": "import|def"},
			SeedFrom: map[string]string{"glob": "first_path"}},
	}

	res, err := l.RunPipeline(context.Background(), "run-seed", stages, map[string]any{"root": root})
	require.NoError(t, err)
	assert.Equal(t, trace.RunOK, res.Status)
	require.Len(t, res.Outputs, 2)

	// The discovered path narrows the second stage to that one file, even
	// though the pattern matches lines in every source file.
	assert.Equal(t, "lib/util.py", res.Outputs[0].Summary["first_path"])
	assert.Equal(t, 1, res.Outputs[1].Summary["hits"])
	assert.Equal(t, "lib/util.py", res.Outputs[1].Summary["first_path"])
}

func TestRunPipeline_ContainsUnknownDomain(t *testing.T) {
	l := newTestLab(t)
	root := writeProject(t)

	stages := []pipeline.Stage{
		{Domain: "semantic", Params: map[string]any{"query": "anything"}},
		{Domain: "grep", Params: map[string]any{"pattern": "TODO"}},
	}

	res, err := l.RunPipeline(context.Background(), "run-b", stages, map[string]any{"root": root})
	require.NoError(t, err)
	assert.Equal(t, trace.RunPartialFailure, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, laberrors.ErrCodeDomainNotAvailable, res.Failures[0].Code)
	require.Len(t, res.Outputs, 1)

	rec, err := l.Store.Get(context.Background(), "run-b")
	require.NoError(t, err)
	assert.Equal(t, string(trace.RunPartialFailure), rec.Status)
}

func TestRunTool_Direct(t *testing.T) {
	l := newTestLab(t)
	root := writeProject(t)

	res, err := l.RunTool(context.Background(), "grep", map[string]any{
		"pattern": "TODO", "root": root,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Summary["hits"])

	_, err = l.RunTool(context.Background(), "nonsense", nil)
	require.Error(t, err)
	assert.True(t, laberrors.HasCode(err, laberrors.ErrCodeDomainNotAvailable))
}

func TestRunStudy_OverPipelineTemplate(t *testing.T) {
	l := newTestLab(t)
	l.Config.Optimizer.Workers = 1
	l.Config.Optimizer.Seed = 42
	root := writeProject(t)

	spec := StudySpec{
		StudyID: "study-pipeline",
		NTrials: 4,
		Space: optimize.Space{Dimensions: []optimize.Dimension{
			{Name: "grep.max_results", Kind: optimize.DimInt, Min: 1, Max: 10},
		}},
		Stages: []pipeline.Stage{
			{Domain: "grep", Params: map[string]any{"pattern": "TODO"}},
		},
		RootInput: map[string]any{"root": root},
	}

	sum, err := l.RunStudy(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Trials)
	assert.Equal(t, 4, sum.Completed)
	require.NotNil(t, sum.Study.BestValue)
	assert.Greater(t, *sum.Study.BestValue, 0.0)

	// One RunRecord per trial, tagged with the study.
	runs, err := l.Store.Query(context.Background(), experiment.Filter{StudyID: "study-pipeline"})
	require.NoError(t, err)
	require.Len(t, runs, 4)
	for _, r := range runs {
		assert.Equal(t, "study-pipeline", r.StudyID)
		assert.NotEmpty(t, r.TrialID)
	}
}

func TestMaterialize(t *testing.T) {
	spec := StudySpec{
		Stages: []pipeline.Stage{
			{Domain: "grep", Params: map[string]any{"pattern": "x"}},
			{Domain: "keyword", Params: map[string]any{"query": "y"}},
		},
		RootInput: map[string]any{"root": "/tmp/project"},
	}
	params := optimize.Params{
		"grep.max_results": 7,
		"keyword.topk":     3,
		"depth":            2,
	}

	stages, rootInput := materialize(spec, params)

	assert.Equal(t, 7, stages[0].Params["max_results"])
	assert.Equal(t, "x", stages[0].Params["pattern"])
	assert.NotContains(t, stages[0].Params, "topk")
	assert.Equal(t, 3, stages[1].Params["topk"])
	assert.Equal(t, 2, rootInput["depth"])
	assert.Equal(t, "/tmp/project", rootInput["root"])

	// The template itself is never mutated.
	assert.NotContains(t, spec.Stages[0].Params, "max_results")
}
