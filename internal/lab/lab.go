// Package lab assembles the running system: configuration, logging, the
// tool registry, the pipeline executor, the experiment ledger, and the
// optimizer, built once at startup and shared by the CLI and the MCP
// server.
package lab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/searchlab/searchlab/internal/config"
	"github.com/searchlab/searchlab/internal/experiment"
	"github.com/searchlab/searchlab/internal/optimize"
	"github.com/searchlab/searchlab/internal/pipeline"
	"github.com/searchlab/searchlab/internal/tool"
	"github.com/searchlab/searchlab/internal/tools"
	"github.com/searchlab/searchlab/internal/trace"
)

// Lab is the assembled system.
type Lab struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *tool.Registry
	Store    *experiment.Store
	Executor *pipeline.Executor

	keyword *tools.KeywordTool
}

// New builds the system from a validated configuration. Tool domains with
// missing prerequisites register as unavailable instead of failing
// startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Lab, error) {
	registry := tool.NewRegistry()

	grep, err := tools.NewGrep(cfg.Tools.Grep)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(grep, grep.CheckAvailability); err != nil {
		return nil, err
	}

	find, err := tools.NewFind(cfg.Tools.Find)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(find, nil); err != nil {
		return nil, err
	}

	keyword, err := tools.NewKeyword(cfg.Tools.Keyword, logger)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(keyword, nil); err != nil {
		return nil, err
	}

	semantic, err := tools.NewSemantic(cfg.Tools.Semantic, logger)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(semantic, semantic.CheckAvailability); err != nil {
		return nil, err
	}

	ast, err := tools.NewAST(cfg.Tools.AST)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(ast, ast.CheckAvailability); err != nil {
		return nil, err
	}

	registry.Seal()

	for domain, reason := range registry.Unavailable() {
		logger.Warn("domain unavailable",
			slog.String("domain", domain),
			slog.String("reason", reason))
	}
	logger.Info("registry built",
		slog.String("available", strings.Join(registry.Available(), ",")))

	store, err := experiment.Open(ctx, cfg.StorePath(), cfg.TraceDir(), logger)
	if err != nil {
		return nil, err
	}

	executor := pipeline.New(registry, logger, pipeline.Options{
		FailFast:     cfg.Pipeline.FailFast,
		StageTimeout: cfg.Pipeline.StageTimeout.Std(),
	})

	return &Lab{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Store:    store,
		Executor: executor,
		keyword:  keyword,
	}, nil
}

// Close releases the ledger and cached indexes.
func (l *Lab) Close() error {
	l.keyword.Close()
	return l.Store.Close()
}

// RunTool resolves one domain and executes it directly, outside any
// pipeline. Nothing is persisted.
func (l *Lab) RunTool(ctx context.Context, domain string, input map[string]any) (*tool.Result, error) {
	t, err := l.Registry.Resolve(domain)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, input)
}

// RunPipeline executes a pipeline and appends the run to the ledger. The
// returned result reflects contained stage failures; the error return is
// for infrastructure problems only.
func (l *Lab) RunPipeline(ctx context.Context, runID string, stages []pipeline.Stage, rootInput map[string]any) (*pipeline.Result, error) {
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}

	ft, res, err := l.Executor.Execute(ctx, runID, stages, rootInput)
	if err != nil {
		return nil, err
	}

	rec := &experiment.RunRecord{
		RunID:    runID,
		Pipeline: stages,
		Params:   rootInput,
		Metrics:  runMetrics(res, ft),
		Status:   string(res.Status),
	}
	if _, err := l.Store.AppendWithRetry(ctx, rec, ft); err != nil {
		return nil, err
	}
	return res, nil
}

// runMetrics derives the queryable metric row from a finished run.
func runMetrics(res *pipeline.Result, ft *trace.FlowTrace) map[string]float64 {
	m := map[string]float64{
		"latency_ms": float64(ft.LatencyMS),
		"attempted":  float64(res.Attempted),
		"failures":   float64(len(res.Failures)),
		"results":    0,
	}
	for _, out := range res.Outputs {
		m["results"] += summaryCount(out.Summary)
	}
	return m
}

// summaryCount extracts the result count a tool reported, whatever it
// named it.
func summaryCount(summary map[string]any) float64 {
	for _, key := range []string{"hits", "paths", "findings"} {
		if v, ok := summary[key]; ok {
			switch n := v.(type) {
			case int:
				return float64(n)
			case float64:
				return n
			}
		}
	}
	return 0
}

// StudySpec describes one optimization study over a pipeline template.
type StudySpec struct {
	StudyID   string             `json:"study_id,omitempty" yaml:"study_id,omitempty"`
	Direction string             `json:"direction,omitempty" yaml:"direction,omitempty"`
	NTrials   int                `json:"n_trials" yaml:"n_trials"`
	Space     optimize.Space     `json:"space" yaml:"space"`
	Stages    []pipeline.Stage   `json:"stages" yaml:"stages"`
	RootInput map[string]any     `json:"input,omitempty" yaml:"input,omitempty"`
	// Metric selects the run metric used as the objective value
	// (default "results").
	Metric string `json:"metric,omitempty" yaml:"metric,omitempty"`
}

// RunStudy optimizes a pipeline template: each trial materializes the
// proposed parameters into the template, executes it, appends the run to
// the ledger, and feeds stage-level progress to the pruner.
func (l *Lab) RunStudy(ctx context.Context, spec StudySpec) (*optimize.Summary, error) {
	if spec.StudyID == "" {
		spec.StudyID = "study-" + uuid.NewString()
	}
	if spec.Metric == "" {
		spec.Metric = "results"
	}
	direction := experiment.Direction(spec.Direction)
	if direction == "" {
		direction = experiment.Maximize
	}

	objective := func(ctx context.Context, trial *optimize.TrialHandle) (float64, error) {
		stages, rootInput := materialize(spec, trial.Params)

		runID := trial.ID + "-run"
		ft, res, err := l.Executor.Execute(ctx, runID, stages, rootInput)
		if err != nil {
			return 0, err
		}

		metrics := runMetrics(res, ft)
		rec := &experiment.RunRecord{
			RunID:    runID,
			StudyID:  spec.StudyID,
			TrialID:  trial.ID,
			Pipeline: stages,
			Params:   trial.Params,
			Metrics:  metrics,
			Status:   string(res.Status),
		}
		if _, err := l.Store.AppendWithRetry(ctx, rec, ft); err != nil {
			return 0, err
		}

		// Stage-by-stage cumulative progress drives median pruning.
		cum := 0.0
		for i, out := range res.Outputs {
			cum += summaryCount(out.Summary)
			if err := trial.Report(i, cum); err != nil {
				return 0, err
			}
		}

		if res.Status == trace.RunFailed {
			return 0, fmt.Errorf("all %d stages failed", res.Attempted)
		}
		return metrics[spec.Metric], nil
	}

	opt := optimize.New(l.Store, l.Logger)
	return opt.RunStudy(ctx, optimize.StudyConfig{
		StudyID:      spec.StudyID,
		Space:        spec.Space,
		Direction:    direction,
		NTrials:      spec.NTrials,
		Workers:      l.Config.Optimizer.Workers,
		WarmupTrials: l.Config.Optimizer.WarmupTrials,
		WarmupSteps:  l.Config.Optimizer.WarmupSteps,
		Seed:         l.Config.Optimizer.Seed,
	}, objective)
}

// materialize binds proposed parameters into the pipeline template.
// A dimension named "domain.key" sets key on every stage of that domain;
// any other name lands in the root input.
func materialize(spec StudySpec, params optimize.Params) ([]pipeline.Stage, map[string]any) {
	stages := make([]pipeline.Stage, len(spec.Stages))
	for i, st := range spec.Stages {
		merged := make(map[string]any, len(st.Params))
		for k, v := range st.Params {
			merged[k] = v
		}
		stages[i] = pipeline.Stage{
			Domain:   st.Domain,
			Params:   merged,
			SeedFrom: st.SeedFrom,
			Timeout:  st.Timeout,
		}
	}

	rootInput := make(map[string]any, len(spec.RootInput))
	for k, v := range spec.RootInput {
		rootInput[k] = v
	}

	for name, value := range params {
		domain, key, ok := strings.Cut(name, ".")
		if !ok {
			rootInput[name] = value
			continue
		}
		bound := false
		for i := range stages {
			if stages[i].Domain == domain {
				stages[i].Params[key] = value
				bound = true
			}
		}
		if !bound {
			rootInput[name] = value
		}
	}
	return stages, rootInput
}
