// Package pipeline executes ordered tool invocations against the registry,
// capturing one ToolCall per attempted stage in a FlowTrace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/tool"
	"github.com/searchlab/searchlab/internal/trace"
)

// Stage is one tool invocation in a pipeline configuration.
type Stage struct {
	// Domain names the tool family to invoke.
	Domain string `json:"domain" yaml:"domain"`
	// Params are merged over the run's root input for this stage.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	// SeedFrom maps this stage's input keys to summary keys of the
	// previous stage, feeding one stage's output into the next.
	SeedFrom map[string]string `json:"seed_from,omitempty" yaml:"seed_from,omitempty"`
	// Timeout overrides the executor's default stage timeout.
	Timeout config.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Options configures executor failure policy.
type Options struct {
	// FailFast aborts on the first stage failure. The default is
	// contain-and-continue: failures are recorded and the remaining
	// stages still run, preserving earlier stages' contributions.
	FailFast bool
	// StageTimeout bounds each stage that does not set its own.
	StageTimeout time.Duration
}

// StageFailure describes one failed stage for the caller.
type StageFailure struct {
	Index     int    `json:"index"`
	Domain    string `json:"domain"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency_ms"`
}

// StageOutput pairs a completed stage with its result envelope.
type StageOutput struct {
	Index   int            `json:"index"`
	Domain  string         `json:"domain"`
	Summary map[string]any `json:"summary,omitempty"`
	Payload any            `json:"payload,omitempty"`
}

// Result is the aggregated, best-effort output of one run.
type Result struct {
	RunID    string          `json:"run_id"`
	Status   trace.RunStatus `json:"status"`
	Outputs  []StageOutput   `json:"outputs"`
	Failures []StageFailure  `json:"failures,omitempty"`
	// Attempted is how many stages produced a ToolCall. Less than the
	// declared stage count only under fail-fast.
	Attempted int `json:"attempted"`
}

// Executor drives pipelines to completion or contained partial failure.
// It is stateless across runs and safe for concurrent use.
type Executor struct {
	registry *tool.Registry
	logger   *slog.Logger
	opts     Options
}

// New creates an executor over a sealed registry.
func New(registry *tool.Registry, logger *slog.Logger, opts Options) *Executor {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Minute
	}
	return &Executor{registry: registry, logger: logger, opts: opts}
}

// Execute runs the stages sequentially. Stage N+1 does not start until
// stage N's ToolCall is recorded, so side effects within one run are
// totally ordered. Stage failures are absorbed into the trace and the
// Result rather than returned; the error return is reserved for
// infrastructure problems.
func (e *Executor) Execute(ctx context.Context, runID string, stages []Stage, rootInput map[string]any) (*trace.FlowTrace, *Result, error) {
	if runID == "" {
		return nil, nil, laberrors.New(laberrors.ErrCodeInvalidPipeline, "run id must not be empty", nil)
	}

	tracer := trace.NewTracer(runID)
	result := &Result{RunID: runID}

	var prev *StageOutput
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			// Cancellation between stages: remaining stages are not
			// attempted and produce no ToolCalls.
			break
		}

		input := e.stageInput(stage, rootInput, prev)
		out, failure := e.runStage(ctx, tracer, i, stage, input)
		result.Attempted++

		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			e.logger.Warn("stage failed",
				slog.String("run_id", runID),
				slog.Int("stage", i),
				slog.String("domain", stage.Domain),
				slog.String("code", failure.Code))
			if e.opts.FailFast {
				break
			}
			continue
		}

		result.Outputs = append(result.Outputs, *out)
		prev = out
	}

	ft := tracer.Seal()
	result.Status = ft.Status
	// An aborted fail-fast run with earlier successes is still partial.
	if e.opts.FailFast && len(result.Failures) > 0 && len(result.Outputs) > 0 {
		result.Status = trace.RunPartialFailure
	}

	e.logger.Info("run complete",
		slog.String("run_id", runID),
		slog.String("status", string(result.Status)),
		slog.Int("attempted", result.Attempted),
		slog.Int("failures", len(result.Failures)),
		slog.Int64("latency_ms", ft.LatencyMS))

	return ft, result, nil
}

// runStage attempts one stage and always records exactly one ToolCall.
func (e *Executor) runStage(ctx context.Context, tracer *trace.Tracer, index int, stage Stage, input map[string]any) (out *StageOutput, failure *StageFailure) {
	call := tracer.Begin(stage.Domain, input)

	var (
		summary map[string]any
		runErr  error
	)
	// Finish on every exit path, including panics inside a tool.
	defer func() {
		if r := recover(); r != nil {
			runErr = laberrors.ToolExecution(stage.Domain, errorFromPanic(r))
			out = nil
			failure = failureFor(index, stage.Domain, call, runErr)
		}
		tracer.Finish(call, summary, runErr)
	}()

	t, err := e.registry.Resolve(stage.Domain)
	if err != nil {
		runErr = err
		return nil, failureFor(index, stage.Domain, call, err)
	}

	timeout := stage.Timeout.Std()
	if timeout <= 0 {
		timeout = e.opts.StageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := t.Run(stageCtx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			err = laberrors.ToolTimeout(stage.Domain, err)
		} else if !laberrors.HasCode(err, laberrors.ErrCodeToolTimeout) &&
			!laberrors.HasCode(err, laberrors.ErrCodeToolInput) {
			err = laberrors.ToolExecution(stage.Domain, err)
		}
		runErr = err
		return nil, failureFor(index, stage.Domain, call, err)
	}

	summary = res.Summary
	return &StageOutput{
		Index:   index,
		Domain:  stage.Domain,
		Summary: res.Summary,
		Payload: res.Payload,
	}, nil
}

// stageInput merges root input, stage params, and seeded values from the
// previous stage's summary, in increasing precedence.
func (e *Executor) stageInput(stage Stage, root map[string]any, prev *StageOutput) map[string]any {
	input := make(map[string]any, len(root)+len(stage.Params)+len(stage.SeedFrom))
	for k, v := range root {
		input[k] = v
	}
	for k, v := range stage.Params {
		input[k] = v
	}
	if prev != nil {
		for dst, src := range stage.SeedFrom {
			if v, ok := prev.Summary[src]; ok {
				input[dst] = v
			}
		}
	}
	return input
}

func failureFor(index int, domain string, call *trace.ToolCall, err error) *StageFailure {
	return &StageFailure{
		Index:     index,
		Domain:    domain,
		Code:      laberrors.CodeOf(err),
		Message:   err.Error(),
		LatencyMS: time.Since(call.StartedAt).Milliseconds(),
	}
}

func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return laberrors.New(laberrors.ErrCodeInternal, fmt.Sprintf("tool panicked: %v", r), nil)
}
