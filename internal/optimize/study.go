package optimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/searchlab/searchlab/internal/experiment"
	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// ErrPruned is returned from TrialHandle.Report when the pruner stops the
// trial. Objectives must propagate it.
var ErrPruned = errors.New("trial pruned")

// TrialHandle is passed to the objective for one trial. It exposes the
// proposed parameters and accepts intermediate value reports.
type TrialHandle struct {
	ID     string
	Number int
	Params Params

	direction experiment.Direction
	pruner    Pruner
	log       *observationLog
	curve     []float64
}

// Report records an intermediate objective value at a step and consults
// the pruner. A non-nil return means the trial must stop: ErrPruned when
// dominated by the median of completed trials at the same step.
func (h *TrialHandle) Report(step int, value float64) error {
	h.curve = append(h.curve, value)
	_, curves := h.log.snapshot()
	if h.pruner.ShouldPrune(step, value, curves, h.direction) {
		return ErrPruned
	}
	return nil
}

// lastValue returns the most recent reported value, if any.
func (h *TrialHandle) lastValue() *float64 {
	if len(h.curve) == 0 {
		return nil
	}
	v := h.curve[len(h.curve)-1]
	return &v
}

// Objective evaluates one proposed parameter vector. It reports
// intermediate values through the handle and returns the final scalar.
type Objective func(ctx context.Context, trial *TrialHandle) (float64, error)

// StudyConfig configures one study.
type StudyConfig struct {
	// StudyID names the study; empty generates one.
	StudyID string
	// Space is the parameter search space.
	Space Space
	// Direction is maximize or minimize (default maximize).
	Direction experiment.Direction
	// NTrials bounds the study. Failed and pruned trials count toward it.
	NTrials int
	// Workers bounds concurrent trials (default 1).
	Workers int
	// WarmupTrials gates both the surrogate sampler and the pruner.
	WarmupTrials int
	// WarmupSteps exempts each trial's first steps from pruning.
	WarmupSteps int
	// Seed seeds the samplers; 0 means entropy.
	Seed int64
	// Sampler overrides the default (random warm-up, then TPE).
	Sampler Sampler
	// Pruner overrides the default median pruner.
	Pruner Pruner
}

// Summary is the outcome of a study run.
type Summary struct {
	Study     *experiment.StudyRecord `json:"study"`
	Trials    int                     `json:"trials"`
	Completed int                     `json:"completed"`
	Pruned    int                     `json:"pruned"`
	Failed    int                     `json:"failed"`
}

// Optimizer runs studies against the experiment ledger.
type Optimizer struct {
	store  *experiment.Store
	logger *slog.Logger
}

// New creates an optimizer.
func New(store *experiment.Store, logger *slog.Logger) *Optimizer {
	return &Optimizer{store: store, logger: logger}
}

// RunStudy executes cfg.NTrials trials on a bounded worker pool.
// Stage-level and trial-level failures are contained: a failed trial is
// recorded and excluded from best-value comparison while the study
// continues. Infrastructure errors (ledger writes failing) abort the
// study. Cancellation stops issuing new trials; in-flight trials resolve
// to a terminal state before return.
func (o *Optimizer) RunStudy(ctx context.Context, cfg StudyConfig, objective Objective) (*Summary, error) {
	if err := cfg.Space.Validate(); err != nil {
		return nil, err
	}
	if cfg.NTrials <= 0 {
		return nil, laberrors.New(laberrors.ErrCodeSearchSpaceInvalid, "n_trials must be positive", nil)
	}
	if cfg.Direction == "" {
		cfg.Direction = experiment.Maximize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StudyID == "" {
		cfg.StudyID = "study-" + uuid.NewString()
	}

	sampler := cfg.Sampler
	if sampler == nil {
		sampler = NewTPESampler(cfg.WarmupTrials, cfg.Seed)
	}
	pruner := cfg.Pruner
	if pruner == nil {
		pruner = NewMedianPruner(cfg.WarmupTrials, cfg.WarmupSteps)
	}

	if err := o.store.CreateStudy(ctx, cfg.StudyID, cfg.Direction, cfg.Space); err != nil {
		return nil, err
	}

	o.logger.Info("study started",
		slog.String("study_id", cfg.StudyID),
		slog.Int("n_trials", cfg.NTrials),
		slog.Int("workers", cfg.Workers),
		slog.String("direction", string(cfg.Direction)))

	log := &observationLog{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	issued := 0
	for number := 0; number < cfg.NTrials; number++ {
		if gctx.Err() != nil {
			// Cancellation stops issuing new trials.
			break
		}
		number := number
		issued++
		g.Go(func() error {
			return o.runTrial(gctx, cfg, number, sampler, pruner, log, objective)
		})
	}

	// Cancellation yields a shorter study, not a failed one: whatever
	// trials finished are reported.
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return nil, err
	}

	study, serr := o.store.GetStudy(context.WithoutCancel(ctx), cfg.StudyID)
	if serr != nil {
		return nil, serr
	}

	summary := &Summary{Study: study, Trials: issued}
	obs, _ := log.snapshot()
	for _, ob := range obs {
		switch ob.State {
		case experiment.TrialComplete:
			summary.Completed++
		case experiment.TrialPruned:
			summary.Pruned++
		case experiment.TrialFailed:
			summary.Failed++
		}
	}

	o.logger.Info("study finished",
		slog.String("study_id", cfg.StudyID),
		slog.Int("completed", summary.Completed),
		slog.Int("pruned", summary.Pruned),
		slog.Int("failed", summary.Failed))
	return summary, err
}

// runTrial drives one trial to a terminal state. Only infrastructure
// errors propagate; objective failures are absorbed as failed trials.
func (o *Optimizer) runTrial(ctx context.Context, cfg StudyConfig, number int, sampler Sampler, pruner Pruner, log *observationLog, objective Objective) error {
	obs, _ := log.snapshot()
	params := sampler.Sample(cfg.Space, obs, cfg.Direction)

	trialID := fmt.Sprintf("%s-t%03d", cfg.StudyID, number)
	if err := o.store.BeginTrial(ctx, &experiment.TrialRecord{
		TrialID: trialID,
		StudyID: cfg.StudyID,
		Number:  number,
		Params:  params,
	}); err != nil {
		return err
	}

	handle := &TrialHandle{
		ID:        trialID,
		Number:    number,
		Params:    params,
		direction: cfg.Direction,
		pruner:    pruner,
		log:       log,
	}

	value, err := objective(ctx, handle)

	// Finalization must not be lost to cancellation: a trial never stays
	// in the running state.
	finCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if ferr := o.store.FinishTrial(finCtx, trialID, experiment.TrialComplete, &value); ferr != nil {
			return ferr
		}
		log.addObservation(Observation{Params: params, Value: value, State: experiment.TrialComplete}, handle.curve)
		applied, berr := o.store.UpdateBest(finCtx, cfg.StudyID, trialID, value, cfg.Direction)
		if berr != nil {
			return berr
		}
		if applied {
			o.logger.Info("new best",
				slog.String("study_id", cfg.StudyID),
				slog.String("trial_id", trialID),
				slog.Float64("value", value))
		}

	case errors.Is(err, ErrPruned):
		if ferr := o.store.FinishTrial(finCtx, trialID, experiment.TrialPruned, handle.lastValue()); ferr != nil {
			return ferr
		}
		log.addObservation(Observation{Params: params, State: experiment.TrialPruned}, nil)
		o.logger.Debug("trial pruned",
			slog.String("trial_id", trialID),
			slog.Int("steps", len(handle.curve)))

	default:
		// Failed trials are excluded from best-value comparison but
		// still count toward n_trials.
		terr := laberrors.New(laberrors.ErrCodeTrialFailed,
			fmt.Sprintf("trial %d failed", number), err)
		if ferr := o.store.FinishTrial(finCtx, trialID, experiment.TrialFailed, nil); ferr != nil {
			return ferr
		}
		log.addObservation(Observation{Params: params, State: experiment.TrialFailed}, nil)
		o.logger.Warn("trial failed",
			slog.String("trial_id", trialID),
			slog.String("code", laberrors.CodeOf(terr)),
			slog.String("error", err.Error()))
	}
	return nil
}
