package optimize

import (
	"sort"
	"sync"

	"github.com/searchlab/searchlab/internal/experiment"
)

// Pruner decides whether a trial's intermediate trajectory is dominated
// enough to stop it early.
type Pruner interface {
	// ShouldPrune reports whether a trial reporting value at step should
	// stop, given the intermediate curves of previously completed trials.
	ShouldPrune(step int, value float64, completedCurves [][]float64, direction experiment.Direction) bool
}

// MedianPruner prunes a trial whose intermediate value is strictly worse
// than the median of completed trials' values at the same step, after a
// warm-up of trials and steps.
type MedianPruner struct {
	// WarmupTrials is the minimum number of completed trials before any
	// pruning happens.
	WarmupTrials int
	// WarmupSteps exempts a trial's first steps from pruning.
	WarmupSteps int
}

// NewMedianPruner creates a median pruner.
func NewMedianPruner(warmupTrials, warmupSteps int) *MedianPruner {
	return &MedianPruner{WarmupTrials: warmupTrials, WarmupSteps: warmupSteps}
}

// ShouldPrune implements Pruner.
func (p *MedianPruner) ShouldPrune(step int, value float64, completedCurves [][]float64, direction experiment.Direction) bool {
	if step < p.WarmupSteps {
		return false
	}
	if len(completedCurves) < p.WarmupTrials {
		return false
	}

	var at []float64
	for _, curve := range completedCurves {
		if step < len(curve) {
			at = append(at, curve[step])
		}
	}
	if len(at) < p.WarmupTrials {
		return false
	}

	med := median(at)
	if direction == experiment.Minimize {
		return value > med
	}
	return value < med
}

// NopPruner never prunes; used when a study disables pruning.
type NopPruner struct{}

// ShouldPrune implements Pruner.
func (NopPruner) ShouldPrune(int, float64, [][]float64, experiment.Direction) bool { return false }

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// observationLog is the shared, serialized view of finished trials used by
// the sampler and pruner. Trials are independent: a pruned or failed trial
// is recorded as an observation but never feeds the surrogate as a
// success.
type observationLog struct {
	mu     sync.Mutex
	obs    []Observation
	curves [][]float64
}

func (l *observationLog) addObservation(o Observation, curve []float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.obs = append(l.obs, o)
	if o.State == experiment.TrialComplete && len(curve) > 0 {
		c := make([]float64, len(curve))
		copy(c, curve)
		l.curves = append(l.curves, c)
	}
}

func (l *observationLog) snapshot() ([]Observation, [][]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	obs := make([]Observation, len(l.obs))
	copy(obs, l.obs)
	curves := make([][]float64, len(l.curves))
	copy(curves, l.curves)
	return obs, curves
}
