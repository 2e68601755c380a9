package optimize

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/searchlab/searchlab/internal/experiment"
)

// Observation is one finished trial as seen by the sampler. Pruned and
// failed trials are recorded so the sampler never re-learns from them as
// successes, but only complete trials inform the surrogate.
type Observation struct {
	Params Params
	Value  float64
	State  experiment.TrialState
}

// Sampler proposes parameter vectors from a search space.
type Sampler interface {
	Sample(space Space, history []Observation, direction experiment.Direction) Params
}

// RandomSampler draws uniformly from every dimension.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a random sampler. seed 0 derives from entropy.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: newRand(seed)}
}

// Sample implements Sampler.
func (s *RandomSampler) Sample(space Space, _ []Observation, _ experiment.Direction) Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Params, len(space.Dimensions))
	for _, d := range space.Dimensions {
		out[d.Name] = d.sample(s.rng)
	}
	return out
}

// TPESampler is a tree-structured Parzen estimator:
// finished trials are split into a "good" quantile and the rest, candidate
// vectors are drawn near good observations, and the candidate with the
// highest good/bad density ratio wins. Before Warmup complete trials are
// observed it falls back to random sampling.
type TPESampler struct {
	// Warmup is the number of complete observations required before the
	// surrogate takes over.
	Warmup int
	// Gamma is the good-quantile fraction (default 0.25).
	Gamma float64
	// Candidates is how many candidate vectors are scored (default 24).
	Candidates int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTPESampler creates a TPE sampler with the given warm-up window.
func NewTPESampler(warmup int, seed int64) *TPESampler {
	return &TPESampler{
		Warmup:     warmup,
		Gamma:      0.25,
		Candidates: 24,
		rng:        newRand(seed),
	}
}

// Sample implements Sampler.
func (s *TPESampler) Sample(space Space, history []Observation, direction experiment.Direction) Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	complete := completed(history)
	if len(complete) < s.Warmup || len(complete) < 2 {
		return s.randomParams(space)
	}

	good, bad := s.split(complete, direction)
	if len(good) == 0 || len(bad) == 0 {
		return s.randomParams(space)
	}

	best := s.candidate(space, good)
	bestScore := s.score(space, best, good, bad)
	for i := 1; i < s.Candidates; i++ {
		cand := s.candidate(space, good)
		if score := s.score(space, cand, good, bad); score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

func (s *TPESampler) randomParams(space Space) Params {
	out := make(Params, len(space.Dimensions))
	for _, d := range space.Dimensions {
		out[d.Name] = d.sample(s.rng)
	}
	return out
}

// split partitions complete observations into the good gamma-quantile and
// the rest, best first.
func (s *TPESampler) split(obs []Observation, direction experiment.Direction) (good, bad []Observation) {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		if direction == experiment.Minimize {
			return sorted[i].Value < sorted[j].Value
		}
		return sorted[i].Value > sorted[j].Value
	})

	n := int(math.Ceil(s.Gamma * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	if n >= len(sorted) {
		n = len(sorted) - 1
	}
	return sorted[:n], sorted[n:]
}

// candidate perturbs a randomly chosen good observation per dimension.
func (s *TPESampler) candidate(space Space, good []Observation) Params {
	seedObs := good[s.rng.Intn(len(good))]
	out := make(Params, len(space.Dimensions))
	for _, d := range space.Dimensions {
		switch d.Kind {
		case DimFloat:
			center, ok := asFloat(seedObs.Params[d.Name])
			if !ok {
				out[d.Name] = d.sample(s.rng)
				continue
			}
			out[d.Name] = d.clamp(center + s.rng.NormFloat64()*bandwidth(d))
		case DimInt:
			center, ok := asFloat(seedObs.Params[d.Name])
			if !ok {
				out[d.Name] = d.sample(s.rng)
				continue
			}
			out[d.Name] = int(math.Round(d.clamp(center + s.rng.NormFloat64()*bandwidth(d))))
		case DimCategorical:
			// Re-draw occasionally so categories never freeze.
			if s.rng.Float64() < 0.2 {
				out[d.Name] = d.Choices[s.rng.Intn(len(d.Choices))]
			} else if v, ok := seedObs.Params[d.Name].(string); ok {
				out[d.Name] = v
			} else {
				out[d.Name] = d.Choices[s.rng.Intn(len(d.Choices))]
			}
		}
	}
	return out
}

// score is the log good/bad kernel density ratio of a candidate.
func (s *TPESampler) score(space Space, cand Params, good, bad []Observation) float64 {
	return logDensity(space, cand, good) - logDensity(space, cand, bad)
}

// logDensity is a log kernel density estimate over a set of observations:
// Gaussian kernels per numeric dimension, frequency estimates (with
// add-one smoothing) for categorical ones.
func logDensity(space Space, cand Params, obs []Observation) float64 {
	total := 0.0
	for _, d := range space.Dimensions {
		switch d.Kind {
		case DimFloat, DimInt:
			x, ok := asFloat(cand[d.Name])
			if !ok {
				continue
			}
			h := bandwidth(d)
			sum := 0.0
			for _, o := range obs {
				c, ok := asFloat(o.Params[d.Name])
				if !ok {
					continue
				}
				z := (x - c) / h
				sum += math.Exp(-0.5 * z * z)
			}
			total += math.Log(sum/float64(len(obs))/h + 1e-12)
		case DimCategorical:
			v, _ := cand[d.Name].(string)
			count := 1.0
			for _, o := range obs {
				if o.Params[d.Name] == v {
					count++
				}
			}
			total += math.Log(count / float64(len(obs)+len(d.Choices)))
		}
	}
	return total
}

// bandwidth is a fixed-fraction-of-range kernel width.
func bandwidth(d Dimension) float64 {
	w := (d.Max - d.Min) / 5
	if w <= 0 {
		w = 1
	}
	return w
}

func completed(history []Observation) []Observation {
	out := make([]Observation, 0, len(history))
	for _, o := range history {
		if o.State == experiment.TrialComplete {
			out = append(out, o)
		}
	}
	return out
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rand.New(rand.NewSource(seed))
}
