// Package optimize searches pipeline parameter spaces with pruning.
// A study is a bounded sequence of trials; each trial proposes a parameter
// vector, evaluates the objective through the pipeline executor, and is
// recorded in the experiment ledger.
package optimize

import (
	"fmt"
	"math"
	"math/rand"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// DimKind is the type of one search-space dimension.
type DimKind string

const (
	DimFloat       DimKind = "float"
	DimInt         DimKind = "int"
	DimCategorical DimKind = "categorical"
)

// Dimension defines one axis of the search space.
type Dimension struct {
	Name string  `json:"name" yaml:"name"`
	Kind DimKind `json:"kind" yaml:"kind"`
	// Min/Max bound float and int dimensions (inclusive).
	Min float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max float64 `json:"max,omitempty" yaml:"max,omitempty"`
	// Log samples float dimensions on a log scale.
	Log bool `json:"log,omitempty" yaml:"log,omitempty"`
	// Choices enumerate a categorical dimension.
	Choices []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// Space is a search space definition.
type Space struct {
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions"`
}

// Params is one proposed parameter vector: float64 for float dimensions,
// int for int dimensions, string for categorical ones.
type Params map[string]any

// Validate rejects malformed spaces before any trial runs.
func (s Space) Validate() error {
	if len(s.Dimensions) == 0 {
		return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid, "search space has no dimensions", nil)
	}
	seen := make(map[string]bool, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid, "dimension has empty name", nil)
		}
		if seen[d.Name] {
			return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid,
				fmt.Sprintf("dimension %q defined twice", d.Name), nil)
		}
		seen[d.Name] = true

		switch d.Kind {
		case DimFloat, DimInt:
			if d.Max < d.Min {
				return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid,
					fmt.Sprintf("dimension %q has max < min", d.Name), nil)
			}
			if d.Log && d.Min <= 0 {
				return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid,
					fmt.Sprintf("log dimension %q needs min > 0", d.Name), nil)
			}
		case DimCategorical:
			if len(d.Choices) == 0 {
				return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid,
					fmt.Sprintf("categorical dimension %q has no choices", d.Name), nil)
			}
		default:
			return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid,
				fmt.Sprintf("dimension %q has unknown kind %q", d.Name, d.Kind), nil)
		}
	}
	return nil
}

// sample draws one value from the dimension's distribution.
func (d Dimension) sample(rng *rand.Rand) any {
	switch d.Kind {
	case DimFloat:
		if d.Log {
			lo, hi := math.Log(d.Min), math.Log(d.Max)
			return math.Exp(lo + rng.Float64()*(hi-lo))
		}
		return d.Min + rng.Float64()*(d.Max-d.Min)
	case DimInt:
		lo, hi := int(d.Min), int(d.Max)
		if hi <= lo {
			return lo
		}
		return lo + rng.Intn(hi-lo+1)
	case DimCategorical:
		return d.Choices[rng.Intn(len(d.Choices))]
	default:
		return nil
	}
}

// clamp bounds a numeric candidate back into the dimension's range.
func (d Dimension) clamp(v float64) float64 {
	if v < d.Min {
		return d.Min
	}
	if v > d.Max {
		return d.Max
	}
	return v
}

// asFloat converts a sampled value to float64 for density scoring.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
