package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/raphaelgruber/watchwise/internal/models"
)

// Strategy names the bucket a recommendation was drawn from.
type Strategy string

const (
	StrategyVector      Strategy = "vector"
	StrategyGraph       Strategy = "graph"
	StrategySerendipity Strategy = "serendipity"
	StrategyRetest      Strategy = "retest"
)

// Config holds the weights and thresholds of the engine.
type Config struct {
	VectorWeight      float64 `yaml:"vector_weight"`
	GraphWeight       float64 `yaml:"graph_weight"`
	SerendipityWeight float64 `yaml:"serendipity_weight"`

	TopN             int        `yaml:"top_n"`
	SerendipityEvery int        `yaml:"serendipity_every"`
	Schedule         []Strategy `yaml:"schedule"` // rotation for the non-forced slots

	HighRating         int     `yaml:"high_rating"`
	PrereqAbsentFactor float64 `yaml:"prereq_absent_factor"`
	PrereqRatedFactor  float64 `yaml:"prereq_rated_factor"`

	SerendipityMinScore      float64 `yaml:"serendipity_min_score"`
	SerendipityMaxSimilarity float64 `yaml:"serendipity_max_similarity"`

	RecentWindow        time.Duration `yaml:"recent_window"`
	StaleEvidenceWeight float64       `yaml:"stale_evidence_weight"`

	RetestThreshold float64                         `yaml:"retest_threshold"`
	ExcludedPenalty float64                         `yaml:"excluded_penalty"`
	RelationWeights map[models.RelationKind]float64 `yaml:"relation_weights"`
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		VectorWeight:      0.60,
		GraphWeight:       0.25,
		SerendipityWeight: 0.15,

		TopN:             10,
		SerendipityEvery: 5,
		Schedule:         []Strategy{StrategyVector, StrategyVector, StrategyGraph, StrategyVector},

		HighRating:         4,
		PrereqAbsentFactor: 0.2,
		PrereqRatedFactor:  1.2,

		SerendipityMinScore:      7.0,
		SerendipityMaxSimilarity: 0.6,

		RecentWindow:        183 * 24 * time.Hour,
		StaleEvidenceWeight: 0.5,

		RetestThreshold: 0.3,
		ExcludedPenalty: 0.5,
		RelationWeights: map[models.RelationKind]float64{
			models.RelationSequel:      1.0,
			models.RelationPrequel:     0.8,
			models.RelationParentStory: 0.8,
			models.RelationSideStory:   0.7,
			models.RelationRelated:     0.6,
			models.RelationAlternative: 0.5,
			models.RelationSummary:     0.2,
		},
	}
}

// ErrInvalidConfig is wrapped by Validate failures.
var ErrInvalidConfig = errors.New("invalid scoring config")

// Validate checks that the weights form a convex combination and the
// schedule is usable.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"vector_weight":      c.VectorWeight,
		"graph_weight":       c.GraphWeight,
		"serendipity_weight": c.SerendipityWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: %s %.3f outside [0,1]", ErrInvalidConfig, name, w)
		}
	}
	if sum := c.VectorWeight + c.GraphWeight + c.SerendipityWeight; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: strategy weights sum to %.3f, want 1", ErrInvalidConfig, sum)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive", ErrInvalidConfig)
	}
	if c.SerendipityEvery <= 0 {
		return fmt.Errorf("%w: serendipity_every must be positive", ErrInvalidConfig)
	}
	if len(c.Schedule) == 0 {
		return fmt.Errorf("%w: empty schedule", ErrInvalidConfig)
	}
	for _, s := range c.Schedule {
		switch s {
		case StrategyVector, StrategyGraph, StrategySerendipity:
		default:
			return fmt.Errorf("%w: unknown strategy %q in schedule", ErrInvalidConfig, s)
		}
	}
	return nil
}
