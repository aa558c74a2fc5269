// Package taste implements the online update and decay rules of the taste model.
package taste

import (
	"time"

	"github.com/raphaelgruber/watchwise/internal/models"
)

// Config holds the tunables of the update and decay rules.
type Config struct {
	ConfidenceStep      float64     `yaml:"confidence_step"`
	DecayFactor         float64     `yaml:"decay_factor"`
	RetestThreshold     float64     `yaml:"retest_threshold"`
	AntiPatternMaxStars int         `yaml:"anti_pattern_max_stars"`
	Dimensions          Definitions `yaml:"dimensions"`
}

// DefaultConfig returns the stock rules.
func DefaultConfig() Config {
	return Config{
		ConfidenceStep:      0.05,
		DecayFactor:         0.9,
		RetestThreshold:     0.3,
		AntiPatternMaxStars: 2,
		Dimensions:          DefaultDefinitions(),
	}
}

// Model applies the rules to taste states. States are values: every method
// returns a new state and leaves its input untouched.
type Model struct {
	cfg  Config
	dims *DimensionSet
}

// New compiles cfg.
func New(cfg Config) *Model {
	if cfg.Dimensions == nil {
		cfg.Dimensions = DefaultDefinitions()
	}
	return &Model{cfg: cfg, dims: NewDimensionSet(cfg.Dimensions)}
}

// Dimensions exposes the compiled dimension set.
func (m *Model) Dimensions() *DimensionSet { return m.dims }

// Config returns the rules in use.
func (m *Model) Config() Config { return m.cfg }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// blend is the core rule: w' = w*c + obs*(1-c), c' = min(c+step, 1).
func (m *Model) blend(s models.Signal, obs float64, at time.Time) models.Signal {
	obs = clamp01(obs)
	c := clamp01(s.Confidence)
	return models.Signal{
		Weight:       clamp01(s.Weight*c + obs*(1-c)),
		Confidence:   clamp01(c + m.cfg.ConfidenceStep),
		LastObserved: at,
		Observations: s.Observations + 1,
	}
}

func (m *Model) bump(conf map[string]float64, category string) {
	conf[category] = clamp01(conf[category] + m.cfg.ConfidenceStep)
}

// ApplyRating folds one rating into state. Tags and studios come from the
// event's snapshot so replays do not depend on the current catalog.
// A dimension matched with strength s observes r*s + (1-s)*w, where w is its
// current weight; dimensions the event does not touch are left alone.
func (m *Model) ApplyRating(state models.TasteState, ev models.RatingEvent) models.TasteState {
	next := state.Clone()
	r := ev.Norm()
	at := ev.Timestamp.UTC()

	for _, tag := range ev.Tags {
		next.Tags[tag] = m.blend(next.Tags[tag], r, at)
		delete(next.Retest, tag)
	}
	if len(ev.Tags) > 0 {
		m.bump(next.Confidence, models.CategoryTags)
	}
	for _, studio := range ev.Studios {
		next.Studios[studio] = m.blend(next.Studios[studio], r, at)
	}
	if len(ev.Studios) > 0 {
		m.bump(next.Confidence, models.CategoryStudios)
	}

	touched := map[string]bool{}
	for i, strength := range m.dims.Match(ev.Tags) {
		if strength == 0 {
			continue
		}
		d := m.dims.At(i)
		fam := next.Dimensions[d.Family]
		if fam == nil {
			fam = map[string]models.Signal{}
			next.Dimensions[d.Family] = fam
		}
		cur := fam[d.Name]
		// partial membership: a full match observes the rating, no match keeps the weight
		obs := r*strength + (1-strength)*cur.Weight
		fam[d.Name] = m.blend(cur, obs, at)
		touched[d.Family] = true
	}
	for family := range touched {
		m.bump(next.Confidence, family)
	}

	if ev.Stars <= m.cfg.AntiPatternMaxStars {
		aversion := 1 - r
		for _, tag := range ev.Tags {
			next.AntiPatterns.Tags[tag] = m.blend(next.AntiPatterns.Tags[tag], aversion, at)
		}
		for _, studio := range ev.Studios {
			next.AntiPatterns.Studios[studio] = m.blend(next.AntiPatterns.Studios[studio], aversion, at)
		}
		next.AntiPatterns.Confidence = clamp01(next.AntiPatterns.Confidence + m.cfg.ConfidenceStep)
	}

	if next.LastDecayAt.IsZero() {
		next.LastDecayAt = at
	}
	next.UpdatedAt = at
	return next
}

// Replay folds events into state in order.
func (m *Model) Replay(state models.TasteState, events []models.RatingEvent) models.TasteState {
	for _, ev := range events {
		state = m.ApplyRating(state, ev)
	}
	return state
}
