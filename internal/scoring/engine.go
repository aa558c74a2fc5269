// Package scoring ranks catalog entries for the next recommendation by
// combining vector similarity, relation graph boosts and exploration.
package scoring

import (
	"cmp"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/taste"
)

// Catalog is the read side of the catalog index the engine needs.
// Implementations must be comparable; the engine drops cached entry profiles
// when it is handed a different catalog.
type Catalog interface {
	Get(id string) (*models.CatalogEntry, bool)
	All() iter.Seq[*models.CatalogEntry]
	Prerequisites(id string) []*models.CatalogEntry
}

// Components are the per-strategy scores behind a candidate, each in [0,1]
// except Graph which may exceed 1 before the combination clamps it.
type Components struct {
	Vector      float64 `json:"vector"`
	Graph       float64 `json:"graph"`
	Serendipity float64 `json:"serendipity"`
}

// RankedCandidate is one recommendation with its explanation.
type RankedCandidate struct {
	Entry      *models.CatalogEntry
	Score      float64 // normalized to [0,1]
	Strategy   Strategy
	Components Components
	Trace      []string
	Retested   []string // decayed tags this pick retests
	Call       int      // 1-based position in the schedule
}

// Engine draws recommendations. The serendipity schedule counts calls from
// the first RecommendNext, or from the position given to Resume.
type Engine struct {
	cfg    Config
	dims   *taste.DimensionSet
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	rng        *rand.Rand
	calls      int
	profiles   map[string][]float64
	profilesOf Catalog
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand makes the draws reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithClock overrides time.Now for recency weighting.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine validates cfg and returns a fresh session.
func NewEngine(cfg Config, dims *taste.DimensionSet, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		dims:     dims,
		logger:   slog.Default(),
		now:      time.Now,
		profiles: map[string][]float64{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// Calls returns how many recommendations the schedule has counted.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Resume continues the schedule after n earlier recommendations, so the
// next call is n+1.
func (e *Engine) Resume(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = max(n, 0)
}

// Unwind gives back the slot of a pick that was never delivered. It only
// applies to the latest call; older calls are left alone.
func (e *Engine) Unwind(call int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if call > 0 && e.calls == call {
		e.calls--
	}
}

// RecommendNext ranks the catalog against the taste model and history and
// draws one candidate. Every SerendipityEvery-th call is drawn from the
// serendipity bucket. When every bucket is empty it returns
// *NoCandidatesError and the call does not count.
func (e *Engine) RecommendNext(model models.TasteModel, history []models.RatingEvent, cat Catalog, exclude *Exclusions) (RankedCandidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	call := e.calls + 1
	s := e.newScan(model.State, history, cat, exclude)
	buckets := s.run()
	if buckets.empty() {
		return RankedCandidate{}, &NoCandidatesError{CatalogSize: s.seen, Excluded: s.excluded}
	}
	e.calls = call

	forced := call%e.cfg.SerendipityEvery == 0
	if !forced {
		if pick, ok := e.retestPick(s, buckets); ok {
			pick.Call = call
			return pick, nil
		}
	}

	strategy, fallback := e.chooseBucket(call, forced, buckets)
	c := e.draw(buckets.get(strategy))
	out := s.candidate(c, strategy)
	out.Call = call
	if forced && strategy == StrategySerendipity {
		out.Trace = append(out.Trace, fmt.Sprintf("exploration slot: every %s recommendation steps outside your usual taste", ordinal(e.cfg.SerendipityEvery)))
	}
	if fallback != "" {
		out.Trace = append(out.Trace, fallback)
	}

	e.logger.Debug("recommendation drawn",
		"call", call,
		"strategy", strategy,
		"entry", c.entry.ID,
		"score", out.Score,
		"vector_bucket", len(buckets.vector),
		"graph_bucket", len(buckets.graph),
		"serendipity_bucket", len(buckets.serendipity))
	return out, nil
}

// chooseBucket applies the round-robin schedule. Empty buckets fall through
// to the next non-empty one.
func (e *Engine) chooseBucket(call int, forced bool, b buckets) (Strategy, string) {
	want := StrategySerendipity
	if !forced {
		slot := call - call/e.cfg.SerendipityEvery - 1
		want = e.cfg.Schedule[slot%len(e.cfg.Schedule)]
	}
	if len(b.get(want)) > 0 {
		return want, ""
	}
	for _, alt := range []Strategy{StrategyVector, StrategyGraph, StrategySerendipity} {
		if len(b.get(alt)) > 0 {
			return alt, fmt.Sprintf("no %s candidates available, drawn from %s instead", want, alt)
		}
	}
	return want, ""
}

// draw picks from the bucket with probability proportional to combined score.
func (e *Engine) draw(bucket []*scored) *scored {
	const floor = 1e-6
	total := 0.0
	for _, c := range bucket {
		total += c.combined + floor
	}
	x := e.rng.Float64() * total
	for _, c := range bucket {
		x -= c.combined + floor
		if x < 0 {
			return c
		}
	}
	return bucket[len(bucket)-1]
}

// retestPick serves the best candidate carrying a tag awaiting its retest.
func (e *Engine) retestPick(s *scan, b buckets) (RankedCandidate, bool) {
	if len(s.pendingRetest) == 0 || s.bestRetest == nil {
		return RankedCandidate{}, false
	}
	c := s.bestRetest
	out := s.candidate(c, StrategyRetest)
	for _, tag := range c.entry.Tags {
		if s.pendingRetest[tag] {
			out.Retested = append(out.Retested, tag)
		}
	}
	for _, tag := range out.Retested {
		out.Trace = append(out.Trace, fmt.Sprintf("retesting %q: its weight decayed below %.2f", tag, e.cfg.RetestThreshold))
	}
	return out, true
}

// useCatalog drops cached profiles when cat is not the catalog they were
// computed from.
func (e *Engine) useCatalog(cat Catalog) {
	if e.profilesOf != cat {
		clear(e.profiles)
		e.profilesOf = cat
	}
}

// profile returns the cached dimension match vector of an entry.
func (e *Engine) profile(entry *models.CatalogEntry) []float64 {
	if p, ok := e.profiles[entry.ID]; ok {
		return p
	}
	p := e.dims.Match(entry.Tags)
	e.profiles[entry.ID] = p
	return p
}

type buckets struct {
	vector      []*scored
	graph       []*scored
	serendipity []*scored
}

func (b buckets) empty() bool {
	return len(b.vector) == 0 && len(b.graph) == 0 && len(b.serendipity) == 0
}

func (b buckets) get(s Strategy) []*scored {
	switch s {
	case StrategyVector:
		return b.vector
	case StrategyGraph:
		return b.graph
	case StrategySerendipity:
		return b.serendipity
	}
	return nil
}

// topN keeps the n best by key, ties broken by id for stable output.
func topN(items []*scored, n int, key func(*scored) float64) []*scored {
	slices.SortFunc(items, func(a, b *scored) int {
		return cmp.Or(cmp.Compare(key(b), key(a)), cmp.Compare(a.entry.ID, b.entry.ID))
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
