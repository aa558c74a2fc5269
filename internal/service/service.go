// Package service orchestrates a recommendation session: it owns the
// visible taste model and user documents, and turns every mutation into one
// atomic store commit carrying the matching ledger records.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/raphaelgruber/watchwise/internal/catalog"
	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/matcher"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/scoring"
	"github.com/raphaelgruber/watchwise/internal/store"
	"github.com/raphaelgruber/watchwise/internal/taste"
)

// Config holds session policy.
type Config struct {
	// SkipCooldown keeps a skipped entry out of recommendations this long.
	SkipCooldown time.Duration `yaml:"skip_cooldown"`
	// RetireAfterSkips excludes an entry for good after this many skips.
	// Zero disables retirement.
	RetireAfterSkips int `yaml:"retire_after_skips"`
	// ConfirmAtStars routes ratings at or above this through confirmation.
	// Zero disables confirmation.
	ConfirmAtStars    int `yaml:"confirm_at_stars"`
	EnrichConcurrency int `yaml:"enrich_concurrency"`
}

// DefaultConfig returns the stock session policy.
func DefaultConfig() Config {
	return Config{
		SkipCooldown:      30 * 24 * time.Hour,
		ConfirmAtStars:    4,
		EnrichConcurrency: 4,
	}
}

// Deps are the collaborators a session needs.
type Deps struct {
	Store   store.Store
	Catalog *catalog.Holder
	Taste   *taste.Model
	Engine  *scoring.Engine
	Matcher matcher.Config
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Clock   func() time.Time
	Config  Config
}

// Service is one session. Mutations are serialized; readers see the last
// committed version only.
type Service struct {
	st      store.Store
	ledger  *ledger.Ledger
	holder  *catalog.Holder
	taste   *taste.Model
	engine  *scoring.Engine
	metrics *metrics.Collector
	jobs    *JobManager
	logger  *slog.Logger
	now     func() time.Time
	cfg     Config
	mcfg    matcher.Config

	mu       sync.Mutex
	versions map[string]int64
	state    models.TasteState
	planning models.PlanningQueue
	skips    models.SkipList
	pending  models.PendingSet
	ratings  []models.RatingEvent
	undone   map[string]bool

	matchMu  sync.Mutex
	matchIx  *catalog.Index
	matchers *matcher.Matcher
}

// Open loads the latest documents and rating log. A stale model is decayed
// lazily before the session is returned.
func Open(ctx context.Context, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Taste == nil || deps.Engine == nil {
		return nil, errors.New("service: store, catalog, taste model and engine are required")
	}
	s := &Service{
		st:       deps.Store,
		holder:   deps.Catalog,
		taste:    deps.Taste,
		engine:   deps.Engine,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Clock,
		cfg:      deps.Config,
		mcfg:     deps.Matcher,
		versions: map[string]int64{},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg == (Config{}) {
		s.cfg = DefaultConfig()
	}
	if s.mcfg.CacheSize == 0 {
		s.mcfg = matcher.DefaultConfig()
	}
	s.jobs = NewJobManager(s.cfg.EnrichConcurrency, s.logger)

	l, err := ledger.Open(ctx, s.st, ledger.WithClock(s.now), ledger.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s.ledger = l

	s.state = models.NewTasteState()
	s.planning = models.PlanningQueue{Entries: map[string]models.PlanningEntry{}}
	s.skips = models.SkipList{Entries: map[string]models.SkipRecord{}}
	s.pending = models.PendingSet{Ratings: map[string]models.PendingRating{}}
	for key, dst := range map[string]any{
		store.KeyTaste:    &s.state,
		store.KeyPlanning: &s.planning,
		store.KeySkips:    &s.skips,
		store.KeyPending:  &s.pending,
	} {
		if err := s.loadDocument(ctx, key, dst); err != nil {
			return nil, err
		}
	}
	s.normalizeDocuments()

	if err := s.loadRatings(ctx); err != nil {
		return nil, err
	}
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return nil, err
	}
	s.undone = ledger.UndoneRatings(records)
	s.engine.Resume(countAction(records, models.ActionRecommend))

	if s.taste.DecayDue(s.state, s.now()) {
		if _, err := s.Decay(ctx); err != nil {
			return nil, fmt.Errorf("lazy decay: %w", err)
		}
	}
	s.logger.Info("session opened",
		"session", s.ledger.Session(),
		"model_version", s.versions[store.KeyTaste],
		"ratings", len(s.ratings),
		"planned", len(s.planning.Entries),
		"recommendations", s.engine.Calls())
	return s, nil
}

// countAction counts records with the given action. The serendipity schedule
// runs over every committed recommendation, across process runs.
func countAction(records []models.LedgerRecord, action models.Action) int {
	n := 0
	for _, r := range records {
		if r.Action == action {
			n++
		}
	}
	return n
}

func (s *Service) loadDocument(ctx context.Context, key string, dst any) error {
	doc, err := s.st.LoadLatest(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc.Data, dst); err != nil {
		return fmt.Errorf("decode %s version %d: %w", key, doc.Version, err)
	}
	s.versions[key] = doc.Version
	return nil
}

func (s *Service) normalizeDocuments() {
	s.state.EnsureMaps()
	if s.planning.Entries == nil {
		s.planning.Entries = map[string]models.PlanningEntry{}
	}
	if s.skips.Entries == nil {
		s.skips.Entries = map[string]models.SkipRecord{}
	}
	if s.pending.Ratings == nil {
		s.pending.Ratings = map[string]models.PendingRating{}
	}
}

func (s *Service) loadRatings(ctx context.Context) error {
	lines, err := s.st.ReadLines(ctx, store.LogRatings)
	if err != nil {
		return err
	}
	s.ratings = make([]models.RatingEvent, 0, len(lines))
	for i, line := range lines {
		var ev models.RatingEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode rating %d: %w", i+1, err)
		}
		s.ratings = append(s.ratings, ev)
	}
	return nil
}

func (s *Service) refreshUndone(ctx context.Context) error {
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return err
	}
	s.undone = ledger.UndoneRatings(records)
	return nil
}

// Close waits for running enrichment jobs.
func (s *Service) Close() {
	s.jobs.Wait()
}

// Session returns the id stamped on this session's ledger records.
func (s *Service) Session() string { return s.ledger.Session() }

// Model returns the visible taste model.
func (s *Service) Model() models.TasteModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelLocked()
}

func (s *Service) modelLocked() models.TasteModel {
	return models.TasteModel{Version: s.versions[store.KeyTaste], State: s.state.Clone()}
}

// History returns the effective rating history: every stored rating whose
// rate record has not been undone, in order.
func (s *Service) History() []models.RatingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Service) historyLocked() []models.RatingEvent {
	out := make([]models.RatingEvent, 0, len(s.ratings))
	for _, ev := range s.ratings {
		if !s.undone[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

// Planning returns a copy of the planning queue.
func (s *Service) Planning() models.PlanningQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.PlanningQueue{Entries: make(map[string]models.PlanningEntry, len(s.planning.Entries))}
	for k, v := range s.planning.Entries {
		out.Entries[k] = v
	}
	return out
}

// Pending returns ratings awaiting confirmation.
func (s *Service) Pending() []models.PendingRating {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingRating, 0, len(s.pending.Ratings))
	for _, p := range s.pending.Ratings {
		out = append(out, p)
	}
	sortPending(out)
	return out
}

// index returns the current catalog index, waiting for the first build.
func (s *Service) index(ctx context.Context) (*catalog.Index, error) {
	ix, err := s.holder.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrNotReady, err)
	}
	return ix, nil
}

// matcher returns a matcher over the current index, rebuilt after a swap.
func (s *Service) matcher(ctx context.Context) (*matcher.Matcher, error) {
	ix, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	s.matchMu.Lock()
	defer s.matchMu.Unlock()
	if s.matchIx != ix {
		m, err := matcher.New(ix, s.mcfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.matchIx, s.matchers = ix, m
	}
	return s.matchers, nil
}

// Match resolves free text against the catalog.
func (s *Service) Match(ctx context.Context, text string) (matcher.Result, error) {
	defer s.metrics.Time(metrics.OpMatch)()
	m, err := s.matcher(ctx)
	if err != nil {
		return matcher.Result{}, err
	}
	return m.Resolve(text), nil
}

// Candidates returns ranked alternatives for human verification.
func (s *Service) Candidates(ctx context.Context, text string, n int) ([]matcher.Result, error) {
	m, err := s.matcher(ctx)
	if err != nil {
		return nil, err
	}
	return m.Candidates(text, n), nil
}
