package scoring

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/raphaelgruber/watchwise/internal/catalog"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/taste"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func event(id string, stars int, at time.Time, tags ...string) models.RatingEvent {
	return models.RatingEvent{
		ID:         "ev-" + id,
		EntryID:    id,
		Stars:      stars,
		Timestamp:  at,
		Provenance: models.ProvenanceManualSearch,
		Tags:       tags,
	}
}

func newTestEngine(t *testing.T, dims *taste.DimensionSet) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), dims,
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return e
}

// sessionFixture has a rated drama, similar drama candidates and a pool of
// well regarded mecha shows nobody rated yet.
func sessionFixture(t *testing.T) (*catalog.Index, models.TasteModel, []models.RatingEvent, *taste.Model) {
	t.Helper()
	entries := []models.CatalogEntry{
		{ID: "seen", Title: "Seen", Status: models.StatusFinished, Score: 8, Tags: []string{"drama", "romance"}},
	}
	for i := range 6 {
		entries = append(entries, models.CatalogEntry{
			ID: fmt.Sprintf("drama-%d", i), Title: fmt.Sprintf("Drama %d", i),
			Status: models.StatusFinished, Score: 7.5, Tags: []string{"drama", "romance"},
		})
		entries = append(entries, models.CatalogEntry{
			ID: fmt.Sprintf("mecha-%d", i), Title: fmt.Sprintf("Mecha %d", i),
			Status: models.StatusFinished, Score: 8.5, Tags: []string{"mecha", "space"},
		})
	}
	ix := catalog.FromEntries(entries)

	tm := taste.New(taste.DefaultConfig())
	history := []models.RatingEvent{event("seen", 5, now.Add(-24*time.Hour), "drama", "romance")}
	model := models.TasteModel{Version: 1, State: tm.Replay(models.NewTasteState(), history)}
	return ix, model, history, tm
}

func TestRecommendNext_EveryFifthIsSerendipity(t *testing.T) {
	ix, model, history, tm := sessionFixture(t)
	e := newTestEngine(t, tm.Dimensions())

	for call := 1; call <= 15; call++ {
		got, err := e.RecommendNext(model, history, ix, NewExclusions())
		require.NoError(t, err)
		assert.Equal(t, call, got.Call)
		if call%5 == 0 {
			assert.Equal(t, StrategySerendipity, got.Strategy, "call %d", call)
			assert.Contains(t, got.Entry.Tags, "mecha")
		} else {
			assert.NotEqual(t, StrategySerendipity, got.Strategy, "call %d", call)
		}
		assert.GreaterOrEqual(t, got.Score, 0.0)
		assert.LessOrEqual(t, got.Score, 1.0)
		assert.NotEmpty(t, got.Trace)
		assert.NotEqual(t, "seen", got.Entry.ID, "rated entries are never recommended")
	}
	assert.Equal(t, 15, e.Calls())
}

func TestRecommendNext_ResumeContinuesSchedule(t *testing.T) {
	ix, model, history, tm := sessionFixture(t)

	t.Run("resumed engine picks up the serendipity slot", func(t *testing.T) {
		e := newTestEngine(t, tm.Dimensions())
		e.Resume(4)
		got, err := e.RecommendNext(model, history, ix, NewExclusions())
		require.NoError(t, err)
		assert.Equal(t, 5, got.Call)
		assert.Equal(t, StrategySerendipity, got.Strategy)
	})

	t.Run("one engine per pick follows the same schedule", func(t *testing.T) {
		var strategies []Strategy
		for n := range 10 {
			e := newTestEngine(t, tm.Dimensions())
			e.Resume(n)
			got, err := e.RecommendNext(model, history, ix, NewExclusions())
			require.NoError(t, err)
			assert.Equal(t, n+1, got.Call)
			strategies = append(strategies, got.Strategy)
		}
		assert.Equal(t, StrategySerendipity, strategies[4])
		assert.Equal(t, StrategySerendipity, strategies[9])
		for i, s := range strategies {
			if i != 4 && i != 9 {
				assert.NotEqual(t, StrategySerendipity, s, "pick %d", i+1)
			}
		}
	})

	t.Run("negative offset starts from the beginning", func(t *testing.T) {
		e := newTestEngine(t, tm.Dimensions())
		e.Resume(-3)
		assert.Zero(t, e.Calls())
	})
}

func TestRecommendNext_UnwindReturnsSlot(t *testing.T) {
	ix, model, history, tm := sessionFixture(t)
	e := newTestEngine(t, tm.Dimensions())
	e.Resume(3)

	got, err := e.RecommendNext(model, history, ix, NewExclusions())
	require.NoError(t, err)
	require.Equal(t, 4, got.Call)

	e.Unwind(3)
	assert.Equal(t, 4, e.Calls(), "only the latest call can be unwound")

	e.Unwind(got.Call)
	assert.Equal(t, 3, e.Calls())

	again, err := e.RecommendNext(model, history, ix, NewExclusions())
	require.NoError(t, err)
	assert.Equal(t, 4, again.Call, "the undelivered slot is drawn again")
}

func TestProfileCache_FollowsCatalog(t *testing.T) {
	dims := taste.NewDimensionSet(taste.Definitions{"tone": {"dark": {"horror"}}})
	e := newTestEngine(t, dims)

	before := catalog.FromEntries([]models.CatalogEntry{{ID: "x", Title: "X", Tags: []string{"comedy"}}})
	after := catalog.FromEntries([]models.CatalogEntry{{ID: "x", Title: "X", Tags: []string{"horror"}}})

	e.newScan(models.NewTasteState(), nil, before, nil)
	old, _ := before.Get("x")
	assert.Zero(t, e.profile(old)[0])

	e.newScan(models.NewTasteState(), nil, after, nil)
	rebuilt, _ := after.Get("x")
	assert.Positive(t, e.profile(rebuilt)[0], "a rebuilt catalog is matched again")
}

func TestRecommendNext_RespectsExclusions(t *testing.T) {
	ix, model, history, tm := sessionFixture(t)
	e := newTestEngine(t, tm.Dimensions())

	ex := NewExclusions()
	for i := range 6 {
		ex.Add(fmt.Sprintf("drama-%d", i), "planned")
	}
	for range 4 {
		got, err := e.RecommendNext(model, history, ix, ex)
		require.NoError(t, err)
		assert.False(t, ex.Has(got.Entry.ID))
	}
}

func TestRecommendNext_NoCandidates(t *testing.T) {
	ix, model, history, tm := sessionFixture(t)
	e := newTestEngine(t, tm.Dimensions())

	ex := NewExclusions()
	for entry := range ix.All() {
		ex.Add(entry.ID, "skipped")
	}
	_, err := e.RecommendNext(model, history, ix, ex)
	var noCand *NoCandidatesError
	require.True(t, errors.As(err, &noCand))
	assert.Equal(t, 13, noCand.CatalogSize)
	assert.Equal(t, 13, noCand.Excluded)
	assert.Zero(t, e.Calls(), "a failed draw does not advance the schedule")

	// one eligible candidate is enough
	ex2 := NewExclusions()
	for entry := range ix.All() {
		if entry.ID != "mecha-3" {
			ex2.Add(entry.ID, "skipped")
		}
	}
	got, err := e.RecommendNext(model, history, ix, ex2)
	require.NoError(t, err)
	assert.Equal(t, "mecha-3", got.Entry.ID)
}

func TestRecommendNext_NoCandidatesOnlyWhenAllBucketsEmpty(t *testing.T) {
	// nothing rated and nothing well regarded: vector and serendipity are
	// empty, but a graph candidate keeps the engine going
	ix := catalog.FromEntries([]models.CatalogEntry{
		{ID: "a", Title: "A", Status: models.StatusFinished, Score: 5, Tags: []string{"drama"},
			Related: []models.RelatedRef{{ID: "b", Kind: models.RelationSideStory}}},
		{ID: "b", Title: "B", Status: models.StatusFinished, Score: 5},
	})
	tm := taste.New(taste.DefaultConfig())
	history := []models.RatingEvent{{ID: "x", EntryID: "a", Stars: 5, Timestamp: now, Provenance: models.ProvenanceManualSearch}}
	model := models.TasteModel{State: models.NewTasteState()}

	e := newTestEngine(t, tm.Dimensions())
	got, err := e.RecommendNext(model, history, ix, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Entry.ID)
	assert.Equal(t, StrategyGraph, got.Strategy, "schedule falls through to the only non-empty bucket")
	assert.Contains(t, got.Trace[len(got.Trace)-1], "drawn from graph instead")

	_, err = e.RecommendNext(model, append(history, event("b", 2, now)), ix, nil)
	var noCand *NoCandidatesError
	assert.ErrorAs(t, err, &noCand)
}

func TestGraphPrerequisiteFactor(t *testing.T) {
	// a lists c as its sequel; c also continues b
	ix := catalog.FromEntries([]models.CatalogEntry{
		{ID: "a", Title: "A", Related: []models.RelatedRef{{ID: "c", Kind: models.RelationSequel}}},
		{ID: "b", Title: "B"},
		{ID: "c", Title: "C", Related: []models.RelatedRef{{ID: "b", Kind: models.RelationPrequel}}},
	})
	tm := taste.New(taste.DefaultConfig())
	e := newTestEngine(t, tm.Dimensions())
	c, _ := ix.Get("c")

	tests := []struct {
		name    string
		history []models.RatingEvent
		factor  float64
	}{
		{"prerequisite missing", []models.RatingEvent{event("a", 4, now)}, 0.2},
		{"all prerequisites rated highly", []models.RatingEvent{event("a", 4, now), event("b", 5, now)}, 1.2},
		{"prerequisite rated low", []models.RatingEvent{event("a", 4, now), event("b", 3, now)}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.newScan(models.NewTasteState(), tt.history, ix, nil)
			got := s.score(c)
			require.Greater(t, got.graphRaw, 0.0)
			assert.Equal(t, tt.factor, got.graphFactor)
			assert.Equal(t, got.graphRaw*tt.factor, got.graph)
		})
	}

	t.Run("exact multiples", func(t *testing.T) {
		missing := e.newScan(models.NewTasteState(), []models.RatingEvent{event("a", 4, now)}, ix, nil).score(c)
		rated := e.newScan(models.NewTasteState(), []models.RatingEvent{event("a", 4, now), event("b", 4, now)}, ix, nil).score(c)
		assert.Equal(t, 0.2*missing.graphRaw, missing.graph)
		assert.Equal(t, 1.2*rated.graphRaw, rated.graph)
	})
}

func TestRecommendNext_RetestInjection(t *testing.T) {
	ix := catalog.FromEntries([]models.CatalogEntry{
		{ID: "sporty", Title: "Sporty", Status: models.StatusFinished, Score: 6, Tags: []string{"sports", "drama"}},
		{ID: "plain", Title: "Plain", Status: models.StatusFinished, Score: 6, Tags: []string{"drama"}},
	})
	tm := taste.New(taste.DefaultConfig())
	// 0.4 decays over four silent months to 0.26
	history := []models.RatingEvent{event("old", 2, now.AddDate(0, -5, 0), "sports")}
	state := tm.Replay(models.NewTasteState(), history)
	state, report := tm.ApplyDecay(state, now)
	require.Equal(t, []string{"sports"}, report.Flagged)

	e := newTestEngine(t, tm.Dimensions())
	got, err := e.RecommendNext(models.TasteModel{State: state}, history, ix, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyRetest, got.Strategy)
	assert.Equal(t, "sporty", got.Entry.ID)
	assert.Equal(t, []string{"sports"}, got.Retested)

	served := tm.MarkRetestServed(state, got.Retested, now)
	got, err = e.RecommendNext(models.TasteModel{State: served}, history, ix, nil)
	require.NoError(t, err)
	assert.NotEqual(t, StrategyRetest, got.Strategy)
}

func TestDeriveProfile_StaleEvidenceCountsHalf(t *testing.T) {
	dims := taste.NewDimensionSet(taste.Definitions{"tone": {"dark": {"horror"}}})
	e := newTestEngine(t, dims)

	history := []models.RatingEvent{
		event("old", 1, now.AddDate(-1, 0, 0), "horror"),
		event("new", 5, now.AddDate(0, -1, 0), "horror"),
	}
	s := e.newScan(models.NewTasteState(), history, catalog.FromEntries(nil), nil)
	// (0.5*0.2 + 1*1.0) / (0.5 + 1)
	assert.InDelta(t, 1.1/1.5, s.weights[0], 1e-12)
}

func TestScore_AntiPatternPenalty(t *testing.T) {
	ix, model, history, tm := sessionFixture(t)
	e := newTestEngine(t, tm.Dimensions())
	drama, _ := ix.Get("drama-0")

	plain := e.newScan(model.State, history, ix, nil).score(drama)

	disliked := model.State.Clone()
	disliked.AntiPatterns.Tags["romance"] = models.Signal{Weight: 0.8, Confidence: 0.5}
	penalized := e.newScan(disliked, history, ix, nil).score(drama)

	assert.InDelta(t, plain.vector*0.6, penalized.vector, 1e-12)
	assert.Contains(t, penalized.penaltyNote, "romance")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"weights do not sum to one", func(c *Config) { c.SerendipityWeight = 0.3 }, true},
		{"negative weight", func(c *Config) { c.VectorWeight, c.GraphWeight = 1.1, -0.25 }, true},
		{"zero top n", func(c *Config) { c.TopN = 0 }, true},
		{"zero cadence", func(c *Config) { c.SerendipityEvery = 0 }, true},
		{"unknown strategy", func(c *Config) { c.Schedule = []Strategy{"popularity"} }, true},
		{"empty schedule", func(c *Config) { c.Schedule = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrdinal(t *testing.T) {
	assert.Equal(t, "1st", ordinal(1))
	assert.Equal(t, "2nd", ordinal(2))
	assert.Equal(t, "3rd", ordinal(3))
	assert.Equal(t, "5th", ordinal(5))
	assert.Equal(t, "11th", ordinal(11))
	assert.Equal(t, "22nd", ordinal(22))
}
