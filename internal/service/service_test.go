package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/watchwise/internal/catalog"
	"github.com/raphaelgruber/watchwise/internal/importer"
	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/scoring"
	"github.com/raphaelgruber/watchwise/internal/store"
	"github.com/raphaelgruber/watchwise/internal/taste"
)

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fixtureEntries has two tag clusters and a two-part chain.
func fixtureEntries() []models.CatalogEntry {
	var entries []models.CatalogEntry
	for i := range 6 {
		entries = append(entries,
			models.CatalogEntry{
				ID: fmt.Sprintf("drama-%d", i), Title: fmt.Sprintf("Drama %d", i),
				Type: models.MediaSeries, Status: models.StatusFinished, Score: 7.5,
				Tags: []string{"drama", "romance"}, Studios: []string{"kyoto animation"},
			},
			models.CatalogEntry{
				ID: fmt.Sprintf("mecha-%d", i), Title: fmt.Sprintf("Mecha %d", i),
				Type: models.MediaSeries, Status: models.StatusFinished, Score: 8.5,
				Tags: []string{"mecha", "space"}, Studios: []string{"sunrise"},
			},
		)
	}
	entries = append(entries,
		models.CatalogEntry{
			ID: "chain-1", Title: "Long Road", Type: models.MediaSeries, Status: models.StatusFinished,
			Score: 8, Tags: []string{"adventure"},
			Related: []models.RelatedRef{{ID: "chain-2", Kind: models.RelationSequel}},
		},
		models.CatalogEntry{
			ID: "chain-2", Title: "Long Road Season 2", Type: models.MediaSeries, Status: models.StatusFinished,
			Score: 8.2, Tags: []string{"adventure"},
			Related: []models.RelatedRef{{ID: "chain-1", Kind: models.RelationPrequel}},
		},
	)
	return entries
}

type env struct {
	svc   *Service
	st    store.Store
	clock *testClock
	taste *taste.Model
	path  string
	ix    *catalog.Index
}

func newEnv(t *testing.T, entries []models.CatalogEntry, cfg Config) *env {
	t.Helper()
	e := &env{
		clock: &testClock{t: start},
		path:  filepath.Join(t.TempDir(), "watchwise.db"),
		ix:    catalog.FromEntries(entries),
	}
	e.open(t, cfg)
	return e
}

func (e *env) open(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, e.path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	holder := catalog.NewHolder(nil)
	holder.Publish(e.ix)

	e.taste = taste.New(taste.DefaultConfig())
	engine, err := scoring.NewEngine(scoring.DefaultConfig(), e.taste.Dimensions(),
		scoring.WithRand(rand.New(rand.NewPCG(7, 11))),
		scoring.WithClock(e.clock.Now))
	require.NoError(t, err)

	svc, err := Open(ctx, Deps{
		Store:   st,
		Catalog: holder,
		Taste:   e.taste,
		Engine:  engine,
		Metrics: metrics.NewCollector(),
		Clock:   e.clock.Now,
		Config:  cfg,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	e.svc, e.st = svc, st
}

// reopen closes the store and opens a fresh session over the same file.
func (e *env) reopen(t *testing.T, cfg Config) {
	t.Helper()
	e.svc.Close()
	require.NoError(t, e.st.Close())
	e.open(t, cfg)
}

func stateJSON(t *testing.T, s models.TasteState) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

func ledgerLen(t *testing.T, svc *Service) int {
	t.Helper()
	records, err := svc.Records(context.Background(), 0)
	require.NoError(t, err)
	return len(records)
}

func TestRate_LowRatingThenUndo(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	before := e.svc.Model()
	assert.Equal(t, int64(0), before.Version)

	res, err := e.svc.Rate(ctx, RateRequest{EntryID: "drama-0", Stars: 2, Context: "search"})
	require.NoError(t, err)
	assert.Nil(t, res.Pending)
	assert.Equal(t, int64(1), res.Model.Version)
	assert.Equal(t, []string{"drama", "romance"}, res.Event.Tags)
	assert.Equal(t, int64(1), res.Event.ModelVersion, "event records the version it produced")
	assert.Equal(t, res.Model.Version, res.Event.ModelVersion)
	require.Len(t, res.Records, 1)
	assert.Equal(t, models.ActionRate, res.Records[0].Action)
	assert.Equal(t, "search", res.Records[0].Context)
	assert.NotEmpty(t, res.Records[0].Changes)
	assert.Contains(t, res.Model.State.AntiPatterns.Tags, "drama")
	require.Len(t, e.svc.History(), 1)

	recordsBefore := ledgerLen(t, e.svc)
	undone, err := e.svc.Undo(ctx, 1, "misclick")
	require.NoError(t, err)
	require.Len(t, undone, 1)
	assert.Equal(t, models.ActionUndo, undone[0].Action)
	assert.Equal(t, res.Records[0].Seq, undone[0].Compensates)
	assert.Equal(t, recordsBefore+1, ledgerLen(t, e.svc), "undo appends exactly one record")

	after := e.svc.Model()
	assert.Equal(t, int64(2), after.Version, "undo creates a new version")
	assert.JSONEq(t, stateJSON(t, before.State), stateJSON(t, after.State))
	assert.Empty(t, e.svc.History(), "undone rating leaves the effective history")

	// the undone version stays readable
	v1, err := e.svc.LoadModelVersion(ctx, 1)
	require.NoError(t, err)
	assert.JSONEq(t, stateJSON(t, res.Model.State), stateJSON(t, v1.State))

	_, err = e.svc.Undo(ctx, 1, "")
	assert.ErrorIs(t, err, ledger.ErrNothingToUndo)
}

func TestRate_ValidationBeforeMutation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	tests := []struct {
		name string
		req  RateRequest
	}{
		{name: "zero stars", req: RateRequest{EntryID: "drama-0", Stars: 0}},
		{name: "six stars", req: RateRequest{EntryID: "drama-0", Stars: 6}},
		{name: "no subject", req: RateRequest{Stars: 3}},
		{name: "unknown entry", req: RateRequest{EntryID: "nope", Stars: 3}},
		{name: "unknown provenance", req: RateRequest{EntryID: "drama-0", Stars: 3, Provenance: "telepathy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Rate(ctx, tt.req)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
	assert.Equal(t, int64(0), e.svc.Model().Version)
	assert.Zero(t, ledgerLen(t, e.svc))
	assert.Empty(t, e.svc.History())
}

func TestRate_UnresolvedTitleIsKept(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	res, err := e.svc.Rate(ctx, RateRequest{Title: "Some Obscure OVA", Stars: 3})
	require.NoError(t, err)
	assert.False(t, res.Event.Resolved())
	assert.Equal(t, "title:Some Obscure OVA", res.Records[0].Subject)
	assert.Equal(t, int64(1), res.Model.Version)
}

func TestRate_HighRatingWaitsForConfirmation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	res, err := e.svc.Rate(ctx, RateRequest{EntryID: "mecha-1", Stars: 5})
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, int64(0), res.Model.Version, "model untouched while pending")
	assert.Empty(t, e.svc.History())
	require.Len(t, e.svc.Pending(), 1)

	confirmed, err := e.svc.Confirm(ctx, res.Pending.ID, "review")
	require.NoError(t, err)
	assert.Equal(t, int64(1), confirmed.Model.Version)
	assert.Zero(t, res.Event.ModelVersion, "a held rating has produced nothing yet")
	assert.Equal(t, confirmed.Model.Version, confirmed.Event.ModelVersion)
	assert.Equal(t, confirmed.Model.Version, e.svc.History()[0].ModelVersion)
	require.Len(t, confirmed.Records, 2)
	assert.Equal(t, models.ActionConfirm, confirmed.Records[0].Action)
	assert.Equal(t, models.ActionRate, confirmed.Records[1].Action)
	assert.Empty(t, e.svc.Pending())
	require.Len(t, e.svc.History(), 1)

	_, err = e.svc.Confirm(ctx, res.Pending.ID, "")
	assert.ErrorIs(t, err, ErrUnknownPending)

	// undo reverts the rating only; the confirmation stays
	_, err = e.svc.Undo(ctx, 1, "")
	require.NoError(t, err)
	assert.Empty(t, e.svc.History())
	assert.Empty(t, e.svc.Pending())
}

func TestRate_DeclineDropsPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	res, err := e.svc.Rate(ctx, RateRequest{EntryID: "mecha-2", Stars: 4})
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	require.NoError(t, e.svc.Decline(ctx, res.Pending.ID, ""))
	assert.Empty(t, e.svc.Pending())
	assert.Empty(t, e.svc.History())
	assert.Equal(t, int64(0), e.svc.Model().Version)
	assert.ErrorIs(t, e.svc.Decline(ctx, res.Pending.ID, ""), ErrUnknownPending)
}

func TestRate_ValidatedContinuationSkipsConfirmation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	first, err := e.svc.Rate(ctx, RateRequest{EntryID: "chain-1", Stars: 5, Confirmed: true})
	require.NoError(t, err)
	assert.Nil(t, first.Pending)

	second, err := e.svc.Rate(ctx, RateRequest{EntryID: "chain-2", Stars: 5})
	require.NoError(t, err)
	assert.Nil(t, second.Pending, "sequel of a highly rated entry applies directly")
	assert.Len(t, e.svc.History(), 2)
}

func TestRate_ContinuationOfUndoneRatingNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	_, err := e.svc.Rate(ctx, RateRequest{EntryID: "chain-1", Stars: 5, Confirmed: true})
	require.NoError(t, err)
	_, err = e.svc.Undo(ctx, 1, "")
	require.NoError(t, err)

	res, err := e.svc.Rate(ctx, RateRequest{EntryID: "chain-2", Stars: 5})
	require.NoError(t, err)
	assert.NotNil(t, res.Pending)
}

func TestRevert_KeepsHistoryAndVersions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	for _, id := range []string{"drama-0", "mecha-0", "drama-1"} {
		_, err := e.svc.Rate(ctx, RateRequest{EntryID: id, Stars: 3})
		require.NoError(t, err)
	}
	v1, err := e.svc.LoadModelVersion(ctx, 1)
	require.NoError(t, err)

	m, err := e.svc.Revert(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.Version)
	assert.JSONEq(t, stateJSON(t, v1.State), stateJSON(t, m.State))
	assert.Len(t, e.svc.History(), 3, "ratings after the reverted version stay in history")

	v3, err := e.svc.LoadModelVersion(ctx, 3)
	require.NoError(t, err)
	assert.Contains(t, v3.State.Tags, "mecha", "intervening versions stay readable")

	// replaying the first rating from an empty state gives version 1
	replayed := e.taste.Replay(models.NewTasteState(), e.svc.History()[:1])
	assert.JSONEq(t, stateJSON(t, v1.State), stateJSON(t, replayed))

	records, err := e.svc.Records(ctx, 0)
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, models.ActionRevert, last.Action)
	assert.Equal(t, "version:1", last.Subject)

	_, err = e.svc.Revert(ctx, 99, "")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRecommend_Exclusions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	for i := range 6 {
		_, err := e.svc.AddToPlan(ctx, PlanRequest{EntryID: fmt.Sprintf("drama-%d", i), Priority: 1})
		require.NoError(t, err)
	}
	_, err := e.svc.Skip(ctx, "mecha-0", "recommend")
	require.NoError(t, err)

	picks, err := e.svc.Recommend(ctx, 4, "home")
	require.NoError(t, err)
	require.Len(t, picks, 4)
	seen := map[string]bool{}
	for _, p := range picks {
		assert.False(t, strings.HasPrefix(p.Entry.ID, "drama-"), "planned entries are excluded")
		assert.NotEqual(t, "mecha-0", p.Entry.ID, "recently skipped entries are excluded")
		assert.False(t, seen[p.Entry.ID], "no repeats within one round")
		seen[p.Entry.ID] = true
	}

	records, err := e.svc.Records(ctx, 0)
	require.NoError(t, err)
	var recs int
	for _, r := range records {
		if r.Action == models.ActionRecommend {
			recs++
			assert.NotEmpty(t, r.Trace)
			assert.NotEmpty(t, r.Strategy)
			assert.Equal(t, "home", r.Context)
		}
	}
	assert.Equal(t, 4, recs)
}

func TestRecommend_ScheduleSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	_, err := e.svc.Rate(ctx, RateRequest{EntryID: "drama-0", Stars: 3})
	require.NoError(t, err)

	var calls []int
	var strategies []scoring.Strategy
	for range 10 {
		picks, err := e.svc.Recommend(ctx, 1, "cli")
		require.NoError(t, err)
		require.Len(t, picks, 1)
		calls = append(calls, picks[0].Call)
		strategies = append(strategies, picks[0].Strategy)
		e.reopen(t, DefaultConfig())
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, calls)
	for i, s := range strategies {
		if (i+1)%5 == 0 {
			assert.Equal(t, scoring.StrategySerendipity, s, "pick %d", i+1)
		} else {
			assert.NotEqual(t, scoring.StrategySerendipity, s, "pick %d", i+1)
		}
	}
	assert.Equal(t, 10, e.svc.Stats().Recommended)
}

// failingStore rejects commits while fail is set.
type failingStore struct {
	store.Store
	fail bool
}

func (f *failingStore) Commit(ctx context.Context, b store.Batch) ([]int64, error) {
	if f.fail {
		return nil, errors.New("disk full")
	}
	return f.Store.Commit(ctx, b)
}

func TestRecommend_FailedCommitKeepsSlot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	_, err := e.svc.Rate(ctx, RateRequest{EntryID: "drama-0", Stars: 3})
	require.NoError(t, err)
	picks, err := e.svc.Recommend(ctx, 4, "")
	require.NoError(t, err)
	require.Len(t, picks, 4)

	fs := &failingStore{Store: e.st, fail: true}
	e.svc.st = fs
	_, err = e.svc.Recommend(ctx, 1, "")
	require.Error(t, err)
	assert.Equal(t, 4, e.svc.Stats().Recommended, "an undelivered pick does not count")

	fs.fail = false
	picks, err = e.svc.Recommend(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, 5, picks[0].Call)
	assert.Equal(t, scoring.StrategySerendipity, picks[0].Strategy)
}

func TestSkip_CooldownAndRetirement(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RetireAfterSkips = 2
	e := newEnv(t, fixtureEntries(), cfg)

	rec, err := e.svc.Skip(ctx, "mecha-0", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)

	e.svc.mu.Lock()
	x := e.svc.exclusionsLocked()
	e.svc.mu.Unlock()
	assert.Equal(t, ReasonSkipped, x.Reason("mecha-0"))

	e.clock.Advance(31 * 24 * time.Hour)
	e.svc.mu.Lock()
	x = e.svc.exclusionsLocked()
	e.svc.mu.Unlock()
	assert.False(t, x.Has("mecha-0"), "cooldown expired")

	_, err = e.svc.Skip(ctx, "mecha-0", "")
	require.NoError(t, err)
	e.clock.Advance(31 * 24 * time.Hour)
	e.svc.mu.Lock()
	x = e.svc.exclusionsLocked()
	e.svc.mu.Unlock()
	assert.Equal(t, ReasonRetired, x.Reason("mecha-0"))

	_, err = e.svc.Skip(ctx, "missing", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecommend_NoCandidates(t *testing.T) {
	ctx := context.Background()
	// drama-0, mecha-0, drama-1
	entries := fixtureEntries()[:3]
	e := newEnv(t, entries, DefaultConfig())

	for _, id := range []string{"drama-0", "drama-1"} {
		_, err := e.svc.Rate(ctx, RateRequest{EntryID: id, Stars: 2})
		require.NoError(t, err)
	}

	picks, err := e.svc.Recommend(ctx, 3, "")
	require.NoError(t, err)
	require.Len(t, picks, 1, "exhaustion after the first draw shortens the list")
	assert.Equal(t, "mecha-0", picks[0].Entry.ID)

	_, err = e.svc.Rate(ctx, RateRequest{EntryID: "mecha-0", Stars: 2})
	require.NoError(t, err)
	_, err = e.svc.Recommend(ctx, 1, "")
	var none *scoring.NoCandidatesError
	require.True(t, errors.As(err, &none))
	assert.Equal(t, 3, none.CatalogSize)
	assert.Equal(t, 3, none.Excluded)
}

func TestWhy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	picks, err := e.svc.Recommend(ctx, 1, "")
	require.NoError(t, err)
	id := picks[0].Entry.ID

	_, err = e.svc.Rate(ctx, RateRequest{EntryID: id, Stars: 3, Provenance: models.ProvenanceRecommendation})
	require.NoError(t, err)

	why, err := e.svc.Why(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, picks[0].Score, why.Recommendation.Score)
	assert.Equal(t, picks[0].Trace, why.Recommendation.Trace)
	require.NotNil(t, why.Rating)
	assert.False(t, why.Undone)

	_, err = e.svc.Undo(ctx, 1, "")
	require.NoError(t, err)
	why, err = e.svc.Why(ctx, id)
	require.NoError(t, err)
	assert.True(t, why.Undone)

	_, err = e.svc.Why(ctx, "never-shown")
	assert.ErrorIs(t, err, ErrNoExplanation)
}

func TestPlanning_AddAndDefer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	first, err := e.svc.AddToPlan(ctx, PlanRequest{Title: "Mecha 3", Priority: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "mecha-3", first.EntryID)

	free, err := e.svc.AddToPlan(ctx, PlanRequest{Title: "Not In Catalog", Priority: 0.9})
	require.NoError(t, err)
	assert.Equal(t, "title:Not In Catalog", free.Key())

	again, err := e.svc.AddToPlan(ctx, PlanRequest{EntryID: "mecha-3", Priority: 0.5, Note: "friend said"})
	require.NoError(t, err)
	assert.Equal(t, first.AddedAt, again.AddedAt)

	list := e.svc.PlanningList()
	require.Len(t, list, 2)
	assert.Equal(t, free.Key(), list[0].Key(), "highest priority first")
	assert.Equal(t, "friend said", list[1].Note)

	deferred, err := e.svc.Defer(ctx, "mecha-3", "")
	require.NoError(t, err)
	assert.Equal(t, models.PlanDeferred, deferred.State)

	_, err = e.svc.Defer(ctx, "nothing", "")
	assert.ErrorIs(t, err, ErrNotPlanned)

	_, err = e.svc.AddToPlan(ctx, PlanRequest{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestImportWatchlist_EnrichesInBackground(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	rows, err := importer.Read(strings.NewReader("Title,Type,Notes,MAL_URL,AniList_URL\n" +
		"Drama 1,TV,,https://myanimelist.net/anime/1,https://anilist.co/anime/1\n" +
		"Unknown Show,TV,,FAILED_LOOKUP,FAILED_LOOKUP\n" +
		"Drama 1,TV,dup,,\n" +
		"Mecha 4,TV,,,\n"))
	require.NoError(t, err)

	report, err := e.svc.ImportWatchlist(ctx, rows, "import")
	require.NoError(t, err)
	assert.Len(t, report.Added, 3)
	assert.Equal(t, []string{"Unknown Show"}, report.Unresolved)
	assert.Equal(t, []string{"Drama 1"}, report.Duplicates)
	require.NotNil(t, report.Job)

	select {
	case <-report.Job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("enrichment job did not finish")
	}
	snap := report.Job.Snapshot()
	require.Equal(t, JobStatusCompleted, snap.Status, snap.Error)
	assert.Equal(t, 1, snap.Result.Enriched)
	assert.Equal(t, 1, snap.Result.Failed)

	planning := e.svc.Planning()
	drama := planning.Entries["drama-1"]
	assert.Equal(t, models.PlanEnriched, drama.State)
	require.NotNil(t, drama.Enrichment)
	assert.Equal(t, "https://anilist.co/anime/1", drama.Enrichment.URLs[importer.SourceAniList])

	unknown := planning.Entries["title:Unknown Show"]
	require.NotNil(t, unknown.Enrichment)
	assert.True(t, unknown.Enrichment.Failed)
	assert.Equal(t, models.PlanPending, unknown.State)

	assert.Nil(t, planning.Entries["mecha-4"].Enrichment, "rows without urls are not enriched")
}

func TestApplyEnrichment_VanishedEntry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	res, err := e.svc.ApplyEnrichment(ctx, []EnrichItem{{Key: "drama-5"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"drama-5"}, res.Missing)
	assert.Zero(t, ledgerLen(t, e.svc), "nothing applied, nothing recorded")
}

func TestOpen_AppliesDueDecay(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	_, err := e.svc.Rate(ctx, RateRequest{EntryID: "drama-0", Stars: 5, Confirmed: true})
	require.NoError(t, err)
	weight := e.svc.Model().State.Tags["drama"].Weight

	e.clock.Advance(95 * 24 * time.Hour)
	e.reopen(t, DefaultConfig())

	m := e.svc.Model()
	assert.Equal(t, int64(2), m.Version)
	assert.Less(t, m.State.Tags["drama"].Weight, weight)
	require.Len(t, e.svc.History(), 1, "rating log survives reopen")

	records, err := e.svc.Records(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ActionDecay, records[len(records)-1].Action)

	report, err := e.svc.Decay(ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed(), "second tick in the same month is a no-op")
	assert.Equal(t, int64(2), e.svc.Model().Version)
}

func TestExportAndStats(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, fixtureEntries(), DefaultConfig())

	_, err := e.svc.Rate(ctx, RateRequest{EntryID: "drama-0", Stars: 3})
	require.NoError(t, err)
	_, err = e.svc.Rate(ctx, RateRequest{EntryID: "mecha-0", Stars: 5})
	require.NoError(t, err)
	_, err = e.svc.AddToPlan(ctx, PlanRequest{EntryID: "mecha-1"})
	require.NoError(t, err)

	out, err := e.svc.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.svc.Session(), out.Session)
	assert.Len(t, out.Ratings, 1)
	assert.Len(t, out.Pending, 1)
	assert.Len(t, out.Planning, 1)
	assert.Len(t, out.Ledger, 3)

	stats := e.svc.Stats()
	assert.Equal(t, e.ix.Len(), stats.CatalogEntries)
	assert.Equal(t, int64(1), stats.ModelVersion)
	assert.Equal(t, 1, stats.Ratings)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Planned)
	require.NotNil(t, stats.Timings.Rate)
	assert.Equal(t, int64(2), stats.Timings.Rate.Count)
}
