package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/scoring"
	"github.com/raphaelgruber/watchwise/internal/store"
)

// Exclusion reasons shown in traces and stats.
const (
	ReasonPlanned  = "planned"
	ReasonSkipped  = "skipped recently"
	ReasonRetired  = "retired after repeated skips"
	ReasonPending  = "rating awaits confirmation"
	ReasonSessionN = "already shown this round"
)

// Recommend draws up to n recommendations. Each draw is recorded in the
// ledger; serving a decayed tag for retesting also updates the model. A
// *scoring.NoCandidatesError is returned only when the first draw finds
// nothing; later exhaustion shortens the list.
func (s *Service) Recommend(ctx context.Context, n int, uiContext string) ([]scoring.RankedCandidate, error) {
	if n <= 0 {
		n = 1
	}
	ix, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exclude := s.exclusionsLocked()
	history := s.historyLocked()
	var out []scoring.RankedCandidate
	for range n {
		pick, err := s.drawLocked(ctx, ix, history, exclude, uiContext)
		if err != nil {
			var none *scoring.NoCandidatesError
			if errors.As(err, &none) && len(out) > 0 {
				break
			}
			return out, err
		}
		exclude.Add(pick.Entry.ID, ReasonSessionN)
		out = append(out, pick)
	}
	return out, nil
}

func (s *Service) drawLocked(ctx context.Context, ix scoring.Catalog, history []models.RatingEvent, exclude *scoring.Exclusions, uiContext string) (scoring.RankedCandidate, error) {
	done := s.metrics.Time(metrics.OpRecommend)
	pick, err := s.engine.RecommendNext(s.modelLocked(), history, ix, exclude)
	done()
	if err != nil {
		return scoring.RankedCandidate{}, err
	}

	delivered := false
	defer func() {
		if !delivered {
			s.engine.Unwind(pick.Call)
		}
	}()

	t := s.begin()
	next := s.state
	if len(pick.Retested) > 0 {
		next = s.taste.MarkRetestServed(s.state, pick.Retested, s.now())
		if err := t.put(store.KeyTaste, s.state, next, ledger.Entry{
			Action:  models.ActionRetestServed,
			Subject: pick.Entry.ID,
			Reason:  "retesting " + strings.Join(pick.Retested, ", "),
			Context: uiContext,
		}); err != nil {
			return scoring.RankedCandidate{}, err
		}
	}
	if err := t.record(ledger.Entry{
		Action:   models.ActionRecommend,
		Subject:  pick.Entry.ID,
		Score:    pick.Score,
		Strategy: string(pick.Strategy),
		Trace:    pick.Trace,
		Reason:   fmt.Sprintf("call %d", pick.Call),
		Context:  uiContext,
	}); err != nil {
		return scoring.RankedCandidate{}, err
	}
	if _, err := t.commit(ctx); err != nil {
		return scoring.RankedCandidate{}, err
	}
	delivered = true
	s.state = next
	return pick, nil
}

// exclusionsLocked collects planned, pending, recently skipped and retired
// entries. Rated entries are excluded by the engine from the history.
func (s *Service) exclusionsLocked() *scoring.Exclusions {
	x := scoring.NewExclusions()
	for _, p := range s.planning.Entries {
		if p.EntryID != "" {
			x.Add(p.EntryID, ReasonPlanned)
		}
	}
	for _, p := range s.pending.Ratings {
		if p.Event.EntryID != "" {
			x.Add(p.Event.EntryID, ReasonPending)
		}
	}
	now := s.now()
	for id, rec := range s.skips.Entries {
		switch {
		case s.cfg.RetireAfterSkips > 0 && rec.Count >= s.cfg.RetireAfterSkips:
			x.Add(id, ReasonRetired)
		case now.Sub(rec.LastSkipped) < s.cfg.SkipCooldown:
			x.Add(id, ReasonSkipped)
		}
	}
	return x
}

// Skip records that the user passed on a recommendation.
func (s *Service) Skip(ctx context.Context, entryID, uiContext string) (models.SkipRecord, error) {
	ix, err := s.index(ctx)
	if err != nil {
		return models.SkipRecord{}, err
	}
	entry, ok := ix.Get(entryID)
	if !ok {
		return models.SkipRecord{}, &models.ValidationError{Field: "entry_id", Reason: "unknown catalog entry " + entryID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.SkipList{Entries: make(map[string]models.SkipRecord, len(s.skips.Entries)+1)}
	for k, v := range s.skips.Entries {
		next.Entries[k] = v
	}
	rec := next.Entries[entry.ID]
	rec.Count++
	rec.LastSkipped = s.now().UTC()
	next.Entries[entry.ID] = rec

	t := s.begin()
	if err := t.put(store.KeySkips, s.skips, next, ledger.Entry{
		Action:  models.ActionSkip,
		Subject: entry.ID,
		Reason:  fmt.Sprintf("skip %d", rec.Count),
		Context: uiContext,
	}); err != nil {
		return models.SkipRecord{}, err
	}
	if _, err := t.commit(ctx); err != nil {
		return models.SkipRecord{}, err
	}
	s.skips = next
	return rec, nil
}
