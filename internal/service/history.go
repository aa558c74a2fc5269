package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/store"
	"github.com/raphaelgruber/watchwise/internal/taste"
)

var (
	// ErrUnknownVersion indicates a taste version that was never saved.
	ErrUnknownVersion = errors.New("unknown model version")

	// ErrNoExplanation indicates an entry that was never recommended.
	ErrNoExplanation = errors.New("entry was never recommended")
)

// Decay applies any monthly decay that is due.
func (s *Service) Decay(ctx context.Context) (taste.DecayReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.taste.DecayDue(s.state, now) {
		return taste.DecayReport{}, nil
	}
	next, report := s.taste.ApplyDecay(s.state, now)

	reason := fmt.Sprintf("%d month(s) elapsed, %d tag(s) decayed", report.Months, len(report.Decayed))
	if len(report.Flagged) > 0 {
		reason += ", flagged for retest: " + strings.Join(report.Flagged, ", ")
	}
	t := s.begin()
	if err := t.put(store.KeyTaste, s.state, next, ledger.Entry{
		Action:  models.ActionDecay,
		Subject: store.KeyTaste,
		Reason:  reason,
	}); err != nil {
		return taste.DecayReport{}, err
	}
	if _, err := t.commit(ctx); err != nil {
		return taste.DecayReport{}, err
	}
	s.state = next
	s.logger.Info("taste decayed", "months", report.Months, "decayed", len(report.Decayed), "flagged", report.Flagged)
	return report, nil
}

// Undo reverts the last n state-changing ledger records.
func (s *Service) Undo(ctx context.Context, n int, reason string) ([]models.LedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.ledger.UndoLast(ctx, n, reason)
	if err != nil {
		return nil, err
	}
	targets := map[string]any{
		store.KeyTaste:    &s.state,
		store.KeyPlanning: &s.planning,
		store.KeySkips:    &s.skips,
		store.KeyPending:  &s.pending,
	}
	for key, doc := range res.Documents {
		dst, ok := targets[key]
		if !ok {
			continue
		}
		if err := s.reloadInto(key, doc, dst); err != nil {
			return nil, err
		}
	}
	s.normalizeDocuments()
	if err := s.refreshUndone(ctx); err != nil {
		return nil, err
	}
	return res.Records, nil
}

// reloadInto replaces a document in memory with its committed form.
func (s *Service) reloadInto(key string, doc store.Document, dst any) error {
	switch v := dst.(type) {
	case *models.TasteState:
		*v = models.TasteState{}
	case *models.PlanningQueue:
		*v = models.PlanningQueue{}
	case *models.SkipList:
		*v = models.SkipList{}
	case *models.PendingSet:
		*v = models.PendingSet{}
	}
	if err := json.Unmarshal(doc.Data, dst); err != nil {
		return fmt.Errorf("decode %s version %d: %w", key, doc.Version, err)
	}
	s.versions[key] = doc.Version
	return nil
}

// Revert restores taste version v as a new version. Intervening versions
// stay in the store.
func (s *Service) Revert(ctx context.Context, version int64, reason string) (models.TasteModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.st.LoadVersion(ctx, store.KeyTaste, version)
	if errors.Is(err, store.ErrNotFound) {
		return models.TasteModel{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if err != nil {
		return models.TasteModel{}, err
	}
	var target models.TasteState
	if err := json.Unmarshal(doc.Data, &target); err != nil {
		return models.TasteModel{}, fmt.Errorf("decode taste version %d: %w", version, err)
	}
	target.EnsureMaps()

	if reason == "" {
		reason = fmt.Sprintf("revert to version %d", version)
	}
	t := s.begin()
	if err := t.put(store.KeyTaste, s.state, target, ledger.Entry{
		Action:  models.ActionRevert,
		Subject: fmt.Sprintf("version:%d", version),
		Reason:  reason,
	}); err != nil {
		return models.TasteModel{}, err
	}
	if _, err := t.commit(ctx); err != nil {
		return models.TasteModel{}, err
	}
	s.state = target
	s.logger.Info("taste reverted", "to", version, "as", s.versions[store.KeyTaste])
	return s.modelLocked(), nil
}

// LoadModelVersion reads a stored taste version without changing anything.
func (s *Service) LoadModelVersion(ctx context.Context, version int64) (models.TasteModel, error) {
	doc, err := s.st.LoadVersion(ctx, store.KeyTaste, version)
	if errors.Is(err, store.ErrNotFound) {
		return models.TasteModel{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if err != nil {
		return models.TasteModel{}, err
	}
	var state models.TasteState
	if err := json.Unmarshal(doc.Data, &state); err != nil {
		return models.TasteModel{}, fmt.Errorf("decode taste version %d: %w", version, err)
	}
	state.EnsureMaps()
	return models.TasteModel{Version: doc.Version, State: state}, nil
}

// Records returns ledger records after sequence number since.
func (s *Service) Records(ctx context.Context, since int64) ([]models.LedgerRecord, error) {
	return s.ledger.Replay(ctx, since)
}

// Explanation ties a recommendation to what the user did with it.
type Explanation struct {
	Recommendation models.LedgerRecord
	Rating         *models.LedgerRecord // first rating after the recommendation
	Undone         bool                 // the rating was later undone
	Skipped        bool
}

// Why replays the ledger for the latest recommendation of entryID.
func (s *Service) Why(ctx context.Context, entryID string) (Explanation, error) {
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return Explanation{}, err
	}
	last := -1
	for i, r := range records {
		if r.Action == models.ActionRecommend && r.Subject == entryID {
			last = i
		}
	}
	if last < 0 {
		return Explanation{}, fmt.Errorf("%w: %s", ErrNoExplanation, entryID)
	}
	out := Explanation{Recommendation: records[last]}
	done := ledger.Compensated(records)
	for _, r := range records[last+1:] {
		if r.Subject != entryID {
			continue
		}
		switch r.Action {
		case models.ActionRate:
			if out.Rating == nil {
				rec := r
				out.Rating = &rec
				out.Undone = done[r.Seq]
			}
		case models.ActionSkip:
			out.Skipped = true
		}
	}
	return out, nil
}

// Export is a full dump of the user's state.
type Export struct {
	Session  string                 `json:"session"`
	Model    models.TasteModel      `json:"model"`
	Planning []models.PlanningEntry `json:"planning"`
	Pending  []models.PendingRating `json:"pending"`
	Ratings  []models.RatingEvent   `json:"ratings"`
	Ledger   []models.LedgerRecord  `json:"ledger"`
}

// Export collects the current model, queues and the full ledger.
func (s *Service) Export(ctx context.Context) (Export, error) {
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return Export{}, err
	}
	return Export{
		Session:  s.Session(),
		Model:    s.Model(),
		Planning: s.PlanningList(),
		Pending:  s.Pending(),
		Ratings:  s.History(),
		Ledger:   records,
	}, nil
}

// Stats summarizes the session.
type Stats struct {
	CatalogEntries int              `json:"catalog_entries"`
	ModelVersion   int64            `json:"model_version"`
	Ratings        int              `json:"ratings"`
	UndoneRatings  int              `json:"undone_ratings"`
	Tags           int              `json:"tags"`
	PendingRetest  []string         `json:"pending_retest,omitempty"`
	Planned        int              `json:"planned"`
	Pending        int              `json:"pending"`
	Skipped        int              `json:"skipped"`
	Recommended    int              `json:"recommended"`
	Timings        metrics.Snapshot `json:"timings"`
}

// Stats returns catalog and model statistics with operation timings.
func (s *Service) Stats() Stats {
	var st Stats
	if ix := s.holder.Current(); ix != nil {
		st.CatalogEntries = ix.Len()
	}
	s.mu.Lock()
	st.ModelVersion = s.versions[store.KeyTaste]
	st.Ratings = len(s.historyLocked())
	st.UndoneRatings = len(s.undone)
	st.Tags = len(s.state.Tags)
	st.PendingRetest = s.state.PendingRetest()
	st.Planned = len(s.planning.Entries)
	st.Pending = len(s.pending.Ratings)
	st.Skipped = len(s.skips.Entries)
	s.mu.Unlock()
	st.Recommended = s.engine.Calls()
	if s.metrics != nil {
		st.Timings = s.metrics.Snapshot()
	}
	return st
}
