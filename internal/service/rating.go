package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/store"
)

// ErrUnknownPending indicates a confirmation id that is not pending.
var ErrUnknownPending = errors.New("no such pending rating")

// RateRequest is the presentation-side input for a rating.
type RateRequest struct {
	EntryID        string
	Title          string // free text when the entry id is unknown
	Stars          int
	Provenance     models.Provenance
	Note           string
	WouldRecommend *bool
	Context        string // originating UI context, kept on the ledger record
	Confirmed      bool   // skip the confirmation step
}

// RateResult reports what a rating did.
type RateResult struct {
	Event   models.RatingEvent
	Pending *models.PendingRating // set when the rating awaits confirmation
	Model   models.TasteModel
	Records []models.LedgerRecord
}

// Rate validates and applies a rating. High ratings wait for confirmation
// unless they continue a chain the user already rated highly.
func (s *Service) Rate(ctx context.Context, req RateRequest) (RateResult, error) {
	defer s.metrics.Time(metrics.OpRate)()

	ev, err := s.newEvent(ctx, req)
	if err != nil {
		return RateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.needsConfirmation(ev, req) {
		return s.holdLocked(ctx, ev, req.Context)
	}

	ev.ModelVersion = s.producedVersion()
	t := s.begin()
	next, err := s.stageRating(t, ev, req.Context, "")
	if err != nil {
		return RateResult{}, err
	}
	records, err := t.commit(ctx)
	if err != nil {
		return RateResult{}, err
	}
	s.state = next
	s.ratings = append(s.ratings, ev)
	s.logger.Info("rating applied", "entry", ev.EntryID, "stars", ev.Stars, "model_version", s.versions[store.KeyTaste])
	return RateResult{Event: ev, Model: s.modelLocked(), Records: records}, nil
}

// newEvent resolves the rated entry and validates the event before any
// state is touched.
func (s *Service) newEvent(ctx context.Context, req RateRequest) (models.RatingEvent, error) {
	ev := models.RatingEvent{
		ID:             uuid.NewString(),
		EntryID:        strings.TrimSpace(req.EntryID),
		Title:          strings.TrimSpace(req.Title),
		Stars:          req.Stars,
		Timestamp:      s.now().UTC(),
		Provenance:     cmp.Or(req.Provenance, models.ProvenanceManualSearch),
		Note:           req.Note,
		WouldRecommend: req.WouldRecommend,
	}
	if err := ev.Validate(); err != nil {
		return models.RatingEvent{}, err
	}

	ix, err := s.index(ctx)
	if err != nil {
		return models.RatingEvent{}, err
	}
	if ev.EntryID == "" {
		m, err := s.matcher(ctx)
		if err != nil {
			return models.RatingEvent{}, err
		}
		if res := m.Resolve(ev.Title); res.Found() && !res.NeedsReview() {
			ev.EntryID = res.Entry.ID
		}
	}
	if ev.EntryID != "" {
		entry, ok := ix.Get(ev.EntryID)
		if !ok {
			return models.RatingEvent{}, &models.ValidationError{Field: "entry_id", Reason: "unknown catalog entry " + ev.EntryID}
		}
		ev.EntryID = entry.ID
		ev.Title = entry.Title
		ev.Tags = slices.Clone(entry.Tags)
		ev.Studios = slices.Clone(entry.Studios)
	}
	return ev, nil
}

func (s *Service) needsConfirmation(ev models.RatingEvent, req RateRequest) bool {
	if req.Confirmed || s.cfg.ConfirmAtStars == 0 || ev.Stars < s.cfg.ConfirmAtStars {
		return false
	}
	return !s.validatedContinuation(ev)
}

// validatedContinuation reports whether ev continues entries that all have
// a high rating in the effective history.
func (s *Service) validatedContinuation(ev models.RatingEvent) bool {
	ix := s.holder.Current()
	if ix == nil || !ev.Resolved() {
		return false
	}
	prereqs := ix.Prerequisites(ev.EntryID)
	if len(prereqs) == 0 {
		return false
	}
	best := map[string]int{}
	for _, h := range s.historyLocked() {
		best[h.EntryID] = max(best[h.EntryID], h.Stars)
	}
	high := s.engine.Config().HighRating
	for _, p := range prereqs {
		if best[p.ID] < high {
			return false
		}
	}
	return true
}

// holdLocked parks ev in the pending set.
func (s *Service) holdLocked(ctx context.Context, ev models.RatingEvent, uiContext string) (RateResult, error) {
	p := models.PendingRating{
		ID:        ev.ID,
		Event:     ev,
		CreatedAt: ev.Timestamp,
		Reason:    fmt.Sprintf("%d stars needs confirmation", ev.Stars),
	}
	next := clonePending(s.pending)
	next.Ratings[p.ID] = p

	t := s.begin()
	if err := t.put(store.KeyPending, s.pending, next, ledger.Entry{
		Action:   models.ActionPending,
		Subject:  subjectOf(ev),
		RatingID: ev.ID,
		Reason:   p.Reason,
		Context:  uiContext,
	}); err != nil {
		return RateResult{}, err
	}
	records, err := t.commit(ctx)
	if err != nil {
		return RateResult{}, err
	}
	s.pending = next
	s.logger.Info("rating held for confirmation", "pending", p.ID, "entry", ev.EntryID, "stars", ev.Stars)
	return RateResult{Event: ev, Pending: &p, Model: s.modelLocked(), Records: records}, nil
}

// producedVersion is the taste version the next staged rating commits as.
func (s *Service) producedVersion() int64 {
	return s.versions[store.KeyTaste] + 1
}

// stageRating stages the rating line and the taste update, returning the
// state to publish after commit.
func (s *Service) stageRating(t *txn, ev models.RatingEvent, uiContext, reason string) (models.TasteState, error) {
	next := s.taste.ApplyRating(s.state, ev)
	if err := t.line(store.LogRatings, ev); err != nil {
		return models.TasteState{}, err
	}
	if reason == "" {
		reason = fmt.Sprintf("rated %d stars", ev.Stars)
	}
	if err := t.put(store.KeyTaste, s.state, next, ledger.Entry{
		Action:   models.ActionRate,
		Subject:  subjectOf(ev),
		RatingID: ev.ID,
		Reason:   reason,
		Context:  uiContext,
	}); err != nil {
		return models.TasteState{}, err
	}
	return next, nil
}

// Confirm applies a pending rating.
func (s *Service) Confirm(ctx context.Context, id, uiContext string) (RateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending.Ratings[id]
	if !ok {
		return RateResult{}, fmt.Errorf("%w: %s", ErrUnknownPending, id)
	}
	ev := p.Event
	ev.ModelVersion = s.producedVersion()

	nextPending := clonePending(s.pending)
	delete(nextPending.Ratings, id)

	t := s.begin()
	if err := t.put(store.KeyPending, s.pending, nextPending, ledger.Entry{
		Action:   models.ActionConfirm,
		Subject:  subjectOf(ev),
		RatingID: ev.ID,
		Reason:   "confirmed by user",
		Context:  uiContext,
	}); err != nil {
		return RateResult{}, err
	}
	next, err := s.stageRating(t, ev, uiContext, fmt.Sprintf("rated %d stars (confirmed)", ev.Stars))
	if err != nil {
		return RateResult{}, err
	}
	records, err := t.commit(ctx)
	if err != nil {
		return RateResult{}, err
	}
	s.pending = nextPending
	s.state = next
	s.ratings = append(s.ratings, ev)
	s.logger.Info("pending rating confirmed", "pending", id, "entry", ev.EntryID)
	return RateResult{Event: ev, Model: s.modelLocked(), Records: records}, nil
}

// Decline drops a pending rating without touching the model.
func (s *Service) Decline(ctx context.Context, id, uiContext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending.Ratings[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPending, id)
	}
	next := clonePending(s.pending)
	delete(next.Ratings, id)

	t := s.begin()
	if err := t.put(store.KeyPending, s.pending, next, ledger.Entry{
		Action:   models.ActionDecline,
		Subject:  subjectOf(p.Event),
		RatingID: id,
		Reason:   "declined by user",
		Context:  uiContext,
	}); err != nil {
		return err
	}
	if _, err := t.commit(ctx); err != nil {
		return err
	}
	s.pending = next
	return nil
}

func subjectOf(ev models.RatingEvent) string {
	if ev.EntryID != "" {
		return ev.EntryID
	}
	return "title:" + ev.Title
}

func clonePending(p models.PendingSet) models.PendingSet {
	out := models.PendingSet{Ratings: make(map[string]models.PendingRating, len(p.Ratings)+1)}
	for k, v := range p.Ratings {
		out.Ratings[k] = v
	}
	return out
}

func sortPending(p []models.PendingRating) {
	slices.SortFunc(p, func(a, b models.PendingRating) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
}
