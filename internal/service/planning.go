package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/watchwise/internal/importer"
	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/store"
)

// ErrNotPlanned indicates a planning key that is not in the queue.
var ErrNotPlanned = errors.New("not in planning queue")

// PlanRequest adds a candidate to the planning queue.
type PlanRequest struct {
	EntryID  string
	Title    string
	Priority float64
	Note     string
	Context  string
}

// EnrichItem is the external data found for one planning entry.
type EnrichItem struct {
	Key    string
	URLs   map[string]string
	Scores map[string]float64
	Failed bool
}

// Enricher fetches enrichment data for a batch of planning entries. It runs
// outside the session lock and may be slow.
type Enricher func(ctx context.Context, entries []models.PlanningEntry) ([]EnrichItem, error)

// ImportReport summarizes a watch-list import.
type ImportReport struct {
	Added      []models.PlanningEntry
	Unresolved []string // titles kept as free text
	Duplicates []string
	Conflicts  []importer.Conflict
	Job        *Job // enrichment batch, nil when no row carried URLs
}

func (s *Service) resolvePlan(ctx context.Context, req PlanRequest) (models.PlanningEntry, bool, error) {
	entry := models.PlanningEntry{
		EntryID:  strings.TrimSpace(req.EntryID),
		Title:    strings.TrimSpace(req.Title),
		Priority: req.Priority,
		Note:     req.Note,
		State:    models.PlanPending,
		AddedAt:  s.now().UTC(),
	}
	if entry.EntryID == "" && entry.Title == "" {
		return entry, false, &models.ValidationError{Field: "entry_id", Reason: "entry id or title required"}
	}
	ix, err := s.index(ctx)
	if err != nil {
		return entry, false, err
	}
	if entry.EntryID == "" {
		m, err := s.matcher(ctx)
		if err != nil {
			return entry, false, err
		}
		if res := m.Resolve(entry.Title); res.Found() && !res.NeedsReview() {
			entry.EntryID = res.Entry.ID
		}
	}
	if entry.EntryID == "" {
		return entry, false, nil
	}
	ce, ok := ix.Get(entry.EntryID)
	if !ok {
		return entry, false, &models.ValidationError{Field: "entry_id", Reason: "unknown catalog entry " + entry.EntryID}
	}
	entry.EntryID = ce.ID
	entry.Title = ce.Title
	return entry, true, nil
}

func (s *Service) clonePlanning() models.PlanningQueue {
	return models.PlanningQueue{Entries: maps.Clone(s.planning.Entries)}
}

// PlanningList returns the queue ordered by priority, highest first.
func (s *Service) PlanningList() []models.PlanningEntry {
	s.mu.Lock()
	out := slices.Collect(maps.Values(s.planning.Entries))
	s.mu.Unlock()
	sortPlanning(out)
	return out
}

func sortPlanning(p []models.PlanningEntry) {
	slices.SortFunc(p, func(a, b models.PlanningEntry) int {
		return cmp.Or(
			cmp.Compare(b.Priority, a.Priority),
			a.AddedAt.Compare(b.AddedAt),
			strings.Compare(a.Key(), b.Key()),
		)
	})
}

// AddToPlan queues a candidate. Re-adding updates priority and note.
func (s *Service) AddToPlan(ctx context.Context, req PlanRequest) (models.PlanningEntry, error) {
	entry, _, err := s.resolvePlan(ctx, req)
	if err != nil {
		return models.PlanningEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clonePlanning()
	if old, ok := next.Entries[entry.Key()]; ok {
		entry.AddedAt = old.AddedAt
		entry.Enrichment = old.Enrichment
		if old.State == models.PlanEnriched {
			entry.State = old.State
		}
	}
	next.Entries[entry.Key()] = entry

	t := s.begin()
	if err := t.put(store.KeyPlanning, s.planning, next, ledger.Entry{
		Action:  models.ActionPlanAdd,
		Subject: entry.Key(),
		Reason:  fmt.Sprintf("priority %.2f", entry.Priority),
		Context: req.Context,
	}); err != nil {
		return models.PlanningEntry{}, err
	}
	if _, err := t.commit(ctx); err != nil {
		return models.PlanningEntry{}, err
	}
	s.planning = next
	return entry, nil
}

// Defer parks a planning entry.
func (s *Service) Defer(ctx context.Context, key, uiContext string) (models.PlanningEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.planning.Entries[key]
	if !ok {
		return models.PlanningEntry{}, fmt.Errorf("%w: %s", ErrNotPlanned, key)
	}
	entry.State = models.PlanDeferred
	next := s.clonePlanning()
	next.Entries[key] = entry

	t := s.begin()
	if err := t.put(store.KeyPlanning, s.planning, next, ledger.Entry{
		Action:  models.ActionPlanDefer,
		Subject: key,
		Reason:  "deferred by user",
		Context: uiContext,
	}); err != nil {
		return models.PlanningEntry{}, err
	}
	if _, err := t.commit(ctx); err != nil {
		return models.PlanningEntry{}, err
	}
	s.planning = next
	return entry, nil
}

// ApplyEnrichment attaches a batch of external data as one planning
// mutation. Items for keys no longer queued are reported, not applied.
func (s *Service) ApplyEnrichment(ctx context.Context, items []EnrichItem) (*EnrichResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now().UTC()
	next := s.clonePlanning()
	result := &EnrichResult{}
	for _, item := range items {
		entry, ok := next.Entries[item.Key]
		if !ok {
			result.Missing = append(result.Missing, item.Key)
			continue
		}
		entry.Enrichment = &models.Enrichment{
			URLs:       item.URLs,
			Scores:     item.Scores,
			Failed:     item.Failed,
			EnrichedAt: at,
		}
		if item.Failed {
			result.Failed++
		} else {
			result.Enriched++
			if entry.State == models.PlanPending {
				entry.State = models.PlanEnriched
			}
		}
		next.Entries[item.Key] = entry
	}
	if result.Enriched+result.Failed == 0 {
		return result, nil
	}

	t := s.begin()
	if err := t.put(store.KeyPlanning, s.planning, next, ledger.Entry{
		Action:  models.ActionEnrich,
		Subject: "planning",
		Reason:  fmt.Sprintf("%d enriched, %d failed", result.Enriched, result.Failed),
	}); err != nil {
		return nil, err
	}
	if _, err := t.commit(ctx); err != nil {
		return nil, err
	}
	s.planning = next
	s.metrics.RecordBatch(metrics.OpEnrich, time.Since(start), int64(len(items)))
	return result, nil
}

// EnrichAsync runs fetch for the given planning keys in the background and
// applies its result as one atomic mutation.
func (s *Service) EnrichAsync(ctx context.Context, name string, keys []string, fetch Enricher) (*Job, error) {
	s.mu.Lock()
	entries := make([]models.PlanningEntry, 0, len(keys))
	for _, k := range keys {
		e, ok := s.planning.Entries[k]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotPlanned, k)
		}
		entries = append(entries, e)
	}
	s.mu.Unlock()

	job := s.jobs.CreateJob(name, keys)
	s.jobs.Run(ctx, job, func(ctx context.Context, job *Job) (*EnrichResult, error) {
		items, err := fetch(ctx, entries)
		if err != nil {
			return nil, fmt.Errorf("fetch enrichment: %w", err)
		}
		s.jobs.UpdateProgress(job, len(items))
		return s.ApplyEnrichment(ctx, items)
	})
	return job, nil
}

// ImportWatchlist resolves rows into one planning mutation and schedules
// the URL columns as an enrichment batch.
func (s *Service) ImportWatchlist(ctx context.Context, rows []importer.Row, uiContext string) (ImportReport, error) {
	report := ImportReport{Conflicts: importer.Verify(rows)}
	byKey := map[string]importer.Row{}
	var added []models.PlanningEntry
	for _, row := range rows {
		entry, resolved, err := s.resolvePlan(ctx, PlanRequest{Title: row.Title, Note: row.Notes})
		if err != nil {
			return report, fmt.Errorf("line %d: %w", row.Line, err)
		}
		if !resolved {
			report.Unresolved = append(report.Unresolved, row.Title)
		}
		if _, dup := byKey[entry.Key()]; dup {
			report.Duplicates = append(report.Duplicates, row.Title)
			continue
		}
		byKey[entry.Key()] = row
		added = append(added, entry)
	}

	s.mu.Lock()
	next := s.clonePlanning()
	for _, e := range added {
		if _, exists := next.Entries[e.Key()]; exists {
			report.Duplicates = append(report.Duplicates, e.Title)
			delete(byKey, e.Key())
			continue
		}
		next.Entries[e.Key()] = e
		report.Added = append(report.Added, e)
	}
	if len(report.Added) == 0 {
		s.mu.Unlock()
		return report, nil
	}
	t := s.begin()
	err := t.put(store.KeyPlanning, s.planning, next, ledger.Entry{
		Action:  models.ActionPlanAdd,
		Subject: "import",
		Reason:  fmt.Sprintf("imported %d of %d rows", len(report.Added), len(rows)),
		Context: uiContext,
	})
	if err == nil {
		_, err = t.commit(ctx)
	}
	if err != nil {
		s.mu.Unlock()
		return report, err
	}
	s.planning = next
	s.mu.Unlock()

	var keys []string
	for _, e := range report.Added {
		if r := byKey[e.Key()]; len(r.URLs()) > 0 || r.Failed() {
			keys = append(keys, e.Key())
		}
	}
	if len(keys) == 0 {
		return report, nil
	}
	slices.Sort(keys)
	job, err := s.EnrichAsync(ctx, "import", keys, func(_ context.Context, entries []models.PlanningEntry) ([]EnrichItem, error) {
		items := make([]EnrichItem, 0, len(entries))
		for _, e := range entries {
			r := byKey[e.Key()]
			items = append(items, EnrichItem{Key: e.Key(), URLs: r.URLs(), Failed: r.Failed() && len(r.URLs()) == 0})
		}
		return items, nil
	})
	if err != nil {
		return report, err
	}
	report.Job = job
	return report, nil
}
