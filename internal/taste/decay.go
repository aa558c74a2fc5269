package taste

import (
	"math"
	"slices"
	"time"

	"github.com/raphaelgruber/watchwise/internal/models"
)

// DecayReport summarizes one decay tick.
type DecayReport struct {
	Months  int
	Decayed []string
	Flagged []string
}

// Changed reports whether the tick mutated the state.
func (r DecayReport) Changed() bool {
	return r.Months > 0
}

// elapsedMonths counts whole calendar months from since to now.
func elapsedMonths(since, now time.Time) int {
	if since.IsZero() {
		return 0
	}
	n := 0
	for !since.AddDate(0, n+1, 0).After(now) {
		n++
	}
	return n
}

// DecayDue reports whether at least one full month passed since the last tick.
func (m *Model) DecayDue(state models.TasteState, now time.Time) bool {
	return elapsedMonths(state.LastDecayAt, now) > 0
}

// ApplyDecay multiplies every tag weight by DecayFactor once per elapsed
// month in which the tag was not observed. The tick is keyed by the months
// elapsed since LastDecayAt, so repeating it within the same month is a no-op.
// Tags that cross below RetestThreshold are flagged for retesting.
func (m *Model) ApplyDecay(state models.TasteState, now time.Time) (models.TasteState, DecayReport) {
	now = now.UTC()
	months := elapsedMonths(state.LastDecayAt, now)
	if months == 0 {
		return state, DecayReport{}
	}

	base := state.LastDecayAt
	next := state.Clone()
	report := DecayReport{Months: months}

	for tag, sig := range next.Tags {
		silent := 0
		for k := 1; k <= months; k++ {
			if sig.LastObserved.Before(base.AddDate(0, k-1, 0)) {
				silent++
			}
		}
		if silent == 0 {
			continue
		}
		before := sig.Weight
		sig.Weight = clamp01(before * math.Pow(m.cfg.DecayFactor, float64(silent)))
		next.Tags[tag] = sig
		report.Decayed = append(report.Decayed, tag)

		if before >= m.cfg.RetestThreshold && sig.Weight < m.cfg.RetestThreshold {
			if _, flagged := next.Retest[tag]; !flagged {
				next.Retest[tag] = models.RetestFlag{FlaggedAt: now}
				report.Flagged = append(report.Flagged, tag)
			}
		}
	}
	slices.Sort(report.Decayed)
	slices.Sort(report.Flagged)

	next.LastDecayAt = base.AddDate(0, months, 0)
	next.UpdatedAt = now
	return next, report
}

// MarkRetestServed records that a recommendation carrying tag was shown.
func (m *Model) MarkRetestServed(state models.TasteState, tags []string, at time.Time) models.TasteState {
	next := state.Clone()
	at = at.UTC()
	for _, tag := range tags {
		flag, ok := next.Retest[tag]
		if !ok || flag.Served {
			continue
		}
		served := at
		flag.Served = true
		flag.ServedAt = &served
		next.Retest[tag] = flag
	}
	next.UpdatedAt = at
	return next
}
