package models

import "time"

// PlanState is the lifecycle state of a planning entry.
type PlanState string

const (
	PlanPending  PlanState = "pending"
	PlanEnriched PlanState = "enriched"
	PlanDeferred PlanState = "deferred"
)

// Enrichment holds external ids and scores attached asynchronously.
type Enrichment struct {
	URLs       map[string]string  `json:"urls,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
	EnrichedAt time.Time          `json:"enriched_at"`
}

// PlanningEntry is a candidate the user wants to watch later.
type PlanningEntry struct {
	EntryID    string      `json:"entry_id,omitempty"`
	Title      string      `json:"title"`
	Priority   float64     `json:"priority"`
	State      PlanState   `json:"state"`
	Note       string      `json:"note,omitempty"`
	AddedAt    time.Time   `json:"added_at"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// Key identifies the entry inside the planning queue.
func (p PlanningEntry) Key() string {
	if p.EntryID != "" {
		return p.EntryID
	}
	return "title:" + p.Title
}

// PlanningQueue is the persisted planning document.
type PlanningQueue struct {
	Entries map[string]PlanningEntry `json:"entries"`
}

// SkipRecord tracks how often and when an entry was skipped.
type SkipRecord struct {
	Count       int       `json:"count"`
	LastSkipped time.Time `json:"last_skipped"`
}

// SkipList is the persisted skip document keyed by catalog id.
type SkipList struct {
	Entries map[string]SkipRecord `json:"entries"`
}

// PendingRating is a high rating waiting for the user's confirmation.
type PendingRating struct {
	ID        string      `json:"id"`
	Event     RatingEvent `json:"event"`
	CreatedAt time.Time   `json:"created_at"`
	Reason    string      `json:"reason"`
}

// PendingSet is the persisted set of unconfirmed ratings.
type PendingSet struct {
	Ratings map[string]PendingRating `json:"ratings"`
}
