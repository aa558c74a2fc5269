package models

import (
	"strings"
	"time"
)

// Provenance records where a rating was entered from.
type Provenance string

const (
	ProvenanceRecommendation Provenance = "recommendation"
	ProvenanceManualSearch   Provenance = "manual-search"
	ProvenancePlanning       Provenance = "planning-queue"
)

// RatingEvent is one explicit star rating. Events are append-only.
type RatingEvent struct {
	ID             string     `json:"id"`
	EntryID        string     `json:"entry_id,omitempty"`
	Title          string     `json:"title,omitempty"` // free text when unresolved
	Stars          int        `json:"stars"`
	Timestamp      time.Time  `json:"timestamp"`
	Provenance     Provenance `json:"provenance"`
	Tags           []string   `json:"tags,omitempty"`
	Studios        []string   `json:"studios,omitempty"`
	Note           string     `json:"note,omitempty"`
	WouldRecommend *bool      `json:"would_recommend,omitempty"`
	ModelVersion   int64      `json:"model_version"` // taste version the rating produced, 0 while pending
}

// Norm maps the star rating onto [0,1].
func (e RatingEvent) Norm() float64 {
	return float64(e.Stars) / 5
}

// Resolved reports whether the event points at a catalog entry.
func (e RatingEvent) Resolved() bool {
	return e.EntryID != ""
}

// Validate rejects malformed events before they reach any state.
func (e RatingEvent) Validate() error {
	if e.Stars < 1 || e.Stars > 5 {
		return &ValidationError{Field: "stars", Reason: "must be between 1 and 5"}
	}
	if strings.TrimSpace(e.EntryID) == "" && strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "entry_id", Reason: "entry id or title required"}
	}
	if strings.ContainsAny(e.EntryID, "\n\r\t") {
		return &ValidationError{Field: "entry_id", Reason: "malformed identifier"}
	}
	switch e.Provenance {
	case ProvenanceRecommendation, ProvenanceManualSearch, ProvenancePlanning:
	default:
		return &ValidationError{Field: "provenance", Reason: "unknown provenance " + string(e.Provenance)}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}
	return nil
}
