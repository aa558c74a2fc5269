package models

import "slices"

// MediaType classifies the format of a catalog entry.
type MediaType string

const (
	MediaSeries       MediaType = "series"
	MediaMovie        MediaType = "movie"
	MediaSpecial      MediaType = "special"
	MediaShortForm    MediaType = "short-form"
	MediaOngoingShort MediaType = "ongoing-short"
)

// Status is the airing state of a catalog entry.
type Status string

const (
	StatusFinished Status = "finished"
	StatusOngoing  Status = "ongoing"
	StatusUpcoming Status = "upcoming"
	StatusUnknown  Status = "unknown"
)

// RelationKind labels an edge between two catalog entries.
type RelationKind string

const (
	RelationSequel      RelationKind = "sequel"
	RelationPrequel     RelationKind = "prequel"
	RelationSideStory   RelationKind = "side-story"
	RelationParentStory RelationKind = "parent-story"
	RelationAlternative RelationKind = "alternative"
	RelationSummary     RelationKind = "summary"
	RelationRelated     RelationKind = "related" // source did not say
)

// RelatedRef points at another catalog entry by identifier.
type RelatedRef struct {
	ID   string       `json:"id"`
	Kind RelationKind `json:"kind"`
}

// Season is the release year and season of an entry.
type Season struct {
	Year   int    `json:"year,omitempty"`
	Season string `json:"season,omitempty"` // "spring", "summer", "fall", "winter"
}

// CatalogEntry is one immutable item of the catalog.
type CatalogEntry struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Synonyms []string     `json:"synonyms,omitempty"`
	Type     MediaType    `json:"type"`
	Status   Status       `json:"status"`
	Episodes int          `json:"episodes,omitempty"`
	Season   Season       `json:"season"`
	Score    float64      `json:"score,omitempty"` // aggregate score on a 0-10 scale
	Tags     []string     `json:"tags,omitempty"`
	Studios  []string     `json:"studios,omitempty"`
	Related  []RelatedRef `json:"related,omitempty"`
	Sources  []string     `json:"sources,omitempty"`
}

// HasTag reports whether the entry carries tag. Tags are stored lowercased.
func (e *CatalogEntry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}
