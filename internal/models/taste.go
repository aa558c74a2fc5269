package models

import (
	"maps"
	"time"
)

// Dimension families of the taste model.
const (
	FamilyNarrative = "narrative"
	FamilyTone      = "emotional-tone"
	FamilyVisual    = "visual-style"
	FamilyPacing    = "pacing"
)

// Confidence categories that are not dimension families.
const (
	CategoryTags    = "tags"
	CategoryStudios = "studios"
)

// Signal is a learned weight together with how much evidence backs it.
// Weight and Confidence always stay in [0,1].
type Signal struct {
	Weight       float64   `json:"weight"`
	Confidence   float64   `json:"confidence"`
	LastObserved time.Time `json:"last_observed"`
	Observations int       `json:"observations"`
}

// AntiPatterns collects tags and studios the user reacted badly to.
type AntiPatterns struct {
	Tags       map[string]Signal `json:"tags"`
	Studios    map[string]Signal `json:"studios"`
	Confidence float64           `json:"confidence"`
}

// RetestFlag marks a tag whose weight decayed below the retest threshold.
// The tag only counts as excluded once a recommendation carrying it was served.
type RetestFlag struct {
	FlaggedAt time.Time  `json:"flagged_at"`
	Served    bool       `json:"served"`
	ServedAt  *time.Time `json:"served_at,omitempty"`
}

// TasteState is the content of one taste model version.
type TasteState struct {
	Dimensions   map[string]map[string]Signal `json:"dimensions"`
	Tags         map[string]Signal            `json:"tags"`
	Studios      map[string]Signal            `json:"studios"`
	Confidence   map[string]float64           `json:"confidence"`
	AntiPatterns AntiPatterns                 `json:"anti_patterns"`
	Retest       map[string]RetestFlag        `json:"retest"`
	UpdatedAt    time.Time                    `json:"updated_at"`
	LastDecayAt  time.Time                    `json:"last_decay_at"`
}

// TasteModel is a versioned snapshot of the user's preferences.
// Version 0 is the empty model that exists before anything was persisted.
type TasteModel struct {
	Version int64      `json:"version"`
	State   TasteState `json:"state"`
}

// NewTasteState returns an empty state with all maps allocated.
func NewTasteState() TasteState {
	var s TasteState
	s.EnsureMaps()
	return s
}

// EnsureMaps allocates any nil map so decoded states compare equal to fresh ones.
func (s *TasteState) EnsureMaps() {
	if s.Dimensions == nil {
		s.Dimensions = map[string]map[string]Signal{}
	}
	for fam, dims := range s.Dimensions {
		if dims == nil {
			s.Dimensions[fam] = map[string]Signal{}
		}
	}
	if s.Tags == nil {
		s.Tags = map[string]Signal{}
	}
	if s.Studios == nil {
		s.Studios = map[string]Signal{}
	}
	if s.Confidence == nil {
		s.Confidence = map[string]float64{}
	}
	if s.AntiPatterns.Tags == nil {
		s.AntiPatterns.Tags = map[string]Signal{}
	}
	if s.AntiPatterns.Studios == nil {
		s.AntiPatterns.Studios = map[string]Signal{}
	}
	if s.Retest == nil {
		s.Retest = map[string]RetestFlag{}
	}
}

// Clone returns a deep copy that can be mutated as a working copy.
func (s TasteState) Clone() TasteState {
	out := s
	out.Dimensions = make(map[string]map[string]Signal, len(s.Dimensions))
	for fam, dims := range s.Dimensions {
		out.Dimensions[fam] = maps.Clone(dims)
	}
	out.Tags = maps.Clone(s.Tags)
	out.Studios = maps.Clone(s.Studios)
	out.Confidence = maps.Clone(s.Confidence)
	out.AntiPatterns.Tags = maps.Clone(s.AntiPatterns.Tags)
	out.AntiPatterns.Studios = maps.Clone(s.AntiPatterns.Studios)
	out.Retest = make(map[string]RetestFlag, len(s.Retest))
	for tag, flag := range s.Retest {
		if flag.ServedAt != nil {
			at := *flag.ServedAt
			flag.ServedAt = &at
		}
		out.Retest[tag] = flag
	}
	out.EnsureMaps()
	return out
}

// PendingRetest returns tags flagged for retesting that have not been served yet.
func (s TasteState) PendingRetest() []string {
	var tags []string
	for tag, flag := range s.Retest {
		if !flag.Served {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ExcludedTag reports whether tag decayed, was retested, and stays below threshold.
func (s TasteState) ExcludedTag(tag string, threshold float64) bool {
	flag, ok := s.Retest[tag]
	if !ok || !flag.Served {
		return false
	}
	return s.Tags[tag].Weight < threshold
}
