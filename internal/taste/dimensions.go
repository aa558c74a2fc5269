package taste

import (
	"cmp"
	"slices"

	"github.com/raphaelgruber/watchwise/internal/catalog"
	"github.com/raphaelgruber/watchwise/internal/models"
)

// Definitions maps family -> dimension name -> defining tags.
type Definitions map[string]map[string][]string

// DefaultDefinitions covers the four families with tags from the offline
// database vocabulary.
func DefaultDefinitions() Definitions {
	return Definitions{
		models.FamilyNarrative: {
			"mystery":       {"mystery", "detective", "psychological", "thriller", "suspense"},
			"epic":          {"fantasy", "war", "military", "adventure", "politics"},
			"coming-of-age": {"coming of age", "school", "school life", "youth", "drama"},
			"episodic":      {"slice of life", "iyashikei", "episodic", "gag humor"},
			"ensemble":      {"ensemble cast", "team sports", "sports", "idols", "band"},
		},
		models.FamilyTone: {
			"dark":        {"tragedy", "gore", "horror", "dark fantasy", "psychological"},
			"comedic":     {"comedy", "parody", "gag humor", "slapstick"},
			"romantic":    {"romance", "love triangle", "shoujo", "josei"},
			"melancholic": {"drama", "tragedy", "melancholy", "loneliness"},
			"uplifting":   {"iyashikei", "sports", "music", "friendship"},
		},
		models.FamilyVisual: {
			"spectacle": {"action", "mecha", "martial arts", "super power", "space"},
			"cute":      {"cute girls doing cute things", "moe", "chibi", "kids"},
			"grounded":  {"historical", "seinen", "adult cast", "workplace"},
			"surreal":   {"avant garde", "surreal", "dementia", "experimental"},
		},
		models.FamilyPacing: {
			"fast":     {"action", "shounen", "tournament", "battle", "super power"},
			"slow":     {"slice of life", "iyashikei", "drama", "countryside"},
			"cerebral": {"psychological", "strategy game", "mind games", "detective"},
		},
	}
}

// Dimension is one named axis of a family with its defining tags.
type Dimension struct {
	Family string
	Name   string
	Tags   []string
}

// DimensionSet is a compiled, ordered view of Definitions.
type DimensionSet struct {
	dims  []Dimension
	byTag map[string][]int
}

// NewDimensionSet compiles defs in a stable family/name order.
func NewDimensionSet(defs Definitions) *DimensionSet {
	s := &DimensionSet{byTag: map[string][]int{}}
	for family, names := range defs {
		for name, tags := range names {
			clean := make([]string, 0, len(tags))
			for _, t := range tags {
				if t = catalog.NormalizeTag(t); t != "" && !slices.Contains(clean, t) {
					clean = append(clean, t)
				}
			}
			if len(clean) > 0 {
				s.dims = append(s.dims, Dimension{Family: family, Name: name, Tags: clean})
			}
		}
	}
	slices.SortFunc(s.dims, func(a, b Dimension) int {
		return cmp.Or(cmp.Compare(a.Family, b.Family), cmp.Compare(a.Name, b.Name))
	})
	for i, d := range s.dims {
		for _, t := range d.Tags {
			s.byTag[t] = append(s.byTag[t], i)
		}
	}
	return s
}

// Len returns the number of dimensions.
func (s *DimensionSet) Len() int { return len(s.dims) }

// At returns dimension i.
func (s *DimensionSet) At(i int) Dimension { return s.dims[i] }

// Match returns, per dimension, the share of its defining tags present in tags.
func (s *DimensionSet) Match(tags []string) []float64 {
	strength := make([]float64, len(s.dims))
	for _, t := range tags {
		for _, i := range s.byTag[t] {
			strength[i]++
		}
	}
	for i := range strength {
		if strength[i] > 0 {
			strength[i] /= float64(len(s.dims[i].Tags))
		}
	}
	return strength
}
