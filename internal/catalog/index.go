// Package catalog builds read-only lookup structures over the anime catalog.
package catalog

import (
	"iter"
	"slices"
	"time"

	"github.com/raphaelgruber/watchwise/internal/models"
)

// Index is an immutable set of lookup tables over catalog entries.
// It is safe for concurrent readers once Build returned it.
type Index struct {
	entries   []models.CatalogEntry
	byID      map[string]int32 // canonical id and every source url
	byTitle   map[string]int32
	bySynonym map[string]int32
	byTag     map[string][]int32
	prereqs   map[int32][]int32
	builtAt   time.Time
}

func newIndex(sizeHint int) *Index {
	return &Index{
		entries:   make([]models.CatalogEntry, 0, sizeHint),
		byID:      make(map[string]int32, sizeHint),
		byTitle:   make(map[string]int32, sizeHint),
		bySynonym: make(map[string]int32, sizeHint),
		byTag:     make(map[string][]int32),
		prereqs:   make(map[int32][]int32),
	}
}

// add appends an entry. On key collisions the first entry keeps the key.
func (ix *Index) add(e models.CatalogEntry) {
	pos := int32(len(ix.entries))
	ix.entries = append(ix.entries, e)

	setOnce(ix.byID, e.ID, pos)
	for _, src := range e.Sources {
		setOnce(ix.byID, src, pos)
	}
	if key := Normalize(e.Title); key != "" {
		setOnce(ix.byTitle, key, pos)
	}
	for _, syn := range e.Synonyms {
		if key := Normalize(syn); key != "" {
			setOnce(ix.bySynonym, key, pos)
		}
	}
	for _, tag := range e.Tags {
		ix.byTag[tag] = append(ix.byTag[tag], pos)
	}
}

func setOnce(m map[string]int32, key string, pos int32) {
	if _, ok := m[key]; !ok {
		m[key] = pos
	}
}

// link resolves related references to canonical ids and derives the
// prerequisite map. It runs once after the last entry was added.
func (ix *Index) link() {
	for i := range ix.entries {
		e := &ix.entries[i]
		for j, rel := range e.Related {
			target, ok := ix.byID[rel.ID]
			if !ok {
				continue
			}
			e.Related[j].ID = ix.entries[target].ID
			switch rel.Kind {
			case models.RelationSequel:
				ix.addPrereq(target, int32(i))
			case models.RelationPrequel, models.RelationParentStory:
				ix.addPrereq(int32(i), target)
			}
		}
	}
}

func (ix *Index) addPrereq(entry, prereq int32) {
	if entry == prereq || slices.Contains(ix.prereqs[entry], prereq) {
		return
	}
	ix.prereqs[entry] = append(ix.prereqs[entry], prereq)
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// BuiltAt returns when the build finished.
func (ix *Index) BuiltAt() time.Time {
	return ix.builtAt
}

// Get returns the entry with the given id or source url.
func (ix *Index) Get(id string) (*models.CatalogEntry, bool) {
	pos, ok := ix.byID[id]
	if !ok {
		return nil, false
	}
	return &ix.entries[pos], true
}

// LookupByNormalizedTitle finds the entry whose canonical title normalizes to key.
func (ix *Index) LookupByNormalizedTitle(key string) (*models.CatalogEntry, bool) {
	pos, ok := ix.byTitle[key]
	if !ok {
		return nil, false
	}
	return &ix.entries[pos], true
}

// LookupBySynonym finds the entry with a synonym that normalizes to key.
func (ix *Index) LookupBySynonym(key string) (*models.CatalogEntry, bool) {
	pos, ok := ix.bySynonym[key]
	if !ok {
		return nil, false
	}
	return &ix.entries[pos], true
}

// EntriesByTag lazily yields entries carrying tag.
func (ix *Index) EntriesByTag(tag string) iter.Seq[*models.CatalogEntry] {
	positions := ix.byTag[NormalizeTag(tag)]
	return func(yield func(*models.CatalogEntry) bool) {
		for _, pos := range positions {
			if !yield(&ix.entries[pos]) {
				return
			}
		}
	}
}

// EntriesMeetingCriteria lazily yields entries for which pred returns true.
func (ix *Index) EntriesMeetingCriteria(pred func(*models.CatalogEntry) bool) iter.Seq[*models.CatalogEntry] {
	return func(yield func(*models.CatalogEntry) bool) {
		for i := range ix.entries {
			e := &ix.entries[i]
			if pred(e) && !yield(e) {
				return
			}
		}
	}
}

// All yields every entry in source order.
func (ix *Index) All() iter.Seq[*models.CatalogEntry] {
	return ix.EntriesMeetingCriteria(func(*models.CatalogEntry) bool { return true })
}

// TitleKeys yields every normalized title and synonym key with its entry.
// Titles come first so callers scanning in order prefer canonical titles.
func (ix *Index) TitleKeys() iter.Seq2[string, *models.CatalogEntry] {
	return func(yield func(string, *models.CatalogEntry) bool) {
		for key, pos := range ix.byTitle {
			if !yield(key, &ix.entries[pos]) {
				return
			}
		}
		for key, pos := range ix.bySynonym {
			if _, dup := ix.byTitle[key]; dup {
				continue
			}
			if !yield(key, &ix.entries[pos]) {
				return
			}
		}
	}
}

// Prerequisites returns the entries id continues from.
func (ix *Index) Prerequisites(id string) []*models.CatalogEntry {
	pos, ok := ix.byID[id]
	if !ok {
		return nil
	}
	var out []*models.CatalogEntry
	for _, p := range ix.prereqs[pos] {
		out = append(out, &ix.entries[p])
	}
	return out
}

// TagCounts returns how many entries carry each tag.
func (ix *Index) TagCounts() map[string]int {
	counts := make(map[string]int, len(ix.byTag))
	for tag, positions := range ix.byTag {
		counts[tag] = len(positions)
	}
	return counts
}

// FromEntries indexes entries that were decoded elsewhere.
func FromEntries(entries []models.CatalogEntry) *Index {
	ix := newIndex(len(entries))
	for _, e := range entries {
		e.Tags = dedupe(e.Tags, NormalizeTag)
		e.Studios = dedupe(e.Studios, NormalizeTag)
		e.Related = slices.Clone(e.Related)
		ix.add(e)
	}
	ix.link()
	ix.builtAt = time.Now()
	return ix
}
