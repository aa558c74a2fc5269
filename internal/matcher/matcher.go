// Package matcher resolves free-text titles to catalog entries.
package matcher

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/raphaelgruber/watchwise/internal/catalog"
	"github.com/raphaelgruber/watchwise/internal/models"
)

// Kind names the stage that produced a match.
type Kind string

const (
	KindExactTitle   Kind = "exact-title"
	KindExactSynonym Kind = "exact-synonym"
	KindSubstring    Kind = "substring"
	KindWordOverlap  Kind = "word-overlap"
	KindNone         Kind = "none"
)

// Confidence assigned per stage. Substring and overlap matches scale these by
// how closely the strings agree.
const (
	confidenceTitle     = 1.0
	confidenceSynonym   = 0.95
	confidenceSubstring = 0.9
	confidenceOverlap   = 0.8
	expandedPenalty     = 0.9
)

// Result is the outcome of resolving one query.
type Result struct {
	Entry      *models.CatalogEntry
	Kind       Kind
	Confidence float64
	Key        string // normalized title or synonym that matched
	Expanded   bool   // matched only after stripping season markers

	reviewBelow float64
}

// Found reports whether the query resolved to an entry.
func (r Result) Found() bool {
	return r.Kind != KindNone && r.Entry != nil
}

// NeedsReview flags matches a human should double check.
func (r Result) NeedsReview() bool {
	return r.Found() && r.Confidence < r.reviewBelow
}

// Config tunes the fuzzy stages.
type Config struct {
	OverlapThreshold float64 `yaml:"overlap_threshold"`
	CandidateOverlap float64 `yaml:"candidate_overlap"`
	MinSubstringLen  int     `yaml:"min_substring_len"`
	ReviewThreshold  float64 `yaml:"review_threshold"`
	CacheSize        int     `yaml:"cache_size"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold: 0.8,
		CandidateOverlap: 0.5,
		MinSubstringLen:  3,
		ReviewThreshold:  0.7,
		CacheSize:        1024,
	}
}

type titleKey struct {
	key      string
	tokens   []string
	entry    *models.CatalogEntry
	titleLen int
	synonym  bool
}

// Matcher resolves queries against one index. Build a new Matcher when the
// index is swapped.
type Matcher struct {
	ix      *catalog.Index
	cfg     Config
	keys    []titleKey
	byToken map[string][]int32
	cache   *lru.Cache[string, Result]
	logger  *slog.Logger
}

// New prepares the token index for ix.
func New(ix *catalog.Index, cfg Config, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	cache, err := lru.New[string, Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create match cache: %w", err)
	}

	m := &Matcher{ix: ix, cfg: cfg, cache: cache, logger: logger, byToken: map[string][]int32{}}
	for key, e := range ix.TitleKeys() {
		_, isTitle := ix.LookupByNormalizedTitle(key)
		m.keys = append(m.keys, titleKey{
			key:      key,
			tokens:   strings.Fields(key),
			entry:    e,
			titleLen: utf8.RuneCountInString(catalog.Normalize(e.Title)),
			synonym:  !isTitle,
		})
	}
	slices.SortFunc(m.keys, func(a, b titleKey) int {
		if a.synonym != b.synonym {
			if a.synonym {
				return 1
			}
			return -1
		}
		return strings.Compare(a.key, b.key)
	})
	for i, k := range m.keys {
		for _, tok := range uniq(k.tokens) {
			m.byToken[tok] = append(m.byToken[tok], int32(i))
		}
	}
	logger.Debug("matcher ready", "keys", len(m.keys), "tokens", len(m.byToken))
	return m, nil
}

// Resolve runs the stages in priority order and stops at the first hit:
// exact title, exact synonym, substring, word overlap. When every stage
// misses, the query is retried once with season markers removed.
func (m *Matcher) Resolve(text string) Result {
	key := catalog.Normalize(text)
	if key == "" {
		return m.none()
	}
	if r, ok := m.cache.Get(key); ok {
		return r
	}

	r := m.resolveKey(key)
	if !r.Found() {
		if base := expand(text); base != "" {
			if bk := catalog.Normalize(base); bk != "" && bk != key {
				if er := m.resolveKey(bk); er.Found() {
					er.Confidence *= expandedPenalty
					er.Expanded = true
					r = er
				}
			}
		}
	}
	m.cache.Add(key, r)
	return r
}

func (m *Matcher) none() Result {
	return Result{Kind: KindNone, reviewBelow: m.cfg.ReviewThreshold}
}

func (m *Matcher) result(e *models.CatalogEntry, kind Kind, conf float64, key string) Result {
	return Result{Entry: e, Kind: kind, Confidence: conf, Key: key, reviewBelow: m.cfg.ReviewThreshold}
}

func (m *Matcher) resolveKey(key string) Result {
	if e, ok := m.ix.LookupByNormalizedTitle(key); ok {
		return m.result(e, KindExactTitle, confidenceTitle, key)
	}
	if e, ok := m.ix.LookupBySynonym(key); ok {
		return m.result(e, KindExactSynonym, confidenceSynonym, key)
	}
	if hits := m.substringHits(key); len(hits) > 0 {
		return hits[0]
	}
	if hits := m.overlapHits(key, m.cfg.OverlapThreshold); len(hits) > 0 {
		return hits[0]
	}
	return m.none()
}

// substringHits returns every containment match, best first.
func (m *Matcher) substringHits(key string) []Result {
	var hits []Result
	var ties []int
	for _, k := range m.keys {
		var shorter, longer int
		switch {
		case len(key) >= m.cfg.MinSubstringLen && strings.Contains(k.key, key):
			shorter, longer = len(key), len(k.key)
		case len(k.key) >= m.cfg.MinSubstringLen && strings.Contains(key, k.key):
			shorter, longer = len(k.key), len(key)
		default:
			continue
		}
		ratio := float64(shorter) / float64(longer)
		hits = append(hits, m.result(k.entry, KindSubstring, confidenceSubstring*ratio, k.key))
		ties = append(ties, k.titleLen)
	}
	return rank(hits, ties)
}

// overlapHits returns matches whose word overlap ratio |q ∩ t| / |q| reaches
// threshold, best first. Equal ratios prefer the shorter catalog title.
func (m *Matcher) overlapHits(key string, threshold float64) []Result {
	query := uniq(strings.Fields(key))
	if len(query) == 0 {
		return nil
	}

	shared := map[int32]int{}
	for _, tok := range query {
		for _, i := range m.byToken[tok] {
			shared[i]++
		}
	}

	var hits []Result
	var ties []int
	for i, n := range shared {
		ratio := float64(n) / float64(len(query))
		if ratio < threshold {
			continue
		}
		k := m.keys[i]
		r := m.result(k.entry, KindWordOverlap, confidenceOverlap*ratio, k.key)
		hits = append(hits, r)
		ties = append(ties, k.titleLen)
	}
	return rank(hits, ties)
}

// rank orders hits by confidence, then shorter title, then key for a stable result.
func rank(hits []Result, titleLens []int) []Result {
	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if c := cmp.Compare(hits[b].Confidence, hits[a].Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(titleLens[a], titleLens[b]); c != 0 {
			return c
		}
		return strings.Compare(hits[a].Key, hits[b].Key)
	})
	out := make([]Result, len(hits))
	for i, idx := range order {
		out[i] = hits[idx]
	}
	return out
}

// Candidates lists up to n distinct entries the query could mean, best first,
// for a human to pick from.
func (m *Matcher) Candidates(text string, n int) []Result {
	key := catalog.Normalize(text)
	if key == "" || n <= 0 {
		return nil
	}

	var all []Result
	if e, ok := m.ix.LookupByNormalizedTitle(key); ok {
		all = append(all, m.result(e, KindExactTitle, confidenceTitle, key))
	}
	if e, ok := m.ix.LookupBySynonym(key); ok {
		all = append(all, m.result(e, KindExactSynonym, confidenceSynonym, key))
	}
	all = append(all, m.substringHits(key)...)
	all = append(all, m.overlapHits(key, m.cfg.CandidateOverlap)...)

	slices.SortStableFunc(all, func(a, b Result) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	seen := map[string]bool{}
	var out []Result
	for _, r := range all {
		if seen[r.Entry.ID] {
			continue
		}
		seen[r.Entry.ID] = true
		out = append(out, r)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func uniq(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
