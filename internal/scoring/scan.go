package scoring

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/watchwise/internal/models"
)

type graphSource struct {
	title string
	stars int
	kind  models.RelationKind
}

// scored carries every intermediate value of one candidate.
type scored struct {
	entry *models.CatalogEntry

	vector      float64
	graphRaw    float64
	graphFactor float64
	graph       float64
	serendipity float64
	similarity  float64
	combined    float64

	eligible    bool
	coldTags    []string
	penaltyNote string
	prereqNote  string
	via         *graphSource
	dimHits     []dimHit
}

type dimHit struct {
	index        int
	contribution float64
}

// scan is the per-call view of model, history and catalog.
type scan struct {
	e       *Engine
	state   models.TasteState
	cat     Catalog
	exclude *Exclusions

	weights []float64
	conf    []float64

	rated         map[string]int
	seenTags      map[string]bool
	boosts        map[string]float64
	via           map[string]graphSource
	pendingRetest map[string]bool
	excludedTags  map[string]bool

	seen       int
	excluded   int
	bestRetest *scored
}

func (e *Engine) newScan(state models.TasteState, history []models.RatingEvent, cat Catalog, exclude *Exclusions) *scan {
	e.useCatalog(cat)
	s := &scan{
		e:             e,
		state:         state,
		cat:           cat,
		exclude:       exclude,
		rated:         map[string]int{},
		seenTags:      map[string]bool{},
		boosts:        map[string]float64{},
		via:           map[string]graphSource{},
		pendingRetest: map[string]bool{},
		excludedTags:  map[string]bool{},
	}
	for _, ev := range history {
		for _, tag := range ev.Tags {
			s.seenTags[tag] = true
		}
		if ev.Resolved() {
			s.rated[ev.EntryID] = ev.Stars
		}
	}
	for tag, flag := range state.Retest {
		switch {
		case !flag.Served:
			s.pendingRetest[tag] = true
		case state.ExcludedTag(tag, e.cfg.RetestThreshold):
			s.excludedTags[tag] = true
		}
	}
	s.deriveProfile(history)
	s.collectBoosts()
	return s
}

// deriveProfile blends the model's dimension weights with a recency weighted
// estimate from the rating history. Evidence older than RecentWindow counts
// at StaleEvidenceWeight.
func (s *scan) deriveProfile(history []models.RatingEvent) {
	n := s.e.dims.Len()
	num := make([]float64, n)
	den := make([]float64, n)
	now := s.e.now()
	for _, ev := range history {
		rw := 1.0
		if now.Sub(ev.Timestamp) > s.e.cfg.RecentWindow {
			rw = s.e.cfg.StaleEvidenceWeight
		}
		for i, m := range s.e.dims.Match(ev.Tags) {
			if m > 0 {
				num[i] += rw * m * ev.Norm()
				den[i] += rw * m
			}
		}
	}

	s.weights = make([]float64, n)
	s.conf = make([]float64, n)
	for i := range n {
		d := s.e.dims.At(i)
		sig := s.state.Dimensions[d.Family][d.Name]
		w := sig.Weight
		if den[i] > 0 {
			w = sig.Confidence*sig.Weight + (1-sig.Confidence)*(num[i]/den[i])
		}
		s.weights[i] = w
		s.conf[i] = sig.Confidence
	}
}

// collectBoosts spreads a noisy-or boost from every highly rated entry to
// its related entries.
func (s *scan) collectBoosts() {
	ids := make([]string, 0, len(s.rated))
	for id, stars := range s.rated {
		if stars >= s.e.cfg.HighRating {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	for _, id := range ids {
		src, ok := s.cat.Get(id)
		if !ok {
			continue
		}
		stars := s.rated[id]
		for _, rel := range src.Related {
			w := s.e.cfg.RelationWeights[rel.Kind] * float64(stars) / 5
			if w <= 0 {
				continue
			}
			s.boosts[rel.ID] = 1 - (1-s.boosts[rel.ID])*(1-w)
			best, seen := s.via[rel.ID]
			if !seen || w > s.e.cfg.RelationWeights[best.kind]*float64(best.stars)/5 {
				s.via[rel.ID] = graphSource{title: src.Title, stars: stars, kind: rel.Kind}
			}
		}
	}
}

// run scores every non-excluded entry and fills the buckets.
func (s *scan) run() buckets {
	var (
		b        buckets
		vector   []*scored
		graph    []*scored
		eligible int
	)
	n := s.e.cfg.TopN

	for entry := range s.cat.All() {
		s.seen++
		if _, rated := s.rated[entry.ID]; rated || s.exclude.Has(entry.ID) {
			s.excluded++
			continue
		}
		c := s.score(entry)
		if c.vector > 0 {
			vector = append(vector, c)
		}
		if c.graph > 0 {
			graph = append(graph, c)
		}
		if c.eligible {
			// reservoir sample keeps the serendipity bucket uniform
			eligible++
			if len(b.serendipity) < n {
				b.serendipity = append(b.serendipity, c)
			} else if j := s.e.rng.IntN(eligible); j < n {
				b.serendipity[j] = c
			}
		}
		if s.carriesPendingRetest(entry) && (s.bestRetest == nil ||
			cmp.Or(cmp.Compare(c.combined, s.bestRetest.combined), cmp.Compare(s.bestRetest.entry.ID, entry.ID)) > 0) {
			s.bestRetest = c
		}
	}

	b.vector = topN(vector, n, func(c *scored) float64 { return c.vector })
	b.graph = topN(graph, n, func(c *scored) float64 { return c.graph })
	return b
}

func (s *scan) carriesPendingRetest(entry *models.CatalogEntry) bool {
	if len(s.pendingRetest) == 0 {
		return false
	}
	for _, tag := range entry.Tags {
		if s.pendingRetest[tag] {
			return true
		}
	}
	return false
}

// score computes all strategy scores for one entry.
func (s *scan) score(entry *models.CatalogEntry) *scored {
	cfg := s.e.cfg
	c := &scored{entry: entry, graphFactor: 1}

	var num, den float64
	for i, m := range s.e.profile(entry) {
		if m == 0 {
			continue
		}
		contribution := m * s.weights[i] * s.conf[i]
		num += contribution
		den += m
		if contribution > 0 {
			c.dimHits = append(c.dimHits, dimHit{index: i, contribution: contribution})
		}
	}
	if den > 0 {
		c.similarity = num / den
	}

	penalty := s.penalty(c)

	c.graphRaw = s.boosts[entry.ID]
	if prereqs := s.cat.Prerequisites(entry.ID); len(prereqs) > 0 {
		c.graphFactor, c.prereqNote = s.prereqFactor(prereqs)
	}
	c.graph = c.graphRaw * c.graphFactor * penalty
	if via, ok := s.via[entry.ID]; ok {
		c.via = &via
	}

	c.vector = c.similarity * penalty

	for _, tag := range entry.Tags {
		if !s.seenTags[tag] && !s.excludedTags[tag] {
			c.coldTags = append(c.coldTags, tag)
		}
	}
	c.eligible = entry.Status == models.StatusFinished &&
		entry.Score > cfg.SerendipityMinScore &&
		c.similarity < cfg.SerendipityMaxSimilarity &&
		len(c.coldTags) > 0
	if c.eligible {
		c.serendipity = 1 - c.similarity
	}

	combined := cfg.VectorWeight*c.vector + cfg.GraphWeight*min(c.graph, 1) + cfg.SerendipityWeight*c.serendipity
	c.combined = max(0, min(combined, 1))
	return c
}

// penalty returns the multiplier for anti-patterns and retested tags that
// stayed below threshold.
func (s *scan) penalty(c *scored) float64 {
	anti := s.state.AntiPatterns
	worst, worstName := 0.0, ""
	for _, tag := range c.entry.Tags {
		if a, ok := anti.Tags[tag]; ok && a.Weight*a.Confidence > worst {
			worst, worstName = a.Weight*a.Confidence, tag
		}
	}
	for _, studio := range c.entry.Studios {
		if a, ok := anti.Studios[studio]; ok && a.Weight*a.Confidence > worst {
			worst, worstName = a.Weight*a.Confidence, studio
		}
	}
	factor := 1 - worst
	var notes []string
	if worst > 0 {
		notes = append(notes, fmt.Sprintf("toned down: you rated %q low before", worstName))
	}
	for _, tag := range c.entry.Tags {
		if s.excludedTags[tag] {
			factor *= s.e.cfg.ExcludedPenalty
			notes = append(notes, fmt.Sprintf("toned down: %q did not win you back on its retest", tag))
			break
		}
	}
	c.penaltyNote = strings.Join(notes, "; ")
	return factor
}

// prereqFactor validates a continuation: any prerequisite missing from the
// history multiplies the graph score by PrereqAbsentFactor, all of them rated
// highly by PrereqRatedFactor.
func (s *scan) prereqFactor(prereqs []*models.CatalogEntry) (float64, string) {
	allHigh := true
	for _, p := range prereqs {
		stars, ok := s.rated[p.ID]
		if !ok {
			return s.e.cfg.PrereqAbsentFactor, fmt.Sprintf("continues %q which is not in your history", p.Title)
		}
		if stars < s.e.cfg.HighRating {
			allHigh = false
		}
	}
	if allHigh {
		return s.e.cfg.PrereqRatedFactor, fmt.Sprintf("continues %q which you rated highly", prereqs[0].Title)
	}
	return 1, ""
}

// candidate turns a scored entry into the presented result.
func (s *scan) candidate(c *scored, strategy Strategy) RankedCandidate {
	out := RankedCandidate{
		Entry:    c.entry,
		Score:    c.combined,
		Strategy: strategy,
		Components: Components{
			Vector:      c.vector,
			Graph:       c.graph,
			Serendipity: c.serendipity,
		},
	}

	hits := slices.Clone(c.dimHits)
	slices.SortFunc(hits, func(a, b dimHit) int { return cmp.Compare(b.contribution, a.contribution) })
	for _, h := range hits[:min(2, len(hits))] {
		d := s.e.dims.At(h.index)
		out.Trace = append(out.Trace, fmt.Sprintf("matches your %s %s taste (weight %.2f, confidence %.2f)",
			d.Name, d.Family, s.weights[h.index], s.conf[h.index]))
	}
	if c.via != nil {
		out.Trace = append(out.Trace, fmt.Sprintf("%s of %q, which you rated %d★", c.via.kind, c.via.title, c.via.stars))
	}
	if c.prereqNote != "" {
		out.Trace = append(out.Trace, fmt.Sprintf("%s (graph score x%.1f)", c.prereqNote, c.graphFactor))
	}
	if c.eligible {
		out.Trace = append(out.Trace, fmt.Sprintf("well regarded (%.1f) and unlike your usual picks (similarity %.2f)", c.entry.Score, c.similarity))
		out.Trace = append(out.Trace, "new territory: "+strings.Join(c.coldTags[:min(3, len(c.coldTags))], ", "))
	}
	if c.penaltyNote != "" {
		out.Trace = append(out.Trace, c.penaltyNote)
	}
	return out
}
