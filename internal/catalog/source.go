package catalog

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/raphaelgruber/watchwise/internal/models"
)

// rawEntry mirrors one element of the offline database "data" array.
type rawEntry struct {
	ID           string       `json:"id"`
	Sources      []string     `json:"sources"`
	Title        string       `json:"title"`
	Type         string       `json:"type"`
	Episodes     int          `json:"episodes"`
	Status       string       `json:"status"`
	AnimeSeason  rawSeason    `json:"animeSeason"`
	Score        rawScore     `json:"score"`
	Synonyms     []string     `json:"synonyms"`
	RelatedAnime []rawRelated `json:"relatedAnime"`
	Tags         []string     `json:"tags"`
	Studios      []string     `json:"studios"`
}

type rawSeason struct {
	Season string `json:"season"`
	Year   int    `json:"year"`
}

// rawScore accepts a bare number or the {"arithmeticMean": ...} object.
type rawScore float64

func (s *rawScore) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ArithmeticMean          float64 `json:"arithmeticMean"`
			ArithmeticGeometricMean float64 `json:"arithmeticGeometricMean"`
			Median                  float64 `json:"median"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.ArithmeticMean > 0:
			*s = rawScore(obj.ArithmeticMean)
		case obj.ArithmeticGeometricMean > 0:
			*s = rawScore(obj.ArithmeticGeometricMean)
		default:
			*s = rawScore(obj.Median)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = rawScore(f)
	return nil
}

// rawRelated accepts a bare URL or an object carrying the relation kind.
type rawRelated struct {
	ID   string
	Kind string
}

func (r *rawRelated) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Relation string `json:"relation"`
		Kind     string `json:"kind"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	if r.ID == "" {
		r.ID = obj.URL
	}
	r.Kind = obj.Relation
	if r.Kind == "" {
		r.Kind = obj.Kind
	}
	return nil
}

// entryStream walks the entries of a catalog document one at a time.
type entryStream struct {
	dec       *json.Decoder
	wrapped   bool // entries live under a top-level "data" key
	inArray   bool
	exhausted bool
}

func newEntryStream(r io.Reader) (*entryStream, error) {
	s := &entryStream{dec: json.NewDecoder(r)}
	tok, err := s.dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: read start: %v", ErrMalformedSource, err)
	}
	switch tok {
	case json.Delim('['):
		s.inArray = true
		return s, nil
	case json.Delim('{'):
		s.wrapped = true
	default:
		return nil, fmt.Errorf("%w: unexpected token %v", ErrMalformedSource, tok)
	}

	for s.dec.More() {
		key, err := s.key()
		if err != nil {
			return nil, err
		}
		if key == "data" {
			tok, err := s.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
			}
			if tok != json.Delim('[') {
				return nil, fmt.Errorf("%w: \"data\" is not an array", ErrMalformedSource)
			}
			s.inArray = true
			return s, nil
		}
		if err := s.skipValue(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no \"data\" array", ErrMalformedSource)
}

func (s *entryStream) key() (string, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", ErrMalformedSource, tok)
	}
	return key, nil
}

func (s *entryStream) skipValue() error {
	var skip json.RawMessage
	if err := s.dec.Decode(&skip); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	return nil
}

// Next decodes the next entry into e. It returns false once the document
// has been read to the end and validated.
func (s *entryStream) Next(e *rawEntry) (bool, error) {
	if s.exhausted {
		return false, nil
	}
	if s.dec.More() {
		*e = rawEntry{}
		if err := s.dec.Decode(e); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		return true, nil
	}
	if err := s.finish(); err != nil {
		return false, err
	}
	s.exhausted = true
	return false, nil
}

// finish consumes the closing delimiters so a truncated document is caught
// even when the entries array itself was complete.
func (s *entryStream) finish() error {
	tok, err := s.dec.Token()
	if err != nil || tok != json.Delim(']') {
		return fmt.Errorf("%w: unterminated entries array", ErrMalformedSource)
	}
	if s.wrapped {
		for s.dec.More() {
			if _, err := s.key(); err != nil {
				return err
			}
			if err := s.skipValue(); err != nil {
				return err
			}
		}
		tok, err := s.dec.Token()
		if err != nil || tok != json.Delim('}') {
			return fmt.Errorf("%w: unterminated document", ErrMalformedSource)
		}
	}
	if _, err := s.dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after document", ErrMalformedSource)
	}
	return nil
}

// toEntry converts the wire shape into an immutable catalog entry.
func (r *rawEntry) toEntry() (models.CatalogEntry, error) {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return models.CatalogEntry{}, fmt.Errorf("%w: entry without title", ErrMalformedSource)
	}
	id := r.ID
	if id == "" && len(r.Sources) > 0 {
		id = r.Sources[0]
	}
	if id == "" {
		return models.CatalogEntry{}, fmt.Errorf("%w: entry %q has no id or source", ErrMalformedSource, title)
	}

	status := mapStatus(r.Status)
	e := models.CatalogEntry{
		ID:       id,
		Title:    title,
		Synonyms: dedupe(r.Synonyms, strings.TrimSpace),
		Type:     mapType(r.Type, status),
		Status:   status,
		Episodes: r.Episodes,
		Season: models.Season{
			Year:   r.AnimeSeason.Year,
			Season: strings.ToLower(r.AnimeSeason.Season),
		},
		Score:   float64(r.Score),
		Tags:    dedupe(r.Tags, NormalizeTag),
		Studios: dedupe(r.Studios, NormalizeTag),
		Sources: r.Sources,
	}
	if e.Season.Season == "undefined" {
		e.Season.Season = ""
	}
	for _, rel := range r.RelatedAnime {
		if rel.ID == "" {
			continue
		}
		e.Related = append(e.Related, models.RelatedRef{ID: rel.ID, Kind: mapRelation(rel.Kind)})
	}
	return e, nil
}

func mapType(t string, status models.Status) models.MediaType {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "TV", "SERIES":
		return models.MediaSeries
	case "MOVIE":
		return models.MediaMovie
	case "OVA", "SPECIAL":
		return models.MediaSpecial
	case "ONA", "SHORT-FORM":
		if status == models.StatusOngoing {
			return models.MediaOngoingShort
		}
		return models.MediaShortForm
	case "ONGOING-SHORT":
		return models.MediaOngoingShort
	default:
		return models.MediaSpecial
	}
}

func mapStatus(s string) models.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "finished":
		return models.StatusFinished
	case "ongoing", "currently":
		return models.StatusOngoing
	case "upcoming":
		return models.StatusUpcoming
	default:
		return models.StatusUnknown
	}
}

func mapRelation(kind string) models.RelationKind {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.ReplaceAll(k, "_", "-")
	k = strings.ReplaceAll(k, " ", "-")
	switch models.RelationKind(k) {
	case models.RelationSequel, models.RelationPrequel, models.RelationSideStory,
		models.RelationParentStory, models.RelationAlternative, models.RelationSummary:
		return models.RelationKind(k)
	default:
		return models.RelationRelated
	}
}

func dedupe(in []string, clean func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = clean(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
