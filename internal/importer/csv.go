// Package importer reads watch-list exports into planning candidates.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// FailedLookup marks a URL column whose external lookup failed.
const FailedLookup = "FAILED_LOOKUP"

// URL sources carried by a watch list.
const (
	SourceMAL     = "mal"
	SourceAniList = "anilist"
)

// ErrMissingColumn indicates the header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Row is one watch-list line.
type Row struct {
	Line       int
	Title      string
	Type       string
	Notes      string
	MALURL     string
	AniListURL string
}

// URLs returns the usable external URLs keyed by source.
func (r Row) URLs() map[string]string {
	urls := map[string]string{}
	if usable(r.MALURL) {
		urls[SourceMAL] = r.MALURL
	}
	if usable(r.AniListURL) {
		urls[SourceAniList] = r.AniListURL
	}
	return urls
}

// Failed reports whether any external lookup was marked failed.
func (r Row) Failed() bool {
	return r.MALURL == FailedLookup || r.AniListURL == FailedLookup
}

func usable(u string) bool {
	return u != "" && u != FailedLookup
}

// Read parses a CSV with a header row. Columns are matched by name,
// case-insensitively; only Title is required. Blank titles are skipped.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: Title (empty file)", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := cols["title"]; !ok {
		return nil, fmt.Errorf("%w: Title", ErrMissingColumn)
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := Row{
			Line:       line,
			Title:      field(rec, "title"),
			Type:       field(rec, "type"),
			Notes:      field(rec, "notes"),
			MALURL:     field(rec, "mal_url"),
			AniListURL: field(rec, "anilist_url"),
		}
		if row.Title == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Conflict is one external URL claimed by more than one title.
type Conflict struct {
	URL    string
	Titles []string
	Lines  []int
}

// Verify reports URLs shared by rows with different titles, which usually
// means a lookup attached the wrong entry.
func Verify(rows []Row) []Conflict {
	type claim struct {
		titles []string
		lines  []int
	}
	claims := map[string]*claim{}
	var order []string
	for _, r := range rows {
		for _, u := range []string{r.MALURL, r.AniListURL} {
			if !usable(u) {
				continue
			}
			c, ok := claims[u]
			if !ok {
				c = &claim{}
				claims[u] = c
				order = append(order, u)
			}
			if !slices.Contains(c.titles, r.Title) {
				c.titles = append(c.titles, r.Title)
			}
			c.lines = append(c.lines, r.Line)
		}
	}
	var out []Conflict
	for _, u := range order {
		if c := claims[u]; len(c.titles) > 1 {
			out = append(out, Conflict{URL: u, Titles: c.titles, Lines: c.lines})
		}
	}
	return out
}
