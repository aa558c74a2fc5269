package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// articles dropped from the start of a title segment.
var articles = map[string]bool{"the": true, "a": true, "an": true}

// Normalize turns a title into its lookup key: diacritics folded, lowercase,
// punctuation stripped, whitespace collapsed and at most one article dropped.
// The dropped article is the first one that opens a segment, where ':', a
// bracket or a dash separator starts a new segment. "Attack on Titan: The
// Final Season" becomes "attack on titan final season", "The Day: A Story"
// becomes "day a story" and "Lord of the Rings" keeps its "the".
func Normalize(title string) string {
	segments := segmentTokens(fold(title))

	var out []string
	dropped := false
	for _, seg := range segments {
		if !dropped && len(seg) > 1 && articles[seg[0]] {
			seg = seg[1:]
			dropped = true
		}
		out = append(out, seg...)
	}
	return strings.Join(out, " ")
}

// Tokens returns the distinct words of the normalized title, in order.
func Tokens(title string) []string {
	return uniqueFields(Normalize(title))
}

// NormalizeTag lowercases and trims a tag or studio name.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), " ")
}

func uniqueFields(s string) []string {
	fields := strings.Fields(s)
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func fold(s string) string {
	// The chain keeps state, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func isSegmentBreak(r rune) bool {
	switch r {
	case ':', ';', '|', '~', '–', '—', '(', ')', '[', ']':
		return true
	}
	return false
}

func segmentTokens(s string) [][]string {
	var (
		segments [][]string
		current  []string
		word     strings.Builder
	)
	flushWord := func() {
		if word.Len() > 0 {
			current = append(current, word.String())
			word.Reset()
		}
	}
	flushSegment := func() {
		flushWord()
		if len(current) > 0 {
			segments = append(segments, current)
			current = nil
		}
	}

	rs := []rune(s)
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		case r == '\'' || r == '’':
			// apostrophes join: "journey's" -> "journeys"
		case isSegmentBreak(r):
			flushSegment()
		case r == '-' && i > 0 && i < len(rs)-1 && unicode.IsSpace(rs[i-1]) && unicode.IsSpace(rs[i+1]):
			flushSegment()
		default:
			flushWord()
		}
	}
	flushSegment()
	return segments
}
