package matcher

import (
	"regexp"
	"strings"
)

// seasonMarkers strip sequel markers so "Mob Psycho 100 Season 2" can still
// land on "Mob Psycho 100".
var seasonMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s+season\s+\d+`),
	regexp.MustCompile(`(?i)\s+s\d+\b`),
	regexp.MustCompile(`(?i)\s+part\s+\d+`),
	regexp.MustCompile(`(?i)\s+\d+(st|nd|rd|th)\s+season`),
	regexp.MustCompile(`(?i):\s*the\s+final\b.*`),
	regexp.MustCompile(`(?i)\s+final\s+season`),
	regexp.MustCompile(`(?i):\s*beyond\s+.*`),
}

// expand returns the title with all season markers removed, or "" when
// nothing meaningful changed.
func expand(title string) string {
	base := title
	for _, re := range seasonMarkers {
		base = re.ReplaceAllString(base, "")
	}
	base = strings.TrimSpace(base)
	if base == strings.TrimSpace(title) || len(base) <= 3 {
		return ""
	}
	return base
}
