package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/matcher"
	"github.com/raphaelgruber/watchwise/internal/models"
)

var matchCandidates int

var matchCmd = &cobra.Command{
	Use:   "match <title>",
	Short: "Resolve a free-text title against the catalog",
	Long: `Resolve a title the way ratings and imports do: exact title, exact
synonym, substring, then word overlap, retrying with season markers
stripped. Low-confidence matches are flagged for review.

Examples:
  watchwise match "Frieren"
  watchwise match "attack on titan season 2" --candidates 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().IntVarP(&matchCandidates, "candidates", "n", 0, "also list up to n ranked alternatives")
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.Join(args, " ")

	res, err := svc.Match(ctx, text)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if !res.Found() {
		fmt.Printf("No match for %q.\n", text)
	} else {
		printMatch(res)
	}

	if matchCandidates <= 0 {
		return nil
	}
	alts, err := svc.Candidates(ctx, text, matchCandidates)
	if err != nil {
		return fmt.Errorf("candidates: %w", err)
	}
	if len(alts) == 0 {
		return nil
	}
	fmt.Printf("\nCandidates (%d):\n", len(alts))
	for i, alt := range alts {
		fmt.Printf("%2d. %s  %s %.2f\n", i+1, entryLine(alt.Entry), alt.Kind, alt.Confidence)
	}
	return nil
}

func printMatch(res matcher.Result) {
	th := defaultTheme
	fmt.Println(th.titleStyle().Render(res.Entry.Title))
	fmt.Printf("  ID:         %s\n", res.Entry.ID)
	fmt.Printf("  Matched:    %s on %q", res.Kind, res.Key)
	if res.Expanded {
		fmt.Print(" (season markers stripped)")
	}
	fmt.Println()
	fmt.Printf("  Confidence: %.2f\n", res.Confidence)
	if res.NeedsReview() {
		fmt.Println(th.errorStyle().Render("  Low confidence, check the candidates before relying on it."))
	}
}

// entryLine is the one-line form of a catalog entry used across commands.
func entryLine(e *models.CatalogEntry) string {
	var meta []string
	if e.Type != "" {
		meta = append(meta, string(e.Type))
	}
	if e.Season.Year > 0 {
		meta = append(meta, fmt.Sprint(e.Season.Year))
	}
	if e.Score > 0 {
		meta = append(meta, fmt.Sprintf("%.1f", e.Score))
	}
	line := e.Title
	if len(meta) > 0 {
		line += " (" + strings.Join(meta, ", ") + ")"
	}
	return line + " " + defaultTheme.hintStyle().Render("["+e.ID+"]")
}
