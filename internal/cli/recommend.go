package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/scoring"
)

var (
	recommendCount   int
	recommendExplain bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend what to watch next",
	Long: `Draw recommendations from the catalog using your taste model. Most
picks come from tag similarity, some follow sequels and prequels of titles
you liked, and every few calls a well-rated title outside your usual tags
is mixed in. Rated, skipped and cooling-down titles are excluded.

Examples:
  watchwise recommend
  watchwise recommend -n 5 --explain`,
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().IntVarP(&recommendCount, "count", "n", 1, "number of recommendations")
	recommendCmd.Flags().BoolVar(&recommendExplain, "explain", false, "show how each pick was scored")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	if recommendCount < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	picks, err := svc.Recommend(cmd.Context(), recommendCount, uiContext)
	var none *scoring.NoCandidatesError
	if errors.As(err, &none) && len(picks) == 0 {
		fmt.Println("Nothing left to recommend.")
		fmt.Println(defaultTheme.hintStyle().Render(none.Error()))
		return nil
	}
	if err != nil && len(picks) == 0 {
		return fmt.Errorf("recommend: %w", err)
	}

	for i, p := range picks {
		if i > 0 {
			fmt.Println()
		}
		printCandidate(p)
	}
	if err != nil {
		fmt.Println()
		fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("Stopped after %d: %v", len(picks), err)))
	}
	return nil
}

func printCandidate(p scoring.RankedCandidate) {
	th := defaultTheme
	fmt.Printf("%s %s\n", th.statusStyle().Render(fmt.Sprintf("#%d", p.Call)), entryLine(p.Entry))
	fmt.Printf("  %s score %.2f\n", th.accentStyle().Render(string(p.Strategy)), p.Score)
	if len(p.Entry.Tags) > 0 {
		fmt.Printf("  Tags: %s\n", strings.Join(p.Entry.Tags[:min(6, len(p.Entry.Tags))], ", "))
	}
	if len(p.Retested) > 0 {
		fmt.Printf("  Retests: %s\n", strings.Join(p.Retested, ", "))
	}
	if !recommendExplain {
		return
	}
	c := p.Components
	fmt.Printf("  Components: vector %.3f, graph %.3f, serendipity %.3f\n", c.Vector, c.Graph, c.Serendipity)
	for _, line := range p.Trace {
		fmt.Println(th.hintStyle().Render("    " + line))
	}
}
