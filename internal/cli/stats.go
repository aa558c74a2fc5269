package cli

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/service"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog, model and timing statistics",
	Long: `Show catalog size, taste model statistics and how long this session's
operations took.

Examples:
  watchwise stats
  watchwise stats --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	// Catalog size and build timing are only known once the index is up.
	if _, err := holder.Wait(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: catalog unavailable: %v\n", err)
	}
	stats := svc.Stats()

	if statsJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	printStats(stats)
	return nil
}

func printStats(s service.Stats) {
	fmt.Printf("Session Statistics\n")
	fmt.Printf("═══════════════════════════════════════\n")
	fmt.Printf("Catalog entries:  %d\n", s.CatalogEntries)
	fmt.Printf("Model version:    %d\n", s.ModelVersion)
	fmt.Printf("Ratings:          %d (%d undone)\n", s.Ratings, s.UndoneRatings)
	fmt.Printf("Tags learned:     %d\n", s.Tags)
	if len(s.PendingRetest) > 0 {
		fmt.Printf("Awaiting retest:  %s\n", strings.Join(s.PendingRetest, ", "))
	}
	fmt.Printf("Planned:          %d\n", s.Planned)
	fmt.Printf("Pending:          %d\n", s.Pending)
	fmt.Printf("Skipped:          %d\n", s.Skipped)
	fmt.Printf("Recommended:      %d\n", s.Recommended)

	t := s.Timings
	fmt.Printf("\nTimings (this run, %.1fs)\n", t.UptimeSeconds)
	for _, op := range []struct {
		name string
		snap *metrics.OperationSnapshot
	}{
		{"Index build", t.IndexBuild},
		{"Match", t.Match},
		{"Recommend", t.Recommend},
		{"Rate", t.Rate},
		{"Store commit", t.StoreCommit},
		{"Enrich", t.Enrich},
	} {
		if op.snap == nil {
			continue
		}
		fmt.Printf("\n%s:\n", op.name)
		printOpStats(op.snap)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalItems != nil {
		fmt.Printf("  Items: %d total", *op.TotalItems)
		if op.AvgItems != nil {
			fmt.Printf(", avg %.0f", *op.AvgItems)
		}
		fmt.Println()
	}
}
