package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/importer"
	"github.com/raphaelgruber/watchwise/internal/service"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a watch list into the planning queue",
	Long: `Import a CSV watch list. The header must have a Title column; Type,
Notes, MAL URL and AniList URL are optional. Rows are matched against the
catalog and queued in one step. External URLs are attached in the
background afterwards.

Rows whose URL is shared with a differently titled row are reported as
conflicts.

Examples:
  watchwise import watchlist.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open watch list: %w", err)
	}
	rows, err := importer.Read(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read watch list: %w", err)
	}

	report, err := svc.ImportWatchlist(cmd.Context(), rows, uiContext)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	printImportReport(len(rows), report)

	if report.Job == nil {
		return nil
	}
	job := report.Job
	poll := func() progressState {
		snap := job.Snapshot()
		s := progressState{
			Status:  string(snap.Status),
			Current: snap.Progress,
			Total:   snap.Total,
			Unit:    "entries",
		}
		switch snap.Status {
		case service.JobStatusCompleted:
			s.Done = true
			s.Summary = enrichSummary(snap.Result)
		case service.JobStatusFailed:
			s.Done = true
			s.Err = fmt.Errorf("enrichment: %s", snap.Error)
		}
		return s
	}
	return runProgress(poll, "Enrichment finishes before watchwise exits.")
}

func printImportReport(rows int, r service.ImportReport) {
	th := defaultTheme
	fmt.Printf("Queued %d of %d rows\n", len(r.Added), rows)
	if len(r.Unresolved) > 0 {
		fmt.Printf("  Kept as free text (%d): %s\n", len(r.Unresolved), strings.Join(r.Unresolved, "; "))
	}
	if len(r.Duplicates) > 0 {
		fmt.Printf("  Already queued (%d): %s\n", len(r.Duplicates), strings.Join(r.Duplicates, "; "))
	}
	for _, c := range r.Conflicts {
		fmt.Println(th.errorStyle().Render(fmt.Sprintf("  Conflict: %s", c.URL)))
		lines := make([]string, len(c.Lines))
		for i, l := range c.Lines {
			lines[i] = fmt.Sprint(l)
		}
		fmt.Printf("    titles: %s\n", strings.Join(c.Titles, "; "))
		fmt.Printf("    lines:  %s\n", strings.Join(lines, ", "))
	}
}

func enrichSummary(res *service.EnrichResult) string {
	if res == nil {
		return ""
	}
	s := fmt.Sprintf("  Enriched: %d\n  Failed lookups: %d\n", res.Enriched, res.Failed)
	if len(res.Missing) > 0 {
		s += fmt.Sprintf("  Removed before enrichment: %s\n", strings.Join(res.Missing, ", "))
	}
	return s
}
