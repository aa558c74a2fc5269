package cli

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/models"
)

var (
	historySince   int64
	historyAction  string
	historyVersion int64
	historyLimit   int
	undoReason     string
	revertReason   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit ledger",
	Long: `Show the audit ledger: every rating, recommendation and model change in
order. Records that were undone are marked. With --version, show that
stored version of the taste model instead.

Examples:
  watchwise history
  watchwise history --since 120 --action rate
  watchwise history --version 3`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var undoCmd = &cobra.Command{
	Use:   "undo [n]",
	Short: "Undo the last n changes",
	Long: `Undo the last n state-changing ledger records. Undo is itself recorded,
so it never erases history. Undoing a rating removes it from the model and
makes the title recommendable again.

Examples:
  watchwise undo
  watchwise undo 3 --reason "rated the wrong show"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUndo,
}

var revertCmd = &cobra.Command{
	Use:   "revert <version>",
	Short: "Restore an earlier taste model version",
	Long: `Restore a stored taste model version as a new version. Versions in
between are kept and can be reverted to later.

Examples:
  watchwise revert 4`,
	Args: cobra.ExactArgs(1),
	RunE: runRevert,
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply monthly decay that is due",
	Long: `Fade tag weights for each month since the last decay. Tags that fall
below the retest threshold are flagged and mixed into recommendations once
to check whether they still apply. Decay also runs when a session opens.`,
	Args: cobra.NoArgs,
	RunE: runDecay,
}

var whyCmd = &cobra.Command{
	Use:   "why <entry-id>",
	Short: "Explain a recommendation",
	Long: `Show why an entry was last recommended: the strategy, score and
scoring trace, plus what you did with it afterwards.

Examples:
  watchwise why https://myanimelist.net/anime/457`,
	Args: cobra.ExactArgs(1),
	RunE: runWhy,
}

func init() {
	historyCmd.Flags().Int64Var(&historySince, "since", 0, "only records after this sequence number")
	historyCmd.Flags().StringVar(&historyAction, "action", "", "only records with this action")
	historyCmd.Flags().Int64Var(&historyVersion, "version", 0, "show a stored taste model version")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 50, "show at most the last n records (0 for all)")
	undoCmd.Flags().StringVar(&undoReason, "reason", "", "reason recorded with the undo")
	revertCmd.Flags().StringVar(&revertReason, "reason", "", "reason recorded with the revert")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if historyVersion > 0 {
		m, err := svc.LoadModelVersion(ctx, historyVersion)
		if err != nil {
			return err
		}
		printModel(m)
		return nil
	}

	all, err := svc.Records(ctx, 0)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	undone := ledger.Compensated(all)
	var shown []models.LedgerRecord
	for _, r := range all {
		if r.Seq <= historySince {
			continue
		}
		if historyAction != "" && string(r.Action) != historyAction {
			continue
		}
		shown = append(shown, r)
	}
	if historyLimit > 0 && len(shown) > historyLimit {
		shown = shown[len(shown)-historyLimit:]
	}
	if len(shown) == 0 {
		fmt.Println("No records.")
		return nil
	}
	for _, r := range shown {
		printRecord(r, undone[r.Seq])
	}
	return nil
}

func printRecord(r models.LedgerRecord, undone bool) {
	th := defaultTheme
	head := fmt.Sprintf("%5d  %s  %-13s %s", r.Seq, r.Timestamp.Local().Format("2006-01-02 15:04"), r.Action, r.Subject)
	if undone {
		head += " " + th.errorStyle().Render("(undone)")
	}
	fmt.Println(head)
	var detail []string
	if r.Document != "" {
		detail = append(detail, fmt.Sprintf("%s v%d", r.Document, r.Version))
	}
	if r.Compensates > 0 {
		detail = append(detail, fmt.Sprintf("undoes #%d", r.Compensates))
	}
	if r.Reason != "" {
		detail = append(detail, r.Reason)
	}
	if r.Context != "" && r.Context != "cli" {
		detail = append(detail, "via "+r.Context)
	}
	if len(detail) > 0 {
		fmt.Println(th.hintStyle().Render("       " + strings.Join(detail, ", ")))
	}
}

func printModel(m models.TasteModel) {
	th := defaultTheme
	fmt.Println(th.titleStyle().Render(fmt.Sprintf("Taste model version %d", m.Version)))
	if !m.State.UpdatedAt.IsZero() {
		fmt.Printf("  Updated: %s\n", m.State.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	printSignals("Tags", m.State.Tags, 10)
	printSignals("Studios", m.State.Studios, 5)
	for _, fam := range slices.Sorted(maps.Keys(m.State.Dimensions)) {
		printSignals(fam, m.State.Dimensions[fam], 5)
	}
	printSignals("Avoided tags", m.State.AntiPatterns.Tags, 5)
	if len(m.State.Retest) > 0 {
		fmt.Printf("\n  Retest: %s\n", strings.Join(slices.Sorted(maps.Keys(m.State.Retest)), ", "))
	}
}

func printSignals(title string, signals map[string]models.Signal, top int) {
	if len(signals) == 0 {
		return
	}
	names := slices.Collect(maps.Keys(signals))
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(cmp.Compare(signals[b].Weight, signals[a].Weight), strings.Compare(a, b))
	})
	fmt.Printf("\n  %s:\n", title)
	for _, n := range names[:min(top, len(names))] {
		s := signals[n]
		fmt.Printf("    %-24s %.2f  (confidence %.2f, %d obs)\n", n, s.Weight, s.Confidence, s.Observations)
	}
}

func runUndo(cmd *cobra.Command, args []string) error {
	n := 1
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("n must be a positive number: %q", args[0])
		}
		n = v
	}
	records, err := svc.Undo(cmd.Context(), n, undoReason)
	if err != nil {
		return fmt.Errorf("undo: %w", err)
	}
	for _, r := range records {
		printRecord(r, false)
	}
	fmt.Printf("Undid %d change(s). Model version: %d\n", len(records), svc.Model().Version)
	return nil
}

func runRevert(cmd *cobra.Command, args []string) error {
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || v < 1 {
		return fmt.Errorf("version must be a positive number: %q", args[0])
	}
	m, err := svc.Revert(cmd.Context(), v, revertReason)
	if err != nil {
		return fmt.Errorf("revert: %w", err)
	}
	fmt.Printf("Restored version %d as version %d\n", v, m.Version)
	return nil
}

func runDecay(cmd *cobra.Command, args []string) error {
	report, err := svc.Decay(cmd.Context())
	if err != nil {
		return fmt.Errorf("decay: %w", err)
	}
	if !report.Changed() {
		fmt.Println("No decay due.")
		return nil
	}
	fmt.Printf("Applied %d month(s) of decay to %d tag(s)\n", report.Months, len(report.Decayed))
	if len(report.Flagged) > 0 {
		fmt.Printf("  Flagged for retest: %s\n", strings.Join(report.Flagged, ", "))
	}
	return nil
}

func runWhy(cmd *cobra.Command, args []string) error {
	ex, err := svc.Why(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	th := defaultTheme
	rec := ex.Recommendation
	fmt.Printf("Recommended %s as #%d\n", rec.Timestamp.Local().Format("2006-01-02 15:04"), rec.Seq)
	fmt.Printf("  %s score %.2f\n", th.accentStyle().Render(rec.Strategy), rec.Score)
	for _, line := range rec.Trace {
		fmt.Println(th.hintStyle().Render("    " + line))
	}
	switch {
	case ex.Rating != nil:
		status := ex.Rating.Reason
		if ex.Undone {
			status += " " + th.errorStyle().Render("(undone)")
		}
		fmt.Printf("  Then: %s\n", status)
	case ex.Skipped:
		fmt.Println("  Then: skipped")
	default:
		fmt.Println("  Not rated yet.")
	}
	return nil
}
