package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/service"
)

var (
	planID       string
	planPriority float64
	planNote     string
	planAll      bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage the planning queue",
	Long: `Manage titles you plan to watch. Without a subcommand the queue is
listed by priority.

Examples:
  watchwise plan
  watchwise plan add "Kaiba" --priority 0.8
  watchwise plan defer https://myanimelist.net/anime/5671`,
	Args: cobra.NoArgs,
	RunE: runPlanList,
}

var planAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Queue a title",
	Long: `Queue a title. Re-adding a queued title updates its priority and note.

Examples:
  watchwise plan add "Ping Pong the Animation" --priority 1
  watchwise plan add --id https://myanimelist.net/anime/22135`,
	RunE: runPlanAdd,
}

var planDeferCmd = &cobra.Command{
	Use:   "defer <key>",
	Short: "Park a queued title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := svc.Defer(cmd.Context(), args[0], uiContext)
		if err != nil {
			return fmt.Errorf("defer: %w", err)
		}
		fmt.Printf("Deferred %s\n", e.Title)
		return nil
	},
}

func init() {
	planAddCmd.Flags().StringVar(&planID, "id", "", "catalog entry id")
	planAddCmd.Flags().Float64VarP(&planPriority, "priority", "p", 0.5, "priority, higher first")
	planAddCmd.Flags().StringVar(&planNote, "note", "", "free-form note")
	planCmd.Flags().BoolVarP(&planAll, "all", "a", false, "include deferred titles")
	planCmd.AddCommand(planAddCmd, planDeferCmd)
}

func runPlanAdd(cmd *cobra.Command, args []string) error {
	title := strings.Join(args, " ")
	if title == "" && planID == "" {
		return fmt.Errorf("give a title or --id")
	}
	e, err := svc.AddToPlan(cmd.Context(), service.PlanRequest{
		EntryID:  planID,
		Title:    title,
		Priority: planPriority,
		Note:     planNote,
		Context:  uiContext,
	})
	if err != nil {
		return fmt.Errorf("plan add: %w", err)
	}
	fmt.Printf("%s %s\n", defaultTheme.completedStyle().Render("Queued"), e.Title)
	if e.EntryID == "" {
		fmt.Println(defaultTheme.hintStyle().Render("  Not matched to the catalog, kept as free text."))
	}
	return nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	th := defaultTheme
	shown := 0
	for _, e := range svc.PlanningList() {
		if e.State == models.PlanDeferred && !planAll {
			continue
		}
		shown++
		fmt.Printf("%5.2f  %s  %s\n", e.Priority, e.Title, th.hintStyle().Render(string(e.State)))
		fmt.Println(th.hintStyle().Render("       " + e.Key()))
		if e.Note != "" {
			fmt.Printf("       %s\n", e.Note)
		}
		if en := e.Enrichment; en != nil {
			for src, u := range en.URLs {
				fmt.Printf("       %s: %s\n", src, u)
			}
			if en.Failed {
				fmt.Println(th.errorStyle().Render("       external lookup failed"))
			}
		}
	}
	if shown == 0 {
		fmt.Println("Planning queue is empty.")
	}
	return nil
}
