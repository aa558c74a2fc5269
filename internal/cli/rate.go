package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/service"
)

var (
	rateID        string
	rateNote      string
	rateFrom      string
	rateYes       bool
	rateRecommend bool
)

var rateCmd = &cobra.Command{
	Use:   "rate <stars> [title]",
	Short: "Rate a title from 1 to 5 stars",
	Long: `Rate a title and update your taste model. The title is matched against
the catalog; pass --id to rate a catalog entry directly. Titles that cannot
be matched confidently are kept as free text and do not move the model.

High ratings wait for confirmation (see 'watchwise pending') unless --yes
is given or the title continues a series you already rated highly.

Examples:
  watchwise rate 4 "Mushishi"
  watchwise rate 5 --id https://myanimelist.net/anime/457 --yes
  watchwise rate 2 "Some Show" --from recommendation --note "too slow"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRate,
}

func init() {
	rateCmd.Flags().StringVar(&rateID, "id", "", "catalog entry id")
	rateCmd.Flags().StringVar(&rateNote, "note", "", "free-form note")
	rateCmd.Flags().StringVar(&rateFrom, "from", "search", "where the title came from (recommendation, search, planning)")
	rateCmd.Flags().BoolVarP(&rateYes, "yes", "y", false, "apply high ratings without confirmation")
	rateCmd.Flags().BoolVar(&rateRecommend, "recommend", false, "would recommend to others")
}

// provenance maps the --from flag to a rating provenance.
func provenance(from string) (models.Provenance, error) {
	switch strings.ToLower(from) {
	case "recommendation", "rec":
		return models.ProvenanceRecommendation, nil
	case "search", "manual", "":
		return models.ProvenanceManualSearch, nil
	case "planning", "plan":
		return models.ProvenancePlanning, nil
	}
	return "", fmt.Errorf("unknown --from %q (want recommendation, search or planning)", from)
}

func runRate(cmd *cobra.Command, args []string) error {
	stars, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("stars must be a number: %q", args[0])
	}
	title := strings.Join(args[1:], " ")
	if title == "" && rateID == "" {
		return fmt.Errorf("give a title or --id")
	}
	prov, err := provenance(rateFrom)
	if err != nil {
		return err
	}

	req := service.RateRequest{
		EntryID:    rateID,
		Title:      title,
		Stars:      stars,
		Provenance: prov,
		Note:       rateNote,
		Context:    uiContext,
		Confirmed:  rateYes,
	}
	if cmd.Flags().Changed("recommend") {
		req.WouldRecommend = &rateRecommend
	}

	res, err := svc.Rate(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	printRateResult(res)
	return nil
}

func printRateResult(res service.RateResult) {
	th := defaultTheme
	ev := res.Event
	if res.Pending != nil {
		fmt.Printf("%s %s %s\n", th.accentStyle().Render("Pending"), th.stars(ev.Stars), ev.Title)
		fmt.Printf("  %s\n", res.Pending.Reason)
		fmt.Println(th.hintStyle().Render(fmt.Sprintf("  Confirm with: watchwise pending confirm %s", res.Pending.ID)))
		return
	}
	fmt.Printf("%s %s %s\n", th.completedStyle().Render("Rated"), th.stars(ev.Stars), ev.Title)
	if !ev.Resolved() {
		fmt.Println(th.hintStyle().Render("  Not in the catalog, kept as free text. The model is unchanged."))
		return
	}
	fmt.Printf("  Model version: %d\n", res.Model.Version)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List high ratings waiting for confirmation",
	Long: `List pending high ratings. Confirm one to apply it to the model or
decline it to drop it.

Examples:
  watchwise pending
  watchwise pending confirm 3f2a...
  watchwise pending decline 3f2a...`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

var pendingConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Apply a pending rating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := svc.Confirm(cmd.Context(), args[0], uiContext)
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		printRateResult(res)
		return nil
	},
}

var pendingDeclineCmd = &cobra.Command{
	Use:   "decline <id>",
	Short: "Drop a pending rating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := svc.Decline(cmd.Context(), args[0], uiContext); err != nil {
			return fmt.Errorf("decline: %w", err)
		}
		fmt.Println("Declined.")
		return nil
	},
}

func init() {
	pendingCmd.AddCommand(pendingConfirmCmd, pendingDeclineCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	pending := svc.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending ratings.")
		return nil
	}
	th := defaultTheme
	for _, p := range pending {
		fmt.Printf("%s %s %s\n", th.hintStyle().Render(p.ID), th.stars(p.Event.Stars), p.Event.Title)
		fmt.Printf("  %s, %s\n", p.Reason, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
