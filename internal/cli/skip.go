package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var skipCmd = &cobra.Command{
	Use:   "skip <entry-id>",
	Short: "Pass on a recommendation",
	Long: `Pass on a recommended title. It cools down before it can be
recommended again and is retired after repeated skips. Skips do not change
the taste model.

Examples:
  watchwise skip https://myanimelist.net/anime/1`,
	Args: cobra.ExactArgs(1),
	RunE: runSkip,
}

func runSkip(cmd *cobra.Command, args []string) error {
	rec, err := svc.Skip(cmd.Context(), args[0], uiContext)
	if err != nil {
		return fmt.Errorf("skip: %w", err)
	}
	fmt.Printf("Skipped (%d time", rec.Count)
	if rec.Count != 1 {
		fmt.Print("s")
	}
	fmt.Println(")")
	return nil
}
