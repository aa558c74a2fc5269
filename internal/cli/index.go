package cli

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

var indexTopTags int

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the catalog index and show its statistics",
	Long: `Stream the offline anime database into the in-memory index and report
what was indexed. Other commands build the index on their own; use this to
check a new catalog file.

Examples:
  watchwise index
  watchwise index --catalog ./anime-offline-database.json --top-tags 20`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().IntVar(&indexTopTags, "top-tags", 10, "number of most common tags to list")
}

func runIndex(cmd *cobra.Command, args []string) error {
	info, err := os.Stat(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("catalog source: %w", err)
	}
	size := info.Size()

	var read atomic.Int64
	start := time.Now()
	errc := buildCatalog(cmd.Context(), read.Store)

	var (
		buildErr error
		finished atomic.Bool
	)
	go func() {
		buildErr = <-errc
		finished.Store(true)
	}()

	poll := func() progressState {
		s := progressState{Status: "indexing", Current: int(read.Load() >> 10), Unit: "KiB"}
		if size > 0 {
			s.Fraction = float64(read.Load()) / float64(size)
		}
		if finished.Load() {
			s.Done, s.Err = true, buildErr
			if buildErr == nil {
				s.Summary = indexSummary(time.Since(start))
			}
		}
		return s
	}
	return runProgress(poll, "Index build abandoned.")
}

func indexSummary(took time.Duration) string {
	ix := holder.Current()
	if ix == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  Source:   %s\n", cfg.CatalogPath)
	fmt.Fprintf(&b, "  Entries:  %d\n", ix.Len())
	counts := ix.TagCounts()
	fmt.Fprintf(&b, "  Tags:     %d\n", len(counts))
	fmt.Fprintf(&b, "  Took:     %s\n", took.Round(time.Millisecond))

	type tagCount struct {
		tag string
		n   int
	}
	tags := make([]tagCount, 0, len(counts))
	for tag, n := range counts {
		tags = append(tags, tagCount{tag, n})
	}
	slices.SortFunc(tags, func(a, b tagCount) int {
		return cmp.Or(cmp.Compare(b.n, a.n), strings.Compare(a.tag, b.tag))
	})
	if len(tags) > 0 && indexTopTags > 0 {
		b.WriteString("\n  Most common tags:\n")
		for _, tc := range tags[:min(indexTopTags, len(tags))] {
			fmt.Fprintf(&b, "    %-28s %d\n", tc.tag, tc.n)
		}
	}
	return b.String()
}
