package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export your taste model, queues and ledger",
	Long: `Export the current taste model, planning queue, pending ratings,
rating history and the full audit ledger for backup or inspection. Writes
to stdout when no path is given.

Examples:
  watchwise export
  watchwise export ./backup/watchwise.yaml
  watchwise export ./backup/watchwise.json --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "output format (yaml, json)")
}

func runExport(cmd *cobra.Command, args []string) error {
	dump, err := svc.Export(cmd.Context())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	// Field names follow the JSON tags in both formats.
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	switch exportFormat {
	case "json":
		data = append(data, '\n')
	case "yaml", "yml":
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		if data, err = yaml.Marshal(generic); err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", exportFormat)
	}

	var w io.Writer = os.Stdout
	if len(args) == 1 {
		path := args[0]
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if len(args) == 1 {
		fmt.Fprintf(os.Stderr, "Exported %d ledger records to %s\n", len(dump.Ledger), args[0])
	}
	return nil
}
