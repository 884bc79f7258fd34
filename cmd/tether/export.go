package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all local data to a backup file",
	Long: `Export every record, plus any unmerged fallback data, as a single
JSON backup document.

Example:
  tether export -o backup.json
  tether export          # writes to stdout`,
	RunE: runExport,
}

var exportOutput string

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	doc, err := client.Export()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	out := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()

		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
		fmt.Fprintln(out, renderSuccess("Exported backup to "+exportOutput))
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
