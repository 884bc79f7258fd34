package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hyperengineering/tether"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a backup file",
	Long: `Import a JSON backup document into the local store. Records merge
by id; records failing validation are skipped and counted.

Example:
  tether import backup.json`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}

	var doc tether.BackupDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse backup file: %w", err)
	}

	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	result, err := client.Import(&doc)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderSuccess("Import complete"))
	fmt.Fprintf(out, "  %s %d\n", renderLabel("total:"), result.Total)
	fmt.Fprintf(out, "  %s %d\n", renderLabel("imported:"), result.Imported)
	if result.Skipped > 0 {
		fmt.Fprintln(out, renderWarning(fmt.Sprintf("  skipped:  %d", result.Skipped)))
	}
	for _, msg := range result.Errors {
		fmt.Fprintln(out, renderMuted("  "+msg))
	}
	return nil
}
