package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hyperengineering/tether"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List local records",
	Long: `List records of a kind from the local store. Defaults to journal
entries when no kind is given.

Example:
  tether list
  tether list skills
  tether list insights --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

var listJSON bool

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	kind := tether.KindJournal
	if len(args) == 1 {
		kind = tether.Kind(args[0])
		if !kind.IsValid() {
			return fmt.Errorf("unknown kind %q (expected one of: journal, skills, solutions, insights)", args[0])
		}
	}

	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	records, err := client.List(kind)
	if err != nil {
		return fmt.Errorf("list %s: %w", kind, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastModified > records[j].LastModified
	})

	out := cmd.OutOrStdout()

	if listJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, renderMuted(fmt.Sprintf("No %s records.", kind)))
		return nil
	}

	for _, rec := range records {
		modified := time.UnixMilli(rec.LastModified).Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%s  %s\n", renderLabel(rec.ID), renderMuted(modified))
		if summary := recordSummary(kind, rec); summary != "" {
			fmt.Fprintf(out, "    %s\n", summary)
		}
	}
	fmt.Fprintln(out, renderMuted(fmt.Sprintf("%d %s record(s)", len(records), kind)))
	return nil
}

// recordSummary picks the most readable payload field for terminal output.
func recordSummary(kind tether.Kind, rec tether.Record) string {
	for _, field := range []string{"content", "name", "title", "description"} {
		if v, ok := rec.Fields[field].(string); ok && v != "" {
			if len(v) > 100 {
				return v[:97] + "..."
			}
			return v
		}
	}
	return ""
}
