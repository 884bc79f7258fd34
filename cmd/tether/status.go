package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/tether"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local replica state",
	Long: `Display record counts per kind, tombstone count, schema version,
and the sync health of the local replica.`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Status()
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	out := cmd.OutOrStdout()

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintln(out, renderLabel("Records"))
	for _, kind := range tether.Kinds() {
		fmt.Fprintf(out, "  %-10s %d\n", kind, stats.Counts[kind])
	}
	fmt.Fprintf(out, "  %-10s %d\n", "tombstones", stats.Tombstones)

	fmt.Fprintln(out, renderLabel("Store"))
	fmt.Fprintf(out, "  schema version: %d\n", stats.SchemaVersion)
	if stats.Degraded {
		fmt.Fprintln(out, renderWarning("  running on fallback storage"))
	}

	fmt.Fprintln(out, renderLabel("Sync"))
	if stats.LastSync.IsZero() {
		fmt.Fprintln(out, renderMuted("  never synced"))
	} else {
		fmt.Fprintf(out, "  last sync: %s\n", stats.LastSync.Format(time.RFC3339))
	}
	if stats.ConsecutiveFailures > 0 {
		fmt.Fprintf(out, "  consecutive failures: %d\n", stats.ConsecutiveFailures)
	}
	if !stats.CooldownUntil.IsZero() && stats.CooldownUntil.After(time.Now()) {
		fmt.Fprintln(out, renderWarning(fmt.Sprintf("  paused until %s", stats.CooldownUntil.Format(time.RFC3339))))
	}

	return nil
}
