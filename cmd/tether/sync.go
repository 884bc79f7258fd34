package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the remote replica service",
	Long: `Run one sync cycle: pull remote changes, resolve conflicts by
last-write-wins, and push local changes and deletions.

Example:
  tether sync
  tether sync --remote-url https://replica.example.com --token $TETHER_TOKEN`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	result := client.SyncNow(cmd.Context())
	out := cmd.OutOrStdout()

	if result.OK {
		fmt.Fprintln(out, renderSuccess("Sync complete"))
		fmt.Fprintf(out, "  %s %d\n", renderLabel("applied remote:"), result.AppliedRemote)
		fmt.Fprintf(out, "  %s %d\n", renderLabel("pushed local:"), result.PushedLocal)
		if result.Retries > 0 {
			fmt.Fprintf(out, "  %s %d\n", renderLabel("retries:"), result.Retries)
		}
		return nil
	}

	if result.Paused {
		fmt.Fprintln(out, renderWarning(result.Message))
		if result.RetryAfter > 0 {
			fmt.Fprintf(out, "  %s %s\n", renderLabel("retry after:"), result.RetryAfter.Round(time.Second))
		}
		return nil
	}

	return fmt.Errorf("sync failed: %s", result.Message)
}
