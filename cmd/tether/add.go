package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/tether"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a journal entry",
	Long: `Add a journal entry to the local store.

Example:
  tether add "Shipped the retry logic today"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	rec := tether.Record{
		ID: ulid.Make().String(),
		Fields: map[string]any{
			"content":   strings.Join(args, " "),
			"timestamp": time.Now().UnixMilli(),
		},
	}

	if err := client.Put(tether.KindJournal, rec); err != nil {
		return fmt.Errorf("add entry: %w", err)
	}

	fmt.Println(renderSuccess("Added journal entry " + rec.ID))
	return nil
}
