package main

import (
	"fmt"

	"github.com/hyperengineering/tether"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <kind> <id>",
	Short: "Delete a local record",
	Long: `Delete a record from the local store. The deletion is remembered in
the tombstone ledger so it propagates to other devices on the next sync.

Example:
  tether delete journal 01J3ZH2B4R8N5C6X7V9W0K1M2P`,
	Args: cobra.ExactArgs(2),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	kind := tether.Kind(args[0])
	if !kind.IsValid() {
		return fmt.Errorf("unknown kind %q (expected one of: journal, skills, solutions, insights)", args[0])
	}
	id := args[1]

	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	if err := client.Delete(kind, id); err != nil {
		return fmt.Errorf("delete %s record: %w", kind, err)
	}

	fmt.Println(renderSuccess(fmt.Sprintf("Deleted %s record %s", kind, id)))
	return nil
}
