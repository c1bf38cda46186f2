package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state of every domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return unary(cmd, func(ctx context.Context, c *api.Client) (*structpb.Struct, error) {
			return c.GetStatus(ctx)
		}, printStatus)
	},
}

func printStatus(m map[string]any) {
	fmt.Printf("Profile: %s\n", str(m, "profile"))
	fmt.Printf("Uptime:  %s\n", (time.Duration(num(m, "uptime_ms")) * time.Millisecond).Round(time.Second))
	for _, d := range items(m, "domains") {
		fmt.Println()
		fmt.Printf("[%s]\n", str(d, "domain"))
		fmt.Printf("  State:    %s\n", str(d, "state"))
		fmt.Printf("  Viewer:   %s\n", str(d, "viewer"))
		fmt.Printf("  Chats:    %d\n", num(d, "chats"))
		fmt.Printf("  Messages: %d\n", num(d, "messages"))
		fmt.Printf("  Outbox:   %d pending\n", num(d, "outbox_pending"))
		if loading, _ := d["loading"].(bool); loading {
			fmt.Println("  Loading...")
		}
		if e := str(d, "error"); e != "" {
			fmt.Printf("  Error:    %s\n", e)
		}
	}
	if cache, ok := m["cache"].(map[string]any); ok {
		fmt.Println()
		fmt.Printf("Attachment cache: %d entries, %d hits, %d misses, %d batches, %d coalesced, %d timeouts\n",
			num(cache, "entries"), num(cache, "hits"), num(cache, "misses"),
			num(cache, "batches"), num(cache, "coalesced"), num(cache, "timeouts"))
	}
}
