package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	rootCmd.AddCommand(refreshCmd, sendCmd)
	sendCmd.Flags().StringVar(&replyFlag, "reply-to", "", "id of the message being replied to")
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [domain]",
	Short: "Reload the chat list from the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := ""
		if len(args) == 1 {
			domain = args[0]
		}
		return unary(cmd, func(ctx context.Context, c *api.Client) (*structpb.Struct, error) {
			return c.Refresh(ctx, domain)
		}, func(m map[string]any) {
			for _, d := range items(m, "domains") {
				if e := str(d, "error"); e != "" {
					fmt.Printf("%s: %d chats (error: %s)\n", str(d, "domain"), num(d, "chats"), e)
					continue
				}
				fmt.Printf("%s: %d chats\n", str(d, "domain"), num(d, "chats"))
			}
		})
	},
}

var replyFlag string

var sendCmd = &cobra.Command{
	Use:   "send <domain> <conversation-id> <text>",
	Short: "Queue a message in the daemon's outbox",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return unary(cmd, func(ctx context.Context, c *api.Client) (*structpb.Struct, error) {
			return c.SendMessage(ctx, args[0], args[1], args[2], replyFlag)
		}, func(m map[string]any) {
			fmt.Printf("Queued %s\n", str(m, "client_id"))
		})
	},
}
