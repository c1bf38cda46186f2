package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	domainFlag string
	limitFlag  int
	olderFlag  bool
)

func init() {
	chatsCmd.Flags().StringVar(&domainFlag, "domain", "", "direct or group (default: all)")
	messagesCmd.Flags().IntVar(&limitFlag, "limit", 50, "show at most the last N messages (0 = all)")
	messagesCmd.Flags().BoolVar(&olderFlag, "older", false, "load the next older history page first")
	rootCmd.AddCommand(chatsCmd, messagesCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats held by the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return unary(cmd, func(ctx context.Context, c *api.Client) (*structpb.Struct, error) {
			return c.ListChats(ctx, domainFlag)
		}, printChats)
	},
}

func printChats(m map[string]any) {
	chats := items(m, "chats")
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, c := range chats {
		line := fmt.Sprintf("%-6s %-24s %s", str(c, "kind"), str(c, "id"), str(c, "display_name"))
		if members, _ := c["members"].([]any); len(members) > 0 {
			line += fmt.Sprintf("  (%d members, admin %s)", len(members), str(c, "admin"))
		}
		fmt.Println(line)
	}
}

var messagesCmd = &cobra.Command{
	Use:   "messages <domain> <conversation-id>",
	Short: "Show the messages of a conversation as the viewer sees them",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, convID := args[0], args[1]
		return unary(cmd, func(ctx context.Context, c *api.Client) (*structpb.Struct, error) {
			if olderFlag {
				if _, err := c.LoadOlder(ctx, domain, convID); err != nil {
					return nil, err
				}
			}
			return c.ListMessages(ctx, domain, convID, limitFlag)
		}, printMessages)
	},
}

func printMessages(m map[string]any) {
	for _, msg := range items(m, "messages") {
		var flags []string
		if edited, _ := msg["is_edited"].(bool); edited {
			flags = append(flags, "edited")
		}
		if deleted, _ := msg["is_deleted"].(bool); deleted {
			flags = append(flags, "deleted")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ",") + "]"
		}
		fmt.Printf("%s %s: %s%s\n", str(msg, "send_time"), str(msg, "sender"), str(msg, "content"), suffix)
	}
}
