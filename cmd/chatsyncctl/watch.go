package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var watchDomainFlag string

func init() {
	watchCmd.Flags().StringVar(&watchDomainFlag, "domain", "", "only events of this domain")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace]",
	Short: "Stream daemon events (e.g. conn., store., outbox.)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace := ""
		if len(args) == 1 {
			namespace = args[0]
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = c.Watch(ctx, namespace, watchDomainFlag, func(evt *structpb.Struct) error {
			m := evt.AsMap()
			if jsonFlag {
				return outputJSON(m)
			}
			fmt.Printf("%s %-6s %s %v\n", str(m, "ts"), str(m, "domain"), str(m, "kind"), m["payload"])
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}
