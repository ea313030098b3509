package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ignacio-DiLeva/pagedb/src/app"
	"github.com/Ignacio-DiLeva/pagedb/src/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := cli.Init("pagedb")

	root.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print the records of the write-ahead log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Inspect(root.Options.ConfigPath, cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Run crash recovery and print the rebuilt record counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Recover(root.Options.ConfigPath, cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "demo",
		Short: "Run a checkpointing demo workload with metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Demo(cmd.Context(), root.Options.ConfigPath)
		},
	})

	root.MustExecute(ctx)
}
