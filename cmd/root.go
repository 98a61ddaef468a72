// Package cmd wires the nudgebot command line.
package cmd

import "github.com/spf13/cobra"

// Version is stamped via ldflags at release time.
var Version = "dev"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nudgebot",
		Short:         "Telegram task assistant backed by an LLM agent and a Notion board",
		Long:          "nudgebot runs a single-user Telegram assistant: chat messages drive an LLM agent over a Notion task board, and cron schedules deliver proactive check-ins and stale-task cleanup rounds.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
