package cmd

import "github.com/spf13/cobra"

var (
	rootCmd = &cobra.Command{
		Use:   "pulse",
		Short: "Real-time event delivery for the messaging backend",
		Long:  `Pulse pushes new-message events to connected clients over server-sent events, fanned out across processes through a durable pub/sub broker`,
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
