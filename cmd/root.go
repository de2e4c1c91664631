package cmd

import (
	"fmt"
	"os"

	"resonate/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "resonate",
	Short: "Resonate is an audio ingestion and streaming-preparation service.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
