package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "wildscope",
	Short: "Wildlife detection for video clips",
	Long: `wildscope extracts frames from a video, sends them to a vision model
and reports the species it sees.

Run "wildscope serve" to start the HTTP API and MCP server, or
"wildscope analyze <video>" for a one-shot run against a local file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wildscope version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wildscope %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
