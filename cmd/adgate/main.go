// AdGate — safety gateway for marketing-platform write operations.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "adgate",
	Short: "AdGate — MCP gateway for Google Ads and Search Console writes with a mandatory safety pipeline.",
	Long: `AdGate exposes marketing-platform write operations as MCP tools behind a
safety pipeline: every write is previewed as a dry run, confirmed with a
single-use token, snapshotted for rollback, and checked against per-caller
account authorization and budget-change caps.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, sealCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
