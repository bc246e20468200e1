// Package cli implements the policyradar command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
)

var RootCmd = &cobra.Command{
	Use:   "policyradar",
	Short: "Research assistant for U.S. federal regulatory activity",
	Long: `Policyradar answers questions about federal rulemaking, legislation,
spending, and enforcement by searching official government data sources
and citing what it finds.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")

	RootCmd.AddCommand(askCmd)
	RootCmd.AddCommand(sessionsCmd)
	RootCmd.AddCommand(forgetCmd)
	RootCmd.AddCommand(sourcesCmd)
	RootCmd.AddCommand(versionCmd)
}
