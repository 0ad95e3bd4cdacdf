// Command soar-enginectl boots the SOAR execution engine and offers
// operator subcommands for playbook validation and SLA reporting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgDir  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "soar-enginectl",
		Short:   "SOAR execution engine",
		Long:    `soar-enginectl ingests security alerts, drives playbooks to completion, and serves the operator API.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&cfgDir, "config-dir", os.Getenv("CONFIG_DIR"), "directory containing a .env file (optional)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(slaReportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
