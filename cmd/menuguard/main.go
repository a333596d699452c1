// Package main is the entry point for the menuguard binary.
// It serves the menu security API and runs its maintenance jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// globalOptions holds the flags shared by every command
type globalOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for menuguard
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "menuguard",
		Short: "Security middleware for the Zina Coffee menu",
		Long: `menuguard guards the administrative surface of the menu: it authenticates
administrators, enforces sliding-window rate limits, issues CSRF tokens,
sanitizes and validates menu items and keeps an audit trail.

Configuration is read from a YAML file and MENUGUARD_* environment variables.

Example:
  menuguard serve --config /etc/menuguard/config.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&opts.LogLevel, "log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", defaultLogFormat, "Log format (text, json)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newCleanupCmd(opts),
		newRestoreCmd(opts),
		newCSRFCmd(opts),
		newCheckCmd(opts),
		newHashPassphraseCmd(),
	)

	return rootCmd
}
