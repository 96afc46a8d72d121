// Package commands provides the CLI commands for iflow.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lxyhes/iflow-engine/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	printLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "iflow",
	Short: "iflow - streaming AI chat session client",
	Long: `iflow talks to an agent backend over a streaming chat protocol and
renders the conversation in your terminal.

Run 'iflow chat' to start an interactive session against a running
backend, or 'iflow serve-mock' to start a local mock backend for
development.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := logging.DefaultConfig()
		cfg.Level = logging.ParseLevel(logLevel)
		if !printLogs {
			cfg.Level = logging.FatalLevel
		}
		cfg.Pretty = true
		logging.Init(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("iflow %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveMockCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
