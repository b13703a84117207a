package main

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/zoobzio/calltrace"
)

var (
	configPath string
	envPrefix  string
	logLevel   string
	noColor    bool
	threshold  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "calltrace [command] (flags)",
	Short: "component call tracer",
	Long: `
Traces lifecycle and scheduling calls of UI-style components and reports
slow call trees and per-frame call totals.
`,
	SilenceUsage: true,
}

func init() {
	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(demoCmd, configCmd)

	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "", "YAML settings file (default: environment)")
	rootCmd.PersistentFlags().StringVar(
		&envPrefix, "env-prefix", "CALLTRACE", "prefix of settings environment variables")
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "diagnostic log level")
	rootCmd.PersistentFlags().BoolVar(
		&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().DurationVar(
		&threshold, "threshold", 0, "override the report threshold")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}

// resolveSettings loads settings from the config file or the environment and
// applies flag overrides.
func resolveSettings(cmd *cobra.Command) (calltrace.Settings, error) {
	var (
		s   calltrace.Settings
		err error
	)
	if configPath != "" {
		s, err = calltrace.LoadSettings(configPath)
	} else {
		s, err = calltrace.SettingsFromEnv(envPrefix)
	}
	if err != nil {
		return calltrace.Settings{}, err
	}
	if cmd.Flags().Changed("threshold") {
		if threshold < 0 {
			return calltrace.Settings{}, errors.Newf("threshold must be >= 0, got %s", threshold)
		}
		s.Threshold = threshold
	}
	return s, nil
}
