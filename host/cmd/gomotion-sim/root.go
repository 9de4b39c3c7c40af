package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gomotion/standalone"
	"gomotion/standalone/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gomotion-sim",
	Short: "Run G-code through the motion core on a simulated clock",
	Long: `gomotion-sim plans and executes G-code with the same planner, move queue,
step engine and heater controller the firmware runs, driven by a simulated
tick clock instead of a hardware timer.

Step, direction and heater changes can be recorded as a trace and decoded
later, or streamed to a serial port.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "machine config file, JSON or YAML (default: built-in cartesian)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
	})
}

// printError prints an error message to stderr
func printError(err error) {
	printErrorTo(os.Stderr, err)
}

func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// newLogger logs to stderr, at debug level with --verbose
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config or falls back to the built-in machine
func loadConfig(path string) (*standalone.MachineConfig, error) {
	if path == "" {
		cfg := config.DefaultCartesianConfig()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.LoadFile(path)
}
