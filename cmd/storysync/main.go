package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/telemetry"
	"github.com/storysync/storysync/internal/ui"
)

var (
	configPath  string
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// noConfigCommands run without loading storysync.yaml.
var noConfigCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
	"init":       true,
}

var rootCmd = &cobra.Command{
	Use:   "storysync",
	Short: "storysync - keep a local task ledger and Jira in step",
	Long: `Synchronizes a local task ledger with a Jira project and attributes
Git commits to tasks after the fact.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		ui.ConfigureColor()

		if noConfigCommands[cmd.Name()] {
			return nil
		}
		if err := config.InitializeFile(configPath); err != nil {
			return startupError{err: err, hint: "check --config or STORYSYNC_CONFIG"}
		}
		debug.Logf("config file: %q\n", config.ConfigFileUsed())

		if err := telemetry.Init(rootCtx, "storysync", Version); err != nil {
			// Telemetry never blocks a run.
			fmt.Fprintf(os.Stderr, "Warning: telemetry disabled: %v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .storysync/storysync.yaml, then $XDG_CONFIG_HOME/storysync/)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync & Data:"})
	rootCmd.AddGroup(&cobra.Group{ID: "views", Title: "Views & Reports:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

func main() {
	err := rootCmd.Execute()
	shutdown()
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// shutdown flushes telemetry and releases the signal handler. It runs after
// failed commands too, which PersistentPostRun would skip.
func shutdown() {
	if rootCtx != nil {
		telemetry.Shutdown(context.Background())
	}
	if rootCancel != nil {
		rootCancel()
	}
}

// commandContext returns the signal-aware context, or Background when a
// command runs without the root pre-run (tests).
func commandContext() context.Context {
	if rootCtx != nil {
		return rootCtx
	}
	return context.Background()
}

// startupError is a failure before any work ran: configuration, storage or
// client construction.
type startupError struct {
	err  error
	hint string
}

func (e startupError) Error() string { return e.err.Error() }
func (e startupError) Unwrap() error { return e.err }

func reportError(err error) {
	if jsonOutput {
		code := "error"
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			code = "config"
		}
		outputJSONError(err, code)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var se startupError
	if errors.As(err, &se) && se.hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", se.hint)
	}
}
