// Package cmd implements the contestflow command line
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/contestflow/workflow"
)

var (
	rootCmd = &cobra.Command{
		Use:   "contestflow",
		Short: "Run file-system workflows as a dependency-ordered graph",
		Long: `contestflow reads a workflow file (YAML, JSON or HCL), infers the
dependencies between its steps from the paths they read and write, and runs
them level by level with retries, timeouts and failure propagation.`,
		SilenceUsage: true,
	}

	// Global flags
	logLevel  string
	logFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the slog logger from the global flags
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}

func commandLogger(cmd *cobra.Command) *workflow.SlogLogger {
	return workflow.NewSlogLogger(newLogger(logLevel, logFormat, cmd.ErrOrStderr()))
}
