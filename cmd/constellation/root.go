package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbitalworks/constellation/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "constellation",
	Short: "Device-fleet task-graph orchestrator",
	Long: `Constellation coordinates graphs of tasks across a fleet of devices.

A planning oracle decomposes a request into a dependency graph of tasks.
The server dispatches ready tasks to connected devices, re-evaluates the
graph as results arrive, and accepts live edits to the running graph.

Core capabilities:
- Plans task graphs from natural-language requests
- Dispatches tasks to devices by platform and feature requirements
- Applies oracle edits to a graph while it executes
- Retries tasks across device failures and disconnects
- Archives finished constellations for later inspection`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (overrides discovery)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration honoring the global --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// newLogger builds the process logger. The returned LevelVar allows the
// level to follow config reloads.
func newLogger(level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return slog.New(h), lv
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
