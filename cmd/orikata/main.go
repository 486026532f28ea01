// orikata is the development and operations CLI: serve the HTTP API,
// validate graph definition files, and dry-run graph topologies.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "orikata",
	Short:        "Graph compilation and run execution engine",
	Version:      version,
	SilenceUsage: true,
}

func main() {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	rootCmd.AddCommand(serveCmd, validateCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "orikata: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}
