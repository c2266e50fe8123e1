// Command forge is the CLI entry point for the agent shell: a terminal
// or web front-end driving C6's agent loop, grounded on the teacher's
// cmd/nexus/main.go (cobra root command, signal.NotifyContext-based
// graceful shutdown, slog default logger).
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/forgehq/forge/internal/forgeerr"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var cancelled *forgeerr.CancelledError
		if errors.As(err, &cancelled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "forge:", err)
		os.Exit(1)
	}
}
