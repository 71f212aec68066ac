// Command scanner is the NIFTY breakout scanner CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"nifty-breakout/internal/cli"
	"nifty-breakout/internal/logging"
)

func main() {
	// Replaced by the configured logger once config.toml is loaded
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true})

	if err := cli.Execute(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
