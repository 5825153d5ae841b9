// Package main is the entry point for the panopticon server.
package main

import (
	"log/slog"
	"os"

	"panopticon/cmd/panopticon/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
