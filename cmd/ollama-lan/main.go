// Package main is the entry point for the ollama-lan binary.
package main

import (
	"os"

	"github.com/ollama-lan/ollama-lan/cmd/ollama-lan/cmd"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
