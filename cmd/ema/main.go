// Package main provides the CLI entry point for the Ema actor runtime.
//
// Basic usage:
//
//	ema chat --config ema.yaml
//
// Environment variables referenced by the config (API keys in
// particular) can also be supplied through a .env file in the working
// directory.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information. Populated at build-time with -ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Optional; deployments set the environment directly.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ema",
		Short:        "Stateful AI actor runtime",
		Long:         "Ema runs tool-using, memory-backed AI actors against OpenAI or Anthropic models.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildChatCmd(), buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ema %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
