// Nafsi — a persistent, stateful conversational presence.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nafsi",
	Short: "Nafsi — a conversational presence with durable mood, memory, and earned agency.",
	Long: `Nafsi is a stateful conversational agent. Every turn moves through an
affective engine, long-term memory retrieval, multi-perspective deliberation,
and a trust-gated agency layer — and everything it feels, remembers, and is
permitted to do survives restarts.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, talkCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
