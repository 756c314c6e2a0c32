package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/skillbridge/liveroom/internal/ui"
	"github.com/skillbridge/liveroom/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "liveroom",
	Short: "Live session relay and terminal client for two-person mentoring rooms",
	Long: `liveroom coordinates live one-to-one sessions: it admits at most two
participants per room, relays connection setup between them, keeps a shared
whiteboard and chat, and enforces a fixed session length from a single clock.

Run "liveroom serve" for the relay and "liveroom join <room-id>" to take part
from a terminal.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
