package main

import (
	"context"
	"fmt"
	"os"
	"portal-notifier/internal/components/process"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portal-notifier",
	Short: "portal-notifier mirrors a school parent portal and pushes a notification for every flagged assignment.",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	rootCmd.Flags().String("config", "config.json5", "Path of the json5 settings file, <name>.local.<ext> is merged over it.")
	rootCmd.Flags().String("env-file", ".env", "Env file loaded into the environment if it exists.")
	rootCmd.Flags().Bool("now", false, "Run once immediately after the startup self-test.")
	rootCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging, same as DEBUG=true.")
	rootCmd.SilenceUsage = true
}

func main() {
	ctx := process.SignalContext(context.Background())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
