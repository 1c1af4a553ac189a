// Package cmd implements the CLI commands for the HLS player.
package cmd

import (
	"fmt"

	"hls-engine/internal/platform/config"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "player",
	Short: "HLS client that remuxes live streams to fragmented MP4",
	Long: `player follows an HLS stream, master or media playlist, and writes
the converted fragmented MP4 to a file or stdout until the stream ends.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(func() { _ = config.Load() })

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); defaults to $LOG_LEVEL or info")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json); defaults to $LOG_FORMAT or text")
}

// stringFlag returns the flag value if it was set, else the environment value
// for key, else fallback.
func stringFlag(cmd *cobra.Command, name, key, fallback string) string {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return f.Value.String()
	}
	return config.GetEnv(key, fallback)
}
