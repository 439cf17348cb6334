// Package cli holds the peerlink cobra commands.
package cli

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peerlink/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "peerlink",
	Long:          `peerlink is a peer to peer chat and file transfer application over WebRTC data channels`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "peerlink.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(NewTrackerCmd())
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Lookup("signal-url") != nil && flags.Changed("signal-url") {
		cfg.SignalURL, _ = flags.GetString("signal-url")
	}
	if flags.Lookup("data-dir") != nil && flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Lookup("download-dir") != nil && flags.Changed("download-dir") {
		cfg.DownloadDir, _ = flags.GetString("download-dir")
	}
	if flags.Lookup("max-peers") != nil && flags.Changed("max-peers") {
		cfg.MaxPeers, _ = flags.GetInt("max-peers")
	}
	if flags.Lookup("max-outgoing") != nil && flags.Changed("max-outgoing") {
		cfg.MaxOutgoing, _ = flags.GetInt("max-outgoing")
	}
	if flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the peerlink version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "peerlink %s\n", Version)
	},
}
