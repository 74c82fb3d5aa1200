package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const envConfigPath = "WAKIT_CONFIG"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wakit",
	Short: "WhatsApp toolkit for the Evolution API",
	Long:  "Runs the Evolution API webhook gateway and manages instances, messages and groups from the command line.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		if path := strings.TrimSpace(configPath); path != "" {
			return os.Setenv(envConfigPath, path)
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (overrides "+envConfigPath+")")
}
