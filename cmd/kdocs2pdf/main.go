// Package main is the entry point for the kdocs2pdf service and CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	u "kdocs2pdf/internal/utils"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd runs the HTTP server when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:   "kdocs2pdf",
	Short: "Export kdocs.cn documents as PDF",
	Long: `kdocs2pdf drives a headless Chrome through the kdocs.cn export menu and
stores the resulting PDF. Without a subcommand it starts the HTTP service.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.RunE = runServe
	rootCmd.PersistentFlags().String("config", "", "config file (default: $CONFIG_PATH or config/config.yaml)")
}

// loadConfig reads the --config file, falling back to CONFIG_PATH.
func loadConfig() u.Config {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return u.LoadConfig()
	}
	return u.LoadFrom(path)
}

func initLogger(cfg u.Config) {
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
