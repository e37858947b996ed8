package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aniketchurihar/CardioGenie/internal/config"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/logger"
)

var (
	cfgFile string
	version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:     "cardiogenie",
	Short:   "CardioGenie cardiology patient intake service",
	Version: version,
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := logger.Setup(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
