package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"stemsplit/config"
	"stemsplit/logger"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing and validating stemsplit configuration.",
}

// configValidateCmd validates the current configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the current configuration file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Setup("info", "text", os.Stderr)

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			slog.Error("Configuration validation failed", slog.Any("error", err))
			return err
		}

		fmt.Println("Configuration is valid")
		return nil
	},
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration values from file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Setup("info", "text", os.Stderr)

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Current Configuration:")
		fmt.Printf("  Server:\n")
		fmt.Printf("    URL: %s\n", cfg.Server.URL)
		fmt.Printf("    Timeout: %s\n", cfg.Server.Timeout)
		fmt.Printf("  Playback:\n")
		fmt.Printf("    Sample rate: %d\n", cfg.Playback.SampleRate)
		fmt.Printf("    Drift interval: %s\n", cfg.Playback.DriftInterval)
		fmt.Printf("    Drift tolerance: %s\n", cfg.Playback.DriftTolerance)
		fmt.Printf("  Store:\n")
		fmt.Printf("    Enabled: %v\n", cfg.Store.Enabled)
		fmt.Printf("    Endpoint: %s\n", cfg.Store.Endpoint)
		fmt.Printf("    Bucket: %s\n", cfg.Store.Bucket)
		fmt.Printf("    Access key: %s\n", maskSecret(cfg.Store.AccessKey))
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level: %s\n", cfg.Logging.Level)
		fmt.Printf("    Format: %s\n", cfg.Logging.Format)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// maskSecret masks a credential for display
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
