package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "statwatch",
	Short: "statwatch - continuous statistical monitoring for A/B tests",
	Long: `statwatch watches running A/B tests and tells you when to stop them.

Each pass runs a two-proportion z-test with power analysis, an optional
Bayesian comparison and anomaly checks, then recommends stop or continue
and raises alerts for early winners, underpowered tests and anomalies.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getEnvOrDefault("SW_CONFIG", "./statwatch.yaml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("SW_DB_PATH", ""), "sqlite history database (overrides the storage section)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnvOrDefault("SW_LOG_LEVEL", ""), "log level (debug, info, warn, error)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
