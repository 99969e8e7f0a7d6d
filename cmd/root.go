package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kiliankoe/babyguess/internal/application"
	"github.com/kiliankoe/babyguess/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "babyguess",
	Short: "Babyguess - guess whose baby photo it is",
	Long: `Real-time party game server backed by Redis.

Configuration is read from the environment (and .env if present):
  PORT, APP_ENV, LOG_LEVEL, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB,
  KEY_PREFIX, STATE_TTL, STORE_MAX_ATTEMPTS, STORE_BACKOFF,
  SECONDS_PER_ROUND, SETTLE_DELAY, ONLINE_WINDOW, ADMIN_USER, ADMIN_PASS,
  EVENT_TOPIC, REDIS_EVENTS, NATS_URL, NATS_SUBJECT, HISTORY_FILE,
  HISTORY_DSN, PHOTO_DIR

Commands: serve (default), reset, repair, version.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var portFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and returns the error for main to log.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads and validates the configuration and installs the logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	application.SetupLogging(cfg)
	return cfg, nil
}
