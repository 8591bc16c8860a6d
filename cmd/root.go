// Package cmd holds the clawdbot CLI: the gateway daemon plus the
// operator-facing chat and status commands.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clawdbot/clawdbot/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clawdbot",
		Short: "Multi-channel chatbot gateway",
		Long: `Clawdbot is a WebSocket gateway that connects chat clients, agent
workers, and paired nodes. Running it without a subcommand starts the
gateway.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default ~/.clawdbot/clawdbot.json5)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(gatewayCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	return root
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// resolveConfigPath picks the config file: flag, env, then the default.
func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("CLAWDBOT_CONFIG"); env != "" {
		return env
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to built-in defaults
// when the file does not exist yet.
func loadConfig() *config.Config {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no config file, using defaults", "path", path)
			return config.Default(path)
		}
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
