// Package cmd defines the synapse CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/server"
)

const version = "1.0.0"

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:     "synapse",
	Short:   "Unified AI router for LLM, MCP, STT, and TTS",
	Long:    `Synapse is an AI-traffic gateway: one endpoint accepting OpenAI-, Anthropic-, and Google-shaped requests, routed across upstream providers with streaming translation, rate limiting, and MCP tool aggregation.`,
	Version: version,
	RunE:    runServe,
	// The gateway is the only command; suppress cobra's usage dump on
	// runtime errors so startup failures read cleanly.
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (env SYNAPSE_CONFIG, default synapse.toml)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "override the listen address (env SYNAPSE_LISTEN)")
}

// Execute runs the CLI. Exit code 0 on clean shutdown, non-zero on
// startup failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("synapse: %v", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	path := configPath
	if path == "" {
		path = os.Getenv("SYNAPSE_CONFIG")
	}
	if path == "" {
		path = "synapse.toml"
	}

	listen := listenAddr
	if listen == "" {
		listen = os.Getenv("SYNAPSE_LISTEN")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger.Info().Str("config", path).Msg("starting synapse")

	srv, err := server.New(cfg, listen, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("synapse stopped")
	return nil
}
