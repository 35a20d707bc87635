package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"talkingrock/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway",
	Long:  `Start the Talking Rock gateway with the specified configuration.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()

	// Server flags
	flags.StringP("host", "H", "127.0.0.1", "server host")
	flags.IntP("port", "p", 8000, "server port")
	flags.String("mode", "release", "server mode (debug/release/test)")

	// Model flags
	flags.String("model-provider", "openai", "model provider (openai/ark)")
	flags.String("model-base-url", "", "OpenAI-compatible base URL of the local runtime")
	flags.String("generator-model", "", "generation model name")

	// Log flags
	flags.String("log-level", "info", "log level (trace/debug/info/warn/error/fatal)")
	flags.String("log-format", "console", "log format (json/console)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("server.mode", flags.Lookup("mode"))
	_ = viper.BindPFlag("models.provider", flags.Lookup("model-provider"))
	_ = viper.BindPFlag("models.base_url", flags.Lookup("model-base-url"))
	_ = viper.BindPFlag("models.generator", flags.Lookup("generator-model"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().
		Str("addr", addr).
		Str("mode", cfg.Server.Mode).
		Str("generator", cfg.Models.Generator).
		Msg("starting server")

	return srv.Run(ctx, addr)
}
