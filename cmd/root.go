package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"talkingrock/internal/config"
	"talkingrock/internal/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "talkingrock",
	Short: "Talking Rock - zero-trust portfolio chat gateway",
	Long: `Talking Rock is a public-facing conversational gateway for a portfolio
site. Visitor questions run through a staged zero-trust pipeline
(sanitization, jailbreak classification, intent routing, grounded
generation, output safety) backed by locally hosted language models.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./configs/config.yaml)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.talkingrock")
	}

	viper.SetEnvPrefix("TALKINGROCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	// Security floors cannot be lowered through config or env.
	cfg.ApplyFloors()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Debug().Str("config_file", viper.ConfigFileUsed()).Msg("configuration loaded")
}

func setDefaults() {
	// Server
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.cors_origins", []string{})

	// Security limits
	viper.SetDefault("security.max_input_length", 2000)
	viper.SetDefault("security.max_request_size", 8192)
	viper.SetDefault("security.request_timeout", "30s")
	viper.SetDefault("security.max_context_tokens", 8000)

	// Rate limits
	viper.SetDefault("rate_limit.per_ip_per_minute", 10)
	viper.SetDefault("rate_limit.per_ip_per_hour", 100)
	viper.SetDefault("rate_limit.global_per_minute", 1000)
	viper.SetDefault("rate_limit.backend", "memory")

	// Gateway
	viper.SetDefault("gateway.trusted_proxies", []string{})
	viper.SetDefault("gateway.ip_salt", "")

	// Models
	viper.SetDefault("models.provider", "openai")
	viper.SetDefault("models.base_url", "http://localhost:11434/v1")
	viper.SetDefault("models.runtime_url", "http://localhost:11434")
	viper.SetDefault("models.api_key", "ollama")
	viper.SetDefault("models.classifier", "qwen2.5:0.5b")
	viper.SetDefault("models.router", "llama3.2:1b")
	viper.SetDefault("models.generator", "mistral:7b")
	viper.SetDefault("models.verifier", "qwen2.5:0.5b")
	viper.SetDefault("models.embedding", "nomic-embed-text")
	viper.SetDefault("models.classifier_timeout", "10s")
	viper.SetDefault("models.generator_timeout", "60s")
	viper.SetDefault("models.max_concurrent", 4)
	viper.SetDefault("models.temperature", 0.7)
	viper.SetDefault("models.max_tokens", 1024)
	viper.SetDefault("models.grounding_threshold", 0.0)

	// Conversation
	viper.SetDefault("conversation.max_turns", 10)
	viper.SetDefault("conversation.ttl", "1800s")
	viper.SetDefault("conversation.max_history_tokens", 4000)
	viper.SetDefault("conversation.capacity", 1000)

	// Paths
	viper.SetDefault("paths.context_dir", "./context")
	viper.SetDefault("paths.prompts_dir", "./prompts")

	// Contact inbox
	viper.SetDefault("contact.type", "local")
	viper.SetDefault("contact.local.base_path", "./data/contacts")

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", "RFC3339")

	// MongoDB (optional; request log + analytics disabled when empty)
	viper.SetDefault("mongo.uri", "")
	viper.SetDefault("mongo.database", "talkingrock")
	viper.SetDefault("mongo.max_pool_size", 100)
	viper.SetDefault("mongo.min_pool_size", 10)

	// Redis (optional; rate limiter falls back to in-memory)
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)

	// Admin
	viper.SetDefault("admin.password_hash", "")
	viper.SetDefault("admin.jwt_secret", "")
	viper.SetDefault("admin.token_expiry", "24h")

	// Metrics
	viper.SetDefault("metrics.enabled", false)
}

// GetConfig returns the global configuration
func GetConfig() *config.Config {
	return cfg
}
