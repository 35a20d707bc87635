package config

import (
	"errors"
	"time"
)

// Config is the application configuration root.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Security     SecurityConfig     `mapstructure:"security"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Models       ModelsConfig       `mapstructure:"models"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Paths        PathsConfig        `mapstructure:"paths"`
	Contact      ContactConfig      `mapstructure:"contact"`
	Log          LogConfig          `mapstructure:"log"`
	Mongo        MongoConfig        `mapstructure:"mongo"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// SecurityConfig holds security-critical request limits.
type SecurityConfig struct {
	MaxInputLength   int           `mapstructure:"max_input_length"`
	MaxRequestSize   int           `mapstructure:"max_request_size"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
}

// RateLimitConfig configures the three request windows.
type RateLimitConfig struct {
	PerIPPerMinute  int    `mapstructure:"per_ip_per_minute"`
	PerIPPerHour    int    `mapstructure:"per_ip_per_hour"`
	GlobalPerMinute int    `mapstructure:"global_per_minute"`
	Backend         string `mapstructure:"backend"` // memory, redis
}

// GatewayConfig configures client IP resolution.
type GatewayConfig struct {
	TrustedProxies []string `mapstructure:"trusted_proxies"` // ip or CIDR
	IPSalt         string   `mapstructure:"ip_salt"`
}

// ModelsConfig selects model names per pipeline tier and the backend runtime.
type ModelsConfig struct {
	Provider   string `mapstructure:"provider"` // openai (local OpenAI-compatible), ark
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`    // chat completions endpoint
	RuntimeURL string `mapstructure:"runtime_url"` // native runtime API (embeddings, health)

	Classifier string `mapstructure:"classifier"`
	Router     string `mapstructure:"router"`
	Generator  string `mapstructure:"generator"`
	Verifier   string `mapstructure:"verifier"`
	Embedding  string `mapstructure:"embedding"`

	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`
	GeneratorTimeout  time.Duration `mapstructure:"generator_timeout"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`

	// GroundingThreshold enables the embedding-based hallucination check
	// when > 0: responses whose cosine similarity against the retrieved
	// context falls below it are treated as unsafe.
	GroundingThreshold float64 `mapstructure:"grounding_threshold"`
}

// ConversationConfig bounds the in-memory conversation store.
type ConversationConfig struct {
	MaxTurns         int           `mapstructure:"max_turns"`
	TTL              time.Duration `mapstructure:"ttl"`
	MaxHistoryTokens int           `mapstructure:"max_history_tokens"`
	Capacity         int           `mapstructure:"capacity"`
}

// PathsConfig locates static context and prompt files.
type PathsConfig struct {
	ContextDir string `mapstructure:"context_dir"`
	PromptsDir string `mapstructure:"prompts_dir"`
}

// ContactConfig configures the contact-inbox storage backend.
type ContactConfig struct {
	Type  string              `mapstructure:"type"` // local, oss
	Local *ContactLocalConfig `mapstructure:"local,omitempty"`
	OSS   *ContactOSSConfig   `mapstructure:"oss,omitempty"`
}

// ContactLocalConfig is the local filesystem inbox.
type ContactLocalConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// ContactOSSConfig is the aliyun OSS inbox archive.
type ContactOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Prefix          string `mapstructure:"prefix"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig configures the optional request-log store.
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig configures the optional redis rate-limit backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdminConfig configures the owner-only admin surface.
type AdminConfig struct {
	PasswordHash string        `mapstructure:"password_hash"` // bcrypt; admin disabled when empty
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenExpiry  time.Duration `mapstructure:"token_expiry"`
}

// MetricsConfig toggles metrics exposition.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Security floors. Values below these are raised, never honored.
const (
	minInputLength    = 100
	minRequestSize    = 1024
	minRequestTimeout = 5 * time.Second
	minPerIPPerMinute = 1
	minPerIPPerHour   = 10
	minGlobalPerMin   = 100
	minTTL            = 60 * time.Second
	minMaxTurns       = 2
	minHistoryTokens  = 500
)

// ApplyFloors raises security-critical limits to their hard minimums so a
// hostile or broken environment cannot weaken the gateway.
func (c *Config) ApplyFloors() {
	if c.Security.MaxInputLength < minInputLength {
		c.Security.MaxInputLength = minInputLength
	}
	if c.Security.MaxRequestSize < minRequestSize {
		c.Security.MaxRequestSize = minRequestSize
	}
	if c.Security.RequestTimeout < minRequestTimeout {
		c.Security.RequestTimeout = minRequestTimeout
	}
	if c.RateLimit.PerIPPerMinute < minPerIPPerMinute {
		c.RateLimit.PerIPPerMinute = minPerIPPerMinute
	}
	if c.RateLimit.PerIPPerHour < minPerIPPerHour {
		c.RateLimit.PerIPPerHour = minPerIPPerHour
	}
	if c.RateLimit.GlobalPerMinute < minGlobalPerMin {
		c.RateLimit.GlobalPerMinute = minGlobalPerMin
	}
	if c.Conversation.TTL < minTTL {
		c.Conversation.TTL = minTTL
	}
	if c.Conversation.MaxTurns < minMaxTurns {
		c.Conversation.MaxTurns = minMaxTurns
	}
	if c.Conversation.MaxHistoryTokens < minHistoryTokens {
		c.Conversation.MaxHistoryTokens = minHistoryTokens
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	validProviders := map[string]bool{"openai": true, "ark": true}
	if !validProviders[c.Models.Provider] {
		return errors.New("invalid model provider, must be openai/ark")
	}

	validRL := map[string]bool{"memory": true, "redis": true}
	if !validRL[c.RateLimit.Backend] {
		return errors.New("invalid rate_limit backend, must be memory/redis")
	}
	if c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("rate_limit backend is redis but redis.addr is empty")
	}

	if c.Admin.PasswordHash != "" && c.Admin.JWTSecret == "" {
		return errors.New("admin.password_hash set without admin.jwt_secret")
	}

	return nil
}
