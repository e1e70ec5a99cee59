// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Model providers.
const (
	ProviderOpenAI = "openai"
	ProviderGRPC   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	StoreDriver  string
	ScenarioPath string

	Model           ModelConfig
	Session         SessionConfig
	ConversationLog ConversationLogConfig
}

// ModelConfig selects and configures the language-model client.
type ModelConfig struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GRPCAddr      string
	CallTimeout   time.Duration
}

// SessionConfig tunes live conversation sessions.
type SessionConfig struct {
	ContextWindow int
	QueueDepth    int
	PingInterval  time.Duration
	WriteTimeout  time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/polly.db"),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		ScenarioPath: getEnv("SCENARIO_PATH", "./data/scenarios.yaml"),
		Model: ModelConfig{
			Provider:      strings.ToLower(getEnv("MODEL_PROVIDER", ProviderOpenAI)),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4"),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			GRPCAddr:      getEnv("MODEL_GRPC_ADDR", "localhost:50051"),
			CallTimeout:   getEnvDuration("MODEL_CALL_TIMEOUT", 60*time.Second),
		},
		Session: SessionConfig{
			ContextWindow: getEnvInt("CONTEXT_WINDOW", 10),
			QueueDepth:    getEnvInt("SESSION_QUEUE_DEPTH", 16),
			PingInterval:  getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
			WriteTimeout:  getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of sqlite, memory", c.StoreDriver)
	}
	if c.ScenarioPath == "" {
		return fmt.Errorf("SCENARIO_PATH cannot be empty")
	}
	switch c.Model.Provider {
	case ProviderOpenAI:
		if c.Model.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderGRPC:
		if c.Model.GRPCAddr == "" {
			return fmt.Errorf("MODEL_GRPC_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("MODEL_PROVIDER %q is not one of openai, grpc", c.Model.Provider)
	}
	if c.Model.CallTimeout <= 0 {
		return fmt.Errorf("MODEL_CALL_TIMEOUT must be > 0")
	}
	if c.Session.ContextWindow < 2 {
		return fmt.Errorf("CONTEXT_WINDOW must be >= 2")
	}
	if c.Session.QueueDepth < 1 {
		return fmt.Errorf("SESSION_QUEUE_DEPTH must be >= 1")
	}
	if c.Session.PingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be > 0")
	}
	if c.Session.WriteTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
