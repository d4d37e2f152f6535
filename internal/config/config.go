// Package config provides environment configuration for the chat server and client.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Cache     CacheConfig
	NATS      NATSConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Client    ClientConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// DatabaseConfig selects the gorm dialect and its DSN.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// LLMConfig holds provider credentials and generation defaults.
type LLMConfig struct {
	Provider        string
	GroqAPIKey      string
	GroqModel       string
	GroqBaseURL     string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Timeout         time.Duration
	MaxRetries      int
	Temperature     float32
	MaxTokens       int
}

// CacheConfig holds the Redis history cache settings. An empty Addr disables it.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HistoryTTL    time.Duration
}

// NATSConfig holds the event publisher settings. An empty URL disables it.
type NATSConfig struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LoggingConfig holds the log level.
type LoggingConfig struct {
	Level string
	File  string
}

// TracingConfig holds the OTLP exporter settings.
type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

// ClientConfig holds the terminal client's transport and session settings.
type ClientConfig struct {
	SocketURL            string
	APIURL               string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	HandshakeTimeout     time.Duration
	SendGracePeriod      time.Duration
	TitleMaxLength       int
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 120*time.Second)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Database
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "chat.db")

	// LLM
	v.SetDefault("LLM_PROVIDER", "groq")
	v.SetDefault("GROQ_API_KEY", "")
	v.SetDefault("GROQ_MODEL", "llama3-70b-8192")
	v.SetDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("LLM_TIMEOUT", 60*time.Second)
	v.SetDefault("LLM_MAX_RETRIES", 2)
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("LLM_MAX_TOKENS", 1024)

	// Cache
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("HISTORY_CACHE_TTL", 10*time.Minute)

	// NATS
	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_CA_FILE", "")
	v.SetDefault("NATS_CERT_FILE", "")
	v.SetDefault("NATS_KEY_FILE", "")
	v.SetDefault("NATS_TOKEN", "")

	// Rate limiting
	v.SetDefault("RATE_LIMIT_REQUESTS", 60)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)

	// Logging
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "chat-client.log")

	// Tracing
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_ENDPOINT", "localhost:4318")

	// Client
	v.SetDefault("CHAT_SOCKET_URL", "ws://localhost:8000/ws/chat")
	v.SetDefault("CHAT_API_URL", "http://localhost:8000")
	v.SetDefault("RECONNECT_BASE_DELAY", time.Second)
	v.SetDefault("RECONNECT_MAX_DELAY", 30*time.Second)
	v.SetDefault("RECONNECT_MAX_ATTEMPTS", 5)
	v.SetDefault("HANDSHAKE_TIMEOUT", 10*time.Second)
	v.SetDefault("SEND_GRACE_PERIOD", 500*time.Millisecond)
	v.SetDefault("TITLE_MAX_LENGTH", 50)
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host:         v.GetString("HOST"),
			Port:         v.GetInt("PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
			CORSOrigins:  splitList(v.GetString("CORS_ORIGINS")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
			URL:    v.GetString("DATABASE_URL"),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(v.GetString("LLM_PROVIDER")),
			GroqAPIKey:      v.GetString("GROQ_API_KEY"),
			GroqModel:       v.GetString("GROQ_MODEL"),
			GroqBaseURL:     v.GetString("GROQ_BASE_URL"),
			OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
			AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
			Timeout:         v.GetDuration("LLM_TIMEOUT"),
			MaxRetries:      v.GetInt("LLM_MAX_RETRIES"),
			Temperature:     float32(v.GetFloat64("LLM_TEMPERATURE")),
			MaxTokens:       v.GetInt("LLM_MAX_TOKENS"),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			HistoryTTL:    v.GetDuration("HISTORY_CACHE_TTL"),
		},
		NATS: NATSConfig{
			URL:      v.GetString("NATS_URL"),
			CAFile:   v.GetString("NATS_CA_FILE"),
			CertFile: v.GetString("NATS_CERT_FILE"),
			KeyFile:  v.GetString("NATS_KEY_FILE"),
			Token:    v.GetString("NATS_TOKEN"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
		Tracing: TracingConfig{
			Enabled:  v.GetBool("TRACING_ENABLED"),
			Endpoint: v.GetString("TRACING_ENDPOINT"),
		},
		Client: ClientConfig{
			SocketURL:            v.GetString("CHAT_SOCKET_URL"),
			APIURL:               strings.TrimRight(v.GetString("CHAT_API_URL"), "/"),
			ReconnectBaseDelay:   v.GetDuration("RECONNECT_BASE_DELAY"),
			ReconnectMaxDelay:    v.GetDuration("RECONNECT_MAX_DELAY"),
			ReconnectMaxAttempts: v.GetInt("RECONNECT_MAX_ATTEMPTS"),
			HandshakeTimeout:     v.GetDuration("HANDSHAKE_TIMEOUT"),
			SendGracePeriod:      v.GetDuration("SEND_GRACE_PERIOD"),
			TitleMaxLength:       v.GetInt("TITLE_MAX_LENGTH"),
		},
	}
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
