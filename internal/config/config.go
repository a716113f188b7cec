package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable holding the realtime backend credential. It is read by
// the relay process only and never sent to clients.
const APIKeyEnvVar = "OPENAI_API_KEY"

// Config holds the configuration for the relay process
type Config struct {
	APIKey string

	// Relay listener
	Addr      string
	RelayPath string

	// Realtime backend
	RealtimeURL   string
	RealtimeModel string
	Voice         string

	BackendConnectTimeout time.Duration
	StartTimeout          time.Duration
	WriteTimeout          time.Duration
	CloseGrace            time.Duration

	ObservabilityAddr string
	LogLevel          string
	LogFormat         string

	Kafka KafkaConfig
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Addr:                  ":8080",
		RelayPath:             "/ws",
		RealtimeURL:           "wss://api.openai.com/v1/realtime",
		RealtimeModel:         "gpt-4o-realtime-preview-2024-10-01",
		Voice:                 "alloy",
		BackendConnectTimeout: 5 * time.Second,
		StartTimeout:          10 * time.Second,
		WriteTimeout:          10 * time.Second,
		CloseGrace:            time.Second,
		ObservabilityAddr:     ":9090",
		LogLevel:              "info",
		LogFormat:             "json",
		Kafka: KafkaConfig{
			Topic: "interview.sessions",
		},
	}
}

// Load loads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables on top of Default.
func FromEnv() (*Config, error) {
	cfg := Default()

	cfg.APIKey = getEnv(APIKeyEnvVar, "")
	cfg.Addr = getEnv("RELAY_ADDR", cfg.Addr)
	cfg.RelayPath = getEnv("RELAY_PATH", cfg.RelayPath)
	cfg.RealtimeURL = getEnv("REALTIME_URL", cfg.RealtimeURL)
	cfg.RealtimeModel = getEnv("REALTIME_MODEL", cfg.RealtimeModel)
	cfg.Voice = getEnv("REALTIME_VOICE", cfg.Voice)
	cfg.ObservabilityAddr = getEnv("OBSERVABILITY_ADDR", cfg.ObservabilityAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKEND_CONNECT_TIMEOUT", &cfg.BackendConnectTimeout},
		{"START_TIMEOUT", &cfg.StartTimeout},
		{"WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"CLOSE_GRACE", &cfg.CloseGrace},
	}
	for _, d := range durations {
		v := getEnv(d.key, "")
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}

	if v := getEnv("KAFKA_ENABLED", ""); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid KAFKA_ENABLED %q: %w", v, err)
		}
		cfg.Kafka.Enabled = enabled
	}
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg, nil
}

// Validate checks the fields the relay cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%s is required", APIKeyEnvVar)
	}
	if !strings.HasPrefix(c.RelayPath, "/") {
		return fmt.Errorf("relay path must start with '/': %q", c.RelayPath)
	}
	if c.RealtimeURL == "" {
		return fmt.Errorf("REALTIME_URL is required")
	}
	for name, d := range map[string]time.Duration{
		"BACKEND_CONNECT_TIMEOUT": c.BackendConnectTimeout,
		"START_TIMEOUT":           c.StartTimeout,
		"WRITE_TIMEOUT":           c.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
