// Package config loads the application configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration. The session credential is
// validated by the session itself so a missing key surfaces as a
// session configuration error rather than a process crash.
type Config struct {
	// GeminiAPIKey authenticates the live websocket connection.
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Model overrides the live model resource name.
	Model string `envconfig:"VOXKIT_MODEL" default:"models/gemini-2.0-flash-exp"`

	// Voice overrides the prebuilt voice name.
	Voice string `envconfig:"VOXKIT_VOICE" default:"Aoede"`

	// SystemPrompt overrides the persona instruction.
	SystemPrompt string `envconfig:"VOXKIT_SYSTEM_PROMPT"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogPretty switches between console and JSON log output.
	LogPretty bool `envconfig:"LOG_PRETTY" default:"true"`

	// MetricsEnabled starts the metrics/health HTTP listener.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"false"`

	// MetricsAddr is the metrics listener address.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"127.0.0.1:9090"`
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &cfg, nil
}
