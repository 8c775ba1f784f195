package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all settings shared by the extraction functions. Values are
// read from environment variables set on the Cloud Function deployment.
type Config struct {
	ProjectID string `env:"PROJECT_ID"`

	JobsCollection         string `env:"JOBS_COLLECTION" envDefault:"extractionJobs"`
	ExternalRefsCollection string `env:"EXTERNAL_REFS_COLLECTION" envDefault:"extractionExternalRefs"`

	WorkflowLocation  string `env:"WORKFLOW_LOCATION" envDefault:"us-central1"`
	WorkflowID        string `env:"WORKFLOW_ID" envDefault:"ocr-text-extraction"`
	NotificationTopic string `env:"NOTIFICATION_TOPIC"`

	// OutputBucket, when set, receives a copy of every extracted text payload.
	OutputBucket string `env:"OUTPUT_BUCKET"`

	StartTimeout    time.Duration `env:"START_TIMEOUT" envDefault:"30s"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
	CallbackTimeout time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"10s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file (local development only) and then parses
// the environment into a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and applies guardrails to the timeouts.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.JobsCollection == c.ExternalRefsCollection {
		return fmt.Errorf("JOBS_COLLECTION and EXTERNAL_REFS_COLLECTION must differ")
	}
	if c.StartTimeout <= 0 || c.FetchTimeout <= 0 || c.CallbackTimeout <= 0 {
		return fmt.Errorf("START_TIMEOUT, FETCH_TIMEOUT and CALLBACK_TIMEOUT must be positive")
	}
	return nil
}

// WorkflowParent is the fully qualified workflow name executions are created under.
func (c *Config) WorkflowParent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", c.ProjectID, c.WorkflowLocation, c.WorkflowID)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
