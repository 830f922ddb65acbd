// Package container provides dependency injection and lifecycle management
// for the CRM workflow service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Bearer token configuration
	Auth AuthConfig

	// Outgoing mail, disabled when Host is empty
	SMTP SMTPConfig

	// OpenAI configuration, disabled when APIKey is empty
	OpenAI OpenAIConfig

	// Lark chat configuration, disabled when credentials are missing
	Lark LarkConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string

	// Model is the model to use (e.g., "gpt-4o-mini")
	Model string

	// BaseURL points at a proxy when set
	BaseURL string

	// PromptsPath overrides the embedded prompts when set
	PromptsPath string

	// Timeout for API calls
	Timeout time.Duration

	// AutoScore scores applications when they are submitted
	AutoScore bool
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	AppID     string
	AppSecret string
	ChatID    string
	BaseURL   string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// ResumeInterval is how often unfinished follow-ups are retried
	ResumeInterval time.Duration

	// ResumeBatch caps the transitions resumed per run
	ResumeBatch int

	// AsyncTimeout bounds asynchronous event handlers
	AsyncTimeout time.Duration

	// ClaimLease is how long a run may hold a transition before another can take it over
	ClaimLease time.Duration

	// ResumeGrace keeps the worker away from transitions younger than this
	ResumeGrace time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/crm.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer: "crm-workflow",
		},
		SMTP: SMTPConfig{
			Port:    587,
			Timeout: 10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:     "gpt-4o-mini",
			Timeout:   60 * time.Second,
			AutoScore: true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			ResumeInterval: time.Minute,
			ResumeBatch:    20,
			AsyncTimeout:   2 * time.Minute,
			ClaimLease:     5 * time.Minute,
			ResumeGrace:    30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Worker.ResumeBatch <= 0 {
		return fmt.Errorf("worker.resume_batch must be positive")
	}
	return nil
}
