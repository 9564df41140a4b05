// Package config handles application configuration from environment
// variables and CLI arguments. Configuration is automatically loaded by
// Huma CLI with the WEBHOOK_ENGINE_ prefix.
package config

import (
	"fmt"
	"time"
)

// Config holds the application configuration. Huma CLI reads it from
// environment variables or command-line arguments.
type Config struct {
	// Database configuration
	DatabaseURL       string `help:"PostgreSQL connection string" env:"DATABASE_URL" required:"true"`
	DBMaxOpenConns    int    `help:"Maximum number of open database connections" default:"25"`
	DBMaxIdleConns    int    `help:"Maximum number of idle database connections" default:"5"`
	DBConnMaxLifetime int    `help:"Maximum connection lifetime in minutes" default:"5"`

	// Server configuration
	Host string `help:"Host to bind to" default:"0.0.0.0"`
	Port int    `help:"Port to listen on" short:"p" default:"8080"`

	// Environment
	Environment string `help:"Environment (development/production)" default:"development"`

	// Security
	APIKey string `help:"Optional API key for authentication" env:"API_KEY"`

	// New-event ingestion
	PollInterval int `help:"Seconds between polls for new events" default:"1"`

	// Batching (batched delivery mode)
	BatchingEnabled bool `help:"Enable the batching stage for webhooks in batched mode" default:"true"`
	BatchCapacity   int  `help:"Buffer size of the batching queue" default:"1000"`
	BatchMaxSize    int  `help:"Max events per batch before an early flush" default:"50"`
	BatchMaxWaitMS  int  `help:"Max milliseconds a batch waits before flushing" default:"2000"`

	// Retry subsystem
	RetryQueueCapacity  int     `help:"Per-webhook retry dispatch queue capacity" default:"1"`
	RetryBaseMS         int     `help:"Base backoff delay in milliseconds" default:"1000"`
	RetryFactor         float64 `help:"Exponential backoff factor" default:"2.0"`
	RetryTimeoutMinutes int     `help:"Minutes a webhook may spend Retrying before quarantine" default:"60"`

	// HTTP client
	RequestTimeoutSeconds int `help:"Per-request HTTP timeout in seconds" default:"5"`

	// Logging
	LogLevel string `help:"Log level (debug/info/warn/error)" default:"info" enum:"debug,info,warn,error"`

	// Rate limiting
	RateLimitPerIP       int `help:"Max requests per second per IP address" default:"100"`
	RateLimitBurst       int `help:"Burst size for rate limiter (allows temporary spikes)" default:"200"`
	RateLimitGlobal      int `help:"Max requests per second globally (all IPs combined)" default:"1000"`
	RateLimitGlobalBurst int `help:"Global burst size" default:"2000"`
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// PollEvery returns PollInterval as a time.Duration.
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// RetryBase returns RetryBaseMS as a time.Duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

// RetryTimeout returns RetryTimeoutMinutes as a time.Duration.
func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.RetryTimeoutMinutes) * time.Minute
}

// BatchMaxWait returns BatchMaxWaitMS as a time.Duration.
func (c *Config) BatchMaxWait() time.Duration {
	return time.Duration(c.BatchMaxWaitMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutSeconds as a time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
