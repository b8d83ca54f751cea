package core

import (
	"time"

	"github.com/odiseohq/mailqd/events"
	"github.com/odiseohq/mailqd/stats"
)

// Config holds dispatcher configuration
type Config struct {
	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
	Recorder        stats.Recorder
	Publisher       events.Publisher
}

// DispatcherOption is a function that modifies dispatcher configuration
type DispatcherOption func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		BatchSize:       50,
		Concurrency:     5,
		PollInterval:    10 * time.Second,
		SendTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// WithBatchSize sets the maximum jobs claimed per poll cycle
func WithBatchSize(n int) DispatcherOption {
	return func(c *Config) {
		c.BatchSize = n
	}
}

// WithConcurrency sets the number of concurrent in-flight deliveries
func WithConcurrency(n int) DispatcherOption {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithPollInterval sets the sleep between empty poll cycles
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithSendTimeout bounds a single delivery attempt
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(c *Config) {
		c.SendTimeout = d
	}
}

// WithShutdownTimeout sets the graceful shutdown grace period
func WithShutdownTimeout(d time.Duration) DispatcherOption {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithRecorder mirrors delivery outcomes onto a stats backend
func WithRecorder(r stats.Recorder) DispatcherOption {
	return func(c *Config) {
		c.Recorder = r
	}
}

// WithPublisher emits delivery-outcome events
func WithPublisher(p events.Publisher) DispatcherOption {
	return func(c *Config) {
		c.Publisher = p
	}
}
