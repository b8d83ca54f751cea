// Package config loads service configuration from a YAML file and
// MAILQD_* environment variables, with environment taking precedence.
package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/job"
)

// Config represents the full service configuration.
type Config struct {
	Database *Database
	SMTP     *SMTP
	Worker   *Worker
	Limiter  *Limiter
	API      *API
	Events   *Events
	Metrics  *Metrics
}

// Database configures the job store backend.
type Database struct {
	// Driver is "postgres" or "memory".
	Driver      string
	URL         string
	MaxConns    int32
	DialTimeout time.Duration
}

// SMTP configures the outbound mail transport.
type SMTP struct {
	Host          string
	Port          int
	Username      string
	Password      string
	FromAddress   string
	FromName      string
	UseTLS        bool
	TLSSkipVerify bool
	Timeout       time.Duration
}

// Worker configures the delivery dispatcher.
type Worker struct {
	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
}

// Limiter configures submission rate limiting.
type Limiter struct {
	// Backend is "memory" or "redis".
	Backend   string
	RedisURL  string
	PerSecond int
	PerMinute int
}

// API configures the HTTP submission surface.
type API struct {
	Addr    string
	APIKey  string
	RunMode string
}

// Events configures the optional delivery-outcome publisher.
type Events struct {
	Enabled  bool
	AMQPURL  string
	Exchange string
	Queue    string
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool
	Addr    string
}

// Load reads configuration from the given file path (optional) and the
// environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAILQD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("mailqd")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mailqd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional; env and defaults suffice.
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: getDatabase(v),
		SMTP:     getSMTP(v),
		Worker:   getWorker(v),
		Limiter:  getLimiter(v),
		API:      getAPI(v),
		Events:   getEvents(v),
		Metrics:  getMetrics(v),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.dial_timeout", "5s")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.use_tls", true)
	v.SetDefault("smtp.timeout", "30s")

	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.poll_interval", "10s")
	v.SetDefault("worker.send_timeout", "30s")
	v.SetDefault("worker.shutdown_timeout", "30s")
	v.SetDefault("worker.max_retries", job.MaxRetriesDefault)
	v.SetDefault("worker.backoff_base", "300s")

	v.SetDefault("limiter.backend", "memory")
	v.SetDefault("limiter.per_second", 10)
	v.SetDefault("limiter.per_minute", 60)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.run_mode", "release")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.exchange", "")
	v.SetDefault("events.queue", "mailqd.delivery_events")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

func getDatabase(v *viper.Viper) *Database {
	return &Database{
		Driver:      v.GetString("database.driver"),
		URL:         v.GetString("database.url"),
		MaxConns:    v.GetInt32("database.max_conns"),
		DialTimeout: v.GetDuration("database.dial_timeout"),
	}
}

func getSMTP(v *viper.Viper) *SMTP {
	return &SMTP{
		Host: v.GetString("smtp.host"),
		Port: v.GetInt("smtp.port"),
		// Providers issue app passwords with display grouping spaces;
		// the server rejects them unless stripped.
		Username:      v.GetString("smtp.username"),
		Password:      strings.ReplaceAll(v.GetString("smtp.password"), " ", ""),
		FromAddress:   v.GetString("smtp.from_address"),
		FromName:      v.GetString("smtp.from_name"),
		UseTLS:        v.GetBool("smtp.use_tls"),
		TLSSkipVerify: v.GetBool("smtp.tls_skip_verify"),
		Timeout:       v.GetDuration("smtp.timeout"),
	}
}

func getWorker(v *viper.Viper) *Worker {
	return &Worker{
		BatchSize:       v.GetInt("worker.batch_size"),
		Concurrency:     v.GetInt("worker.concurrency"),
		PollInterval:    v.GetDuration("worker.poll_interval"),
		SendTimeout:     v.GetDuration("worker.send_timeout"),
		ShutdownTimeout: v.GetDuration("worker.shutdown_timeout"),
		MaxRetries:      v.GetInt("worker.max_retries"),
		BackoffBase:     v.GetDuration("worker.backoff_base"),
	}
}

func getLimiter(v *viper.Viper) *Limiter {
	return &Limiter{
		Backend:   v.GetString("limiter.backend"),
		RedisURL:  v.GetString("limiter.redis_url"),
		PerSecond: v.GetInt("limiter.per_second"),
		PerMinute: v.GetInt("limiter.per_minute"),
	}
}

func getAPI(v *viper.Viper) *API {
	return &API{
		Addr:    v.GetString("api.addr"),
		APIKey:  v.GetString("api.api_key"),
		RunMode: v.GetString("api.run_mode"),
	}
}

func getEvents(v *viper.Viper) *Events {
	return &Events{
		Enabled:  v.GetBool("events.enabled"),
		AMQPURL:  v.GetString("events.amqp_url"),
		Exchange: v.GetString("events.exchange"),
		Queue:    v.GetString("events.queue"),
	}
}

func getMetrics(v *viper.Viper) *Metrics {
	return &Metrics{
		Enabled: v.GetBool("metrics.enabled"),
		Addr:    v.GetString("metrics.addr"),
	}
}

// Validate checks configuration invariants before anything connects.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.NewConfigError("database.url", fmt.Errorf("required for postgres driver"))
		}
	default:
		return errors.NewConfigError("database.driver", fmt.Errorf("unknown driver %q", c.Database.Driver))
	}

	if c.SMTP.Host == "" {
		return errors.NewConfigError("smtp.host", fmt.Errorf("required"))
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return errors.NewConfigError("smtp.port", fmt.Errorf("out of range: %d", c.SMTP.Port))
	}
	if c.SMTP.FromAddress == "" {
		return errors.NewConfigError("smtp.from_address", fmt.Errorf("required"))
	}

	if c.Worker.BatchSize < 1 || c.Worker.BatchSize > 1000 {
		return errors.NewConfigError("worker.batch_size", fmt.Errorf("must be in [1, 1000]: %d", c.Worker.BatchSize))
	}
	if c.Worker.Concurrency < 1 {
		return errors.NewConfigError("worker.concurrency", fmt.Errorf("must be positive: %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxRetries < job.MaxRetriesMin || c.Worker.MaxRetries > job.MaxRetriesMax {
		return errors.NewConfigError("worker.max_retries",
			fmt.Errorf("must be in [%d, %d]: %d", job.MaxRetriesMin, job.MaxRetriesMax, c.Worker.MaxRetries))
	}

	switch c.Limiter.Backend {
	case "memory":
	case "redis":
		if c.Limiter.RedisURL == "" {
			return errors.NewConfigError("limiter.redis_url", fmt.Errorf("required for redis backend"))
		}
	default:
		return errors.NewConfigError("limiter.backend", fmt.Errorf("unknown backend %q", c.Limiter.Backend))
	}
	if c.Limiter.PerSecond < 1 || c.Limiter.PerMinute < 1 {
		return errors.NewConfigError("limiter", fmt.Errorf("rate limits must be positive"))
	}

	if c.Events.Enabled && c.Events.AMQPURL == "" {
		return errors.NewConfigError("events.amqp_url", fmt.Errorf("required when events are enabled"))
	}

	return nil
}
