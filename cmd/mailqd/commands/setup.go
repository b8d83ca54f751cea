package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odiseohq/mailqd/config"
	"github.com/odiseohq/mailqd/core"
	"github.com/odiseohq/mailqd/events/rabbitmq"
	"github.com/odiseohq/mailqd/limiter"
	limiterredis "github.com/odiseohq/mailqd/limiter/redis"
	"github.com/odiseohq/mailqd/retry"
	"github.com/odiseohq/mailqd/stats"
	"github.com/odiseohq/mailqd/stats/noop"
	"github.com/odiseohq/mailqd/stats/prom"
	"github.com/odiseohq/mailqd/store"
	"github.com/odiseohq/mailqd/store/memory"
	"github.com/odiseohq/mailqd/store/postgres"
	"github.com/odiseohq/mailqd/transport/smtp"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, cfg.Database.URL,
			postgres.WithMaxConns(cfg.Database.MaxConns),
			postgres.WithDialTimeout(cfg.Database.DialTimeout))
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func buildTransport(cfg *config.Config) *smtp.Transport {
	return smtp.New(smtp.Options{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		Username:      cfg.SMTP.Username,
		Password:      cfg.SMTP.Password,
		FromEmail:     cfg.SMTP.FromAddress,
		FromName:      cfg.SMTP.FromName,
		UseTLS:        cfg.SMTP.UseTLS,
		TLSSkipVerify: cfg.SMTP.TLSSkipVerify,
		Timeout:       cfg.SMTP.Timeout,
	})
}

func buildLimiter(cfg *config.Config) (limiter.Limiter, error) {
	switch cfg.Limiter.Backend {
	case "memory":
		return limiter.New(limiter.Options{
			PerSecond: cfg.Limiter.PerSecond,
			PerMinute: cfg.Limiter.PerMinute,
		}), nil
	case "redis":
		return limiterredis.New(limiterredis.Options{
			URI:       cfg.Limiter.RedisURL,
			Namespace: "mailqd:limiter:",
			PerSecond: cfg.Limiter.PerSecond,
			PerMinute: cfg.Limiter.PerMinute,
		})
	default:
		return nil, fmt.Errorf("unknown limiter backend %q", cfg.Limiter.Backend)
	}
}

func buildRecorder(cfg *config.Config) stats.Recorder {
	if cfg.Metrics.Enabled {
		return prom.New()
	}
	return noop.New()
}

func buildDispatcher(cfg *config.Config, s store.Store, t *smtp.Transport, recorder stats.Recorder) (*core.Dispatcher, error) {
	options := []core.DispatcherOption{
		core.WithBatchSize(cfg.Worker.BatchSize),
		core.WithConcurrency(cfg.Worker.Concurrency),
		core.WithPollInterval(cfg.Worker.PollInterval),
		core.WithSendTimeout(cfg.Worker.SendTimeout),
		core.WithShutdownTimeout(cfg.Worker.ShutdownTimeout),
		core.WithRecorder(recorder),
	}

	if cfg.Events.Enabled {
		publisher, err := rabbitmq.New(rabbitmq.Options{
			URI:   cfg.Events.AMQPURL,
			Queue: cfg.Events.Queue,
		})
		if err != nil {
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		options = append(options, core.WithPublisher(publisher))
	}

	policy := retry.NewPolicy(cfg.Worker.MaxRetries, cfg.Worker.BackoffBase)
	return core.NewDispatcher(s, t, policy, options...), nil
}
