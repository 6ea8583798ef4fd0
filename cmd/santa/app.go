package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"secretsanta/internal/allocation/engine"
	dirservice "secretsanta/internal/directory/service"
	exservice "secretsanta/internal/exchange/service"
	"secretsanta/internal/notify"
	"secretsanta/internal/platform/config"
	"secretsanta/internal/platform/kafka"
	"secretsanta/internal/platform/metrics"
	"secretsanta/internal/platform/postgres"
	"secretsanta/internal/platform/redis"
	"secretsanta/internal/store/memory"
	pgstore "secretsanta/internal/store/postgres"
	redisstore "secretsanta/internal/store/redis"
	"secretsanta/pkg/platform/circuit"
	"secretsanta/pkg/platform/tx"
)

const (
	notificationPartitions  = 3
	notificationReplication = 1
)

// sharedStore is satisfied by every backend: one store serves all services.
type sharedStore interface {
	engine.Store
	dirservice.Store
	exservice.Store
}

type app struct {
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	drawer     *engine.Service
	directory  *dirservice.Service
	exchange   *exservice.Service
	exchangeTx exservice.StoreTx
	publisher  *notify.Publisher
	health     func(ctx context.Context) error
	checks     []func(ctx context.Context) error
	closers    []func() error
}

// newApp opens the configured backend and wires the services over it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.openStore(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if err := a.openPublisher(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.addCheck(db.PingContext)
		logger.Info("using postgres store")
		return bindServices[*pgstore.Store](a, pgstore.New(db, pgstore.WithTxTimeout(cfg.TxTimeout)), cfg, logger)
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.RedisURL, redis.Options{})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.addCheck(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		logger.Info("using redis store")
		return bindServices[*redisstore.Store](a, redisstore.New(client), cfg, logger)
	default:
		logger.Warn("using in-memory store; matches are lost on restart")
		return bindServices[*memory.Store](a, memory.New(), cfg, logger)
	}
}

// bindServices builds one transactional view per service over runner.
func bindServices[C sharedStore](a *app, runner tx.Runner[C], cfg *config.Config, logger *slog.Logger) error {
	drawer, err := engine.New(tx.Adapt[C, engine.Store](runner, func(c C) engine.Store { return c }),
		engine.WithMaxAttempts(cfg.DrawMaxAttempts),
		engine.WithRetryBackoff(cfg.DrawRetryBackoff),
		engine.WithMetrics(a.metrics),
		engine.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	directory, err := dirservice.New(tx.Adapt[C, dirservice.Store](runner, func(c C) dirservice.Store { return c }),
		dirservice.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	a.drawer = drawer
	a.directory = directory
	a.exchangeTx = tx.Adapt[C, exservice.Store](runner, func(c C) exservice.Store { return c })
	return nil
}

func (a *app) openPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var sink notify.Sink = notify.NewLogSink(logger)
	if len(cfg.KafkaBrokers) > 0 {
		client, err := kafka.NewClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		a.addCheck(client.Ping)
		if err := notify.EnsureTopic(ctx, client, cfg.KafkaTopic, notificationPartitions, notificationReplication); err != nil {
			return fmt.Errorf("ensure notification topic: %w", err)
		}
		sink = notify.NewKafkaSink(client, cfg.KafkaTopic,
			notify.WithBreaker(circuit.New("kafka-notifications")),
			notify.WithKafkaLogger(logger),
		)
		logger.Info("publishing notifications to kafka", "topic", cfg.KafkaTopic)
	}

	opts := []notify.Option{notify.WithLogger(logger), notify.WithMetrics(a.metrics)}
	if cfg.NotifyBuffer > 0 {
		opts = append(opts, notify.WithAsyncBuffer(cfg.NotifyBuffer))
	}
	a.publisher = notify.NewPublisher(sink, opts...)

	exchange, err := exservice.New(a.drawer, a.exchangeTx,
		exservice.WithNotifier(a.publisher),
		exservice.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	a.exchange = exchange
	return nil
}

// addCheck registers a dependency check for /healthz.
func (a *app) addCheck(check func(ctx context.Context) error) {
	a.checks = append(a.checks, check)
	a.health = a.checkHealth
}

// checkHealth runs every registered check concurrently and reports the first
// failure.
func (a *app) checkHealth(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, check := range a.checks {
		g.Go(func() error { return check(ctx) })
	}
	return g.Wait()
}

// Close drains pending notifications and releases connections, newest first.
func (a *app) Close() error {
	if a.publisher != nil {
		a.publisher.Close()
		a.publisher = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
