package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"validity/internal/platform/config"
	"validity/internal/platform/redis"
	"validity/internal/temporal/lock"
	"validity/internal/temporal/ports"
	"validity/internal/temporal/store/memory"
	"validity/internal/temporal/store/postgres"
	"validity/pkg/platform/audit/publisher"
	"validity/pkg/platform/audit/publishers/kafka"
	auditmemory "validity/pkg/platform/audit/store/memory"
	auditpostgres "validity/pkg/platform/audit/store/postgres"
	"validity/pkg/platform/audit/worker"
)

// backends holds everything the engine runs on.
type backends struct {
	store   ports.Store
	tx      ports.TxRunner
	locker  ports.ScopeLocker
	auditor ports.AuditPublisher
	relay   *worker.Worker

	db      *sql.DB
	redis   *redis.Client
	closers []func()
}

func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	switch cfg.Store.Driver {
	case "postgres":
		b.db, err = sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, func() { _ = b.db.Close() })
		if err := b.db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := postgres.New(b.db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		b.store, b.tx = pg, pg
	default:
		mem := memory.New()
		b.store, b.tx = mem, mem
	}

	if cfg.Redis.URL != "" {
		b.redis, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = b.redis.Close() })
	}
	switch cfg.Locker.Driver {
	case "local":
		b.locker = lock.NewLocal()
	case "redis":
		b.locker = lock.NewRedis(b.redis.Client, lock.WithLeaseTTL(cfg.Locker.LeaseTTL), lock.WithLogger(log))
	}

	if err := b.connectAudit(ctx, cfg, log); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backends) connectAudit(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	var pubOpts []publisher.Option
	pubOpts = append(pubOpts, publisher.WithLogger(log))
	if cfg.Audit.AsyncBuffer > 0 {
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer))
	}

	switch cfg.Audit.Sink {
	case "memory":
		pub := publisher.NewPublisher(auditmemory.NewInMemoryStore(), pubOpts...)
		b.closers = append(b.closers, pub.Close)
		b.auditor = pub
	case "postgres":
		outbox := auditpostgres.New(b.db)
		if err := outbox.Migrate(ctx); err != nil {
			return err
		}
		pub := publisher.NewPublisher(outbox, pubOpts...)
		b.closers = append(b.closers, pub.Close)
		b.auditor = pub
		if len(cfg.Audit.Brokers) > 0 {
			sink, err := b.kafka(cfg, log)
			if err != nil {
				return err
			}
			b.relay = worker.NewWorker(outbox, sink,
				worker.WithLogger(log),
				worker.WithInterval(cfg.Audit.RelayInterval),
			)
		}
	case "kafka":
		sink, err := b.kafka(cfg, log)
		if err != nil {
			return err
		}
		b.auditor = sink
	}
	return nil
}

func (b *backends) kafka(cfg config.Server, log *slog.Logger) (*kafka.Publisher, error) {
	sink, err := kafka.New(cfg.Audit.Brokers, cfg.Audit.Topic, kafka.WithLogger(log))
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = sink.Close(context.Background()) })
	return sink, nil
}

func (b *backends) health(ctx context.Context) error {
	var errs []error
	if b.db != nil {
		if err := b.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// close releases backends in reverse order of acquisition.
func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
