package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"verigate/internal/platform/config"
	"verigate/internal/platform/httpserver"
	"verigate/internal/platform/kafka"
	platformmetrics "verigate/internal/platform/metrics"
	"verigate/internal/platform/postgres"
	"verigate/internal/platform/redis"
	sessionhandler "verigate/internal/session/handler"
	sessionmetrics "verigate/internal/session/metrics"
	"verigate/internal/session/reaper"
	sessionservice "verigate/internal/session/service"
	sessionstore "verigate/internal/session/store"
	"verigate/internal/verification/cache"
	"verigate/internal/verification/events"
	verificationhandler "verigate/internal/verification/handler"
	verificationmetrics "verigate/internal/verification/metrics"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/providers/httpscore"
	"verigate/internal/verification/service"
	verificationstore "verigate/internal/verification/store"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/audit/publisher"
	auditops "verigate/pkg/platform/audit/publishers/ops"
	auditmemory "verigate/pkg/platform/audit/store/memory"
	auditpostgres "verigate/pkg/platform/audit/store/postgres"
	"verigate/pkg/platform/audit/worker"
	"verigate/pkg/platform/circuit"
	"verigate/pkg/platform/middleware/admin"
	txcontext "verigate/pkg/platform/tx"
)

type application struct {
	verification *service.Service
	sessions     *sessionservice.Service
	reaper       *reaper.Reaper
	outbox       *worker.Worker
	persistent   bool
}

// storage groups the record stores. Without a database URL everything runs
// in process and nothing survives a restart.
type storage struct {
	db           *sql.DB
	tx           *txcontext.Runner
	verification service.Store
	sessions     interface {
		sessionservice.Store
		reaper.Store
	}
	audit audit.Store
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger, reg *platformmetrics.Registry, ops *httpserver.OpsRouter) (*application, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*application, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	stores, err := buildStorage(ctx, cfg.Database, log)
	if err != nil {
		return fail(err)
	}
	if stores.db != nil {
		closers = append(closers, func() { _ = stores.db.Close() })
		ops.AddCheck("database", stores.db.PingContext)
	}

	vMetrics := verificationmetrics.NewWithRegisterer(reg)
	sMetrics := sessionmetrics.NewWithRegisterer(reg)

	registry, err := buildProviders(cfg.Providers, log, vMetrics)
	if err != nil {
		return fail(err)
	}
	ops.AddMultiCheck("provider", registry.Health)

	scoreCache, err := buildScoreCache(ctx, cfg.Redis, ops)
	if err != nil {
		return fail(err)
	}
	if c, ok := scoreCache.(interface{ Close() error }); ok {
		closers = append(closers, func() { _ = c.Close() })
	}

	auditPublisher := publisher.NewPublisher(stores.audit, publisher.WithLogger(log))
	opts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(vMetrics),
		service.WithScoreCache(scoreCache),
	}
	sessionOpts := []sessionservice.Option{
		sessionservice.WithLogger(log),
		sessionservice.WithAuditPublisher(auditPublisher),
	}
	if stores.tx != nil {
		opts = append(opts, service.WithTx(stores.tx))
		sessionOpts = append(sessionOpts, sessionservice.WithTx(stores.tx))
	}

	// Reaper sweeps only emit operational events; a failing audit store
	// must not stall them.
	opsAudit := auditops.New(auditPublisher,
		auditops.WithSampler(auditops.NewSampler(cfg.Audit.OpsSampleRate)),
		auditops.WithBreaker(circuit.New("audit-ops",
			circuit.WithFailureThreshold(cfg.Audit.OpsBreakerThreshold),
			circuit.WithCooldown(cfg.Audit.OpsBreakerCooldown),
		)),
		auditops.WithMetrics(auditops.NewMetricsWithRegisterer(reg)),
		auditops.WithLogger(log),
	)

	app := &application{persistent: stores.db != nil}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Linger:   cfg.Kafka.Linger,
		}, kafka.WithLogger(log))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, producer.Close)
		if err := producer.EnsureTopics(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replication, cfg.Kafka.LifecycleTopic, cfg.Kafka.AuditTopic); err != nil {
			return fail(fmt.Errorf("ensure kafka topics: %w", err))
		}
		ops.AddCheck("kafka", producer.Health)
		opts = append(opts, service.WithLifecyclePublisher(events.NewPublisher(producer, cfg.Kafka.LifecycleTopic)))

		if outbox, ok := stores.audit.(*auditpostgres.Store); ok {
			app.outbox = worker.NewWorker(outbox, producer, cfg.Kafka.AuditTopic,
				worker.WithTxRunner(stores.tx),
				worker.WithInterval(cfg.Kafka.OutboxInterval),
				worker.WithLogger(log),
			)
		}
	}

	app.verification = service.New(stores.verification, registry, opts...)
	app.sessions = sessionservice.New(stores.sessions, sessionOpts...)
	app.reaper = reaper.New(stores.sessions,
		reaper.WithLogger(log),
		reaper.WithMetrics(sMetrics),
		reaper.WithAuditPublisher(opsAudit),
		reaper.WithExpireInterval(cfg.Reaper.ExpireInterval),
		reaper.WithCleanupInterval(cfg.Reaper.CleanupInterval),
		reaper.WithRetentionDays(cfg.Reaper.RetentionDays),
	)

	if cfg.Server.OpsToken == "" {
		log.Warn("VERIGATE_OPS_TOKEN is empty; operator endpoints are disabled")
	} else {
		guard := admin.RequireAdminToken(cfg.Server.OpsToken, log)
		vh := verificationhandler.New(app.verification, log)
		sh := sessionhandler.New(app.sessions, app.reaper, log)
		ops.AddRoutes(func(r chi.Router) {
			vh.Register(r)
			sh.Register(r)
		}, guard)
	}

	return app, cleanup, nil
}

func buildStorage(ctx context.Context, cfg config.Database, log *slog.Logger) (*storage, error) {
	if cfg.URL == "" {
		log.Warn("VERIGATE_DATABASE_URL is empty; using in-memory stores")
		return &storage{
			verification: verificationstore.NewInMemoryStore(),
			sessions:     sessionstore.NewInMemoryStore(),
			audit:        auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &storage{
		db:           db,
		tx:           txcontext.NewRunner(db, cfg.TxTimeout),
		verification: verificationstore.NewPostgres(db),
		sessions:     sessionstore.NewPostgres(db),
		audit:        auditpostgres.New(db),
	}, nil
}

// buildProviders registers one resilient HTTP provider per configured kind.
func buildProviders(cfg config.Providers, log *slog.Logger, m *verificationmetrics.Metrics) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	endpoints := []struct {
		kind providers.Kind
		url  string
	}{
		{providers.KindOcr, cfg.OcrURL},
		{providers.KindCrossValidation, cfg.CrossValidationURL},
		{providers.KindFaceMatch, cfg.FaceMatchURL},
		{providers.KindLiveness, cfg.LivenessURL},
	}
	for _, e := range endpoints {
		if e.url == "" {
			log.Warn("score provider not configured", "kind", string(e.kind))
			continue
		}
		inner := httpscore.New(string(e.kind)+"-http", e.kind, e.url, cfg.APIKey, cfg.Timeout)
		breaker := circuit.New(string(e.kind),
			circuit.WithFailureThreshold(cfg.BreakerThreshold),
			circuit.WithCooldown(cfg.BreakerCooldown),
		)
		p := providers.NewResilient(inner,
			providers.WithAttempts(cfg.Attempts),
			providers.WithCallTimeout(cfg.Timeout),
			providers.WithBreaker(breaker),
			providers.WithResilientLogger(log),
			providers.WithRetryHook(func(kind providers.Kind, _ error) {
				m.IncrementProviderRetry(string(kind))
			}),
		)
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildScoreCache(ctx context.Context, cfg config.Redis, ops *httpserver.OpsRouter) (service.ScoreCache, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return cache.NewInMemoryCache(cfg.ScoreCacheTTL), nil
	}
	ops.AddCheck("redis", client.Health)
	return &redisScoreCache{RedisCache: cache.NewRedisCache(client, cfg.ScoreCacheTTL), client: client}, nil
}

// redisScoreCache ties the cache to its client so build can close it.
type redisScoreCache struct {
	*cache.RedisCache
	client *redis.Client
}

func (c *redisScoreCache) Close() error {
	return c.client.Close()
}
