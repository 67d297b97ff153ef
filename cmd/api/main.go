// Package main is the entry point for the dslock API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dslock/internal/app/service"
	"dslock/internal/config"
	"dslock/internal/job"
	"dslock/internal/logger"
	"dslock/internal/metrics"
	"dslock/internal/tracing"
	"dslock/internal/transport/httpserver"
	"dslock/internal/validator"
	"dslock/pkg/guard"
	"dslock/pkg/keyexpr"
	"dslock/pkg/locker"
	"dslock/pkg/router"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("DSLOCK_CONFIG"))
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(
		logger.Config{
			Level:  cfg.Logger.Level,
			Format: cfg.Logger.Format,
			Output: cfg.Logger.Output,
		},
		logger.SentryConfig{
			Enabled:     cfg.Sentry.Enabled,
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		},
	)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting dslock",
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.Int("port", cfg.App.Port),
		zap.String("backend", cfg.Lock.Backend),
	)

	ctx := context.Background()

	shutdownTracing, err := tracing.InitProvider(ctx, tracing.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: version,
		Environment:    cfg.App.Env,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Metrics
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		metrics.RegisterMetrics(reg)
		gatherer = reg
	}

	// Connect to Redis through the read/write router
	rt := router.New(router.Config{
		Primary: router.PoolConfig{
			Addr:     cfg.Redis.Primary.Addr(),
			Password: cfg.Redis.Primary.Password,
			DB:       cfg.Redis.Primary.DB,
		},
		Replica: router.PoolConfig{
			Addr:     cfg.Redis.Replica.Addr(),
			Password: cfg.Redis.Replica.Password,
			DB:       cfg.Redis.Replica.DB,
		},
		PoolSize:     cfg.Redis.Pool.MaxTotal,
		MinIdleConns: cfg.Redis.Pool.MinIdle,
		MaxIdleConns: cfg.Redis.Pool.MaxIdle,
		PoolTimeout:  cfg.Redis.Pool.MaxWait,
		IdleTimeout:  cfg.Redis.Pool.IdleTimeout,
		DialTimeout:  cfg.Redis.Pool.DialTimeout,
		ReadTimeout:  cfg.Redis.Pool.ReadTimeout,
		WriteTimeout: cfg.Redis.Pool.WriteTimeout,
		Breaker: router.BreakerConfig{
			MaxRequests:  cfg.Redis.CircuitBreaker.MaxRequests,
			Interval:     cfg.Redis.CircuitBreaker.Interval,
			Timeout:      cfg.Redis.CircuitBreaker.Timeout,
			FailureRatio: cfg.Redis.CircuitBreaker.FailureRatio,
			MinRequests:  cfg.Redis.CircuitBreaker.MinRequests,
		},
	}, log.Component("router"))
	defer func() { _ = rt.Close() }()

	// Ping Redis to verify connection
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := rt.Ping(pingCtx); err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	cancelPing()
	log.Info("connected to Redis",
		zap.String("primary", cfg.Redis.Primary.Addr()),
		zap.String("replica", cfg.Redis.Replica.Addr()),
	)

	// Lock reads normally follow the router's replica routing; pin them to
	// the primary unless replica lag is acceptable.
	lockStore := rt
	if cfg.Lock.PrimaryReads {
		lockStore = rt.PrimaryOnly()
	}

	releaseMode, _ := locker.ParseReleaseMode(cfg.Lock.ReleaseMode)

	var factory locker.Factory
	switch cfg.Lock.Backend {
	case "redlock":
		factory = locker.RedlockFactory(rt.Client(), lockStore, log.Component("redlock"))
	default:
		factory = locker.LeaseFactory(lockStore, log.Component("lease"), releaseMode)
	}

	eval, err := keyexpr.New(keyexpr.Config{
		MaxEntries: cfg.Lock.Expression.CacheSize,
		TTL:        cfg.Lock.Expression.CacheTTL,
	})
	if err != nil {
		log.Fatal("failed to create expression evaluator", zap.Error(err))
	}
	defer eval.Close()

	g := guard.New(factory, eval,
		guard.WithKeyPrefix(cfg.Lock.KeyPrefix),
		guard.WithLogger(log.Component("guard")),
	)

	defaults, _ := cfg.Lock.Defaults.Declaration()

	// Create services
	submissionSvc, err := service.NewSubmissionService(g, rt.PrimaryOnly(), service.SubmissionConfig{
		HoldSeconds:          cfg.Lock.Submission.ExpireSeconds,
		ProcessExpireSeconds: cfg.Lock.Processing.ExpireSeconds,
		ProcessWait:          cfg.Lock.Processing.WaitTimeout,
		Retention:            cfg.Lock.Submission.Retention,
		Defaults:             defaults,
	}, log.Component("submissions"))
	if err != nil {
		log.Fatal("failed to create submission service", zap.Error(err))
	}
	lockSvc := service.NewLockService(rt, lockStore, cfg.Lock.KeyPrefix, releaseMode, log.Component("locks"))

	// Create validator
	v := validator.New()

	// Create HTTP server
	server := httpserver.NewServer(
		httpserver.ServerConfig{
			Port:        cfg.App.Port,
			BodyLimit:   cfg.App.BodyLimit,
			MetricsPath: cfg.Metrics.Path,
			ScanCount:   cfg.Audit.ScanCount,
		},
		httpserver.Services{
			Locks:       lockSvc,
			Submissions: submissionSvc,
		},
		rt,
		gatherer,
		v,
		log.Component("http"),
	)

	// Start lease auditor, itself guarded so one instance runs per interval
	var auditor *job.LeaseAuditor
	if cfg.Audit.Enabled {
		auditor, err = job.NewLeaseAuditor(g, rt, rt, job.AuditConfig{
			Interval:  cfg.Audit.Interval,
			Timeout:   cfg.Audit.Timeout,
			ScanCount: cfg.Audit.ScanCount,
			KeyPrefix: cfg.Lock.KeyPrefix,
		}, log.Component("audit"))
		if err != nil {
			log.Fatal("failed to create lease auditor", zap.Error(err))
		}
		auditor.Start(cfg.Audit.OnStartup)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutdown signal received")

		if auditor != nil {
			auditor.Stop()
		}

		// Shutdown server with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.App.ShutdownWithContext(ctx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Error("tracing shutdown error", zap.Error(err))
		}
	}()

	// Start server
	if err := server.Start(cfg.App.Port); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
