// Package job provides background job schedulers.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dslock/internal/domain"
	"dslock/internal/metrics"
	"dslock/pkg/guard"
	"dslock/pkg/locker"
)

// AuditReport summarizes one audit run.
type AuditReport struct {
	Leases   int
	Orphaned []string
}

// LeaseAuditor periodically counts live lock keys and flags leases that
// have lost their expiry. Each run is guarded so that only one instance in
// the fleet audits per interval.
type LeaseAuditor struct {
	store     domain.KeyValueStore
	pinger    domain.Pinger
	prefix    string
	scanCount int64
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	audit     guard.Func[*AuditReport]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// AuditConfig holds lease auditor configuration.
type AuditConfig struct {
	Interval  time.Duration
	Timeout   time.Duration
	ScanCount int64
	KeyPrefix string
}

// NewLeaseAuditor creates a LeaseAuditor.
//
// Locking behavior:
//   - Lock TTL = interval (cooldown model, not timeout)
//   - Success: lease held for the full interval, other instances skip
//   - Failure: lease released immediately so another instance may retry
func NewLeaseAuditor(
	g *guard.Guard,
	store domain.KeyValueStore,
	pinger domain.Pinger,
	cfg AuditConfig,
	logger *zap.Logger,
) (*LeaseAuditor, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = guard.DefaultKeyPrefix
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 500
	}

	a := &LeaseAuditor{
		store:     store,
		pinger:    pinger,
		prefix:    cfg.KeyPrefix,
		scanCount: cfg.ScanCount,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		logger:    logger,
	}

	expire := int64(cfg.Interval / time.Second)
	if expire < 1 {
		expire = 1
	}

	var err error
	a.audit, err = guard.Wrap(g,
		guard.Method{Type: "LeaseAuditor", Name: "Audit"},
		locker.NewDeclaration(
			locker.WithName("'run'"),
			locker.WithType(locker.Hold),
			locker.WithRejectPolicy(locker.Ignore),
			locker.WithExpire(expire),
			locker.WithBlocking(false),
		),
		a.run,
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Start begins the background audit job.
func (a *LeaseAuditor) Start(runOnStartup bool) {
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.logger.Info("starting lease auditor",
		zap.Duration("interval", a.interval),
		zap.Bool("run_on_startup", runOnStartup),
	)

	a.wg.Add(1)
	go a.loop(runOnStartup)
}

// Stop gracefully stops the auditor.
func (a *LeaseAuditor) Stop() {
	a.logger.Info("stopping lease auditor")
	a.cancel()
	a.wg.Wait()
	a.logger.Info("lease auditor stopped")
}

// RunOnce performs a single guarded audit. It returns a nil report when
// another instance holds the audit lease.
func (a *LeaseAuditor) RunOnce(ctx context.Context) (*AuditReport, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	return a.audit(ctx)
}

func (a *LeaseAuditor) loop(runOnStartup bool) {
	defer a.wg.Done()

	if runOnStartup {
		a.execute()
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.execute()
		}
	}
}

func (a *LeaseAuditor) execute() {
	report, err := a.RunOnce(a.ctx)
	if err != nil {
		a.logger.Warn("lease audit failed, lease released for retry", zap.Error(err))

		return
	}
	if report == nil {
		a.logger.Debug("another instance is auditing, skipping execution")

		return
	}

	a.logger.Info("lease audit completed, lease held for cooldown",
		zap.Int("leases", report.Leases),
		zap.Int("orphaned", len(report.Orphaned)),
		zap.Duration("cooldown", a.interval),
	)
}

func (a *LeaseAuditor) run(ctx context.Context, _ ...any) (*AuditReport, error) {
	// The router fails open, so an empty scan is indistinguishable from an
	// unreachable store without an explicit ping.
	if err := a.pinger.Ping(ctx); err != nil {
		return nil, fmt.Errorf("lease audit: %w", err)
	}

	keys := a.store.ScanKeys(ctx, a.prefix+".*", a.scanCount)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("lease audit interrupted: %w", err)
	}

	report := &AuditReport{Leases: len(keys)}
	for _, key := range keys {
		// TTL -1: the key exists without an expiry.
		if a.store.TTL(ctx, key) == -1 {
			report.Orphaned = append(report.Orphaned, key)
			a.logger.Warn("lease without expiry", zap.String("key", key))
		}
	}

	metrics.ActiveLeasesGauge.Set(float64(report.Leases))

	return report, nil
}
