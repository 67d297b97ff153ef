package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"dslock/internal/domain"
	"dslock/pkg/guard"
	"dslock/pkg/locker"
)

const submissionKeyPrefix = "submission."

// SubmissionConfig tunes the guarded operations of SubmissionService.
type SubmissionConfig struct {
	// HoldSeconds is how long a request id stays locked after Submit,
	// rejecting repeats.
	HoldSeconds int64
	// ProcessExpireSeconds bounds how long Process may hold its lock.
	ProcessExpireSeconds int64
	// ProcessWait is how long Process waits for a busy submission.
	ProcessWait time.Duration
	// Retention is how long accepted submissions are kept.
	Retention time.Duration
	// Defaults is the declaration both operations start from. The zero
	// value means locker.DefaultDeclaration.
	Defaults locker.Declaration
}

// SubmissionService accepts client submissions at most once per request id
// and serializes their processing across instances.
type SubmissionService struct {
	store   domain.KeyValueStore
	node    string
	cfg     SubmissionConfig
	logger  *zap.Logger
	submit  guard.Func[*domain.Receipt]
	process guard.Func[*domain.ProcessResult]
}

// NewSubmissionService creates a SubmissionService whose operations are
// guarded by g.
func NewSubmissionService(
	g *guard.Guard,
	store domain.KeyValueStore,
	cfg SubmissionConfig,
	logger *zap.Logger,
) (*SubmissionService, error) {
	node, err := os.Hostname()
	if err != nil {
		node = "unknown"
	}

	s := &SubmissionService{
		store:  store,
		node:   node,
		cfg:    cfg,
		logger: logger,
	}

	base := cfg.Defaults
	if base == (locker.Declaration{}) {
		base = locker.DefaultDeclaration()
	}

	// Duplicate-submission guard: the request id stays locked for
	// HoldSeconds after a successful submit.
	s.submit, err = guard.Wrap(g,
		guard.Method{Type: "SubmissionService", Name: "Submit", Params: []string{"requestId", "submission"}},
		base.With(
			locker.WithName("#requestId"),
			locker.WithType(locker.Hold),
			locker.WithRejectPolicy(locker.RepeatAbort),
			locker.WithExpire(cfg.HoldSeconds),
			locker.WithBlocking(false),
			locker.WithMessage("submission already received"),
		),
		s.doSubmit,
	)
	if err != nil {
		return nil, err
	}

	s.process, err = guard.Wrap(g,
		guard.Method{Type: "SubmissionService", Name: "Process", Params: []string{"requestId"}},
		base.With(
			locker.WithName("'process.' + #requestId"),
			locker.WithType(locker.Auto),
			locker.WithRejectPolicy(locker.TimeoutAbort),
			locker.WithExpire(cfg.ProcessExpireSeconds),
			locker.WithBlocking(true),
			locker.WithWaitTimeout(cfg.ProcessWait),
			locker.WithMessage("submission is being processed"),
		),
		s.doProcess,
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Submit records sub unless the same request id was submitted within the
// hold window, in which case it fails with locker.ErrLockAcquisitionFailed.
func (s *SubmissionService) Submit(ctx context.Context, sub domain.Submission) (*domain.Receipt, error) {
	return s.submit(ctx, sub.RequestID, sub)
}

// Process marks a submission processed. Concurrent calls for the same
// request id run one at a time; a caller that cannot get the lock in time
// fails with locker.ErrLockWaitTimedOut.
func (s *SubmissionService) Process(ctx context.Context, requestID string) (*domain.ProcessResult, error) {
	return s.process(ctx, requestID)
}

// Get returns a stored submission.
func (s *SubmissionService) Get(ctx context.Context, requestID string) (*domain.Submission, error) {
	fields := s.store.HGetAll(ctx, submissionKeyPrefix+requestID)
	if len(fields) == 0 {
		return nil, domain.ErrSubmissionNotFound
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])

	return &domain.Submission{
		RequestID: requestID,
		Customer:  fields["customer"],
		Payload:   fields["payload"],
		Status:    fields["status"],
		Node:      fields["node"],
		CreatedAt: createdAt,
	}, nil
}

func (s *SubmissionService) doSubmit(ctx context.Context, args ...any) (*domain.Receipt, error) {
	sub, ok := args[1].(domain.Submission)
	if !ok {
		return nil, fmt.Errorf("submit: unexpected argument %T", args[1])
	}

	now := time.Now().UTC()
	key := submissionKeyPrefix + sub.RequestID
	s.store.HSet(ctx, key, map[string]string{
		"customer":   sub.Customer,
		"payload":    sub.Payload,
		"status":     domain.StatusAccepted,
		"node":       s.node,
		"created_at": now.Format(time.RFC3339Nano),
	})
	if !s.store.Exists(ctx, key) {
		return nil, fmt.Errorf("submit %s: store write failed", sub.RequestID)
	}
	if s.cfg.Retention > 0 {
		s.store.Expire(ctx, key, int64(s.cfg.Retention.Seconds()))
	}

	s.logger.Info("submission accepted",
		zap.String("request_id", sub.RequestID),
		zap.String("customer", sub.Customer),
	)

	return &domain.Receipt{RequestID: sub.RequestID, Node: s.node, AcceptedAt: now}, nil
}

func (s *SubmissionService) doProcess(ctx context.Context, args ...any) (*domain.ProcessResult, error) {
	requestID, _ := args[0].(string)
	key := submissionKeyPrefix + requestID

	if !s.store.Exists(ctx, key) {
		return nil, fmt.Errorf("process %s: %w", requestID, domain.ErrSubmissionNotFound)
	}

	now := time.Now().UTC()
	attempt := s.store.HIncrBy(ctx, key, "attempts", 1)
	s.store.HSet(ctx, key, map[string]string{
		"status":       domain.StatusProcessed,
		"processed_at": now.Format(time.RFC3339Nano),
		"processed_by": s.node,
	})

	s.logger.Info("submission processed",
		zap.String("request_id", requestID),
		zap.Int64("attempt", attempt),
	)

	return &domain.ProcessResult{
		RequestID:   requestID,
		Node:        s.node,
		Attempt:     attempt,
		ProcessedAt: now,
	}, nil
}
