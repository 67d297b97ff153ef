package locker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RejectionPolicy decides what a guarded call does when it cannot get its lock.
type RejectionPolicy int

const (
	// Abort fails the call with ErrLockAcquisitionFailed.
	Abort RejectionPolicy = iota
	// TimeoutAbort fails the call with ErrLockWaitTimedOut.
	TimeoutAbort
	// RepeatAbort fails the call as a duplicate submission.
	RepeatAbort
	// Ignore skips the call and returns the zero value.
	Ignore
)

var policyNames = map[RejectionPolicy]string{
	Abort:        "ABORT",
	TimeoutAbort: "TIMEOUT_ABORT",
	RepeatAbort:  "REPEAT_ABORT",
	Ignore:       "IGNORE",
}

// String returns the upper-case policy name.
func (p RejectionPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}

	return fmt.Sprintf("RejectionPolicy(%d)", int(p))
}

// ParseRejectionPolicy parses a policy name such as "REPEAT_ABORT", ignoring case.
func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	if s == "" {
		return Abort, nil
	}
	for p, name := range policyNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}

	return 0, fmt.Errorf("unknown rejection policy %q", s)
}

// RejectContext describes the call being rejected.
type RejectContext struct {
	Key       string
	Operation string
	Logger    *zap.Logger
}

// Outcome is the result of resolving a rejection. A nil Err means the call
// is skipped and returns its zero value.
type Outcome struct {
	Err error
}

// Skipped reports whether the call completes silently.
func (o Outcome) Skipped() bool {
	return o.Err == nil
}

type resolveFunc func(decl Declaration, rc RejectContext) Outcome

var resolvers = map[RejectionPolicy]resolveFunc{
	Abort:        rejectWith("lock failed", ErrLockAcquisitionFailed),
	TimeoutAbort: rejectWith("lock wait timed out", ErrLockWaitTimedOut),
	RepeatAbort:  rejectWith("duplicate submission", ErrLockAcquisitionFailed),
	Ignore:       ignore,
}

// Resolve applies the policy. Unknown policies behave like Abort.
func (p RejectionPolicy) Resolve(decl Declaration, rc RejectContext) Outcome {
	if rc.Logger == nil {
		rc.Logger = zap.NewNop()
	}

	resolve, ok := resolvers[p]
	if !ok {
		resolve = resolvers[Abort]
	}

	return resolve(decl, rc)
}

func rejectWith(reason string, sentinel error) resolveFunc {
	return func(decl Declaration, rc RejectContext) Outcome {
		rc.Logger.Info("guarded call rejected",
			zap.String("key", rc.Key),
			zap.String("operation", rc.Operation),
			zap.Stringer("policy", decl.RejectPolicy),
			zap.String("reason", reason),
		)

		return Outcome{Err: &RejectedError{
			Policy:  decl.RejectPolicy,
			Key:     rc.Key,
			Reason:  reason,
			Message: decl.Message,
			cause:   sentinel,
		}}
	}
}

func ignore(decl Declaration, rc RejectContext) Outcome {
	rc.Logger.Info("guarded call skipped, lock held elsewhere",
		zap.String("key", rc.Key),
		zap.String("operation", rc.Operation),
		zap.String("message", decl.Message),
	)

	return Outcome{}
}
