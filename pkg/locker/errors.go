package locker

import "errors"

var (
	// ErrLockAcquisitionFailed is returned when a guarded call is rejected
	// because another owner holds the lock.
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

	// ErrLockWaitTimedOut is returned when a blocking guarded call gives up
	// waiting for the lock.
	ErrLockWaitTimedOut = errors.New("lock wait timed out")

	// ErrUnsupportedOperation is returned by operations a lease cannot offer.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidDeclaration is returned when a Declaration fails validation.
	ErrInvalidDeclaration = errors.New("invalid lock declaration")
)

// RejectedError describes a guarded call that did not run.
// It unwraps to ErrLockAcquisitionFailed or ErrLockWaitTimedOut.
type RejectedError struct {
	Policy  RejectionPolicy
	Key     string
	Reason  string
	Message string
	cause   error
}

// Error returns the declared message, falling back to the policy reason.
func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return e.Reason
}

// Unwrap returns the sentinel error for the rejection kind.
func (e *RejectedError) Unwrap() error {
	return e.cause
}
