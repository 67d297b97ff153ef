// Package domain holds the core types of the guarded submission workflow.
package domain

import (
	"errors"
	"time"
)

// ErrSubmissionNotFound is returned when an operation refers to an unknown
// submission.
var ErrSubmissionNotFound = errors.New("submission not found")

// Submission status values.
const (
	StatusAccepted  = "accepted"
	StatusProcessed = "processed"
)

// Submission is a client request that must be accepted at most once.
type Submission struct {
	RequestID string
	Customer  string
	Payload   string
	Status    string
	Node      string
	CreatedAt time.Time
}

// Receipt confirms an accepted submission.
type Receipt struct {
	RequestID  string
	Node       string
	AcceptedAt time.Time
}

// ProcessResult reports a processed submission.
type ProcessResult struct {
	RequestID   string
	Node        string
	Attempt     int64
	ProcessedAt time.Time
}

// LockStatus is a snapshot of one lock key in the store.
type LockStatus struct {
	Key    string
	Locked bool
	Owner  string
	TTL    time.Duration
}
