package dto

import (
	"time"

	"dslock/internal/domain"
)

// LockStatusResponse represents the state of a single lock key.
type LockStatusResponse struct {
	Key        string `json:"key"`
	Locked     bool   `json:"locked"`
	Owner      string `json:"owner,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// FromLockStatus converts domain.LockStatus to LockStatusResponse.
func FromLockStatus(s domain.LockStatus) LockStatusResponse {
	resp := LockStatusResponse{
		Key:    s.Key,
		Locked: s.Locked,
		Owner:  s.Owner,
	}
	if s.TTL > 0 {
		resp.TTLSeconds = int64(s.TTL / time.Second)
	}

	return resp
}

// ReleaseResponse reports the outcome of an administrative release.
type ReleaseResponse struct {
	Key      string `json:"key"`
	Released bool   `json:"released"`
}

// LockCountResponse reports the number of live lock keys.
type LockCountResponse struct {
	Count int `json:"count"`
}

// ReceiptResponse acknowledges an accepted submission.
type ReceiptResponse struct {
	RequestID  string `json:"request_id"`
	Node       string `json:"node"`
	AcceptedAt string `json:"accepted_at"`
}

// FromReceipt converts domain.Receipt to ReceiptResponse.
func FromReceipt(r *domain.Receipt) ReceiptResponse {
	return ReceiptResponse{
		RequestID:  r.RequestID,
		Node:       r.Node,
		AcceptedAt: r.AcceptedAt.Format(time.RFC3339),
	}
}

// ProcessResponse reports a processed submission.
type ProcessResponse struct {
	RequestID   string `json:"request_id"`
	Node        string `json:"node"`
	Attempt     int64  `json:"attempt"`
	ProcessedAt string `json:"processed_at"`
}

// FromProcessResult converts domain.ProcessResult to ProcessResponse.
func FromProcessResult(r *domain.ProcessResult) ProcessResponse {
	return ProcessResponse{
		RequestID:   r.RequestID,
		Node:        r.Node,
		Attempt:     r.Attempt,
		ProcessedAt: r.ProcessedAt.Format(time.RFC3339),
	}
}

// SubmissionResponse represents a stored submission.
type SubmissionResponse struct {
	RequestID string `json:"request_id"`
	Customer  string `json:"customer"`
	Payload   string `json:"payload,omitempty"`
	Status    string `json:"status"`
	Node      string `json:"node"`
	CreatedAt string `json:"created_at"`
}

// FromSubmission converts domain.Submission to SubmissionResponse.
func FromSubmission(s *domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		RequestID: s.RequestID,
		Customer:  s.Customer,
		Payload:   s.Payload,
		Status:    s.Status,
		Node:      s.Node,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
