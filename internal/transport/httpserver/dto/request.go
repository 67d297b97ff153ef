// Package dto provides Data Transfer Objects for HTTP requests and responses.
package dto

import "dslock/internal/domain"

// SubmitRequest represents the request body for a new submission.
type SubmitRequest struct {
	RequestID string `json:"request_id" validate:"required,max=128,lockpart"`
	Customer  string `json:"customer" validate:"required,max=64"`
	Payload   string `json:"payload" validate:"max=65536"`
}

// ToSubmission converts SubmitRequest to domain.Submission.
func (r *SubmitRequest) ToSubmission() domain.Submission {
	return domain.Submission{
		RequestID: r.RequestID,
		Customer:  r.Customer,
		Payload:   r.Payload,
	}
}

// ReleaseRequest represents the query parameters of an administrative release.
// Owner must match the token stored in the lock.
type ReleaseRequest struct {
	Owner string `query:"owner" json:"owner" validate:"required,max=512"`
}

// LockKeyParam is the lock name taken from the path.
type LockKeyParam struct {
	Key string `params:"key" json:"key" validate:"required,max=512,lockkey"`
}
