// internal/models/assignment.go
package models

import "time"

type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "PENDING"
	AssignmentAccepted AssignmentStatus = "ACCEPTED"
	AssignmentRejected AssignmentStatus = "REJECTED"
	AssignmentExpired  AssignmentStatus = "EXPIRED"
)

// Assignment is an offer of a job to one contractor.
type Assignment struct {
	ID           string           `json:"id"`
	JobID        string           `json:"jobId"`
	ContractorID string           `json:"contractorId"`
	Status       AssignmentStatus `json:"status"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	CreatedAt    time.Time        `json:"createdAt"`
	RespondedAt  *time.Time       `json:"respondedAt,omitempty"`
}

// IsExpired reports whether a PENDING offer is past its TTL at now.
func (a Assignment) IsExpired(now time.Time) bool {
	return a.Status == AssignmentPending && now.After(a.ExpiresAt)
}
