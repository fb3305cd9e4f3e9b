// internal/models/job.go
package models

import "time"

type JobStatus string

const (
	JobStatusCreated    JobStatus = "CREATED"
	JobStatusOffered    JobStatus = "OFFERED"
	JobStatusClaimed    JobStatus = "CLAIMED"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

type PayoutStatus string

const (
	PayoutStatusUnsettled PayoutStatus = "UNSETTLED"
	PayoutStatusSettled   PayoutStatus = "SETTLED"
)

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Job is a booked service visit.
type Job struct {
	ID              string       `json:"id"`
	Status          JobStatus    `json:"status"`
	ScheduledAt     time.Time    `json:"scheduledAt"`
	Location        *GeoPoint    `json:"location,omitempty"`
	TotalPriceCents int64        `json:"totalPriceCents"`
	ContractorID    string       `json:"contractorId,omitempty"`
	PayoutStatus    PayoutStatus `json:"payoutStatus"`
	PayoutID        string       `json:"payoutId,omitempty"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
}
