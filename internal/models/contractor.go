// internal/models/contractor.go
package models

import "time"

type ContractorStatus string

const (
	ContractorPendingApproval ContractorStatus = "PENDING_APPROVAL"
	ContractorActive          ContractorStatus = "ACTIVE"
	ContractorSuspended       ContractorStatus = "SUSPENDED"
)

// ContractorProfile is a cleaner as seen by matching, metrics and settlement.
// Nil rate fields mean the value was never computed.
type ContractorProfile struct {
	ID              string               `json:"id"`
	Status          ContractorStatus     `json:"status"`
	AccountActive   bool                 `json:"accountActive"`
	Location        *GeoPoint            `json:"location,omitempty"`
	ServiceRadiusKm float64              `json:"serviceRadiusKm"`
	Rating          *float64             `json:"rating,omitempty"`
	AcceptanceRate  *float64             `json:"acceptanceRate,omitempty"`
	CompletionRate  *float64             `json:"completionRate,omitempty"`
	QualityScore    *float64             `json:"qualityScore,omitempty"`
	OfferedCount    int                  `json:"offeredCount"`
	AcceptedCount   int                  `json:"acceptedCount"`
	CompletedCount  int                  `json:"completedCount"`
	PayoutAccountID string               `json:"payoutAccountId,omitempty"`
	Windows         []AvailabilityWindow `json:"windows,omitempty"`
}

// AvailabilityWindow is a recurring weekly slot. Times are "HH:MM".
type AvailabilityWindow struct {
	ContractorID string       `json:"contractorId"`
	DayOfWeek    time.Weekday `json:"dayOfWeek"`
	StartTime    string       `json:"startTime"`
	EndTime      string       `json:"endTime"`
	Active       bool         `json:"active"`
}

type Review struct {
	ContractorID string `json:"contractorId"`
	JobID        string `json:"jobId,omitempty"`
	Rating       int    `json:"rating"`
}
