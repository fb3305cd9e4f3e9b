// internal/workers/dispatch/claim-job/models.go
package claimjob

import "cleaner-dispatch/internal/common/validation"

type Input struct {
	JobID        string `json:"jobId"`
	ContractorID string `json:"contractorId"`
}

type Output struct {
	Claimed      bool   `json:"claimed"`
	AssignmentID string `json:"assignmentId"`
	ContractorID string `json:"claimedBy"`
	ClaimedAt    string `json:"claimedAt"` // RFC 3339
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"jobId":        {Type: "string", Pattern: validation.UUIDPattern},
			"contractorId": {Type: "string", Pattern: validation.UUIDPattern},
		},
		Required:             []string{"jobId", "contractorId"},
		AdditionalProperties: true,
	}
}
