// internal/workers/dispatch/match-and-offer/models.go
package matchandoffer

import "cleaner-dispatch/internal/common/validation"

type Input struct {
	JobID string `json:"jobId"`
}

type Output struct {
	Matched       bool     `json:"matched"`
	ManualReview  bool     `json:"manualReview"`
	ContractorIDs []string `json:"offeredContractorIds"`
	AssignmentIDs []string `json:"assignmentIds"`
	Reason        string   `json:"matchReason,omitempty"`
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"jobId": {Type: "string", Pattern: validation.UUIDPattern},
		},
		Required:             []string{"jobId"},
		AdditionalProperties: true,
	}
}
