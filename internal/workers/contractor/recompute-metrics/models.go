// internal/workers/contractor/recompute-metrics/models.go
package recomputemetrics

import "cleaner-dispatch/internal/common/validation"

type Input struct {
	ContractorID string `json:"contractorId"`
}

type Output struct {
	ContractorID   string  `json:"contractorId"`
	AcceptanceRate float64 `json:"acceptanceRate"`
	CompletionRate float64 `json:"completionRate"`
	QualityScore   float64 `json:"qualityScore"`
	Rating         float64 `json:"rating"`
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"contractorId": {Type: "string", Pattern: validation.UUIDPattern},
		},
		Required:             []string{"contractorId"},
		AdditionalProperties: true,
	}
}
