// internal/workers/dispatch/update-assignment/models.go
package updateassignment

import "cleaner-dispatch/internal/common/validation"

const (
	ActionDecline  = "decline"
	ActionStart    = "start"
	ActionComplete = "complete"
)

type Input struct {
	JobID        string `json:"jobId"`
	ContractorID string `json:"contractorId,omitempty"`
	Action       string `json:"action"`
}

type Output struct {
	JobID     string `json:"jobId"`
	Action    string `json:"assignmentAction"`
	UpdatedAt string `json:"assignmentUpdatedAt"` // RFC 3339
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"jobId":        {Type: "string", Pattern: validation.UUIDPattern},
			"contractorId": {Type: "string", Pattern: validation.UUIDPattern},
			"action":       {Type: "string", Enum: []string{ActionDecline, ActionStart, ActionComplete}},
		},
		Required:             []string{"jobId", "action"},
		AdditionalProperties: true,
	}
}
