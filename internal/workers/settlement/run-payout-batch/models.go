// internal/workers/settlement/run-payout-batch/models.go
package runpayoutbatch

import (
	"time"

	"cleaner-dispatch/internal/common/validation"
)

type Input struct {
	// PeriodEnd closes the settlement period; zero means now.
	PeriodEnd time.Time
}

type Output struct {
	Ran                 bool     `json:"batchRan"`
	RunID               string   `json:"runId,omitempty"`
	PeriodStart         string   `json:"periodStart,omitempty"`
	PeriodEnd           string   `json:"periodEnd,omitempty"`
	PaidCount           int      `json:"paidCount"`
	SkippedCount        int      `json:"skippedCount"`
	FailedCount         int      `json:"failedCount"`
	TotalPaidCents      int64    `json:"totalPaidCents"`
	FailedContractorIDs []string `json:"failedContractorIds"`
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"periodEnd": {Type: "string", Format: "date-time"},
		},
		AdditionalProperties: true,
	}
}
