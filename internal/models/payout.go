// internal/models/payout.go
package models

import "time"

const PayoutStatusPaid = "PAID"

type Payout struct {
	ID           string `json:"id"`
	ContractorID string `json:"contractorId"`
	AmountCents  int64  `json:"amountCents"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	TransferID   string `json:"transferId"`
	// IdempotencyKey is the key sent with the transfer; unique per payout.
	IdempotencyKey string    `json:"idempotencyKey"`
	PeriodStart    time.Time `json:"periodStart"`
	PeriodEnd      time.Time `json:"periodEnd"`
	JobIDs         []string  `json:"jobIds"`
	CreatedAt      time.Time `json:"createdAt"`
}
