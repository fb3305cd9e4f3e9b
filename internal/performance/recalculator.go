// Package performance recomputes contractor track-record metrics.
package performance

import (
	"context"
	"database/sql"
	"errors"

	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/models"
)

const (
	defaultRate    = 1.0
	defaultQuality = 5.0
)

// Rates are the derived metric fields written back to a contractor.
type Rates struct {
	AcceptanceRate float64 `json:"acceptanceRate"`
	CompletionRate float64 `json:"completionRate"`
	QualityScore   float64 `json:"qualityScore"`
	Rating         float64 `json:"rating"`
}

// ComputeRates derives rates from counters and the review mean. Missing
// history yields values that do not penalize a new contractor. Every claim
// bumps offered_count as well as accepted_count, so ratios above 1 only come
// from counters edited outside the ledger; those are clamped to 1.
func ComputeRates(offered, accepted, completed int, reviewMean float64, reviewCount int) Rates {
	r := Rates{
		AcceptanceRate: defaultRate,
		CompletionRate: defaultRate,
		QualityScore:   defaultQuality,
	}
	if offered > 0 {
		r.AcceptanceRate = ratio(accepted, offered)
	}
	if accepted > 0 {
		r.CompletionRate = ratio(completed, accepted)
	}
	if reviewCount > 0 {
		r.QualityScore = reviewMean
	}
	r.Rating = r.QualityScore
	return r
}

func ratio(num, den int) float64 {
	v := float64(num) / float64(den)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

type Recalculator struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRecalculator(db *sql.DB, log logger.Logger) *Recalculator {
	return &Recalculator{db: db, logger: log}
}

const selectHistory = `
	SELECT c.offered_count, c.accepted_count, c.completed_count,
	       COALESCE(AVG(r.rating), 0)::float8, COUNT(r.id)
	FROM contractors c
	LEFT JOIN reviews r ON r.contractor_id = c.id
	WHERE c.id = $1
	GROUP BY c.id
`

const updateRates = `
	UPDATE contractors
	SET acceptance_rate = $2, completion_rate = $3, quality_score = $4, rating = $5, updated_at = NOW()
	WHERE id = $1
	RETURNING status, account_active, latitude, longitude, service_radius_km, payout_account_id
`

// Recompute refreshes the contractor's rate fields from persisted counters
// and reviews. Running it twice without data changes writes identical values.
func (r *Recalculator) Recompute(ctx context.Context, contractorID string) (*models.ContractorProfile, error) {
	p := models.ContractorProfile{ID: contractorID}
	var (
		reviewMean  float64
		reviewCount int
	)

	err := r.db.QueryRowContext(ctx, selectHistory, contractorID).Scan(
		&p.OfferedCount, &p.AcceptedCount, &p.CompletedCount, &reviewMean, &reviewCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("contractor", contractorID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("select contractor history", err)
	}

	rates := ComputeRates(p.OfferedCount, p.AcceptedCount, p.CompletedCount, reviewMean, reviewCount)

	var lat, lng sql.NullFloat64
	err = r.db.QueryRowContext(ctx, updateRates,
		contractorID, rates.AcceptanceRate, rates.CompletionRate, rates.QualityScore, rates.Rating,
	).Scan(&p.Status, &p.AccountActive, &lat, &lng, &p.ServiceRadiusKm, &p.PayoutAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("contractor", contractorID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("update contractor rates", err)
	}

	if lat.Valid && lng.Valid {
		p.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	p.AcceptanceRate = &rates.AcceptanceRate
	p.CompletionRate = &rates.CompletionRate
	p.QualityScore = &rates.QualityScore
	p.Rating = &rates.Rating

	r.logger.Info("contractor metrics recomputed", map[string]interface{}{
		"contractorId":   contractorID,
		"acceptanceRate": rates.AcceptanceRate,
		"completionRate": rates.CompletionRate,
		"qualityScore":   rates.QualityScore,
		"reviews":        reviewCount,
	})
	return &p, nil
}
