package matching

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/models"

	"github.com/lib/pq"
)

// Repository loads the read model the engine ranks over.
type Repository interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListEligibleContractors(ctx context.Context) ([]models.ContractorProfile, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectJob = `
	SELECT id, status, scheduled_at, latitude, longitude, total_price_cents,
	       COALESCE(contractor_id::text, ''), payout_status, COALESCE(payout_id::text, ''), completed_at
	FROM jobs
	WHERE id = $1
`

func (r *PostgresRepository) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var (
		job         models.Job
		lat, lng    sql.NullFloat64
		completedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, selectJob, jobID).Scan(
		&job.ID, &job.Status, &job.ScheduledAt, &lat, &lng, &job.TotalPriceCents,
		&job.ContractorID, &job.PayoutStatus, &job.PayoutID, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("job", jobID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("select job", err)
	}

	job.Location = geoPoint(lat, lng)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

const selectEligibleContractors = `
	SELECT id, status, account_active, latitude, longitude, service_radius_km,
	       rating, acceptance_rate, completion_rate, quality_score,
	       offered_count, accepted_count, completed_count, payout_account_id
	FROM contractors
	WHERE status = 'ACTIVE' AND account_active
	ORDER BY id
`

const selectWindows = `
	SELECT contractor_id, day_of_week, start_time, end_time, active
	FROM availability_windows
	WHERE contractor_id = ANY($1)
`

func (r *PostgresRepository) ListEligibleContractors(ctx context.Context) ([]models.ContractorProfile, error) {
	rows, err := r.db.QueryContext(ctx, selectEligibleContractors)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select contractors", err)
	}
	defer rows.Close()

	var (
		out   []models.ContractorProfile
		ids   []string
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			c                                       models.ContractorProfile
			lat, lng                                sql.NullFloat64
			rating, acceptance, completion, quality sql.NullFloat64
		)
		if err := rows.Scan(
			&c.ID, &c.Status, &c.AccountActive, &lat, &lng, &c.ServiceRadiusKm,
			&rating, &acceptance, &completion, &quality,
			&c.OfferedCount, &c.AcceptedCount, &c.CompletedCount, &c.PayoutAccountID,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan contractor", err)
		}
		c.Location = geoPoint(lat, lng)
		c.Rating = nullable(rating)
		c.AcceptanceRate = nullable(acceptance)
		c.CompletionRate = nullable(completion)
		c.QualityScore = nullable(quality)

		index[c.ID] = len(out)
		ids = append(ids, c.ID)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate contractors", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	wrows, err := r.db.QueryContext(ctx, selectWindows, pq.Array(ids))
	if err != nil {
		return nil, apperrors.NewDatabaseError("select availability windows", err)
	}
	defer wrows.Close()

	for wrows.Next() {
		var (
			w   models.AvailabilityWindow
			day int
		)
		if err := wrows.Scan(&w.ContractorID, &day, &w.StartTime, &w.EndTime, &w.Active); err != nil {
			return nil, apperrors.NewDatabaseError("scan availability window", err)
		}
		w.DayOfWeek = time.Weekday(day)
		if i, ok := index[w.ContractorID]; ok {
			out[i].Windows = append(out[i].Windows, w)
		}
	}
	if err := wrows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate availability windows", err)
	}

	return out, nil
}

func geoPoint(lat, lng sql.NullFloat64) *models.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
