// Package ledger owns offers and the claim protocol for jobs.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cleaner-dispatch/internal/common/aws"
	"cleaner-dispatch/internal/common/database"
	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/metrics"
	"cleaner-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultOfferTTL = 15 * time.Minute

// Notifier receives offer events after they are committed.
type Notifier interface {
	NotifyOffered(ctx context.Context, events []aws.OfferEvent)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Ledger struct {
	db       *sql.DB
	offerTTL time.Duration
	notifier Notifier
	logger   logger.Logger
	now      func() time.Time
}

// New returns a Ledger. notifier may be nil.
func New(db *sql.DB, offerTTL time.Duration, notifier Notifier, log logger.Logger) *Ledger {
	if offerTTL <= 0 {
		offerTTL = DefaultOfferTTL
	}
	return &Ledger{
		db:       db,
		offerTTL: offerTTL,
		notifier: notifier,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var tracer = otel.Tracer("cleaner-dispatch/ledger")

// Offer moves the job to OFFERED and creates one PENDING assignment per
// contractor. Notifications are sent after commit and never fail the call.
func (l *Ledger) Offer(ctx context.Context, jobID string, contractorIDs []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ledger.offer")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID), attribute.Int("offer.count", len(contractorIDs)))

	contractorIDs = dedupe(contractorIDs)
	if len(contractorIDs) == 0 {
		return nil, apperrors.NewValidationError("offer requires at least one contractor")
	}

	now := l.now()
	expiresAt := now.Add(l.offerTTL)
	ids := make([]string, 0, len(contractorIDs))
	events := make([]aws.OfferEvent, 0, len(contractorIDs))

	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'OFFERED', updated_at = $2
			WHERE id = $1 AND status IN ('CREATED', 'OFFERED')`, jobID, now)
		if err != nil {
			return apperrors.NewDatabaseError("offer job", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return l.unavailable(ctx, tx, jobID, "job is not open for offers")
		}

		for _, cid := range contractorIDs {
			id := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO assignments (id, job_id, contractor_id, status, expires_at, created_at)
				VALUES ($1, $2, $3, 'PENDING', $4, $5)`, id, jobID, cid, expiresAt, now); err != nil {
				return mapWriteError("insert assignment", "contractor", cid, err)
			}
			if err := incrementCounter(ctx, tx, "offered_count", cid); err != nil {
				return err
			}
			ids = append(ids, id)
			events = append(events, aws.OfferEvent{AssignmentID: id, JobID: jobID, ContractorID: cid, ExpiresAt: expiresAt})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.OffersCreated.Add(float64(len(ids)))
	l.logger.Info("job offered", map[string]interface{}{
		"jobId":       jobID,
		"contractors": contractorIDs,
		"expiresAt":   expiresAt,
	})

	if l.notifier != nil {
		l.notifier.NotifyOffered(ctx, events)
	}
	return ids, nil
}

// Claim arbitrates acceptance. Exactly one contractor can win a job: the job
// row is flipped with a single conditional update and only the caller whose
// update affected a row goes on to record the ACCEPTED assignment.
func (l *Ledger) Claim(ctx context.Context, jobID, contractorID string) (*models.Assignment, error) {
	ctx, span := tracer.Start(ctx, "ledger.claim")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID), attribute.String("contractor.id", contractorID))

	now := l.now()
	var (
		accepted *models.Assignment
		expired  bool
	)

	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		offer, err := latestAssignment(ctx, tx, jobID, contractorID)
		if err != nil {
			return err
		}

		if offer != nil {
			switch {
			case offer.IsExpired(now):
				if _, err := tx.ExecContext(ctx, `
					UPDATE assignments SET status = 'EXPIRED', responded_at = $2
					WHERE id = $1 AND status = 'PENDING'`, offer.ID, now); err != nil {
					return apperrors.NewDatabaseError("expire assignment", err)
				}
				expired = true
				return nil
			case offer.Status == models.AssignmentRejected || offer.Status == models.AssignmentExpired:
				return apperrors.NewConflictError("offer no longer open", "assignment "+offer.ID+" is "+string(offer.Status))
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'CLAIMED', contractor_id = $2, updated_at = $3
			WHERE id = $1 AND status IN ('CREATED', 'OFFERED')`, jobID, contractorID, now)
		if err != nil {
			return mapWriteError("claim job", "contractor", contractorID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return l.unavailable(ctx, tx, jobID, "job no longer available")
		}

		if offer != nil && offer.Status == models.AssignmentPending {
			if _, err := tx.ExecContext(ctx, `
				UPDATE assignments SET status = 'ACCEPTED', responded_at = $2
				WHERE id = $1 AND status = 'PENDING'`, offer.ID, now); err != nil {
				return mapWriteError("accept assignment", "contractor", contractorID, err)
			}
			offer.Status = models.AssignmentAccepted
			offer.RespondedAt = &now
			accepted = offer
		} else {
			accepted = &models.Assignment{
				ID:           uuid.NewString(),
				JobID:        jobID,
				ContractorID: contractorID,
				Status:       models.AssignmentAccepted,
				ExpiresAt:    now,
				CreatedAt:    now,
				RespondedAt:  &now,
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO assignments (id, job_id, contractor_id, status, expires_at, created_at, responded_at)
				VALUES ($1, $2, $3, 'ACCEPTED', $4, $4, $4)`, accepted.ID, jobID, contractorID, now); err != nil {
				return mapWriteError("insert accepted assignment", "contractor", contractorID, err)
			}
			// An open-board pickup is an offer accepted on the spot.
			if err := incrementCounter(ctx, tx, "offered_count", contractorID); err != nil {
				return err
			}
		}

		return incrementCounter(ctx, tx, "accepted_count", contractorID)
	})

	if err == nil && expired {
		err = apperrors.NewConflictError("offer expired", "job "+jobID)
		metrics.OffersExpired.Inc()
	}
	if err != nil {
		metrics.ClaimOutcomes.WithLabelValues(claimOutcome(err, expired)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Info("claim rejected", map[string]interface{}{
			"jobId":        jobID,
			"contractorId": contractorID,
			"error":        err,
		})
		return nil, err
	}

	metrics.ClaimOutcomes.WithLabelValues("won").Inc()
	l.logger.Info("job claimed", map[string]interface{}{
		"jobId":        jobID,
		"contractorId": contractorID,
		"assignmentId": accepted.ID,
	})
	return accepted, nil
}

// Decline rejects the contractor's open offer for the job.
func (l *Ledger) Decline(ctx context.Context, jobID, contractorID string) error {
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE assignments SET status = 'REJECTED', responded_at = $3
		WHERE job_id = $1 AND contractor_id = $2 AND status = 'PENDING' AND expires_at >= $3`,
		jobID, contractorID, now)
	if err != nil {
		return apperrors.NewDatabaseError("decline assignment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("no open offer to decline", "job "+jobID+", contractor "+contractorID)
	}
	return nil
}

// Start moves a claimed job to IN_PROGRESS.
func (l *Ledger) Start(ctx context.Context, jobID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'IN_PROGRESS', updated_at = $2
		WHERE id = $1 AND status = 'CLAIMED'`, jobID, l.now())
	if err != nil {
		return apperrors.NewDatabaseError("start job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return l.unavailable(ctx, l.db, jobID, "job is not claimed")
	}
	return nil
}

// Complete marks the job COMPLETED and bumps the claimant's completed counter.
func (l *Ledger) Complete(ctx context.Context, jobID string) error {
	now := l.now()
	return database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var contractorID string
		err := tx.QueryRowContext(ctx, `
			UPDATE jobs SET status = 'COMPLETED', completed_at = $2, updated_at = $2
			WHERE id = $1 AND status IN ('CLAIMED', 'IN_PROGRESS')
			RETURNING contractor_id`, jobID, now).Scan(&contractorID)
		if errors.Is(err, sql.ErrNoRows) {
			return l.unavailable(ctx, tx, jobID, "job is not in progress")
		}
		if err != nil {
			return apperrors.NewDatabaseError("complete job", err)
		}
		return incrementCounter(ctx, tx, "completed_count", contractorID)
	})
}

// ExpireStale flips every PENDING assignment past its TTL to EXPIRED.
func (l *Ledger) ExpireStale(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE assignments SET status = 'EXPIRED', responded_at = $1
		WHERE status = 'PENDING' AND expires_at < $1`, l.now())
	if err != nil {
		return 0, apperrors.NewDatabaseError("expire stale assignments", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.OffersExpired.Add(float64(n))
		l.logger.Info("expired stale offers", map[string]interface{}{"count": n})
	}
	return n, nil
}

func latestAssignment(ctx context.Context, tx dbtx, jobID, contractorID string) (*models.Assignment, error) {
	a := models.Assignment{JobID: jobID, ContractorID: contractorID}
	err := tx.QueryRowContext(ctx, `
		SELECT id, status, expires_at, created_at
		FROM assignments
		WHERE job_id = $1 AND contractor_id = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, jobID, contractorID).Scan(&a.ID, &a.Status, &a.ExpiresAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("select assignment", err)
	}
	return &a, nil
}

// unavailable distinguishes a missing job from one in the wrong state after a
// conditional update affected no rows.
func (l *Ledger) unavailable(ctx context.Context, q dbtx, jobID, msg string) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError("job", jobID)
	}
	if err != nil {
		return apperrors.NewDatabaseError("select job status", err)
	}
	return apperrors.NewConflictError(msg, "job "+jobID+" is "+status)
}

func incrementCounter(ctx context.Context, tx dbtx, column, contractorID string) error {
	// column is one of a fixed set of identifiers, never user input.
	res, err := tx.ExecContext(ctx,
		`UPDATE contractors SET `+column+` = `+column+` + 1, updated_at = NOW() WHERE id = $1`, contractorID)
	if err != nil {
		return apperrors.NewDatabaseError("increment "+column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("contractor", contractorID)
	}
	return nil
}

// mapWriteError translates constraint violations into domain errors.
func mapWriteError(op, resource, id string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			return apperrors.NewNotFoundError(resource, id)
		case "23505": // unique_violation
			return apperrors.NewConflictError("job no longer available", pqErr.Constraint)
		}
	}
	return apperrors.NewDatabaseError(op, err)
}

func claimOutcome(err error, expired bool) string {
	switch {
	case expired:
		return "expired"
	case apperrors.IsCode(err, apperrors.ErrCodeConflict):
		return "conflict"
	case apperrors.IsCode(err, apperrors.ErrCodeNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
