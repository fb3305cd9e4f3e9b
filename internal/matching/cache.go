package matching

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/models"

	"github.com/redis/go-redis/v9"
)

const eligibleContractorsKey = "dispatch:contractors:eligible"

// CachedRepository keeps a short-lived Redis snapshot of the eligible
// contractor set. Redis failures fall through to the wrapped repository.
type CachedRepository struct {
	next   Repository
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedRepository(next Repository, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedRepository {
	return &CachedRepository{next: next, rdb: rdb, ttl: ttl, logger: log}
}

// GetJob is never cached; job status moves too often.
func (r *CachedRepository) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return r.next.GetJob(ctx, jobID)
}

func (r *CachedRepository) ListEligibleContractors(ctx context.Context) ([]models.ContractorProfile, error) {
	raw, err := r.rdb.Get(ctx, eligibleContractorsKey).Bytes()
	switch {
	case err == nil:
		var cached []models.ContractorProfile
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		r.logger.Warn("discarding unreadable contractor snapshot", map[string]interface{}{"key": eligibleContractorsKey})
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn("contractor cache read failed", map[string]interface{}{"error": err})
	}

	contractors, err := r.next.ListEligibleContractors(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(contractors); err == nil {
		if err := r.rdb.Set(ctx, eligibleContractorsKey, payload, r.ttl).Err(); err != nil {
			r.logger.Warn("contractor cache write failed", map[string]interface{}{"error": err})
		}
	}
	return contractors, nil
}

// Invalidate drops the snapshot so the next rank reads Postgres.
func (r *CachedRepository) Invalidate(ctx context.Context) error {
	return r.rdb.Del(ctx, eligibleContractorsKey).Err()
}
