package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	fakeRepo
	listCalls int
}

func (c *countingRepo) ListEligibleContractors(ctx context.Context) ([]models.ContractorProfile, error) {
	c.listCalls++
	return c.fakeRepo.ListEligibleContractors(ctx)
}

func TestCachedRepository_ServesSnapshotUntilTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingRepo{fakeRepo: fakeRepo{contractors: []models.ContractorProfile{
		contractor("a", 2, 20, 5, 1, 1),
	}}}
	repo := NewCachedRepository(inner, rdb, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := repo.ListEligibleContractors(ctx)
	require.NoError(t, err)
	second, err := repo.ListEligibleContractors(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.listCalls)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, *first[0].Rating, *second[0].Rating)
	assert.Len(t, second[0].Windows, 1)

	mr.FastForward(2 * time.Minute)
	_, err = repo.ListEligibleContractors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.listCalls)

	require.NoError(t, repo.Invalidate(ctx))
	assert.False(t, mr.Exists(eligibleContractorsKey))
}

func TestCachedRepository_FallsBackWhenRedisFails(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inner := &countingRepo{fakeRepo: fakeRepo{contractors: []models.ContractorProfile{
		contractor("a", 2, 20, 5, 1, 1),
	}}}
	repo := NewCachedRepository(inner, rdb, time.Minute, logger.NewTestLogger(t))

	mock.ExpectGet(eligibleContractorsKey).SetErr(errors.New("connection refused"))
	mock.Regexp().ExpectSet(eligibleContractorsKey, `.*`, time.Minute).SetErr(errors.New("connection refused"))

	got, err := repo.ListEligibleContractors(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, inner.listCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
