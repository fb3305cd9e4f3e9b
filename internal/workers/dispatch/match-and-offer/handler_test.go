// internal/workers/dispatch/match-and-offer/handler_test.go
package matchandoffer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cleaner-dispatch/internal/common/config"
	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/matching"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testJobID = "5b0c7a8e-2f4d-4c61-9d3a-1e2f3a4b5c6d"

// ==========================
// Mocks
// ==========================

type MockRanker struct {
	mock.Mock
}

func (m *MockRanker) Rank(ctx context.Context, jobID string) ([]matching.Candidate, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]matching.Candidate), args.Error(1)
}

type MockOfferer struct {
	mock.Mock
}

func (m *MockOfferer) Offer(ctx context.Context, jobID string, contractorIDs []string) ([]string, error) {
	args := m.Called(ctx, jobID, contractorIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "cleaning-job",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T, ranker Ranker, offerer Offerer) *Handler {
	cfg := &Config{Enabled: true, Timeout: 5 * time.Second, CandidatesToOffer: 3}
	return NewHandler(cfg, ranker, offerer, nil, logger.NewTestLogger(t))
}

func candidates(ids ...string) []matching.Candidate {
	out := make([]matching.Candidate, len(ids))
	for i, id := range ids {
		out[i] = matching.Candidate{ContractorID: id, Score: 1 - float64(i)/10}
	}
	return out
}

// ==========================
// Execute
// ==========================

func TestHandler_Execute_OffersTopCandidates(t *testing.T) {
	ranker := &MockRanker{}
	offerer := &MockOfferer{}
	ranker.On("Rank", mock.Anything, testJobID).Return(candidates("c-1", "c-2", "c-3", "c-4", "c-5"), nil)
	offerer.On("Offer", mock.Anything, testJobID, []string{"c-1", "c-2", "c-3"}).
		Return([]string{"a-1", "a-2", "a-3"}, nil)

	out, err := newTestHandler(t, ranker, offerer).Execute(context.Background(), &Input{JobID: testJobID})
	require.NoError(t, err)

	assert.True(t, out.Matched)
	assert.False(t, out.ManualReview)
	assert.Equal(t, []string{"c-1", "c-2", "c-3"}, out.ContractorIDs)
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, out.AssignmentIDs)
	ranker.AssertExpectations(t)
	offerer.AssertExpectations(t)
}

func TestHandler_Execute_RoutesToManualReview(t *testing.T) {
	tests := []struct {
		name       string
		ranked     []matching.Candidate
		rankErr    error
		offerErr   error
		wantReason string
	}{
		{
			name:       "ranking fails",
			rankErr:    apperrors.NewValidationError("job has no resolved location"),
			wantReason: "rank_failed",
		},
		{
			name:       "no eligible contractors",
			ranked:     []matching.Candidate{},
			wantReason: "no_candidates",
		},
		{
			name:       "job claimed before offers were written",
			ranked:     candidates("c-1"),
			offerErr:   apperrors.NewConflictError("job not offerable", "status CLAIMED"),
			wantReason: "offer_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranker := &MockRanker{}
			offerer := &MockOfferer{}
			if tt.rankErr != nil {
				ranker.On("Rank", mock.Anything, testJobID).Return(nil, tt.rankErr)
			} else {
				ranker.On("Rank", mock.Anything, testJobID).Return(tt.ranked, nil)
			}
			if tt.offerErr != nil {
				offerer.On("Offer", mock.Anything, testJobID, mock.Anything).Return(nil, tt.offerErr)
			}

			out, err := newTestHandler(t, ranker, offerer).Execute(context.Background(), &Input{JobID: testJobID})
			require.NoError(t, err)

			assert.False(t, out.Matched)
			assert.True(t, out.ManualReview)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Empty(t, out.AssignmentIDs)
			if tt.offerErr == nil {
				offerer.AssertNotCalled(t, "Offer", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

// ==========================
// Input parsing
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, &MockRanker{}, &MockOfferer{})

	input, err := h.parseInput(createMockJob(1, map[string]interface{}{
		"jobId":    testJobID,
		"customer": "ignored",
	}))
	require.NoError(t, err)
	assert.Equal(t, testJobID, input.JobID)

	_, err = h.parseInput(createMockJob(2, map[string]interface{}{"jobId": "not-a-uuid"}))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	_, err = h.parseInput(createMockJob(3, map[string]interface{}{}))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	cfg := LoadConfig(&config.Config{})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.CandidatesToOffer)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}
