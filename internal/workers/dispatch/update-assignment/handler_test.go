// internal/workers/dispatch/update-assignment/handler_test.go
package updateassignment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testJobID        = "5b0c7a8e-2f4d-4c61-9d3a-1e2f3a4b5c6d"
	testContractorID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

type MockTransitioner struct {
	mock.Mock
}

func (m *MockTransitioner) Decline(ctx context.Context, jobID, contractorID string) error {
	return m.Called(ctx, jobID, contractorID).Error(0)
}

func (m *MockTransitioner) Start(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *MockTransitioner) Complete(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func createMockJob(variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:       11,
		Type:      TaskType,
		Retries:   3,
		Variables: string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T, l Transitioner) *Handler {
	h := NewHandler(&Config{Enabled: true, Timeout: 5 * time.Second}, l, nil, logger.NewTestLogger(t))
	h.now = func() time.Time { return time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC) }
	return h
}

func TestHandler_Execute_DispatchesAction(t *testing.T) {
	tests := []struct {
		name   string
		input  Input
		expect func(m *MockTransitioner)
	}{
		{"decline", Input{JobID: testJobID, ContractorID: testContractorID, Action: ActionDecline}, func(m *MockTransitioner) {
			m.On("Decline", mock.Anything, testJobID, testContractorID).Return(nil)
		}},
		{"start", Input{JobID: testJobID, Action: ActionStart}, func(m *MockTransitioner) {
			m.On("Start", mock.Anything, testJobID).Return(nil)
		}},
		{"complete", Input{JobID: testJobID, Action: ActionComplete}, func(m *MockTransitioner) {
			m.On("Complete", mock.Anything, testJobID).Return(nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &MockTransitioner{}
			tt.expect(l)

			out, err := newTestHandler(t, l).Execute(context.Background(), &tt.input)
			require.NoError(t, err)
			assert.Equal(t, testJobID, out.JobID)
			assert.Equal(t, tt.input.Action, out.Action)
			assert.Equal(t, "2026-03-02T15:30:00Z", out.UpdatedAt)
			l.AssertExpectations(t)
		})
	}
}

func TestHandler_Execute_WrongStateIsConflict(t *testing.T) {
	l := &MockTransitioner{}
	l.On("Start", mock.Anything, testJobID).Return(apperrors.NewConflictError("job is not claimed", "job "+testJobID))

	out, err := newTestHandler(t, l).Execute(context.Background(), &Input{JobID: testJobID, Action: ActionStart})
	require.Error(t, err)
	assert.Nil(t, out)

	bpmn := apperrors.ConvertToBPMNError(apperrors.Normalize(err))
	assert.Equal(t, "JOB_NO_LONGER_AVAILABLE", bpmn.Code)
	l.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, &MockTransitioner{})

	tests := []struct {
		name    string
		vars    map[string]interface{}
		want    *Input
		wantErr string
	}{
		{"complete", map[string]interface{}{"jobId": testJobID, "action": "complete"},
			&Input{JobID: testJobID, Action: ActionComplete}, ""},
		{"decline with contractor", map[string]interface{}{"jobId": testJobID, "contractorId": testContractorID, "action": "decline"},
			&Input{JobID: testJobID, ContractorID: testContractorID, Action: ActionDecline}, ""},
		{"decline without contractor", map[string]interface{}{"jobId": testJobID, "action": "decline"}, nil, "contractorId"},
		{"unknown action", map[string]interface{}{"jobId": testJobID, "action": "cancel"}, nil, "action"},
		{"missing job", map[string]interface{}{"action": "start"}, nil, "jobId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.parseInput(createMockJob(tt.vars))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
