package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{"conflict", NewConflictError("job no longer available", "job-1"), "JOB_NO_LONGER_AVAILABLE", 0},
		{"not found", NewNotFoundError("job", "job-1"), "RESOURCE_NOT_FOUND", 0},
		{"validation", NewValidationError("job has no location"), "INVALID_INPUT", 0},
		{"database", NewDatabaseError("claim", stderrors.New("conn reset")), "DATABASE_ERROR", 3},
		{"gateway", NewExternalServiceError("transfer-gateway", stderrors.New("503")), "EXTERNAL_SERVICE_ERROR", 3},
		{"configuration", NewConfigurationError("no payout account"), "CONFIGURATION_ERROR", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, string(tt.err.Code), bpmn.ToErrorVariables()["originalErrorCode"])
		})
	}
}

func TestIsCode_SeesThroughWrapping(t *testing.T) {
	base := NewConflictError("offer expired", "assignment a-1")
	wrapped := fmt.Errorf("claim job-1: %w", base)

	assert.True(t, IsCode(wrapped, ErrCodeConflict))
	assert.False(t, IsCode(wrapped, ErrCodeNotFound))
	assert.False(t, IsCode(stderrors.New("plain"), ErrCodeConflict))
}

func TestStandardError_UnwrapsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewDatabaseError("select jobs", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "select jobs")
}

func TestNormalize_WrapsUnknownErrors(t *testing.T) {
	std := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, std.Code)
	assert.False(t, std.Retryable)

	conflict := NewConflictError("x", "")
	assert.Same(t, conflict, Normalize(fmt.Errorf("wrap: %w", conflict)))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "STATE", GetErrorCategory(ErrCodeConflict))
	assert.Equal(t, "STATE", GetErrorCategory(ErrCodeNotFound))
	assert.Equal(t, "INTEGRATION", GetErrorCategory(ErrCodeExternalService))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeDatabase))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}
