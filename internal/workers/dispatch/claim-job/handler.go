// internal/workers/dispatch/claim-job/handler.go
package claimjob

import (
	"context"
	"time"

	"cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/metrics"
	"cleaner-dispatch/internal/common/observability"
	"cleaner-dispatch/internal/common/validation"
	"cleaner-dispatch/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "claim-job"

// Claimer is satisfied by *ledger.Ledger.
type Claimer interface {
	Claim(ctx context.Context, jobID, contractorID string) (*models.Assignment, error)
}

type Handler struct {
	config     *Config
	claimer    Claimer
	obs        *observability.Observability
	errHandler *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(cfg *Config, claimer Claimer, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     cfg,
		claimer:    claimer,
		obs:        obs,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
	}
}

// Handle reports a lost race as the JOB_NO_LONGER_AVAILABLE BPMN error so the
// process can tell the contractor; database failures go back with retries.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.execute(ctx, input)
		if err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
			h.obs.RecordJobProcessed(ctx, TaskType, "completed")
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.errHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	vars, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewValidationError("parse job variables: " + err.Error())
	}
	if err := validation.Validate(vars, GetInputSchema()); err != nil {
		return nil, err
	}
	return &Input{
		JobID:        vars["jobId"].(string),
		ContractorID: vars["contractorId"].(string),
	}, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	assignment, err := h.claimer.Claim(ctx, input.JobID, input.ContractorID)
	if err != nil {
		return nil, err
	}

	claimedAt := assignment.CreatedAt
	if assignment.RespondedAt != nil {
		claimedAt = *assignment.RespondedAt
	}
	return &Output{
		Claimed:      true,
		AssignmentID: assignment.ID,
		ContractorID: assignment.ContractorID,
		ClaimedAt:    claimedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
