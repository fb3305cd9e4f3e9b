// internal/workers/dispatch/update-assignment/handler.go
package updateassignment

import (
	"context"
	"time"

	"cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/metrics"
	"cleaner-dispatch/internal/common/observability"
	"cleaner-dispatch/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "update-assignment"

// Transitioner is satisfied by *ledger.Ledger.
type Transitioner interface {
	Decline(ctx context.Context, jobID, contractorID string) error
	Start(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string) error
}

type Handler struct {
	config     *Config
	ledger     Transitioner
	obs        *observability.Observability
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(cfg *Config, ledger Transitioner, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     cfg,
		ledger:     ledger,
		obs:        obs,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
		now:        time.Now,
	}
}

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
			h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "completed")
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

	input := &Input{
		JobID:  vars["jobId"].(string),
		Action: vars["action"].(string),
	}
	if cid, ok := vars["contractorId"].(string); ok {
		input.ContractorID = cid
	}
	if input.Action == ActionDecline && input.ContractorID == "" {
		return nil, errors.NewValidationError("contractorId: required to decline an offer")
	}
	return input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	var err error
	switch input.Action {
	case ActionDecline:
		err = h.ledger.Decline(ctx, input.JobID, input.ContractorID)
	case ActionStart:
		err = h.ledger.Start(ctx, input.JobID)
	case ActionComplete:
		err = h.ledger.Complete(ctx, input.JobID)
	default:
		err = errors.NewValidationError("action: unsupported value " + input.Action)
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("assignment updated", map[string]interface{}{
		"jobId":  input.JobID,
		"action": input.Action,
	})
	return &Output{
		JobID:     input.JobID,
		Action:    input.Action,
		UpdatedAt: h.now().UTC().Format(time.RFC3339),
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
