// internal/workers/contractor/recompute-metrics/handler.go
package recomputemetrics

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

const TaskType = "recompute-contractor-metrics"

// Recomputer is satisfied by *performance.Recalculator.
type Recomputer interface {
	Recompute(ctx context.Context, contractorID string) (*models.ContractorProfile, error)
}

// SnapshotInvalidator drops cached contractor snapshots so ranking sees new
// rates; *matching.CachedRepository implements it.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context) error
}

type Handler struct {
	config      *Config
	recomputer  Recomputer
	invalidator SnapshotInvalidator
	obs         *observability.Observability
	errHandler  *errors.ErrorHandler
	logger      logger.Logger
}

// NewHandler builds the worker. invalidator may be nil when the contractor
// cache is disabled.
func NewHandler(cfg *Config, r Recomputer, invalidator SnapshotInvalidator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:      cfg,
		recomputer:  r,
		invalidator: invalidator,
		obs:         obs,
		errHandler:  errors.NewErrorHandler(log),
		logger:      log,
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
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
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
	return &Input{ContractorID: vars["contractorId"].(string)}, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	p, err := h.recomputer.Recompute(ctx, input.ContractorID)
	if err != nil {
		return nil, err
	}

	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(ctx); err != nil {
			h.logger.Warn("contractor cache invalidation failed", map[string]interface{}{
				"contractorId": input.ContractorID,
				"error":        err.Error(),
			})
		}
	}

	return &Output{
		ContractorID:   p.ID,
		AcceptanceRate: deref(p.AcceptanceRate),
		CompletionRate: deref(p.CompletionRate),
		QualityScore:   deref(p.QualityScore),
		Rating:         deref(p.Rating),
	}, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"jobKey": job.Key, "error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"jobKey": job.Key, "error": err.Error()})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
