// internal/workers/settlement/run-payout-batch/handler.go
package runpayoutbatch

import (
	"context"
	"time"

	"cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/metrics"
	"cleaner-dispatch/internal/common/observability"
	"cleaner-dispatch/internal/common/validation"
	"cleaner-dispatch/internal/settlement"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "run-payout-batch"

// BatchTrigger is satisfied by *settlement.Scheduler, which holds the
// cross-process batch lock around the run.
type BatchTrigger interface {
	RunOnce(ctx context.Context, trigger time.Time) (*settlement.Report, bool, error)
}

type Handler struct {
	config     *Config
	trigger    BatchTrigger
	obs        *observability.Observability
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(cfg *Config, trigger BatchTrigger, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     cfg,
		trigger:    trigger,
		obs:        obs,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("manual payout batch requested", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

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

	input := &Input{}
	if raw, ok := vars["periodEnd"].(string); ok && raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.NewValidationError("periodEnd: " + err.Error())
		}
		input.PeriodEnd = end.UTC()
	}
	return input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	trigger := input.PeriodEnd
	if trigger.IsZero() {
		trigger = h.now()
	}

	report, ran, err := h.trigger.RunOnce(ctx, trigger)
	if err != nil {
		return nil, errors.NewDatabaseError("run payout batch", err)
	}
	if !ran {
		return &Output{Ran: false, FailedContractorIDs: []string{}}, nil
	}

	return &Output{
		Ran:                 true,
		RunID:               report.RunID,
		PeriodStart:         report.PeriodStart.Format(time.RFC3339),
		PeriodEnd:           report.PeriodEnd.Format(time.RFC3339),
		PaidCount:           len(report.Paid),
		SkippedCount:        len(report.Skipped),
		FailedCount:         len(report.Failed),
		TotalPaidCents:      report.TotalPaidCents(),
		FailedContractorIDs: append([]string{}, report.Failed...),
	}, nil
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
		return
	}
	h.logger.Info("payout batch job completed", map[string]interface{}{
		"jobKey": job.Key,
		"ran":    output.Ran,
		"paid":   output.PaidCount,
		"failed": output.FailedCount,
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
