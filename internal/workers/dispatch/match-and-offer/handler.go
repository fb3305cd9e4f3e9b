// internal/workers/dispatch/match-and-offer/handler.go
package matchandoffer

import (
	"context"
	"time"

	"cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/metrics"
	"cleaner-dispatch/internal/common/observability"
	"cleaner-dispatch/internal/common/validation"
	"cleaner-dispatch/internal/matching"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
)

const TaskType = "match-and-offer"

// Ranker is satisfied by *matching.Engine.
type Ranker interface {
	Rank(ctx context.Context, jobID string) ([]matching.Candidate, error)
}

// Offerer is satisfied by *ledger.Ledger.
type Offerer interface {
	Offer(ctx context.Context, jobID string, contractorIDs []string) ([]string, error)
}

type Handler struct {
	config     *Config
	ranker     Ranker
	offerer    Offerer
	obs        *observability.Observability
	errHandler *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(cfg *Config, ranker Ranker, offerer Offerer, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     cfg,
		ranker:     ranker,
		offerer:    offerer,
		obs:        obs,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err, start)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err, start)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "completed")
	h.obs.RecordJobProcessed(ctx, TaskType, "completed")
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	vars, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewValidationError("parse job variables: " + err.Error())
	}
	if err := validation.Validate(vars, GetInputSchema()); err != nil {
		return nil, err
	}
	return &Input{JobID: vars["jobId"].(string)}, nil
}

// execute never fails the workflow because of matching: any ranking or offer
// problem routes the job to manual review instead.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, span := h.obs.StartSpan(ctx, "worker.match-and-offer", attribute.String("job.id", input.JobID))
	defer span.End()

	candidates, err := h.ranker.Rank(ctx, input.JobID)
	if err != nil {
		return h.manualReview(input, "rank_failed", err), nil
	}

	top := matching.TopN(candidates, h.config.CandidatesToOffer)
	if len(top) == 0 {
		return h.manualReview(input, "no_candidates", nil), nil
	}

	ids := make([]string, len(top))
	for i, c := range top {
		ids[i] = c.ContractorID
	}

	assignmentIDs, err := h.offerer.Offer(ctx, input.JobID, ids)
	if err != nil {
		return h.manualReview(input, "offer_failed", err), nil
	}

	metrics.MatchOutcomes.WithLabelValues("offered").Inc()
	h.logger.Info("offers created", map[string]interface{}{
		"jobId":       input.JobID,
		"contractors": ids,
		"topScore":    top[0].Score,
	})
	return &Output{
		Matched:       true,
		ContractorIDs: ids,
		AssignmentIDs: assignmentIDs,
	}, nil
}

func (h *Handler) manualReview(input *Input, reason string, cause error) *Output {
	metrics.MatchOutcomes.WithLabelValues(reason).Inc()
	fields := map[string]interface{}{"jobId": input.JobID, "reason": reason}
	if cause != nil {
		fields["error"] = cause.Error()
		fields["errorCode"] = string(errors.Normalize(cause).Code)
	}
	h.logger.Warn("job routed to manual review", fields)
	return &Output{
		ManualReview:  true,
		ContractorIDs: []string{},
		AssignmentIDs: []string{},
		Reason:        reason,
	}
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
		return
	}
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":  job.Key,
		"matched": output.Matched,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	code := string(errors.Normalize(err).Code)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, code).Inc()
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.errHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
