// internal/common/camunda/worker.go
package camunda

import (
	"fmt"
	"time"

	"cleaner-dispatch/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

type WorkerOptions struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

// StartWorker opens a job worker for taskType. It returns nil when the worker
// is disabled.
func (c *Client) StartWorker(taskType string, opts WorkerOptions, handler worker.JobHandler, log logger.Logger) worker.JobWorker {
	if !opts.Enabled {
		log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return nil
	}

	w := c.client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout).
		Name(fmt.Sprintf("%s-worker", taskType)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": opts.MaxJobsActive,
		"timeout":       opts.Timeout.String(),
	})
	return w
}
