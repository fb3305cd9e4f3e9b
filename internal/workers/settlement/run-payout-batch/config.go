// internal/workers/settlement/run-payout-batch/config.go
package runpayoutbatch

import (
	"time"

	"cleaner-dispatch/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

// LoadConfig caps concurrency at one batch per worker instance and gives the
// batch minutes rather than seconds to finish.
func LoadConfig(appCfg *config.Config) *Config {
	w := config.GetWorkerConfig(appCfg, TaskType)
	timeout := config.GetDuration(w.Timeout)
	if timeout < 5*time.Minute {
		timeout = 5 * time.Minute
	}
	return &Config{Enabled: w.Enabled, MaxJobsActive: 1, Timeout: timeout}
}
