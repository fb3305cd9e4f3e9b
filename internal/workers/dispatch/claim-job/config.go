// internal/workers/dispatch/claim-job/config.go
package claimjob

import (
	"time"

	"cleaner-dispatch/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func LoadConfig(appCfg *config.Config) *Config {
	w := config.GetWorkerConfig(appCfg, TaskType)
	timeout := config.GetDuration(w.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{Enabled: w.Enabled, MaxJobsActive: w.MaxJobsActive, Timeout: timeout}
}
