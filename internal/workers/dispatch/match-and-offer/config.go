// internal/workers/dispatch/match-and-offer/config.go
package matchandoffer

import (
	"time"

	"cleaner-dispatch/internal/common/config"
)

type Config struct {
	Enabled           bool
	MaxJobsActive     int
	Timeout           time.Duration
	CandidatesToOffer int
}

func LoadConfig(appCfg *config.Config) *Config {
	w := config.GetWorkerConfig(appCfg, TaskType)
	cfg := &Config{
		Enabled:           w.Enabled,
		MaxJobsActive:     w.MaxJobsActive,
		Timeout:           config.GetDuration(w.Timeout),
		CandidatesToOffer: appCfg.Dispatch.CandidatesToOffer,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CandidatesToOffer <= 0 {
		cfg.CandidatesToOffer = 3
	}
	return cfg
}
