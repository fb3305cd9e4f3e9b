package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cleaner-dispatch/internal/common/logger"

	pglock "github.com/allisson/go-pglock/v3"
	"github.com/robfig/cron/v3"
)

// BatchRunner is satisfied by *Processor.
type BatchRunner interface {
	Run(ctx context.Context, periodStart, periodEnd time.Time) (*Report, error)
}

// Expirer is satisfied by *ledger.Ledger.
type Expirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Locker acquires a cross-process lock without blocking. ok is false when
// another process holds it.
type Locker interface {
	TryLock(ctx context.Context, id int64) (unlock func(), ok bool, err error)
}

// PGLocker uses Postgres session advisory locks.
type PGLocker struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPGLocker(db *sql.DB, log logger.Logger) *PGLocker {
	return &PGLocker{db: db, logger: log}
}

func (l *PGLocker) TryLock(ctx context.Context, id int64) (func(), bool, error) {
	lock, err := pglock.NewLock(ctx, id, l.db)
	if err != nil {
		return nil, false, fmt.Errorf("create advisory lock: %w", err)
	}

	ok, err := lock.Lock(ctx)
	if err != nil || !ok {
		_ = lock.Close()
		return nil, false, err
	}

	unlock := func() {
		// Fresh context: the run context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(ctx); err != nil {
			l.logger.Warn("releasing advisory lock", map[string]interface{}{"lockId": id, "error": err})
		}
		_ = lock.Close()
	}
	return unlock, true, nil
}

type SchedulerConfig struct {
	Schedule            string
	ExpirySweepSchedule string
	PeriodDays          int
	LockID              int64
}

// Scheduler triggers the weekly payout batch and the offer expiry sweep.
type Scheduler struct {
	cron    *cron.Cron
	runner  BatchRunner
	expirer Expirer
	locker  Locker
	cfg     SchedulerConfig
	logger  logger.Logger
}

// NewScheduler registers both cron entries. expirer may be nil, and an empty
// ExpirySweepSchedule disables the sweep.
func NewScheduler(runner BatchRunner, expirer Expirer, locker Locker, cfg SchedulerConfig, log logger.Logger) (*Scheduler, error) {
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = 7
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		runner:  runner,
		expirer: expirer,
		locker:  locker,
		cfg:     cfg,
		logger:  log,
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, func() {
		if _, _, err := s.RunOnce(context.Background(), time.Now().UTC()); err != nil {
			s.logger.Error("scheduled payout batch failed", map[string]interface{}{"error": err})
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid settlement schedule %q: %w", cfg.Schedule, err)
	}

	if expirer != nil && cfg.ExpirySweepSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.ExpirySweepSchedule, s.sweep); err != nil {
			return nil, fmt.Errorf("invalid expiry sweep schedule %q: %w", cfg.ExpirySweepSchedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("settlement scheduler started", map[string]interface{}{
		"schedule":            s.cfg.Schedule,
		"expirySweepSchedule": s.cfg.ExpirySweepSchedule,
	})
}

// Stop prevents new runs and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PeriodFor returns the settlement period [trigger-days, trigger).
func PeriodFor(trigger time.Time, days int) (time.Time, time.Time) {
	end := trigger.UTC()
	return end.AddDate(0, 0, -days), end
}

// RunOnce runs a batch for the period ending at trigger if no other process
// holds the batch lock. ran is false when the lock was busy.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) (*Report, bool, error) {
	unlock, ok, err := s.locker.TryLock(ctx, s.cfg.LockID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.logger.Info("payout batch already running elsewhere, skipping", map[string]interface{}{"lockId": s.cfg.LockID})
		return nil, false, nil
	}
	defer unlock()

	start, end := PeriodFor(trigger, s.cfg.PeriodDays)
	report, err := s.runner.Run(ctx, start, end)
	return report, true, err
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.expirer.ExpireStale(ctx); err != nil {
		s.logger.Warn("offer expiry sweep failed", map[string]interface{}{"error": err})
	}
}
