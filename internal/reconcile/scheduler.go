package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is what the scheduler runs on every tick.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, trigger string) (Result, error)
}

// Scheduler runs sweeps on a cron schedule. A tick that fires while the
// previous sweep is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewScheduler parses schedule (standard five-field cron or a descriptor such
// as @hourly) and registers the sweep job. timeout bounds a single sweep.
func NewScheduler(schedule string, sweeper Sweeper, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	s := &Scheduler{
		sweeper: sweeper,
		timeout: timeout,
		now:     time.Now,
		log:     log,
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		),
	)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx, s.now(), models.SweepTriggerSchedule); err != nil {
		s.log.Error("scheduled sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("reconcile scheduler started")
}

// Stop stops scheduling and waits for a running sweep until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("reconcile scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
