package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
	emojiusecase "emojivote/internal/usecase/emoji"
)

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (emojiusecase.SweepReport, error)
}

// Scheduler runs the tally sweep on a cron schedule in UTC. A sweep that is
// still running when the next one is due causes that run to be skipped.
type Scheduler struct {
	schedule cron.Schedule
	spec     string
	sweeper  Sweeper
	now      func() time.Time
}

func NewScheduler(spec string, sweeper Sweeper, now func() time.Time) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("tally schedule is required")
	}
	if sweeper == nil {
		return nil, errors.New("sweeper is required")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errs.Wrapf(err, "parse tally schedule %q", spec)
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{schedule: schedule, spec: spec, sweeper: sweeper, now: now}, nil
}

// Next returns the first sweep time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

func (s *Scheduler) RunOnce(ctx context.Context) (emojiusecase.SweepReport, error) {
	return s.sweeper.Sweep(ctx, s.now().UTC())
}

// Run blocks until ctx is done and waits for a running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.dispatch.scheduler"))
	logger := cronLogger{ctx: ctx}

	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	runner.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			logging.Error(ctx, "scheduled sweep failed", slog.Any("err", errs.Loggable(err)))
		}
	}))

	runner.Start()
	logging.Info(ctx, "scheduler started", slog.String("schedule", s.spec), slog.Time("next", s.Next(s.now())))

	<-ctx.Done()
	<-runner.Stop().Done()
	logging.Info(ctx, "scheduler stopped")
	return nil
}

// cronLogger routes cron's own logging into the context logger.
type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Logger(l.ctx).Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{slog.Any("err", errs.Loggable(err))}, keysAndValues...)
	logging.Logger(l.ctx).Error(msg, args...)
}
