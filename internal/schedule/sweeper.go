// Package schedule runs queue sweeps on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

// SweepFunc claims and runs at most one queued job, reporting whether it found one.
type SweepFunc func(ctx context.Context) (bool, error)

type Option func(*Sweeper)

// WithMaxPerRun lets one scheduled run drain up to n jobs.
func WithMaxPerRun(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxPerRun = n
		}
	}
}

// WithRunTimeout bounds one scheduled run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// Sweeper fires SweepFunc on a cron schedule. A run that is still going when
// the next one is due causes that next run to be skipped.
type Sweeper struct {
	cron       *cron.Cron
	entry      cron.EntryID
	sweep      SweepFunc
	maxPerRun  int
	runTimeout time.Duration
	logger     *slog.Logger

	base   context.Context
	cancel context.CancelFunc
}

// New parses schedule (standard five-field, optional seconds, or @every/@hourly descriptors).
func New(schedule string, sweep SweepFunc, logger *slog.Logger, opts ...Option) (*Sweeper, error) {
	logger = common.OrDefault(logger)
	s := &Sweeper{sweep: sweep, maxPerRun: 1, runTimeout: 5 * time.Minute, logger: logger}
	for _, o := range opts {
		o(s)
	}
	s.base, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{logger: logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(s.base, s.runTimeout)
	defer cancel()
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("schedule.sweep.failed", "processed", n, "err", err)
		return
	}
	s.logger.Info("schedule.sweep.done", "processed", n, "next", s.Next())
}

// RunOnce sweeps until the queue is empty, an error occurs, or the per-run
// limit is reached. It returns how many jobs were processed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n := 0
	for n < s.maxPerRun {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		processed, err := s.sweep(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			break
		}
		n++
	}
	return n, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("schedule.started", "next", s.Next())
}

// Next is when the sweep is due next, or zero before Start.
func (s *Sweeper) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop prevents new runs and waits for a running one. If ctx ends first the
// running sweep's context is cancelled.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("schedule.stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return ctx.Err()
	}
}

// cronLogger routes cron's logr-style logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("schedule.cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("schedule.cron."+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
