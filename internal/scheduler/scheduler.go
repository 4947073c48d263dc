package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/internal/domain"
	"github.com/tazhate/taskseries/internal/service"
)

// SeriesSource is what the coverage run needs from the series service.
type SeriesSource interface {
	List(ctx context.Context, activeOnly bool) ([]*domain.Series, error)
	Materialize(ctx context.Context, series *domain.Series) (*service.MaterializeResult, error)
	Now() time.Time
}

type Config struct {
	Schedule string // cron spec, e.g. "@every 1h"
	Location *time.Location
}

// Scheduler keeps every active series covered up to the horizon by
// re-running materialization on a schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	series   SeriesSource
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
}

// RunSummary is logged after each coverage run.
type RunSummary struct {
	Scanned   int
	Skipped   int
	Created   int
	Failed    int
	Truncated int
}

func New(cfg Config, series SeriesSource, log zerolog.Logger) *Scheduler {
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	log = log.With().Str("component", "coverage").Logger()

	c := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(
			cron.Recover(cronLogger{log: log}),
			cron.SkipIfStillRunning(cronLogger{log: log}),
		),
	)

	return &Scheduler{
		cron:     c,
		schedule: cfg.Schedule,
		series:   series,
		log:      log,
	}
}

// Start runs one coverage pass, schedules the rest and blocks until ctx is done.
// The cron loop is not started when ctx ends or Stop is called during the
// first pass.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("add coverage job: %w", err)
	}

	s.RunOnce(ctx)

	s.mu.Lock()
	if ctx.Err() != nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.cron.Start()
	s.running = true
	s.mu.Unlock()
	s.log.Info().Str("schedule", s.schedule).Msg("scheduler started")

	<-ctx.Done()
	return nil
}

// Stop waits for a running coverage job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	running := s.running
	s.running = false
	s.mu.Unlock()

	if running {
		<-s.cron.Stop().Done()
	}
	s.log.Info().Msg("scheduler stopped")
}

// RunOnce materializes every active series whose end has not passed.
// Materialization is idempotent, so overlapping windows are harmless.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	var sum RunSummary
	started := time.Now()

	list, err := s.series.List(ctx, true)
	if err != nil {
		s.log.Error().Err(err).Msg("list active series failed")
		return sum
	}

	now := s.series.Now()
	for _, series := range list {
		if ctx.Err() != nil {
			break
		}
		sum.Scanned++
		if series.Rule.SeriesEnd().Before(now) {
			sum.Skipped++
			continue
		}

		res, err := s.series.Materialize(ctx, series)
		if err != nil {
			sum.Failed++
			s.log.Error().Err(err).Int64("series_id", series.ID).Msg("coverage failed")
			continue
		}
		sum.Created += res.Created
		sum.Failed += res.Failed
		if res.Truncated {
			sum.Truncated++
		}
	}

	s.log.Info().
		Int("scanned", sum.Scanned).
		Int("skipped", sum.Skipped).
		Int("created", sum.Created).
		Int("failed", sum.Failed).
		Int("truncated", sum.Truncated).
		Dur("took", time.Since(started)).
		Msg("coverage run")
	return sum
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
