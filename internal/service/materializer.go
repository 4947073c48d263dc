package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/taskseries/internal/domain"
)

const (
	DefaultHorizonDays   = 14
	DefaultMaxIterations = 100
)

// InstanceStore is the persistence the materializer needs.
// FindInstance returns (nil, nil) when no instance exists for the key.
type InstanceStore interface {
	FindInstance(ctx context.Context, seriesID int64, start time.Time) (*domain.Instance, error)
	CreateInstance(ctx context.Context, inst *domain.Instance) error
}

type MaterializerConfig struct {
	HorizonDays   int // lookahead window in days from today's midnight
	MaxIterations int // hard cap on scanned days per run
}

// Materializer expands a series' recurrence rule into persisted instances.
type Materializer struct {
	horizonDays   int
	maxIterations int
	log           zerolog.Logger
}

func NewMaterializer(cfg MaterializerConfig, log zerolog.Logger) *Materializer {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Materializer{
		horizonDays:   cfg.HorizonDays,
		maxIterations: cfg.MaxIterations,
		log:           log.With().Str("component", "materializer").Logger(),
	}
}

func (m *Materializer) HorizonDays() int { return m.horizonDays }

// MaterializeResult lists every instance covering the window, pre-existing
// ones included, in start order.
type MaterializeResult struct {
	Instances []*domain.Instance
	Created   int
	Existing  int
	Failed    int
	Truncated bool // iteration cap hit before the window end
}

// Materialize creates the instances of series that fall in
// [now, min(seriesEnd, today+horizon)] and are not stored yet.
//
// Calendar arithmetic happens in now's location. Per-candidate storage
// failures are logged and skipped. A paused series yields an empty result.
func (m *Materializer) Materialize(ctx context.Context, store InstanceStore, series *domain.Series, now time.Time) (*MaterializeResult, error) {
	if series == nil {
		return nil, errors.New("materialize: nil series")
	}
	res := &MaterializeResult{}
	log := m.log.With().Int64("series_id", series.ID).Logger()

	if !series.Active {
		log.Debug().Msg("series paused, nothing to materialize")
		return res, nil
	}

	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	horizonEnd := today.AddDate(0, 0, m.horizonDays)
	seriesEnd := series.Rule.SeriesEnd()
	windowEnd := horizonEnd
	if seriesEnd.Before(windowEnd) {
		windowEnd = seriesEnd
	}
	if windowEnd.Before(today) {
		return res, nil
	}

	days, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: today,
		Until:   windowEnd,
		Count:   m.maxIterations + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("materialize: scan window: %w", err)
	}

	next := days.Iterator()
	for step := 0; ; step++ {
		day, ok := next()
		if !ok {
			break
		}
		if step >= m.maxIterations {
			res.Truncated = true
			log.Warn().Int("cap", m.maxIterations).Time("stopped_at", day).
				Msg("iteration cap reached, returning partial results")
			break
		}
		if !isOccurrence(series.Rule, day) {
			continue
		}

		start, end := series.OccurrenceOn(day)
		switch {
		case start.Before(now):
			continue
		case end.After(seriesEnd):
			continue
		case start.After(horizonEnd):
			continue
		}

		inst, created, err := m.ensureInstance(ctx, store, series, start, end)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Time("start", start).Msg("persist instance failed, skipping")
			continue
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
		res.Instances = append(res.Instances, inst)
	}

	log.Debug().
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("failed", res.Failed).
		Bool("truncated", res.Truncated).
		Msg("materialized")
	return res, nil
}

// ensureInstance returns the stored instance for (series, start), creating it
// when absent. A uniqueness conflict from a concurrent writer resolves to the
// row that won.
func (m *Materializer) ensureInstance(ctx context.Context, store InstanceStore, series *domain.Series, start, end time.Time) (*domain.Instance, bool, error) {
	existing, err := store.FindInstance(ctx, series.ID, start)
	if err != nil {
		return nil, false, fmt.Errorf("find instance: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	inst := domain.NewInstance(series, start, end)
	if err := store.CreateInstance(ctx, inst); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, false, fmt.Errorf("create instance: %w", err)
		}
		existing, findErr := store.FindInstance(ctx, series.ID, start)
		if findErr != nil {
			return nil, false, fmt.Errorf("find instance after conflict: %w", findErr)
		}
		if existing == nil {
			return nil, false, err
		}
		m.log.Debug().Int64("series_id", series.ID).Time("start", start).Msg("instance created concurrently")
		return existing, false, nil
	}
	return inst, true, nil
}

// isOccurrence reports whether day (a local midnight) is a candidate date.
func isOccurrence(rule domain.RecurrenceRule, day time.Time) bool {
	switch rule.Frequency() {
	case domain.FrequencyDaily:
		return true
	case domain.FrequencyWeekly:
		return rule.HasWeekday(day.Weekday())
	case domain.FrequencyMonthly:
		for _, md := range rule.MonthDays() {
			// time.Date normalizes Feb 31 into March; such dates do not count.
			d := time.Date(day.Year(), day.Month(), md, 0, 0, 0, 0, day.Location())
			if d.Month() == day.Month() && d.Day() == day.Day() {
				return true
			}
		}
	}
	return false
}
