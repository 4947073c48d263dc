package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/internal/domain"
	"github.com/tazhate/taskseries/internal/storage"
)

// SeriesPublisher mirrors series to an external calendar.
type SeriesPublisher interface {
	PublishSeries(ctx context.Context, s *domain.Series) error
	UnpublishSeries(ctx context.Context, seriesID int64) error
}

// SeriesService owns the series lifecycle: Active <-> Paused, regeneration
// on rule change and cascading delete.
type SeriesService struct {
	storage      *storage.Storage
	materializer *Materializer
	clock        Clock
	publisher    SeriesPublisher
	log          zerolog.Logger
}

func NewSeriesService(s *storage.Storage, m *Materializer, clock Clock, log zerolog.Logger) *SeriesService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SeriesService{
		storage:      s,
		materializer: m,
		clock:        clock,
		log:          log.With().Str("component", "series").Logger(),
	}
}

func (s *SeriesService) SetPublisher(p SeriesPublisher) {
	s.publisher = p
}

// Create validates the template and rule, stores an active series and
// materializes its first batch in the same transaction.
func (s *SeriesService) Create(ctx context.Context, tmpl domain.Template, spec domain.RuleSpec) (*domain.Series, []*domain.Instance, error) {
	tmpl = tmpl.Normalize()
	if err := tmpl.Validate(); err != nil {
		return nil, nil, err
	}
	rule, err := domain.NewRecurrenceRule(spec, tmpl.StartAt)
	if err != nil {
		return nil, nil, err
	}

	series := &domain.Series{
		Template: tmpl,
		Rule:     rule,
		Status:   domain.StatusPending,
		Active:   true,
	}

	var res *MaterializeResult
	err = s.storage.InTx(ctx, func(tx *storage.Storage) error {
		if err := tx.CreateSeries(ctx, series); err != nil {
			return fmt.Errorf("create series: %w", err)
		}
		var mErr error
		res, mErr = s.materializer.Materialize(ctx, tx, series, s.clock.Now())
		return mErr
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().Int64("series_id", series.ID).Str("rule", rule.String()).
		Int("instances", len(res.Instances)).Msg("series created")
	s.publish(ctx, series)
	return series, res.Instances, nil
}

// Get returns a series or domain.ErrNotFound.
func (s *SeriesService) Get(ctx context.Context, id int64) (*domain.Series, error) {
	series, err := s.storage.GetSeries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	if series == nil {
		return nil, fmt.Errorf("series %d: %w", id, domain.ErrNotFound)
	}
	return series, nil
}

func (s *SeriesService) List(ctx context.Context, activeOnly bool) ([]*domain.Series, error) {
	return s.storage.ListSeries(ctx, activeOnly)
}

// Pause stops future generation. Existing instances are kept.
func (s *SeriesService) Pause(ctx context.Context, id int64) (*domain.Series, error) {
	series, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.storage.SetSeriesActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("pause series: %w", err)
	}
	series.Active = false

	s.log.Info().Int64("series_id", id).Msg("series paused")
	s.unpublish(ctx, id)
	return series, nil
}

// Resume reactivates a series and materializes the current window. Instances
// that already exist are returned unchanged alongside the new ones.
func (s *SeriesService) Resume(ctx context.Context, id int64) (*domain.Series, []*domain.Instance, error) {
	series, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.storage.SetSeriesActive(ctx, id, true); err != nil {
		return nil, nil, fmt.Errorf("resume series: %w", err)
	}
	series.Active = true

	res, err := s.materializer.Materialize(ctx, s.storage, series, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().Int64("series_id", id).Int("created", res.Created).
		Int("existing", res.Existing).Msg("series resumed")
	s.publish(ctx, series)
	return series, res.Instances, nil
}

// Update replaces template and rule and regenerates every instance.
//
// The delete, replace and re-materialize steps run in one transaction, so a
// failure leaves the previous rule and its instances in place. Any per-instance
// changes made under the old rule are discarded.
func (s *SeriesService) Update(ctx context.Context, id int64, tmpl domain.Template, spec domain.RuleSpec) (*domain.Series, []*domain.Instance, error) {
	tmpl = tmpl.Normalize()
	if err := tmpl.Validate(); err != nil {
		return nil, nil, err
	}
	rule, err := domain.NewRecurrenceRule(spec, tmpl.StartAt)
	if err != nil {
		return nil, nil, err
	}

	var (
		series  *domain.Series
		res     *MaterializeResult
		removed int64
	)
	err = s.storage.InTx(ctx, func(tx *storage.Storage) error {
		series, err = tx.GetSeries(ctx, id)
		if err != nil {
			return fmt.Errorf("get series: %w", err)
		}
		if series == nil {
			return fmt.Errorf("series %d: %w", id, domain.ErrNotFound)
		}
		if removed, err = tx.DeleteInstancesBySeries(ctx, id); err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
		series.Template = tmpl
		series.Rule = rule
		if err := tx.UpdateSeries(ctx, series); err != nil {
			return fmt.Errorf("update series: %w", err)
		}
		res, err = s.materializer.Materialize(ctx, tx, series, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().Int64("series_id", id).Str("rule", rule.String()).
		Int64("removed", removed).Int("created", res.Created).Msg("series regenerated")
	if series.Active {
		s.publish(ctx, series)
	}
	return series, res.Instances, nil
}

// Delete removes a series together with all of its instances. The cascade
// flag only documents intent: a series is never left without its instances
// or the reverse. An id that resolves to an instance deletes only that
// instance; a standalone task id deletes that task.
func (s *SeriesService) Delete(ctx context.Context, id int64, cascade bool) error {
	task, err := s.storage.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}

	if !task.IsRecurring {
		if err := s.storage.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	}

	if !cascade {
		s.log.Debug().Int64("series_id", id).Msg("non-cascading series delete, removing instances anyway")
	}
	var removed int64
	err = s.storage.InTx(ctx, func(tx *storage.Storage) error {
		if removed, err = tx.DeleteInstancesBySeries(ctx, id); err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
		if err := tx.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("delete series: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Int64("series_id", id).Int64("instances", removed).Msg("series deleted")
	s.unpublish(ctx, id)
	return nil
}

// ListInstances returns a series' instances ordered by start ascending.
func (s *SeriesService) ListInstances(ctx context.Context, seriesID int64) ([]*domain.Instance, error) {
	if _, err := s.Get(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.storage.ListInstances(ctx, seriesID)
}

// ListOverdue returns the series' instances that are overdue now.
func (s *SeriesService) ListOverdue(ctx context.Context, seriesID int64) ([]*domain.Instance, error) {
	series, err := s.Get(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	list, err := s.storage.ListInstances(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	freq := series.Rule.Frequency()
	var overdue []*domain.Instance
	for _, inst := range list {
		if domain.IsOverdue(inst.Task(freq), now) {
			overdue = append(overdue, inst)
		}
	}
	return overdue, nil
}

// SetInstanceStatus records progress on a single instance.
func (s *SeriesService) SetInstanceStatus(ctx context.Context, id int64, status domain.TaskStatus) error {
	switch status {
	case domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted:
	default:
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if err := s.storage.UpdateInstanceStatus(ctx, id, status); err != nil {
		return fmt.Errorf("instance %d: %w", id, err)
	}
	return nil
}

// Materialize runs the materializer for a stored series at the current time.
// Used by the coverage worker.
func (s *SeriesService) Materialize(ctx context.Context, series *domain.Series) (*MaterializeResult, error) {
	return s.materializer.Materialize(ctx, s.storage, series, s.clock.Now())
}

func (s *SeriesService) Now() time.Time {
	return s.clock.Now()
}

func (s *SeriesService) publish(ctx context.Context, series *domain.Series) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSeries(ctx, series); err != nil {
		s.log.Warn().Err(err).Int64("series_id", series.ID).Msg("calendar publish failed")
	}
}

func (s *SeriesService) unpublish(ctx context.Context, id int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.UnpublishSeries(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("series_id", id).Msg("calendar unpublish failed")
	}
}
