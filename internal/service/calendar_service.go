package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/internal/clients/caldav"
	"github.com/tazhate/taskseries/internal/domain"
	"github.com/tazhate/taskseries/internal/storage"
)

// CalendarClient is the part of the CalDAV client the service uses.
type CalendarClient interface {
	IsConfigured() bool
	PutEvent(ctx context.Context, e *caldav.Event) error
	DeleteEvent(ctx context.Context, uid string) error
}

var ErrCalendarNotConfigured = errors.New("CalDAV not configured")

// CalendarService mirrors active series to a CalDAV calendar as recurring
// events and renders series as iCalendar documents.
type CalendarService struct {
	storage *storage.Storage
	client  CalendarClient
	clock   Clock
	log     zerolog.Logger
}

func NewCalendarService(s *storage.Storage, client CalendarClient, clock Clock, log zerolog.Logger) *CalendarService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &CalendarService{
		storage: s,
		client:  client,
		clock:   clock,
		log:     log.With().Str("component", "calendar").Logger(),
	}
}

// IsConfigured returns true if CalDAV client is configured
func (s *CalendarService) IsConfigured() bool {
	return s.client != nil && s.client.IsConfigured()
}

// PublishSeries creates or replaces the recurring event of a series.
func (s *CalendarService) PublishSeries(ctx context.Context, series *domain.Series) error {
	if !s.IsConfigured() {
		return nil
	}
	event, err := caldav.SeriesEvent(series, s.clock.Now().Location())
	if err != nil {
		return err
	}
	if err := s.client.PutEvent(ctx, event); err != nil {
		return err
	}
	s.log.Debug().Int64("series_id", series.ID).Str("uid", event.UID).Msg("series published")
	return nil
}

func (s *CalendarService) UnpublishSeries(ctx context.Context, seriesID int64) error {
	if !s.IsConfigured() {
		return nil
	}
	return s.client.DeleteEvent(ctx, caldav.SeriesUID(seriesID))
}

// SyncResult contains sync operation results
type SyncResult struct {
	Published int
	Errors    []string
}

// SyncAll republishes every active series. Failures are collected, not fatal.
func (s *CalendarService) SyncAll(ctx context.Context) (*SyncResult, error) {
	if !s.IsConfigured() {
		return nil, ErrCalendarNotConfigured
	}
	list, err := s.storage.ListSeries(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	result := &SyncResult{}
	for _, series := range list {
		if err := s.PublishSeries(ctx, series); err != nil {
			s.log.Warn().Err(err).Int64("series_id", series.ID).Msg("calendar sync failed")
			result.Errors = append(result.Errors, fmt.Sprintf("series %d: %v", series.ID, err))
			continue
		}
		result.Published++
	}

	s.log.Info().Int("published", result.Published).Int("errors", len(result.Errors)).Msg("calendar sync done")
	return result, nil
}

// ExportICS renders a series as iCalendar text: the recurring master event,
// or with instances set, one event per stored instance.
func (s *CalendarService) ExportICS(ctx context.Context, seriesID int64, instances bool) ([]byte, error) {
	series, err := s.storage.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	if series == nil {
		return nil, fmt.Errorf("series %d: %w", seriesID, domain.ErrNotFound)
	}

	now := s.clock.Now()
	if !instances {
		return caldav.EncodeSeries(series, now.Location(), now)
	}
	list, err := s.storage.ListInstances(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return caldav.EncodeInstances(list, now)
}
