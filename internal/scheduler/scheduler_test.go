package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/internal/domain"
	"github.com/tazhate/taskseries/internal/service"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	series  []*domain.Series
	results map[int64]*service.MaterializeResult
	fail    map[int64]bool
	calls   []int64
	onRun   func()
}

func (f *fakeSource) List(context.Context, bool) ([]*domain.Series, error) {
	return f.series, nil
}

func (f *fakeSource) Materialize(_ context.Context, s *domain.Series) (*service.MaterializeResult, error) {
	f.calls = append(f.calls, s.ID)
	if f.onRun != nil {
		f.onRun()
	}
	if f.fail[s.ID] {
		return nil, errors.New("database is locked")
	}
	return f.results[s.ID], nil
}

func (f *fakeSource) Now() time.Time { return now }

func daily(t *testing.T, id int64, end time.Time) *domain.Series {
	t.Helper()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	rule, err := domain.NewRecurrenceRule(domain.RuleSpec{Frequency: domain.FrequencyDaily, SeriesEnd: end}, start)
	if err != nil {
		t.Fatalf("NewRecurrenceRule error: %v", err)
	}
	return &domain.Series{ID: id, Template: domain.Template{Title: "t", StartAt: start}, Rule: rule, Active: true}
}

func TestRunOnceSummary(t *testing.T) {
	src := &fakeSource{
		series: []*domain.Series{
			daily(t, 1, now.AddDate(0, 1, 0)),
			daily(t, 2, now.AddDate(0, 0, -1)), // ended
			daily(t, 3, now.AddDate(0, 1, 0)),
			daily(t, 4, now.AddDate(1, 0, 0)),
		},
		results: map[int64]*service.MaterializeResult{
			1: {Created: 3, Failed: 1},
			4: {Created: 100, Truncated: true},
		},
		fail: map[int64]bool{3: true},
	}
	s := New(Config{Schedule: "@every 1h"}, src, zerolog.Nop())

	sum := s.RunOnce(context.Background())
	want := RunSummary{Scanned: 4, Skipped: 1, Created: 103, Failed: 2, Truncated: 1}
	if sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}
	if len(src.calls) != 3 {
		t.Fatalf("materialized %v, want series 1, 3 and 4", src.calls)
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	src := &fakeSource{
		series:  []*domain.Series{daily(t, 1, now.AddDate(0, 1, 0))},
		results: map[int64]*service.MaterializeResult{1: {}},
	}
	s := New(Config{Schedule: "@every 1h"}, src, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	src.onRun = cancel
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if s.running {
		t.Fatal("cron loop started after cancellation")
	}
	s.Stop()

	if len(src.calls) != 1 {
		t.Fatalf("calls = %v, want one immediate run", src.calls)
	}
}

func TestStartAfterStopReturns(t *testing.T) {
	src := &fakeSource{}
	s := New(Config{Schedule: "@every 1h"}, src, zerolog.Nop())
	s.Stop()

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked after Stop")
	}
	if s.running {
		t.Fatal("cron loop started after Stop")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Config{Schedule: "whenever"}, &fakeSource{}, zerolog.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
