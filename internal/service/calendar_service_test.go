package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/taskseries/internal/clients/caldav"
	"github.com/tazhate/taskseries/internal/domain"
)

type fakeCalendar struct {
	configured bool
	events     map[string]*caldav.Event
	failPut    bool
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{configured: true, events: map[string]*caldav.Event{}}
}

func (f *fakeCalendar) IsConfigured() bool { return f.configured }

func (f *fakeCalendar) PutEvent(_ context.Context, e *caldav.Event) error {
	if f.failPut {
		return errors.New("503 service unavailable")
	}
	f.events[e.UID] = e
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, uid string) error {
	delete(f.events, uid)
	return nil
}

func TestCalendarMirrorsLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, _ := newTestService(t, 7, wednesday)
	cal := newFakeCalendar()
	calSvc := NewCalendarService(store, cal, &testClock{now: wednesday}, zerolog.Nop())
	svc.SetPublisher(calSvc)

	series, _, err := svc.Create(ctx, weeklyTemplate(), domain.RuleSpec{
		Frequency: domain.FrequencyWeekly,
		Weekdays:  []string{"friday"},
		SeriesEnd: wednesday.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	ev, ok := cal.events[caldav.SeriesUID(series.ID)]
	if !ok {
		t.Fatal("series not published")
	}
	if ev.Recurrence == nil || len(ev.Recurrence.Byweekday) != 1 {
		t.Fatalf("recurrence = %+v", ev.Recurrence)
	}

	if _, err := svc.Pause(ctx, series.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if len(cal.events) != 0 {
		t.Fatal("paused series still published")
	}

	if _, _, err := svc.Resume(ctx, series.ID); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if err := svc.Delete(ctx, series.ID, true); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if len(cal.events) != 0 {
		t.Fatal("deleted series still published")
	}
}

func TestCalendarSyncAllCollectsErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, _ := newTestService(t, 7, wednesday)
	for i := 0; i < 2; i++ {
		if _, _, err := svc.Create(ctx, weeklyTemplate(), domain.RuleSpec{
			Frequency: domain.FrequencyDaily,
			SeriesEnd: wednesday.AddDate(0, 1, 0),
		}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	cal := newFakeCalendar()
	cal.failPut = true
	calSvc := NewCalendarService(store, cal, nil, zerolog.Nop())
	res, err := calSvc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll error: %v", err)
	}
	if res.Published != 0 || len(res.Errors) != 2 {
		t.Fatalf("result = %+v", res)
	}

	cal.configured = false
	if _, err := calSvc.SyncAll(ctx); !errors.Is(err, ErrCalendarNotConfigured) {
		t.Fatalf("SyncAll error = %v, want ErrCalendarNotConfigured", err)
	}
}

func TestExportICS(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, _ := newTestService(t, 7, wednesday)
	calSvc := NewCalendarService(store, nil, &testClock{now: wednesday}, zerolog.Nop())

	series, created, err := svc.Create(ctx, weeklyTemplate(), domain.RuleSpec{
		Frequency: domain.FrequencyWeekly,
		Weekdays:  []string{"monday", "thursday"},
		SeriesEnd: wednesday.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	master, err := calSvc.ExportICS(ctx, series.ID, false)
	if err != nil {
		t.Fatalf("ExportICS error: %v", err)
	}
	if !strings.Contains(string(master), "RRULE:") || !strings.Contains(string(master), "BYDAY=MO,TH") {
		t.Fatalf("master event missing rrule:\n%s", master)
	}

	flat, err := calSvc.ExportICS(ctx, series.ID, true)
	if err != nil {
		t.Fatalf("ExportICS error: %v", err)
	}
	if got := strings.Count(string(flat), "BEGIN:VEVENT"); got != len(created) {
		t.Fatalf("got %d events, want %d", got, len(created))
	}

	if _, err := calSvc.ExportICS(ctx, 999, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ExportICS(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPublishedRecurrenceMatchesInstances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sydney, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	now := time.Date(2026, 10, 14, 0, 30, 0, 0, sydney) // Tuesday in UTC
	svc, store, clock := newTestService(t, 14, now)
	cal := newFakeCalendar()
	svc.SetPublisher(NewCalendarService(store, cal, clock, zerolog.Nop()))

	start := time.Date(2026, 10, 13, 9, 0, 0, 0, sydney)
	series, created, err := svc.Create(ctx, domain.Template{
		Title:   "sync",
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	}, domain.RuleSpec{
		Frequency: domain.FrequencyWeekly,
		Weekdays:  []string{"monday", "thursday"},
		SeriesEnd: now.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if len(created) == 0 {
		t.Fatal("no instances created")
	}

	ev := cal.events[caldav.SeriesUID(series.ID)]
	if ev == nil {
		t.Fatal("series not published")
	}
	r, err := rrule.NewRRule(*ev.Recurrence)
	if err != nil {
		t.Fatalf("NewRRule: %v", err)
	}
	occ := r.Between(now, now.AddDate(0, 0, 15), true)

	want := make(map[int64]bool, len(created))
	for _, inst := range created {
		want[inst.StartAt.Unix()] = true
	}
	if len(occ) != len(want) {
		t.Fatalf("calendar has %d occurrences, store has %d instances", len(occ), len(want))
	}
	for _, o := range occ {
		if !want[o.Unix()] {
			t.Fatalf("calendar occurrence %v has no stored instance", o.In(sydney))
		}
	}
}
