package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tazhate/taskseries/internal/domain"
)

func TestStandaloneTaskOverdue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, store, _ := newTestService(t, 7, wednesday)
	clock := &testClock{now: wednesday}
	tasks := NewTaskService(store, clock)

	start, end := nineToTen(wednesday)
	task, err := tasks.Create(ctx, "  file taxes ", start, end)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if task.Title != "file taxes" || task.ID == 0 {
		t.Fatalf("unexpected task: %+v", task)
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before end", start, false},
		{"within grace", end.Add(23 * time.Hour), false},
		{"past grace", end.Add(25 * time.Hour), true},
	}
	for _, tt := range tests {
		clock.now = tt.now
		got, err := tasks.IsOverdue(ctx, task.ID)
		if err != nil {
			t.Fatalf("%s: IsOverdue error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: overdue = %v, want %v", tt.name, got, tt.want)
		}
	}

	if err := tasks.SetStatus(ctx, task.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if got, _ := tasks.IsOverdue(ctx, task.ID); got {
		t.Fatal("completed task reported overdue")
	}
}

func TestStandaloneTaskErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, store, _ := newTestService(t, 7, wednesday)
	tasks := NewTaskService(store, nil)

	if _, err := tasks.Create(ctx, " ", wednesday, time.Time{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create(blank) error = %v, want ErrValidation", err)
	}
	if _, err := tasks.Create(ctx, "x", wednesday, wednesday.Add(-time.Hour)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create(end<start) error = %v, want ErrValidation", err)
	}
	if err := tasks.SetStatus(ctx, 404, domain.StatusCompleted); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetStatus(missing) error = %v, want ErrNotFound", err)
	}
	if err := tasks.SetStatus(ctx, 1, "done"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SetStatus(bad) error = %v, want ErrValidation", err)
	}
}

func TestIsOverdueResolvesEveryKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, clock := newTestService(t, 3, wednesday)
	tasks := NewTaskService(store, clock)

	series, created, err := svc.Create(ctx, weeklyTemplate(), domain.RuleSpec{
		Frequency: domain.FrequencyDaily,
		SeriesEnd: wednesday.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	clock.now = wednesday.AddDate(0, 0, 10)

	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{"series", series.ID, false},
		{"daily instance", created[0].ID, true},
	}
	for _, tt := range tests {
		got, err := tasks.IsOverdue(ctx, tt.id)
		if err != nil {
			t.Fatalf("%s: IsOverdue error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: overdue = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := tasks.IsOverdue(ctx, 9999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("IsOverdue(missing) error = %v, want ErrNotFound", err)
	}
}
