package domain

import (
	"testing"
	"time"
)

func TestIsOverdue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	old := now.Add(-OverdueGrace - time.Minute)
	recent := now.Add(-OverdueGrace + time.Minute)

	tests := []struct {
		name string
		task *Task
		want bool
	}{
		{name: "nil", task: nil, want: false},
		{name: "standalone old", task: &Task{Status: StatusPending, EndAt: old}, want: true},
		{name: "standalone within grace", task: &Task{Status: StatusPending, EndAt: recent}, want: false},
		{name: "standalone completed", task: &Task{Status: StatusCompleted, EndAt: old}, want: false},
		{name: "standalone without end", task: &Task{Status: StatusPending}, want: false},
		{name: "series never", task: &Task{Status: StatusPending, EndAt: old, IsRecurring: true, Frequency: FrequencyDaily}, want: false},
		{name: "daily instance old", task: &Task{Status: StatusInProgress, EndAt: old, IsInstance: true, Frequency: FrequencyDaily}, want: true},
		{name: "daily instance recent", task: &Task{Status: StatusPending, EndAt: recent, IsInstance: true, Frequency: FrequencyDaily}, want: false},
		{name: "daily instance completed", task: &Task{Status: StatusCompleted, EndAt: old, IsInstance: true, Frequency: FrequencyDaily}, want: false},
		{name: "weekly instance not flagged", task: &Task{Status: StatusPending, EndAt: old, IsInstance: true, Frequency: FrequencyWeekly}, want: false},
		{name: "monthly instance not flagged", task: &Task{Status: StatusPending, EndAt: old, IsInstance: true, Frequency: FrequencyMonthly}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsOverdue(tt.task, now); got != tt.want {
				t.Fatalf("IsOverdue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTemplateNormalizeAndValidate(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	tmpl := Template{
		Title:     "  standup ",
		Assignees: []string{"ann", " ", "bob", "ann "},
		StartAt:   start,
		EndAt:     start.Add(15 * time.Minute),
	}.Normalize()
	if tmpl.Title != "standup" {
		t.Fatalf("Title = %q", tmpl.Title)
	}
	if len(tmpl.Assignees) != 2 {
		t.Fatalf("Assignees = %v, want [ann bob]", tmpl.Assignees)
	}
	if err := tmpl.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	bad := tmpl
	bad.EndAt = start.Add(-time.Minute)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for end before start")
	}
	bad = tmpl
	bad.Title = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for empty title")
	}
}
