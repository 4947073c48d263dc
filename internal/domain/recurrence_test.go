package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewRecurrenceRule(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	tests := []struct {
		name  string
		spec  RuleSpec
		field string // empty means valid
	}{
		{name: "daily", spec: RuleSpec{Frequency: FrequencyDaily, SeriesEnd: end}},
		{name: "weekly", spec: RuleSpec{Frequency: FrequencyWeekly, Weekdays: []string{"Monday", "thursday"}, SeriesEnd: end}},
		{name: "monthly", spec: RuleSpec{Frequency: FrequencyMonthly, MonthDays: []int{1, 31}, SeriesEnd: end}},
		{name: "unknown frequency", spec: RuleSpec{Frequency: "yearly", SeriesEnd: end}, field: "frequency"},
		{name: "weekly without days", spec: RuleSpec{Frequency: FrequencyWeekly, SeriesEnd: end}, field: "weekdays"},
		{name: "weekly bad name", spec: RuleSpec{Frequency: FrequencyWeekly, Weekdays: []string{"Funday"}, SeriesEnd: end}, field: "weekdays"},
		{name: "monthly without days", spec: RuleSpec{Frequency: FrequencyMonthly, SeriesEnd: end}, field: "monthDays"},
		{name: "monthly zero", spec: RuleSpec{Frequency: FrequencyMonthly, MonthDays: []int{0}, SeriesEnd: end}, field: "monthDays"},
		{name: "monthly 32", spec: RuleSpec{Frequency: FrequencyMonthly, MonthDays: []int{15, 32}, SeriesEnd: end}, field: "monthDays"},
		{name: "missing end", spec: RuleSpec{Frequency: FrequencyDaily}, field: "seriesEnd"},
		{name: "end equals start", spec: RuleSpec{Frequency: FrequencyDaily, SeriesEnd: start}, field: "seriesEnd"},
		{name: "end before start", spec: RuleSpec{Frequency: FrequencyDaily, SeriesEnd: start.Add(-time.Minute)}, field: "seriesEnd"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRecurrenceRule(tt.spec, start)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("NewRecurrenceRule error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("field = %v, want %s", err, tt.field)
			}
		})
	}
}

func TestRecurrenceRuleNormalizesSets(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	r, err := NewRecurrenceRule(RuleSpec{
		Frequency: FrequencyWeekly,
		Weekdays:  []string{"thursday", "MONDAY", "monday"},
		MonthDays: []int{5},
		SeriesEnd: start.AddDate(0, 1, 0),
	}, start)
	if err != nil {
		t.Fatalf("NewRecurrenceRule error: %v", err)
	}
	got := r.Weekdays()
	if len(got) != 2 || got[0] != time.Monday || got[1] != time.Thursday {
		t.Fatalf("Weekdays = %v, want [Monday Thursday]", got)
	}
	if len(r.MonthDays()) != 0 {
		t.Fatalf("weekly rule kept month days: %v", r.MonthDays())
	}

	// accessors hand out copies
	got[0] = time.Sunday
	if r.Weekdays()[0] != time.Monday {
		t.Fatal("rule mutated through Weekdays() slice")
	}
}

func TestMonthDaysRoundTrip(t *testing.T) {
	t.Parallel()
	days, err := ParseMonthDays(FormatMonthDays([]int{1, 15, 31}))
	if err != nil {
		t.Fatalf("ParseMonthDays error: %v", err)
	}
	if len(days) != 3 || days[2] != 31 {
		t.Fatalf("days = %v", days)
	}
	if _, err := ParseMonthDays("1,x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
