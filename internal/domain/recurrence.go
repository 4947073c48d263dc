package domain

import (
	"fmt"
	"sort"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency validates a frequency name.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", invalid("frequency", "unknown frequency %q", s)
	}
}

// RuleSpec is the unvalidated input for a RecurrenceRule.
type RuleSpec struct {
	Frequency Frequency `json:"frequency"`
	Weekdays  []string  `json:"weekdays,omitempty"`
	MonthDays []int     `json:"month_days,omitempty"`
	SeriesEnd time.Time `json:"series_end"`
}

// RecurrenceRule is a validated repetition pattern with its end boundary.
// It has no setters: a changed rule is a new value from NewRecurrenceRule.
type RecurrenceRule struct {
	frequency Frequency
	weekdays  []time.Weekday
	monthDays []int
	seriesEnd time.Time
}

// NewRecurrenceRule validates spec against the template start and builds a rule.
// Weekdays are used only for weekly rules and month days only for monthly
// rules; the other set is dropped.
func NewRecurrenceRule(spec RuleSpec, templateStart time.Time) (RecurrenceRule, error) {
	freq, err := ParseFrequency(string(spec.Frequency))
	if err != nil {
		return RecurrenceRule{}, err
	}
	if spec.SeriesEnd.IsZero() {
		return RecurrenceRule{}, invalid("seriesEnd", "is required")
	}
	if !spec.SeriesEnd.After(templateStart) {
		return RecurrenceRule{}, invalid("seriesEnd", "%s is not after template start %s",
			spec.SeriesEnd.Format(time.RFC3339), templateStart.Format(time.RFC3339))
	}

	r := RecurrenceRule{frequency: freq, seriesEnd: spec.SeriesEnd}

	switch freq {
	case FrequencyWeekly:
		if len(spec.Weekdays) == 0 {
			return RecurrenceRule{}, invalid("weekdays", "weekly rule needs at least one weekday")
		}
		seen := make(map[time.Weekday]bool, len(spec.Weekdays))
		for _, name := range spec.Weekdays {
			d, ok := ParseWeekday(name)
			if !ok {
				return RecurrenceRule{}, invalid("weekdays", "unknown weekday %q", name)
			}
			if !seen[d] {
				seen[d] = true
				r.weekdays = append(r.weekdays, d)
			}
		}
		sortWeekdays(r.weekdays)

	case FrequencyMonthly:
		if len(spec.MonthDays) == 0 {
			return RecurrenceRule{}, invalid("monthDays", "monthly rule needs at least one day")
		}
		seen := make(map[int]bool, len(spec.MonthDays))
		for _, d := range spec.MonthDays {
			if d < 1 || d > 31 {
				return RecurrenceRule{}, invalid("monthDays", "%d is outside 1..31", d)
			}
			if !seen[d] {
				seen[d] = true
				r.monthDays = append(r.monthDays, d)
			}
		}
		sort.Ints(r.monthDays)
	}

	return r, nil
}

func (r RecurrenceRule) Frequency() Frequency { return r.frequency }
func (r RecurrenceRule) SeriesEnd() time.Time { return r.seriesEnd }

// Weekdays returns a copy of the weekday set, Sunday first.
func (r RecurrenceRule) Weekdays() []time.Weekday {
	return append([]time.Weekday(nil), r.weekdays...)
}

// MonthDays returns a copy of the month day set in ascending order.
func (r RecurrenceRule) MonthDays() []int {
	return append([]int(nil), r.monthDays...)
}

func (r RecurrenceRule) HasWeekday(d time.Weekday) bool {
	for _, w := range r.weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// Spec returns the rule as an input value, e.g. for JSON output.
func (r RecurrenceRule) Spec() RuleSpec {
	spec := RuleSpec{Frequency: r.frequency, MonthDays: r.MonthDays(), SeriesEnd: r.seriesEnd}
	for _, d := range r.weekdays {
		spec.Weekdays = append(spec.Weekdays, WeekdayName(d))
	}
	return spec
}

func (r RecurrenceRule) String() string {
	switch r.frequency {
	case FrequencyWeekly:
		return fmt.Sprintf("weekly on %s until %s", FormatWeekdays(r.weekdays), r.seriesEnd.Format(time.RFC3339))
	case FrequencyMonthly:
		return fmt.Sprintf("monthly on %s until %s", FormatMonthDays(r.monthDays), r.seriesEnd.Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s until %s", r.frequency, r.seriesEnd.Format(time.RFC3339))
	}
}
