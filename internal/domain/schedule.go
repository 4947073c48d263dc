package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses one of the seven canonical weekday names (case-insensitive).
func ParseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// WeekdayName returns the canonical lower-case name for the weekday
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// FormatWeekdays joins weekdays as "monday,thursday" for storage.
func FormatWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, WeekdayName(d))
	}
	return strings.Join(parts, ",")
}

// SplitList splits a comma separated column value, dropping blanks.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormatMonthDays joins month days as "1,15,31" for storage.
func FormatMonthDays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// ParseMonthDays parses a comma separated list of month days.
// Range checks are left to NewRecurrenceRule.
func ParseMonthDays(s string) ([]int, error) {
	var days []int
	for _, p := range SplitList(s) {
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, invalid("monthDays", "%q is not a number", p)
		}
		days = append(days, d)
	}
	return days, nil
}

func sortWeekdays(days []time.Weekday) {
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
}
