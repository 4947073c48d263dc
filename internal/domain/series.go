package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Template holds the task fields copied onto every materialized instance.
// Only the clock part of StartAt and EndAt is reused per occurrence.
type Template struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Assignees   []string  `json:"assignees,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
}

// Normalize trims text fields and drops blank or repeated assignees.
func (t Template) Normalize() Template {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	seen := make(map[string]bool, len(t.Assignees))
	var assignees []string
	for _, a := range t.Assignees {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		assignees = append(assignees, a)
	}
	t.Assignees = assignees
	return t
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return invalid("title", "cannot be empty")
	}
	if t.StartAt.IsZero() {
		return invalid("startDateTime", "is required")
	}
	if !t.EndAt.IsZero() && t.EndAt.Before(t.StartAt) {
		return invalid("endDateTime", "is before startDateTime")
	}
	return nil
}

// AssigneesJSON returns assignees as JSON string for storage
func (t Template) AssigneesJSON() string {
	if len(t.Assignees) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(t.Assignees)
	return string(data)
}

// ParseAssigneesJSON parses a stored assignee list.
func ParseAssigneesJSON(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Series is a recurring parent task: template, rule and the active/paused flag.
type Series struct {
	ID int64
	Template
	Rule      RecurrenceRule
	Status    TaskStatus
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OccurrenceOn puts the template's clock times onto day, in day's location.
//
// Daily occurrences always end on their start date; an end clock earlier than
// the start clock is clamped to the last second of that date. Weekly and
// monthly occurrences keep the template's overnight spill into the next day.
func (s *Series) OccurrenceOn(day time.Time) (time.Time, time.Time) {
	loc := day.Location()
	y, mo, d := day.Date()

	sh, sm, ss := s.StartAt.In(loc).Clock()
	start := time.Date(y, mo, d, sh, sm, ss, 0, loc)

	if s.EndAt.IsZero() {
		return start, start
	}
	eh, em, es := s.EndAt.In(loc).Clock()
	end := time.Date(y, mo, d, eh, em, es, 0, loc)

	if end.Before(start) {
		if s.Rule.Frequency() == FrequencyDaily {
			end = time.Date(y, mo, d, 23, 59, 59, 0, loc)
		} else {
			end = end.AddDate(0, 0, 1)
		}
	}
	return start, end
}

// Instance is one materialized occurrence of a Series.
type Instance struct {
	ID          int64
	SeriesID    int64
	Title       string
	Description string
	Assignees   []string
	StartAt     time.Time
	EndAt       time.Time
	Status      TaskStatus
	Active      bool
	CreatedAt   time.Time
}

func (i *Instance) IsInstance() bool { return true }

// NewInstance copies the template fields of s onto an occurrence.
func NewInstance(s *Series, start, end time.Time) *Instance {
	return &Instance{
		SeriesID:    s.ID,
		Title:       s.Title,
		Description: s.Description,
		Assignees:   append([]string(nil), s.Assignees...),
		StartAt:     start,
		EndAt:       end,
		Status:      StatusPending,
		Active:      s.Active,
	}
}
