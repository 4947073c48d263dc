package caldav

import "testing"

func TestPickEventCalendar(t *testing.T) {
	t.Parallel()
	tasks := Calendar{ID: "/cal/tasks/", Components: []string{"VTODO"}}
	journal := Calendar{ID: "/cal/journal/", Components: []string{"VJOURNAL"}}
	events := Calendar{ID: "/cal/events/", Components: []string{"VTODO", "vevent"}}
	open := Calendar{ID: "/cal/any/"}

	tests := []struct {
		name   string
		cals   []Calendar
		want   string
		wantOK bool
	}{
		{"skips task lists", []Calendar{tasks, journal, events}, events.ID, true},
		{"no component set accepts events", []Calendar{tasks, open}, open.ID, true},
		{"first match wins", []Calendar{open, events}, open.ID, true},
		{"none", []Calendar{tasks, journal}, "", false},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := pickEventCalendar(tt.cals)
			if ok != tt.wantOK || got.ID != tt.want {
				t.Fatalf("pickEventCalendar() = %q, %v; want %q, %v", got.ID, ok, tt.want, tt.wantOK)
			}
		})
	}
}
