package caldav

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// Calendar is a collection on the CalDAV server.
type Calendar struct {
	ID          string // collection path
	DisplayName string
	Components  []string // supported component set; empty means any
}

// SupportsEvents reports whether VEVENT objects may be stored in c.
func (c Calendar) SupportsEvents() bool {
	if len(c.Components) == 0 {
		return true
	}
	for _, comp := range c.Components {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// Event is a single VEVENT. A non-nil Recurrence makes it the master event of
// a recurring series.
type Event struct {
	UID         string
	Summary     string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Attendees   []string
	Recurrence  *rrule.ROption
}
