package caldav

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/taskseries/internal/domain"
)

const productID = "-//TaskSeries//CalDAV//EN"

// uidNamespace scopes the name-based UIDs of this application.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/tazhate/taskseries"))

// SeriesUID is stable for a series id, so republishing replaces the event.
func SeriesUID(seriesID int64) string {
	return uuid.NewSHA1(uidNamespace, []byte(fmt.Sprintf("series/%d", seriesID))).String()
}

func InstanceUID(seriesID int64, start time.Time) string {
	key := fmt.Sprintf("series/%d/%s", seriesID, start.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(uidNamespace, []byte(key)).String()
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// RecurrenceOf converts a series rule into an RRULE expanded in loc.
//
// DTSTART always counts as an occurrence, so it is moved to the first date
// at or after templateStart that the rule produces. Weekdays and month days
// are then matched in loc, the same zone instances are generated in.
// BYMONTHDAY=31 skips short months, as instance generation does.
func RecurrenceOf(rule domain.RecurrenceRule, templateStart time.Time, loc *time.Location) (*rrule.ROption, error) {
	if loc == nil {
		loc = time.UTC
	}
	opt := &rrule.ROption{
		Dtstart: templateStart.In(loc),
		Until:   rule.SeriesEnd().In(loc),
	}
	switch rule.Frequency() {
	case domain.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case domain.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range rule.Weekdays() {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case domain.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = rule.MonthDays()
	default:
		return nil, fmt.Errorf("unsupported frequency %q", rule.Frequency())
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	first := r.After(opt.Dtstart, true)
	if first.IsZero() {
		return nil, fmt.Errorf("rule %s has no occurrences", rule)
	}
	opt.Dtstart = first
	return opt, nil
}

// SeriesEvent builds the recurring master event for a series, in loc.
func SeriesEvent(s *domain.Series, loc *time.Location) (*Event, error) {
	rec, err := RecurrenceOf(s.Rule, s.StartAt, loc)
	if err != nil {
		return nil, fmt.Errorf("series %d: %w", s.ID, err)
	}
	start, end := s.OccurrenceOn(rec.Dtstart)
	if s.EndAt.IsZero() {
		end = time.Time{}
	}
	return &Event{
		UID:         SeriesUID(s.ID),
		Summary:     s.Title,
		Description: s.Description,
		StartTime:   start,
		EndTime:     end,
		Attendees:   s.Assignees,
		Recurrence:  rec,
	}, nil
}

func InstanceEvent(inst *domain.Instance) *Event {
	return &Event{
		UID:         InstanceUID(inst.SeriesID, inst.StartAt),
		Summary:     inst.Title,
		Description: inst.Description,
		StartTime:   inst.StartAt.UTC(),
		EndTime:     inst.EndAt.UTC(),
		Attendees:   inst.Assignees,
	}
}

// NewCalendar wraps events in a VCALENDAR. stamp becomes every DTSTAMP.
func NewCalendar(stamp time.Time, events ...*Event) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, e := range events {
		cal.Children = append(cal.Children, eventComponent(e, stamp))
	}
	return cal
}

func eventComponent(e *Event, stamp time.Time) *ical.Component {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, e.UID)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	vevent.Props.SetText(ical.PropSummary, e.Summary)
	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}

	setDateTime(vevent.Props, ical.PropDateTimeStart, e.StartTime)
	if !e.EndTime.IsZero() {
		setDateTime(vevent.Props, ical.PropDateTimeEnd, e.EndTime)
	}

	for _, a := range e.Attendees {
		prop := ical.NewProp(ical.PropAttendee)
		prop.Params.Set(ical.ParamCommonName, a)
		prop.Value = attendeeAddress(a)
		vevent.Props.Add(prop)
	}

	if e.Recurrence != nil {
		vevent.Props.SetRecurrenceRule(e.Recurrence)
	}
	return vevent.Component
}

// setDateTime writes UTC times with the Z suffix and IANA zones with a TZID
// parameter. Zones a reader could not resolve, such as Local or a fixed
// offset, are written as floating wall-clock time.
func setDateTime(props ical.Props, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.SetDateTime(t)
	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" && !resolvableZone(tzid) {
		prop.Params.Del(ical.ParamTimezoneID)
	}
	props.Set(prop)
}

func resolvableZone(name string) bool {
	if name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// Encode writes cal in iCalendar text form.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

// EncodeSeries renders a series as a single recurring event.
func EncodeSeries(s *domain.Series, loc *time.Location, stamp time.Time) ([]byte, error) {
	master, err := SeriesEvent(s, loc)
	if err != nil {
		return nil, err
	}
	return encodeEvents(stamp, master)
}

// EncodeInstances renders materialized instances as standalone events.
func EncodeInstances(instances []*domain.Instance, stamp time.Time) ([]byte, error) {
	events := make([]*Event, 0, len(instances))
	for _, inst := range instances {
		events = append(events, InstanceEvent(inst))
	}
	return encodeEvents(stamp, events...)
}

func encodeEvents(stamp time.Time, events ...*Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, NewCalendar(stamp, events...)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// attendeeAddress turns an assignee into a CAL-ADDRESS. Plain names get a
// urn so the value stays a URI.
func attendeeAddress(assignee string) string {
	if strings.Contains(assignee, "@") {
		return "mailto:" + assignee
	}
	return "urn:x-taskseries:assignee:" + url.PathEscape(assignee)
}
