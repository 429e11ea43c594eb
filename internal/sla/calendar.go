package sla

import (
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// maxCalendarDays bounds the walk through non-working time.
const maxCalendarDays = 3 * 366

// Window is one day's working interval in minutes after local midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

// BusinessCalendar describes working hours in one time zone.
type BusinessCalendar struct {
	ID       string
	Location *time.Location
	Hours    map[time.Weekday]Window
	// Holidays holds local dates formatted as 2006-01-02.
	Holidays map[string]struct{}
}

// NewBusinessCalendar validates and builds a calendar.
func NewBusinessCalendar(id, timezone string, hours map[time.Weekday]Window, holidays []string) (*BusinessCalendar, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("calendar id required", nil)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, apperrors.NewValidationError("unknown time zone", map[string]any{"calendar_id": id, "timezone": timezone})
	}
	working := 0
	for day, w := range hours {
		if w.StartMinute < 0 || w.EndMinute > 24*60 || w.EndMinute <= w.StartMinute {
			return nil, apperrors.NewValidationError("invalid working window", map[string]any{
				"calendar_id": id, "weekday": day.String(),
			})
		}
		working++
	}
	if working == 0 {
		return nil, apperrors.NewValidationError("calendar has no working days", map[string]any{"calendar_id": id})
	}
	cal := &BusinessCalendar{ID: id, Location: loc, Hours: hours, Holidays: map[string]struct{}{}}
	for _, h := range holidays {
		if _, err := time.ParseInLocation(time.DateOnly, h, loc); err != nil {
			return nil, apperrors.NewValidationError("invalid holiday date", map[string]any{"calendar_id": id, "date": h})
		}
		cal.Holidays[h] = struct{}{}
	}
	return cal, nil
}

// AddDuration returns the instant at which d of working time has elapsed after start.
func (c *BusinessCalendar) AddDuration(start time.Time, d time.Duration) (time.Time, error) {
	t := start.In(c.Location)
	remaining := d
	for i := 0; i < maxCalendarDays; i++ {
		y, m, day := t.Date()
		nextDay := time.Date(y, m, day+1, 0, 0, 0, 0, c.Location)

		w, ok := c.Hours[t.Weekday()]
		if !ok || c.isHoliday(t) {
			t = nextDay
			continue
		}
		open := time.Date(y, m, day, 0, w.StartMinute, 0, 0, c.Location)
		closeAt := time.Date(y, m, day, 0, w.EndMinute, 0, 0, c.Location)
		if t.Before(open) {
			t = open
		}
		if !t.Before(closeAt) {
			t = nextDay
			continue
		}
		available := closeAt.Sub(t)
		if remaining <= available {
			return t.Add(remaining).UTC(), nil
		}
		remaining -= available
		t = nextDay
	}
	return time.Time{}, goerr.New("calendar exhausted before duration elapsed",
		goerr.V("calendar_id", c.ID), goerr.V("duration", d.String()))
}

func (c *BusinessCalendar) isHoliday(t time.Time) bool {
	_, ok := c.Holidays[t.Format(time.DateOnly)]
	return ok
}

// CalendarProvider converts a policy duration into a deadline.
type CalendarProvider interface {
	AddDuration(start time.Time, d time.Duration, calendarID *string) (time.Time, error)
}

// Calendars is a CalendarProvider over registered calendars. A nil or empty id means
// wall-clock time.
type Calendars struct {
	mu   sync.RWMutex
	byID map[string]*BusinessCalendar
}

// NewCalendars builds a provider.
func NewCalendars(calendars ...*BusinessCalendar) *Calendars {
	c := &Calendars{byID: map[string]*BusinessCalendar{}}
	for _, cal := range calendars {
		c.Register(cal)
	}
	return c
}

// Register adds or replaces a calendar.
func (c *Calendars) Register(cal *BusinessCalendar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[cal.ID] = cal
}

func (c *Calendars) AddDuration(start time.Time, d time.Duration, calendarID *string) (time.Time, error) {
	if calendarID == nil || *calendarID == "" {
		return start.Add(d), nil
	}
	c.mu.RLock()
	cal, ok := c.byID[*calendarID]
	c.mu.RUnlock()
	if !ok {
		return time.Time{}, apperrors.NewNotFound("business calendar", map[string]any{"calendar_id": *calendarID})
	}
	return cal.AddDuration(start, d)
}
