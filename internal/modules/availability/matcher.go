// README: Availability matcher decides whether a provider can take a time window.
package availability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrOutsideScheduledDays = errors.New("outside scheduled days")
	ErrOutsideWorkingHours  = errors.New("outside working hours")
	ErrSchedulingConflict   = errors.New("scheduling conflict")
	ErrInvalidWindow        = errors.New("invalid time window")
)

// Window is the half-open interval [Start, End); a valid window is never empty.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidWindow, w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Overlaps is the half-open overlap test; touching windows do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

type Input struct {
	Available bool
	Schedule  WeeklySchedule
	Window    Window
	// Occupying are the provider's pending, confirmed and in-progress bookings.
	Occupying []Window
}

// Matcher evaluates schedules in the provider's local time zone.
type Matcher struct {
	loc *time.Location
}

func NewMatcher(loc *time.Location) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{loc: loc}
}

// Check returns nil when the window is free, otherwise the first failing rule
// in order: unavailable, day, working hours, conflict.
func (m *Matcher) Check(in Input) error {
	if err := in.Window.Validate(); err != nil {
		return err
	}
	if !in.Available {
		return ErrProviderUnavailable
	}
	start := in.Window.Start.In(m.loc)
	end := in.Window.End.In(m.loc)
	if !in.Schedule.HasDay(start.Weekday()) {
		return ErrOutsideScheduledDays
	}
	if !withinHours(in.Schedule.WorkingHours, start, end) {
		return ErrOutsideWorkingHours
	}
	for _, o := range in.Occupying {
		if in.Window.Overlaps(o) {
			return ErrSchedulingConflict
		}
	}
	return nil
}

func withinHours(h WorkingHours, start, end time.Time) bool {
	startMin := clockOf(start)
	endMin := clockOf(end)
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		// ending exactly at the next midnight is still the same working day
		next := time.Date(sy, sm, sd+1, 0, 0, 0, 0, start.Location())
		if !end.Equal(next) {
			return false
		}
		endMin = endOfDay
	}
	return startMin >= h.Start && endMin <= h.End
}

func clockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}
