// README: Weekly schedule value types and their text encodings ("monday", "08:30").
package availability

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Clock is a time of day in minutes after midnight. 24:00 is allowed as an end bound.
type Clock int

const endOfDay Clock = 24 * 60

func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidSchedule, s)
	}
	c := Clock(h*60 + m)
	if h < 0 || m < 0 || m > 59 || c > endOfDay {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidSchedule, s)
	}
	return c, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

type WorkingHours struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

type WeeklySchedule struct {
	AvailableDays []Day        `json:"available_days"`
	WorkingHours  WorkingHours `json:"working_hours"`
}

func (s WeeklySchedule) Validate() error {
	if len(s.AvailableDays) == 0 {
		return fmt.Errorf("%w: no available days", ErrInvalidSchedule)
	}
	if s.WorkingHours.End <= s.WorkingHours.Start {
		return fmt.Errorf("%w: working hours %s-%s", ErrInvalidSchedule, s.WorkingHours.Start, s.WorkingHours.End)
	}
	return nil
}

func (s WeeklySchedule) HasDay(d time.Weekday) bool {
	for _, day := range s.AvailableDays {
		if time.Weekday(day) == d {
			return true
		}
	}
	return false
}

// Day is a time.Weekday that encodes as a lowercase English name.
type Day time.Weekday

func ParseDay(s string) (Day, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return Day(d), nil
		}
	}
	return 0, fmt.Errorf("%w: day %q", ErrInvalidSchedule, s)
}

func (d Day) String() string {
	return strings.ToLower(time.Weekday(d).String())
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}
