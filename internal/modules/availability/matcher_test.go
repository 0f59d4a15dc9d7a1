package availability

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var colombo = time.FixedZone("Asia/Colombo", 5*3600+30*60)

func weekdaySchedule() WeeklySchedule {
	return WeeklySchedule{
		AvailableDays: []Day{Day(time.Monday), Day(time.Tuesday), Day(time.Wednesday), Day(time.Thursday), Day(time.Friday)},
		WorkingHours:  WorkingHours{Start: 8 * 60, End: 18 * 60},
	}
}

func at(day, hour, min int) time.Time {
	// 2026-03-02 is a Monday
	return time.Date(2026, 3, day, hour, min, 0, 0, colombo)
}

func TestMatcherCheck(t *testing.T) {
	m := NewMatcher(colombo)
	booked := Window{Start: at(2, 10, 0), End: at(2, 12, 0)}

	tests := []struct {
		name string
		in   Input
		want error
	}{
		{
			name: "free slot",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(2, 8, 0), End: at(2, 10, 0)}, Occupying: []Window{booked}},
			want: nil,
		},
		{
			name: "offline provider checked first",
			in:   Input{Available: false, Schedule: weekdaySchedule(), Window: Window{Start: at(7, 3, 0), End: at(7, 4, 0)}},
			want: ErrProviderUnavailable,
		},
		{
			name: "saturday not scheduled",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(7, 9, 0), End: at(7, 10, 0)}},
			want: ErrOutsideScheduledDays,
		},
		{
			name: "starts before working hours",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(3, 7, 30), End: at(3, 9, 0)}},
			want: ErrOutsideWorkingHours,
		},
		{
			name: "ends after working hours",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(3, 17, 0), End: at(3, 18, 30)}},
			want: ErrOutsideWorkingHours,
		},
		{
			name: "runs past midnight",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(3, 9, 0), End: at(4, 9, 0)}},
			want: ErrOutsideWorkingHours,
		},
		{
			name: "overlaps existing booking",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(2, 11, 0), End: at(2, 13, 0)}, Occupying: []Window{booked}},
			want: ErrSchedulingConflict,
		},
		{
			name: "touching windows do not conflict",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(2, 12, 0), End: at(2, 14, 0)}, Occupying: []Window{booked}},
			want: nil,
		},
		{
			name: "end before start",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(2, 12, 0), End: at(2, 11, 0)}},
			want: ErrInvalidWindow,
		},
		{
			name: "empty window",
			in:   Input{Available: true, Schedule: weekdaySchedule(), Window: Window{Start: at(2, 14, 0), End: at(2, 14, 0)}},
			want: ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Check(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Check() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMatcherUsesConfiguredZone(t *testing.T) {
	m := NewMatcher(colombo)
	// 03:00 UTC on a Monday is 08:30 in Colombo
	w := Window{Start: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)}
	if err := m.Check(Input{Available: true, Schedule: weekdaySchedule(), Window: w}); err != nil {
		t.Fatalf("Check() = %v, want nil", err)
	}
}

func TestWorkingHoursUntilMidnight(t *testing.T) {
	m := NewMatcher(colombo)
	s := WeeklySchedule{AvailableDays: []Day{Day(time.Monday)}, WorkingHours: WorkingHours{Start: 18 * 60, End: endOfDay}}
	w := Window{Start: at(2, 20, 0), End: at(3, 0, 0)}
	if err := m.Check(Input{Available: true, Schedule: s, Window: w}); err != nil {
		t.Fatalf("Check() = %v, want nil", err)
	}
}

func TestScheduleJSON(t *testing.T) {
	raw := `{"available_days":["monday","sat"],"working_hours":{"start":"08:30","end":"17:00"}}`
	var s WeeklySchedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !s.HasDay(time.Monday) || !s.HasDay(time.Saturday) || s.HasDay(time.Sunday) {
		t.Fatalf("unexpected days: %v", s.AvailableDays)
	}
	if s.WorkingHours.Start != 8*60+30 || s.WorkingHours.End != 17*60 {
		t.Fatalf("unexpected hours: %+v", s.WorkingHours)
	}
	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"available_days":["monday","saturday"],"working_hours":{"start":"08:30","end":"17:00"}}`
	if string(out) != want {
		t.Fatalf("marshal = %s, want %s", out, want)
	}
}

func TestParseClockRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "25:00", "12:60", "noon", "-1:00"} {
		if _, err := ParseClock(in); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("ParseClock(%q) err = %v, want ErrInvalidSchedule", in, err)
		}
	}
}
