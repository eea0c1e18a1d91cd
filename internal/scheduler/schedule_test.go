package scheduler

import (
	"errors"
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestScheduleNext(t *testing.T) {
	// 2025-03-12 is a Wednesday in ISO week 11.
	tests := []struct {
		name  string
		sched Schedule
		now   string
		want  string
	}{
		{"default is 6h", Schedule{}, "2025-03-12 05:10", "2025-03-12 06:00"},
		{"6h at boundary moves on", Schedule{Interval: "6h"}, "2025-03-12 06:00", "2025-03-12 12:00"},
		{"6h rolls to midnight", Schedule{Interval: "6h"}, "2025-03-12 19:30", "2025-03-13 00:00"},
		{"12h", Schedule{Interval: "12h"}, "2025-03-12 13:00", "2025-03-13 00:00"},
		{"odd duration is relative", Schedule{Interval: "45m"}, "2025-03-12 13:05", "2025-03-12 13:50"},
		{"7h does not divide a day", Schedule{Interval: "7h"}, "2025-03-12 01:00", "2025-03-12 08:00"},
		{"1min", Schedule{Interval: "1min"}, "2025-03-12 13:05", "2025-03-12 13:06"},
		{"daily later today", Schedule{Interval: "1d", Time: "18:30"}, "2025-03-12 13:05", "2025-03-12 18:30"},
		{"daily passed", Schedule{Interval: "1d", Time: "03:00"}, "2025-03-12 13:05", "2025-03-13 03:00"},
		{"weekly later this week", Schedule{Interval: "1w", Time: "02:00", Day: "Friday"}, "2025-03-12 13:05", "2025-03-14 02:00"},
		{"weekly today not yet", Schedule{Interval: "1w", Time: "20:00", Day: "wednesday"}, "2025-03-12 13:05", "2025-03-12 20:00"},
		{"weekly today passed", Schedule{Interval: "1w", Time: "02:00", Day: "Wed"}, "2025-03-12 13:05", "2025-03-19 02:00"},
		{"weekly sunday", Schedule{Interval: "1w", Time: "00:00", Day: "Sunday"}, "2025-03-12 13:05", "2025-03-16 00:00"},
		{"biweekly same week", Schedule{Interval: "2w", Time: "02:00", Day: "Friday"}, "2025-03-12 13:05", "2025-03-14 02:00"},
		{"biweekly skips a week", Schedule{Interval: "2w", Time: "02:00", Day: "Monday"}, "2025-03-12 13:05", "2025-03-24 02:00"},
		{"monthly this month", Schedule{Interval: "1m", Time: "04:00", Date: 20}, "2025-03-12 13:05", "2025-03-20 04:00"},
		{"monthly next month", Schedule{Interval: "1m", Time: "04:00", Date: 1}, "2025-03-12 13:05", "2025-04-01 04:00"},
		{"monthly clamps to month end", Schedule{Interval: "1m", Time: "04:00", Date: 31}, "2025-02-10 13:05", "2025-02-28 04:00"},
		{"monthly across year", Schedule{Interval: "1m", Time: "00:00", Date: 5}, "2025-12-20 13:05", "2026-01-05 00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sched.Next(at(tt.now))
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if want := at(tt.want); !got.Equal(want) {
				t.Errorf("Next() = %s, want %s", got.Format(time.RFC3339), want.Format(time.RFC3339))
			}
		})
	}
}

func TestScheduleNext_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		sched Schedule
	}{
		{"garbage interval", Schedule{Interval: "often"}},
		{"negative duration", Schedule{Interval: "-5m"}},
		{"bad time", Schedule{Interval: "1d", Time: "25:00"}},
		{"time without colon", Schedule{Interval: "1d", Time: "0300"}},
		{"bad day", Schedule{Interval: "1w", Time: "01:00", Day: "Someday"}},
		{"bad date", Schedule{Interval: "1m", Time: "01:00", Date: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sched.Next(at("2025-03-12 13:05"))
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("Next() error = %v, want ErrInvalidSchedule", err)
			}
		})
	}
}

func TestScheduleNext_AlwaysAfterNow(t *testing.T) {
	now := at("2025-03-12 13:05")
	for _, interval := range []string{"1min", "1h", "6h", "1d", "1w", "2w", "1m", "90s"} {
		s := Schedule{Interval: interval, Time: "13:05", Day: "Wednesday", Date: 12}
		next, err := s.Next(now)
		if err != nil {
			t.Fatalf("%s: %v", interval, err)
		}
		if !next.After(now) {
			t.Errorf("%s: next %s is not after now", interval, next)
		}
	}
}

func TestScheduleNext_BiweeklyAcrossLongISOYear(t *testing.T) {
	// ISO 2026 has 53 weeks: Mon 2026-12-28 is W53 and Mon 2027-01-04 is W1.
	s := Schedule{Interval: "2w", Time: "02:00", Day: "Monday"}
	now := at("2026-12-14 03:00")
	want := []string{"2026-12-28 02:00", "2027-01-11 02:00", "2027-01-25 02:00"}

	for _, w := range want {
		next, err := s.Next(now)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !next.Equal(at(w)) {
			t.Fatalf("Next(%s) = %s, want %s", now.Format(time.RFC3339), next.Format(time.RFC3339), w)
		}
		now = next.Add(time.Hour)
	}
}

func TestWeekIndex(t *testing.T) {
	tests := []struct {
		date string
		want int64
	}{
		{"1970-01-05 00:00", 0},
		{"1970-01-11 23:59", 0},
		{"1970-01-12 00:00", 1},
		{"1970-01-04 12:00", -1},
		{"2026-12-28 02:00", 2973},
		{"2027-01-04 02:00", 2974},
	}
	for _, tt := range tests {
		if got := weekIndex(at(tt.date)); got != tt.want {
			t.Errorf("weekIndex(%s) = %d, want %d", tt.date, got, tt.want)
		}
	}
}
