package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// Interval presets. Anything else must parse with time.ParseDuration; note
// that "1m" is the monthly preset, not one minute.
const (
	IntervalDaily    = "1d"
	IntervalWeekly   = "1w"
	IntervalBiweekly = "2w"
	IntervalMonthly  = "1m"
	IntervalMinute   = "1min"

	DefaultInterval = "6h"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Schedule says when the sync loop fires next.
type Schedule struct {
	Interval string
	Time     string // "HH:MM", used by the calendar presets
	Day      string // weekday name, used by 1w and 2w
	Date     int    // day of month, used by 1m
}

// FromSettings builds a Schedule from resolved settings.
func FromSettings(cfg *state.Settings) Schedule {
	return Schedule{
		Interval: cfg.SyncInterval,
		Time:     cfg.SyncTime,
		Day:      cfg.SyncDay,
		Date:     cfg.SyncDate,
	}
}

// Validate checks the fields the interval depends on.
func (s Schedule) Validate() error {
	_, err := s.Next(time.Now())
	return err
}

// Next returns the first fire time strictly after now, in now's location.
//
// Durations that evenly divide a day in whole hours (6h, 12h) land on
// boundaries counted from midnight; other durations are relative to now.
// 2w fires on weeks with the same parity as now's, counting weeks from a
// fixed Monday so years with 53 ISO weeks keep the 14 day spacing.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	interval := strings.TrimSpace(s.Interval)
	if interval == "" {
		interval = DefaultInterval
	}

	switch interval {
	case IntervalMinute:
		return now.Truncate(time.Minute).Add(time.Minute), nil
	case IntervalDaily:
		hour, minute, err := parseClock(s.Time)
		if err != nil {
			return time.Time{}, err
		}
		next := atClock(now, hour, minute)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	case IntervalWeekly, IntervalBiweekly:
		hour, minute, err := parseClock(s.Time)
		if err != nil {
			return time.Time{}, err
		}
		day, err := parseWeekday(s.Day)
		if err != nil {
			return time.Time{}, err
		}
		next := nextWeekday(now, day, hour, minute)
		if interval == IntervalBiweekly && weekIndex(now)%2 != weekIndex(next)%2 {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil
	case IntervalMonthly:
		hour, minute, err := parseClock(s.Time)
		if err != nil {
			return time.Time{}, err
		}
		if s.Date < 1 || s.Date > 31 {
			return time.Time{}, fmt.Errorf("%w: day of month %d", ErrInvalidSchedule, s.Date)
		}
		next := onDay(now.Year(), now.Month(), s.Date, hour, minute, now.Location())
		if !next.After(now) {
			next = onDay(now.Year(), now.Month()+1, s.Date, hour, minute, now.Location())
		}
		return next, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval %q", ErrInvalidSchedule, interval)
	}
	if d%time.Hour == 0 && (24*time.Hour)%d == 0 {
		midnight := atClock(now, 0, 0)
		steps := int64(now.Sub(midnight)/d) + 1
		return midnight.Add(time.Duration(steps) * d), nil
	}
	return now.Add(d), nil
}

func parseClock(value string) (hour, minute int, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, nil
	}
	h, m, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q, want HH:MM", ErrInvalidSchedule, value)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %q, want HH:MM", ErrInvalidSchedule, value)
	}
	return hour, minute, nil
}

func parseWeekday(value string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: day %q", ErrInvalidSchedule, value)
}

// epochMonday is the first Monday of 1970.
var epochMonday = time.Date(1970, time.January, 5, 0, 0, 0, 0, time.UTC)

// weekIndex numbers Monday-started weeks from epochMonday using t's calendar
// date, so DST shifts don't move a day into another week.
func weekIndex(t time.Time) int64 {
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int64(date.Sub(epochMonday) / (24 * time.Hour))
	if days < 0 {
		return (days - 6) / 7
	}
	return days / 7
}

func atClock(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

func nextWeekday(now time.Time, day time.Weekday, hour, minute int) time.Time {
	ahead := (int(day) - int(now.Weekday()) + 7) % 7
	next := atClock(now, hour, minute).AddDate(0, 0, ahead)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// onDay clamps day to the length of the month, so 31 means the last day.
func onDay(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}
