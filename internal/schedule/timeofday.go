// Package schedule computes concrete fire instants for notification entries.
// Everything here is pure: callers pass the current time in.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeOfDay is returned for input that is not a valid "HH:MM".
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h). A single-digit hour is accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: %q: hour out of range", ErrInvalidTimeOfDay, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q: minute out of range", ErrInvalidTimeOfDay, s)
	}

	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// On returns the instant at this time of day on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// NextAfter returns the first instant at this time of day strictly after now.
func (t TimeOfDay) NextAfter(now time.Time) time.Time {
	next := t.On(now)
	if !next.After(now) {
		y, mo, d := now.Date()
		next = t.On(time.Date(y, mo, d+1, 0, 0, 0, 0, now.Location()))
	}
	return next
}

// ComputeNextDailyFireTime combines today's date with timeOfDay and moves it
// to the next calendar day when it is not after now.
func ComputeNextDailyFireTime(timeOfDay string, now time.Time) (time.Time, error) {
	tod, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return tod.NextAfter(now), nil
}
