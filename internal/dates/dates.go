// Package dates handles the calendar-date arithmetic behind pact
// evaluation. A "date" is always a participant-local YYYY-MM-DD label,
// never a shared instant: the same label covers different wall-clock
// ranges for participants in different timezones.
package dates

import (
	"fmt"
	"time"
)

const Layout = "2006-01-02"

// Format renders t's calendar date in t's own location.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse reads a YYYY-MM-DD label as UTC midnight, for arithmetic only.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Valid reports whether s is a well-formed date label.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Next returns the label of the following calendar day.
func Next(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, 1)), nil
}

// Prev returns the label of the preceding calendar day.
func Prev(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, -1)), nil
}

// InZone returns the calendar date of the instant now as seen in loc.
func InZone(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(Layout)
}

// EndOfDay returns the instant at which the given local date ends in loc,
// i.e. local midnight of the following day.
func EndOfDay(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.AddDate(0, 0, 1), nil
}

// Min returns the earlier of two date labels. The layout sorts
// lexicographically, so plain string comparison is exact.
func Min(a, b string) string {
	if a < b {
		return a
	}
	return b
}

// Zone resolves an IANA timezone name; empty means UTC.
func Zone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
