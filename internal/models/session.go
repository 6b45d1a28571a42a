package models

import (
	"fmt"
	"time"
)

// SessionDay is one trading day in the exchange timezone, bounded by the market
// open and close. "Today" queries are scoped to [WindowStart, Close].
type SessionDay struct {
	Date  string // YYYY-MM-DD in the exchange timezone
	Open  time.Time
	Close time.Time
	// Grace widens the window before the open so fills stamped just ahead of the
	// opening bell are still counted.
	Grace time.Duration
}

// NewSessionDay builds the session containing now. openHHMM/closeHHMM are wall-clock
// times ("09:30") in loc.
func NewSessionDay(now time.Time, loc *time.Location, openHHMM, closeHHMM string, grace time.Duration) (SessionDay, error) {
	if loc == nil {
		return SessionDay{}, fmt.Errorf("session day needs a timezone")
	}
	local := now.In(loc)

	open, err := atClock(local, openHHMM)
	if err != nil {
		return SessionDay{}, fmt.Errorf("market open: %w", err)
	}
	closeAt, err := atClock(local, closeHHMM)
	if err != nil {
		return SessionDay{}, fmt.Errorf("market close: %w", err)
	}
	if !open.Before(closeAt) {
		return SessionDay{}, fmt.Errorf("market open %s is not before close %s", openHHMM, closeHHMM)
	}

	return SessionDay{
		Date:  local.Format("2006-01-02"),
		Open:  open,
		Close: closeAt,
		Grace: grace,
	}, nil
}

// WindowStart is the earliest timestamp that belongs to the session.
func (d SessionDay) WindowStart() time.Time {
	return d.Open.Add(-d.Grace)
}

// Contains reports whether t falls inside the session window.
func (d SessionDay) Contains(t time.Time) bool {
	return !t.Before(d.WindowStart()) && !t.After(d.Close)
}

func (d SessionDay) String() string {
	return fmt.Sprintf("%s [%s - %s]", d.Date, d.WindowStart().Format("15:04 MST"), d.Close.Format("15:04 MST"))
}

// ParseClock validates an HH:MM wall-clock string.
func ParseClock(hhmm string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", hhmm)
	}
	return t.Hour(), t.Minute(), nil
}

func atClock(day time.Time, hhmm string) (time.Time, error) {
	h, m, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}
