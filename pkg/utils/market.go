package utils

import (
	"time"
)

// IndiaLocation is the fixed +05:30 zone used for the trading window.
// No DST and no holiday calendar apply.
var IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)

// SessionWindow is the daily trading window as offsets from IST midnight.
type SessionWindow struct {
	Open  time.Duration
	Close time.Duration
}

// DefaultSessionWindow returns the NSE cash session, 09:15 to 15:30 IST.
func DefaultSessionWindow() SessionWindow {
	return SessionWindow{
		Open:  9*time.Hour + 15*time.Minute,
		Close: 15*time.Hour + 30*time.Minute,
	}
}

// IsWeekend reports whether t falls on a Saturday or Sunday in IST.
func IsWeekend(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Contains reports whether t is a weekday inside the window, both ends inclusive.
func (w SessionWindow) Contains(t time.Time) bool {
	if IsWeekend(t) {
		return false
	}
	tod := timeOfDay(t.In(IndiaLocation))
	return tod >= w.Open && tod <= w.Close
}

// NextOpen returns the next session open strictly after t.
func (w SessionWindow) NextOpen(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, IndiaLocation)
	next := midnight.Add(w.Open)

	if !now.Before(next) {
		next = midnight.AddDate(0, 0, 1).Add(w.Open)
	}

	for IsWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// FormatClock renders a window offset as HH:MM.
func FormatClock(d time.Duration) string {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04")
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
