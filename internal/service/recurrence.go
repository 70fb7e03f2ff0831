package service

import (
	"time"

	"github.com/noah-isme/studio-ops-api/internal/models"
)

// ExpandWeekly returns every date falling on weekday between today and until,
// both inclusive, in ascending order. The first occurrence is the next date on
// or after today with the requested weekday. Dates are normalised to midnight
// UTC of their calendar day so results compare cleanly with DATE columns.
func ExpandWeekly(weekday time.Weekday, today, until time.Time) []time.Time {
	start := models.DateOnly(today)
	end := models.DateOnly(until)
	if end.Before(start) {
		return nil
	}

	offset := (int(weekday) - int(start.Weekday()) + 7) % 7
	first := start.AddDate(0, 0, offset)

	dates := make([]time.Time, 0, int(end.Sub(first).Hours()/(24*7))+1)
	for current := first; !current.After(end); current = current.AddDate(0, 0, 7) {
		dates = append(dates, current)
	}
	return dates
}

// Clock returns the current time in the studio's location.
type Clock func() time.Time

// StudioClock builds a Clock that reports now in loc.
func StudioClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}
