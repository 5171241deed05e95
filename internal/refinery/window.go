package refinery

import "time"

// nextDailyBoundary returns the next midnight (local time) strictly after now.
func nextDailyBoundary(now time.Time) time.Time {
	y, m, d := now.Date()
	boundary := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return boundary
}

// rollingWindowEnd returns start + N hours.
func rollingWindowEnd(start time.Time, hours float64) time.Time {
	return start.Add(time.Duration(hours * float64(time.Hour)))
}

// windowExpired reports whether now has crossed windowEnd (T4: the tank
// must be reset before the next reservation is granted).
func windowExpired(now, windowEnd time.Time) bool {
	return !now.Before(windowEnd)
}
