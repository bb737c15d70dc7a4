// Package cooldown computes the weekly draw boundary and the wish window.
// All functions are pure and use the location of now as the local calendar.
package cooldown

import (
	"math"
	"time"
)

// WishWindow is the minimum spacing between two wish claims.
const WishWindow = 7 * 24 * time.Hour

const day = 24 * time.Hour

// WeekBoundary returns 00:00 of the most recent Monday. The week always
// starts on Monday.
func WeekBoundary(now time.Time) time.Time {
	sinceMonday := (int(now.Weekday()) + 6) % 7
	y, m, d := now.Date()
	return time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, now.Location())
}

// NextBoundary returns the Monday 00:00 following WeekBoundary(now).
func NextBoundary(now time.Time) time.Time {
	return WeekBoundary(now).AddDate(0, 0, 7)
}

// DaysUntilNextBoundary rounds the time left in the week up to whole days.
// Display only.
func DaysUntilNextBoundary(now time.Time) int {
	left := NextBoundary(now).Sub(now)
	return int(math.Ceil(float64(left) / float64(day)))
}

// IsWithinCurrentWeek reports whether ts is at or after this week's boundary.
func IsWithinCurrentWeek(ts, now time.Time) bool {
	return !ts.Before(WeekBoundary(now))
}

// SpunThisWeek reports whether last falls in the current week.
func SpunThisWeek(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	return IsWithinCurrentWeek(*last, now)
}

// SpinCooldownDays is 0 when a draw is allowed, otherwise the days left
// until the next Monday.
func SpinCooldownDays(last *time.Time, now time.Time) int {
	if !SpunThisWeek(last, now) {
		return 0
	}
	return DaysUntilNextBoundary(now)
}

// WishOnCooldown reports whether fewer than 7 days have passed since last.
func WishOnCooldown(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < WishWindow
}
