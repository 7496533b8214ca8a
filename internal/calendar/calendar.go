// Package calendar implements the date arithmetic used by recurrence rules:
// day clamping, month/year stepping and weekday stepping. All functions are
// pure and operate in the location carried by their time.Time arguments.
package calendar

import "time"

// Weekday numbering used by recurrence rules: 0 is Monday, 6 is Sunday.
const (
	Monday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// DaysInMonth returns the number of days in the given month, honoring leap years.
func DaysInMonth(year int, month time.Month) int {
	// day 0 of the following month is the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDayToMonth reduces day to the last valid day of the month when it overflows.
func ClampDayToMonth(year int, month time.Month, day int) int {
	last := DaysInMonth(year, month)
	if day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

// WithDay returns t with its day-of-month replaced by day (clamped), keeping
// year, month, wall-clock time and location.
func WithDay(t time.Time, day int) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month, ClampDayToMonth(year, month, day),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// AddMonths advances t by n months preserving the time of day. The day of
// month is clamped, so Jan 31 + 1 month is Feb 28 (or Feb 29 in leap years).
func AddMonths(t time.Time, n int) time.Time {
	return AddMonthsWithDay(t, n, t.Day())
}

// AddMonthsWithDay advances t by n months and places the result on day,
// clamped to the target month. Starting from day 1 avoids time.Date
// normalising an overflowing day into the following month.
func AddMonthsWithDay(t time.Time, n, day int) time.Time {
	year, month, _ := t.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	return time.Date(first.Year(), first.Month(), ClampDayToMonth(first.Year(), first.Month(), day),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// AddYears advances t by n years keeping month and time of day. Feb 29 lands
// on Feb 28 in non-leap years.
func AddYears(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	target := year + n
	return time.Date(target, month, ClampDayToMonth(target, month, day),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// NextWeekday returns the next occurrence of weekday (0=Monday) strictly after t.
// When t already falls on weekday the result is exactly intervalWeeks weeks
// later; otherwise it is the nearest weekday ahead plus intervalWeeks-1 weeks.
func NextWeekday(t time.Time, intervalWeeks, weekday int) time.Time {
	if intervalWeeks < 1 {
		intervalWeeks = 1
	}
	current := ISOWeekday(t.Weekday())
	ahead := ((weekday-current)%7 + 7) % 7
	if ahead == 0 {
		ahead = 7 * intervalWeeks
	} else {
		ahead += 7 * (intervalWeeks - 1)
	}
	return t.AddDate(0, 0, ahead)
}

// ISOWeekday converts a time.Weekday (Sunday=0) to the rule numbering (Monday=0).
func ISOWeekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// GoWeekday converts a rule weekday (Monday=0) to a time.Weekday.
func GoWeekday(weekday int) time.Weekday {
	return time.Weekday((weekday + 1) % 7)
}
