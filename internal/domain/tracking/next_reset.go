// internal/domain/tracking/next_reset.go
package tracking

import "time"

// NextReset returns the next instant at which usage counters reset for the
// given period, or nil for ModeNever. The result is local midnight in
// now's location and always strictly after now: when today already is the
// target day the reset moves to the next month or week.
//
// A monthly day beyond the length of the target month is clamped to that
// month's last day.
func NextReset(p Period, now time.Time) (*time.Time, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var next time.Time
	switch p.Mode {
	case ModeNever:
		return nil, nil
	case ModeMonthly:
		next = nextMonthly(p.Value, now)
	case ModeWeekly:
		next = nextWeekly(time.Weekday(p.Value), now)
	}
	return &next, nil
}

func nextMonthly(dayOfMonth int, now time.Time) time.Time {
	year, month := now.Year(), now.Month()

	day := clampDay(year, month, dayOfMonth)
	if now.Day() >= day {
		month++
		if month > time.December {
			month = time.January
			year++
		}
		day = clampDay(year, month, dayOfMonth)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location())
}

func nextWeekly(weekday time.Weekday, now time.Time) time.Time {
	daysToTarget := int(weekday) - int(now.Weekday())
	if daysToTarget <= 0 {
		daysToTarget += 7
	}
	// AddDate works in calendar days, so the result stays on midnight across DST changes.
	return ToMidnight(now).AddDate(0, 0, daysToTarget)
}

func clampDay(year int, month time.Month, day int) int {
	if last := DaysIn(year, month); day > last {
		return last
	}
	return day
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ToMidnight truncates t to 00:00 of its calendar day in its own location.
func ToMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
