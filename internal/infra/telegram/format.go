package telegram

import (
	"fmt"
	"strings"
	"time"

	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/tracking"

	"github.com/shopspring/decimal"
)

const (
	longDateFormat  = "Jan 2, 2006"
	shortDateFormat = "Jan 2"
)

// FormatTimeRange renders a single date when b is nil or falls on the same
// calendar day as a, otherwise "short – long".
func FormatTimeRange(a time.Time, b *time.Time) string {
	if b == nil {
		return a.Format(longDateFormat)
	}
	end := b.In(a.Location())
	if a.Year() == end.Year() && a.Month() == end.Month() && a.Day() == end.Day() {
		return end.Format(longDateFormat)
	}
	return a.Format(shortDateFormat) + " – " + end.Format(longDateFormat)
}

// WeekdayOrder lists the weekdays in display order for the locale's first day of the week.
func WeekdayOrder(weekStartsOnMonday bool) []time.Weekday {
	order := make([]time.Weekday, 0, 7)
	first := time.Sunday
	if weekStartsOnMonday {
		first = time.Monday
	}
	for i := 0; i < 7; i++ {
		order = append(order, (first+time.Weekday(i))%7)
	}
	return order
}

// DescribePeriod renders a tracking period for humans.
func DescribePeriod(p tracking.Period) string {
	switch p.Mode {
	case tracking.ModeMonthly:
		return fmt.Sprintf("monthly, on day %d", p.Value)
	case tracking.ModeWeekly:
		return fmt.Sprintf("weekly, on %s", time.Weekday(p.Value))
	default:
		return "never (manual resets only)"
	}
}

// ParseLimitArgs accepts "off", "<value> <unit>" or "<value><unit>".
func ParseLimitArgs(args []string) (enabled bool, value decimal.Decimal, unit settings.DataLimitUnit, err error) {
	joined := strings.ToUpper(strings.Join(args, ""))
	if joined == "" {
		return false, decimal.Zero, "", fmt.Errorf("%w: missing limit", tracking.ErrInvalidArgument)
	}
	if joined == "OFF" {
		return false, decimal.Zero, "", nil
	}

	for _, candidate := range []settings.DataLimitUnit{settings.UnitMB, settings.UnitGB} {
		number, found := strings.CutSuffix(joined, string(candidate))
		if !found {
			continue
		}
		value, err = decimal.NewFromString(number)
		if err != nil {
			return false, decimal.Zero, "", fmt.Errorf("%w: %q is not a number", tracking.ErrInvalidArgument, number)
		}
		if !value.IsPositive() {
			return false, decimal.Zero, "", fmt.Errorf("%w: limit must be positive", tracking.ErrInvalidArgument)
		}
		return true, value, candidate, nil
	}
	return false, decimal.Zero, "", fmt.Errorf("%w: limit unit must be MB or GB", tracking.ErrInvalidArgument)
}
