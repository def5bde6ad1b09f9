// internal/domain/tracking/period.go
package tracking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidArgument is returned for a malformed period or an out-of-range day.
var ErrInvalidArgument = errors.New("invalid argument")

// Mode is the user-configured cadence at which usage counters reset.
type Mode string

const (
	ModeNever   Mode = "never"
	ModeMonthly Mode = "monthly"
	ModeWeekly  Mode = "weekly"
)

// Period is a tracking period: the mode plus its mode-specific value.
// Value is the day of month (1-31) for ModeMonthly and the day of week
// (0-6, 0 = Sunday) for ModeWeekly. It is ignored for ModeNever.
type Period struct {
	Mode  Mode
	Value int
}

func Never() Period                 { return Period{Mode: ModeNever} }
func Monthly(dayOfMonth int) Period { return Period{Mode: ModeMonthly, Value: dayOfMonth} }
func Weekly(dayOfWeek int) Period   { return Period{Mode: ModeWeekly, Value: dayOfWeek} }

// Validate reports ErrInvalidArgument for unknown modes and out-of-range values.
func (p Period) Validate() error {
	switch p.Mode {
	case ModeNever:
		return nil
	case ModeMonthly:
		if p.Value < 1 || p.Value > 31 {
			return fmt.Errorf("%w: day of month %d not in 1..31", ErrInvalidArgument, p.Value)
		}
		return nil
	case ModeWeekly:
		if p.Value < 0 || p.Value > 6 {
			return fmt.Errorf("%w: day of week %d not in 0..6", ErrInvalidArgument, p.Value)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown tracking period %q", ErrInvalidArgument, string(p.Mode))
	}
}

func (p Period) String() string {
	if p.Mode == ModeNever {
		return string(ModeNever)
	}
	return fmt.Sprintf("%s(%d)", p.Mode, p.Value)
}

// ParsePeriod builds a Period from its stored textual form, e.g. ("monthly", "15").
// The value is ignored for "never".
func ParsePeriod(mode, value string) (Period, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(mode)))
	if m == ModeNever {
		return Never(), nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return Period{}, fmt.Errorf("%w: period value %q is not a number", ErrInvalidArgument, value)
	}

	p := Period{Mode: m, Value: n}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}
