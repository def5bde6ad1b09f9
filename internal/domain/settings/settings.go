// internal/domain/settings/settings.go
package settings

import (
	"strings"
	"time"

	"costcontrol/internal/domain/tracking"

	"github.com/shopspring/decimal"
)

// DataLimitUnit is the unit a data limit is expressed in.
type DataLimitUnit string

const (
	UnitMB DataLimitUnit = "MB"
	UnitGB DataLimitUnit = "GB"
)

var (
	bytesPerMB = decimal.NewFromInt(1_000_000)
	bytesPerGB = decimal.NewFromInt(1_000_000_000)
)

// TelephonyActivity counts calls and messages since the last telephony reset.
type TelephonyActivity struct {
	CallTime  int64 // seconds
	SMSCount  int64
	Timestamp time.Time
}

// Settings is the cost-control configuration and reset bookkeeping of one subscriber.
// Corresponds to the 'tracking_settings' table.
type Settings struct {
	SubscriberID int64

	TrackingPeriod tracking.Period
	NextReset      *time.Time // nil when no reset is scheduled

	LastDataReset      *time.Time
	LastTelephonyReset *time.Time
	Telephony          TelephonyActivity

	DataLimitEnabled  bool
	DataLimitValue    decimal.Decimal
	DataLimitUnit     DataLimitUnit
	DataUsageNotified bool // an over-limit alert was already sent in this period

	LastSIM string // ICCID seen on the last SIM check

	UpdatedAt time.Time
}

// Defaults returns the settings a new subscriber starts with.
func Defaults(subscriberID int64) *Settings {
	return &Settings{
		SubscriberID:   subscriberID,
		TrackingPeriod: tracking.Never(),
		DataLimitValue: decimal.NewFromInt(1),
		DataLimitUnit:  UnitGB,
	}
}

// DataLimitBytes converts the configured data limit to bytes.
// Any unit other than MB is treated as GB.
func (s *Settings) DataLimitBytes() decimal.Decimal {
	if s.DataLimitUnit == UnitMB {
		return s.DataLimitValue.Mul(bytesPerMB)
	}
	return s.DataLimitValue.Mul(bytesPerGB)
}

// ParseDataLimitUnit accepts "MB" or "GB" in any case.
func ParseDataLimitUnit(s string) (DataLimitUnit, bool) {
	switch DataLimitUnit(strings.ToUpper(strings.TrimSpace(s))) {
	case UnitMB:
		return UnitMB, true
	case UnitGB:
		return UnitGB, true
	}
	return "", false
}
