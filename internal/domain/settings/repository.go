package settings

import (
	"context"
	"time"

	"costcontrol/internal/domain/tracking"
)

// Repository persists per-subscriber Settings.
type Repository interface {
	// Get returns the settings of a subscriber or database.ErrSettingsNotFound.
	Get(ctx context.Context, subscriberID int64) (*Settings, error)
	// Save inserts the settings row or replaces it, except for the telephony
	// counters and last telephony reset of an existing row.
	Save(ctx context.Context, s *Settings) error
	// AddTelephony increments the telephony counters in place and returns the new totals.
	AddTelephony(ctx context.Context, subscriberID int64, callSeconds, smsCount int64, at time.Time) (TelephonyActivity, error)
	// ResetTelephony zeroes the telephony counters and records at as the last telephony reset.
	ResetTelephony(ctx context.Context, subscriberID int64, at time.Time) error
	// UpdateNextReset stores the tracking period and the computed next reset (nil clears it).
	UpdateNextReset(ctx context.Context, subscriberID int64, period tracking.Period, nextReset *time.Time) error
	// ListWithNextResetBefore returns settings whose next reset is at or before t.
	ListWithNextResetBefore(ctx context.Context, t time.Time) ([]*Settings, error)
	// ListScheduled returns every settings row with a next reset set.
	ListScheduled(ctx context.Context) ([]*Settings, error)
	// ListWithDataLimit returns settings that have the data limit enabled.
	ListWithDataLimit(ctx context.Context) ([]*Settings, error)
}
