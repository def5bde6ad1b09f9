package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/tracking"
)

var ErrSettingsNotFound = fmt.Errorf("tracking settings not found")

const settingsColumns = `subscriber_id, tracking_period, reset_value, next_reset,
       last_data_reset, last_telephony_reset,
       telephony_call_time, telephony_sms_count, telephony_timestamp,
       data_limit_enabled, data_limit_value, data_limit_unit, data_usage_notified,
       last_sim, updated_at`

type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) Get(ctx context.Context, subscriberID int64) (*settings.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM tracking_settings WHERE subscriber_id = $1`
	s, err := scanSettings(r.db.QueryRowContext(ctx, query, subscriberID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("error getting settings for subscriber %d: %w", subscriberID, err)
	}
	return s, nil
}

func (r *PostgresSettingsRepository) Save(ctx context.Context, s *settings.Settings) error {
	query := `INSERT INTO tracking_settings (
                   subscriber_id, tracking_period, reset_value, next_reset,
                   last_data_reset, last_telephony_reset,
                   telephony_call_time, telephony_sms_count, telephony_timestamp,
                   data_limit_enabled, data_limit_value, data_limit_unit, data_usage_notified,
                   last_sim, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
               ON CONFLICT (subscriber_id) DO UPDATE SET
                   tracking_period = EXCLUDED.tracking_period,
                   reset_value = EXCLUDED.reset_value,
                   next_reset = EXCLUDED.next_reset,
                   last_data_reset = EXCLUDED.last_data_reset,
                   data_limit_enabled = EXCLUDED.data_limit_enabled,
                   data_limit_value = EXCLUDED.data_limit_value,
                   data_limit_unit = EXCLUDED.data_limit_unit,
                   data_usage_notified = EXCLUDED.data_usage_notified,
                   last_sim = EXCLUDED.last_sim,
                   updated_at = NOW()
               RETURNING updated_at`

	var telephonyAt sql.NullTime
	if !s.Telephony.Timestamp.IsZero() {
		telephonyAt = sql.NullTime{Time: s.Telephony.Timestamp, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		s.SubscriberID, string(s.TrackingPeriod.Mode), s.TrackingPeriod.Value, ptrNullTime(s.NextReset),
		ptrNullTime(s.LastDataReset), ptrNullTime(s.LastTelephonyReset),
		s.Telephony.CallTime, s.Telephony.SMSCount, telephonyAt,
		s.DataLimitEnabled, s.DataLimitValue, string(s.DataLimitUnit), s.DataUsageNotified,
		s.LastSIM,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving settings for subscriber %d: %w", s.SubscriberID, err)
	}
	return nil
}

// AddTelephony updates the counters in a single statement so concurrent reports are not lost.
func (r *PostgresSettingsRepository) AddTelephony(ctx context.Context, subscriberID int64, callSeconds, smsCount int64, at time.Time) (settings.TelephonyActivity, error) {
	query := `UPDATE tracking_settings
               SET telephony_call_time = telephony_call_time + $1,
                   telephony_sms_count = telephony_sms_count + $2,
                   telephony_timestamp = $3,
                   updated_at = NOW()
               WHERE subscriber_id = $4
               RETURNING telephony_call_time, telephony_sms_count, telephony_timestamp`

	var activity settings.TelephonyActivity
	err := r.db.QueryRowContext(ctx, query, callSeconds, smsCount, at, subscriberID).
		Scan(&activity.CallTime, &activity.SMSCount, &activity.Timestamp)
	if err != nil {
		if err == sql.ErrNoRows {
			return settings.TelephonyActivity{}, ErrSettingsNotFound
		}
		return settings.TelephonyActivity{}, fmt.Errorf("error adding telephony activity for subscriber %d: %w", subscriberID, err)
	}
	return activity, nil
}

func (r *PostgresSettingsRepository) ResetTelephony(ctx context.Context, subscriberID int64, at time.Time) error {
	query := `UPDATE tracking_settings
               SET telephony_call_time = 0, telephony_sms_count = 0,
                   telephony_timestamp = $1, last_telephony_reset = $1, updated_at = NOW()
               WHERE subscriber_id = $2`
	res, err := r.db.ExecContext(ctx, query, at, subscriberID)
	if err != nil {
		return fmt.Errorf("error resetting telephony for subscriber %d: %w", subscriberID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

func (r *PostgresSettingsRepository) UpdateNextReset(ctx context.Context, subscriberID int64, period tracking.Period, nextReset *time.Time) error {
	query := `UPDATE tracking_settings
               SET tracking_period = $1, reset_value = $2, next_reset = $3, updated_at = NOW()
               WHERE subscriber_id = $4`
	res, err := r.db.ExecContext(ctx, query, string(period.Mode), period.Value, ptrNullTime(nextReset), subscriberID)
	if err != nil {
		return fmt.Errorf("error updating next reset for subscriber %d: %w", subscriberID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

func (r *PostgresSettingsRepository) ListWithNextResetBefore(ctx context.Context, t time.Time) ([]*settings.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM tracking_settings
               WHERE next_reset IS NOT NULL AND next_reset <= $1
               ORDER BY next_reset ASC`
	return r.list(ctx, query, t)
}

func (r *PostgresSettingsRepository) ListScheduled(ctx context.Context) ([]*settings.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM tracking_settings
               WHERE next_reset IS NOT NULL
               ORDER BY next_reset ASC`
	return r.list(ctx, query)
}

func (r *PostgresSettingsRepository) ListWithDataLimit(ctx context.Context) ([]*settings.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM tracking_settings
               WHERE data_limit_enabled = TRUE
               ORDER BY subscriber_id`
	return r.list(ctx, query)
}

func (r *PostgresSettingsRepository) list(ctx context.Context, query string, args ...any) ([]*settings.Settings, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying settings: %w", err)
	}
	defer rows.Close()

	result := make([]*settings.Settings, 0)
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning settings row: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings rows: %w", err)
	}
	return result, nil
}

func scanSettings(row rowScanner) (*settings.Settings, error) {
	var (
		s                                        settings.Settings
		mode, unit                               string
		value                                    int
		nextReset, lastData, lastTel, telephonyAt sql.NullTime
	)
	err := row.Scan(
		&s.SubscriberID, &mode, &value, &nextReset,
		&lastData, &lastTel,
		&s.Telephony.CallTime, &s.Telephony.SMSCount, &telephonyAt,
		&s.DataLimitEnabled, &s.DataLimitValue, &unit, &s.DataUsageNotified,
		&s.LastSIM, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	period, err := tracking.ParsePeriod(mode, strconv.Itoa(value))
	if err != nil {
		return nil, fmt.Errorf("stored tracking period for subscriber %d: %w", s.SubscriberID, err)
	}
	s.TrackingPeriod = period
	s.NextReset = nullTimePtr(nextReset)
	s.LastDataReset = nullTimePtr(lastData)
	s.LastTelephonyReset = nullTimePtr(lastTel)
	if telephonyAt.Valid {
		s.Telephony.Timestamp = telephonyAt.Time
	}
	s.DataLimitUnit = settings.DataLimitUnit(unit)
	return &s, nil
}
