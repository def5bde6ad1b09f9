package httpapi

import (
	"time"

	"costcontrol/internal/domain/settings"

	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type PeriodDTO struct {
	Mode  string `json:"period"`
	Value int    `json:"value"`
}

type NextResetResponse struct {
	Period    PeriodDTO  `json:"tracking"`
	NextReset *time.Time `json:"next_reset"`
}

type TelephonyDTO struct {
	CallSeconds int64     `json:"call_seconds"`
	SMS         int64     `json:"sms"`
	Timestamp   time.Time `json:"timestamp"`
}

type DataLimitDTO struct {
	Enabled  bool            `json:"enabled"`
	Value    decimal.Decimal `json:"value"`
	Unit     string          `json:"unit"`
	Notified bool            `json:"notified"`
}

type SettingsResponse struct {
	SubscriberID       int64        `json:"subscriber_id"`
	Tracking           PeriodDTO    `json:"tracking"`
	NextReset          *time.Time   `json:"next_reset"`
	LastDataReset      *time.Time   `json:"last_data_reset"`
	LastTelephonyReset *time.Time   `json:"last_telephony_reset"`
	Telephony          TelephonyDTO `json:"telephony"`
	DataLimit          DataLimitDTO `json:"data_limit"`
	LastSIM            string       `json:"last_sim,omitempty"`
	UsageBytes         int64        `json:"usage_bytes"`
}

func toSettingsResponse(st *settings.Settings, usage int64) SettingsResponse {
	return SettingsResponse{
		SubscriberID:       st.SubscriberID,
		Tracking:           PeriodDTO{Mode: string(st.TrackingPeriod.Mode), Value: st.TrackingPeriod.Value},
		NextReset:          st.NextReset,
		LastDataReset:      st.LastDataReset,
		LastTelephonyReset: st.LastTelephonyReset,
		Telephony: TelephonyDTO{
			CallSeconds: st.Telephony.CallTime,
			SMS:         st.Telephony.SMSCount,
			Timestamp:   st.Telephony.Timestamp,
		},
		DataLimit: DataLimitDTO{
			Enabled:  st.DataLimitEnabled,
			Value:    st.DataLimitValue,
			Unit:     string(st.DataLimitUnit),
			Notified: st.DataUsageNotified,
		},
		LastSIM:    st.LastSIM,
		UsageBytes: usage,
	}
}

// UpdateTrackingRequest is the body of PUT /tracking. Value is ignored for "never".
type UpdateTrackingRequest struct {
	Period string `json:"period"`
	Value  int    `json:"value"`
}

type UsageRequest struct {
	InterfaceID string `json:"interface_id"`
	Type        string `json:"type"`
	RxBytes     int64  `json:"rx_bytes"`
	TxBytes     int64  `json:"tx_bytes"`
}

type UsageResponse struct {
	UsageBytes int64 `json:"usage_bytes"`
	AlertSent  bool  `json:"alert_sent"`
}

type TelephonyRequest struct {
	CallSeconds int64 `json:"call_seconds"`
	SMS         int64 `json:"sms"`
}

type SIMRequest struct {
	ICCID string `json:"iccid"`
}

type SIMResponse struct {
	Changed   bool       `json:"changed"`
	NextReset *time.Time `json:"next_reset"`
}

type LimitRequest struct {
	Enabled bool            `json:"enabled"`
	Value   decimal.Decimal `json:"value"`
	Unit    string          `json:"unit"`
}
