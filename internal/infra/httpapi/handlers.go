package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"costcontrol/internal/app"
	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/tracking"
	idb "costcontrol/internal/infra/database"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Handler holds the services behind the HTTP API.
type Handler struct {
	resets   *app.ResetService
	usage    *app.UsageService
	stats    netstats.Repository
	location *time.Location
	logger   *logrus.Entry
	now      func() time.Time
}

func NewHandler(resets *app.ResetService, usage *app.UsageService, stats netstats.Repository, location *time.Location, logger *logrus.Entry) *Handler {
	if location == nil {
		location = time.Local
	}
	return &Handler{
		resets:   resets,
		usage:    usage,
		stats:    stats,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NextReset evaluates the calculator without touching any subscriber.
// Query: period, value and an optional RFC 3339 "now". The "+" of a numeric
// offset should be sent as %2B; a literal "+" that query decoding turned
// into a space is accepted too.
func (h *Handler) NextReset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := tracking.ParsePeriod(q.Get("period"), q.Get("value"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.now().In(h.location)
	if raw := q.Get("now"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, strings.ReplaceAll(raw, " ", "+"))
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "now must be an RFC 3339 timestamp"})
			return
		}
		now = parsed.In(h.location)
	}

	next, err := tracking.NextReset(period, now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, NextResetResponse{
		Period:    PeriodDTO{Mode: string(period.Mode), Value: period.Value},
		NextReset: next,
	})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	h.respondSettings(w, r, id)
}

func (h *Handler) UpdateTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	var req UpdateTrackingRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := tracking.ParsePeriod(req.Period, strconv.Itoa(req.Value))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.resets.UpdateNextReset(r.Context(), id, period); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondSettings(w, r, id)
}

func (h *Handler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	var req LimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	unit := settings.DataLimitUnit("")
	if req.Enabled {
		parsed, ok := settings.ParseDataLimitUnit(req.Unit)
		if !ok {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unit must be MB or GB"})
			return
		}
		unit = parsed
	}
	if _, err := h.resets.SetDataLimit(r.Context(), id, req.Enabled, req.Value, unit); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondSettings(w, r, id)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	scope, err := app.ParseResetScope(r.URL.Query().Get("scope"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.resets.Reset(r.Context(), id, scope); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondSettings(w, r, id)
}

// RecordUsage stores a traffic sample and runs the data limit check right away.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	var req UsageRequest
	if !h.decode(w, r, &req) {
		return
	}
	typ, ok := netstats.ParseType(req.Type)
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "type must be wifi or mobile"})
		return
	}

	ctx := r.Context()
	if err := h.resets.RecordUsage(ctx, id, req.InterfaceID, typ, req.RxBytes, req.TxBytes); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.resets.Settings(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := h.stats.TotalUsage(ctx, id, st.LastDataReset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sent, err := h.usage.CheckDataUsageNotification(ctx, st, total)
	if err != nil {
		// The sample is stored; the periodic check retries the alert.
		h.logger.WithError(err).WithField("subscriber_id", id).Warn("Data usage alert failed")
	}
	h.writeJSON(w, http.StatusCreated, UsageResponse{UsageBytes: total, AlertSent: sent})
}

func (h *Handler) RecordTelephony(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	var req TelephonyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.resets.RecordTelephony(r.Context(), id, req.CallSeconds, req.SMS); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondSettings(w, r, id)
}

func (h *Handler) CheckSIM(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	var req SIMRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.resets.CheckSIMChange(r.Context(), id, req.ICCID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.resets.Settings(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SIMResponse{Changed: changed, NextReset: st.NextReset})
}

func (h *Handler) respondSettings(w http.ResponseWriter, r *http.Request, id int64) {
	st, err := h.resets.Settings(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	usage, err := h.stats.TotalUsage(r.Context(), id, st.LastDataReset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSettingsResponse(st, usage))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) subscriberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "subscriber id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tracking.ErrInvalidArgument), errors.Is(err, app.ErrNoSIM):
		status = http.StatusBadRequest
	case errors.Is(err, idb.ErrSubscriberNotFound),
		errors.Is(err, idb.ErrSettingsNotFound),
		errors.Is(err, idb.ErrInterfaceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, netstats.ErrNotLoaded):
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		message = "internal error"
	}
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeJSON sends data with the status. The header is already out when encoding
// fails, so the failure can only be logged.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).WithField("status", status).Error("Failed to encode JSON response")
	}
}
