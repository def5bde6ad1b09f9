// internal/app/reset_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/subscriber"
	"costcontrol/internal/domain/tracking"
	idb "costcontrol/internal/infra/database"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNoSIM is returned when a SIM check is made without an ICCID.
var ErrNoSIM = fmt.Errorf("no SIM card ICCID reported")

// Alarms arms and disarms the per-subscriber reset timer.
type Alarms interface {
	Arm(subscriberID int64, at time.Time)
	Disarm(subscriberID int64)
}

// ResetService owns the reset lifecycle: computing the next reset, clearing
// usage counters and keeping the alarm in sync with the stored instant.
type ResetService struct {
	settingsRepo   settings.Repository
	subscriberRepo subscriber.Repository
	stats          netstats.Repository
	registry       *netstats.Registry
	alarms         Alarms
	logger         *logrus.Entry
	location       *time.Location
	now            func() time.Time

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

func NewResetService(
	st settings.Repository,
	sr subscriber.Repository,
	stats netstats.Repository,
	registry *netstats.Registry,
	alarms Alarms,
	logger *logrus.Entry,
	location *time.Location,
) *ResetService {
	if location == nil {
		location = time.Local
	}
	return &ResetService{
		settingsRepo:   st,
		subscriberRepo: sr,
		stats:          stats,
		registry:       registry,
		alarms:         alarms,
		logger:         logger,
		location:       location,
		now:            time.Now,
		locks:          make(map[int64]*sync.Mutex),
	}
}

func (s *ResetService) clock() time.Time {
	return s.now().In(s.location)
}

// lockSubscriber serializes schedule changes of one subscriber. The returned
// func releases the lock.
func (s *ResetService) lockSubscriber(subscriberID int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[subscriberID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[subscriberID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Settings returns the subscriber's settings, creating the defaults on first access.
func (s *ResetService) Settings(ctx context.Context, subscriberID int64) (*settings.Settings, error) {
	st, err := s.settingsRepo.Get(ctx, subscriberID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, idb.ErrSettingsNotFound) {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if _, err := s.subscriberRepo.GetByID(ctx, subscriberID); err != nil {
		return nil, err
	}
	st = settings.Defaults(subscriberID)
	if err := s.settingsRepo.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to create default settings: %w", err)
	}
	return st, nil
}

// UpdateNextReset recalculates the next automatic reset for the period,
// stores it and replaces any armed alarm. A nil result means no reset is scheduled.
func (s *ResetService) UpdateNextReset(ctx context.Context, subscriberID int64, period tracking.Period) (*time.Time, error) {
	unlock := s.lockSubscriber(subscriberID)
	defer unlock()

	next, err := tracking.NextReset(period, s.clock())
	if err != nil {
		return nil, err
	}
	if _, err := s.Settings(ctx, subscriberID); err != nil {
		return nil, err
	}
	if err := s.setNextReset(ctx, subscriberID, period, next); err != nil {
		return nil, err
	}

	logCtx := s.logger.WithFields(logrus.Fields{"subscriber_id": subscriberID, "period": period.String()})
	if next == nil {
		logCtx.Info("Automatic reset disabled")
	} else {
		logCtx.WithField("next_reset", next.Format(time.RFC3339)).Info("Next reset updated")
	}
	return next, nil
}

func (s *ResetService) setNextReset(ctx context.Context, subscriberID int64, period tracking.Period, next *time.Time) error {
	if err := s.settingsRepo.UpdateNextReset(ctx, subscriberID, period, next); err != nil {
		return fmt.Errorf("failed to store next reset: %w", err)
	}
	if next == nil {
		s.alarms.Disarm(subscriberID)
	} else {
		s.alarms.Arm(subscriberID, *next)
	}
	return nil
}

// ResetData clears the traffic counters of the subscriber's wifi interface and
// current SIM interface. A failure on one interface is logged and does not stop
// the other; the last data reset is recorded either way.
func (s *ResetService) ResetData(ctx context.Context, subscriberID int64) error {
	sub, err := s.subscriberRepo.GetByID(ctx, subscriberID)
	if err != nil {
		return err
	}

	wifi := s.registry.WifiInterface(subscriberID)
	if err := wifi.Err(); err != nil {
		return err
	}
	sim := s.registry.CurrentSIMInterface(subscriberID, sub.ICCID.String)

	for _, target := range []struct {
		name   string
		lookup netstats.Lookup
	}{
		{"wi-Fi", wifi},
		{"simcard", sim},
	} {
		if target.lookup.State != netstats.Found {
			continue
		}
		if err := s.stats.ClearStats(ctx, target.lookup.Interface); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"subscriber_id": subscriberID,
				"interface_id":  target.lookup.Interface.ID,
			}).Errorf("Error when trying to reset %s interface", target.name)
		}
	}

	st, err := s.Settings(ctx, subscriberID)
	if err != nil {
		return err
	}
	now := s.clock()
	st.LastDataReset = &now
	st.DataUsageNotified = false
	if err := s.settingsRepo.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to store last data reset: %w", err)
	}
	s.logger.WithField("subscriber_id", subscriberID).Info("Data usage reset")
	return nil
}

// ResetTelephony zeroes the call and message counters.
func (s *ResetService) ResetTelephony(ctx context.Context, subscriberID int64) error {
	if _, err := s.Settings(ctx, subscriberID); err != nil {
		return err
	}
	if err := s.settingsRepo.ResetTelephony(ctx, subscriberID, s.clock()); err != nil {
		return fmt.Errorf("failed to store telephony reset: %w", err)
	}
	s.logger.WithField("subscriber_id", subscriberID).Info("Telephony usage reset")
	return nil
}

// ResetAll resets data usage, then telephony usage.
func (s *ResetService) ResetAll(ctx context.Context, subscriberID int64) error {
	if err := s.ResetData(ctx, subscriberID); err != nil {
		return fmt.Errorf("data reset failed: %w", err)
	}
	if err := s.ResetTelephony(ctx, subscriberID); err != nil {
		return fmt.Errorf("telephony reset failed: %w", err)
	}
	return nil
}

// ResetScope selects which counters a manual reset clears.
type ResetScope string

const (
	ScopeData      ResetScope = "data"
	ScopeTelephony ResetScope = "telephony"
	ScopeAll       ResetScope = "all"
)

// ParseResetScope accepts data, telephony or all; empty means all.
func ParseResetScope(s string) (ResetScope, error) {
	switch scope := ResetScope(strings.ToLower(strings.TrimSpace(s))); scope {
	case "":
		return ScopeAll, nil
	case ScopeData, ScopeTelephony, ScopeAll:
		return scope, nil
	}
	return "", fmt.Errorf("%w: unknown reset scope %q", tracking.ErrInvalidArgument, s)
}

// Reset clears the counters selected by scope.
func (s *ResetService) Reset(ctx context.Context, subscriberID int64, scope ResetScope) error {
	switch scope {
	case ScopeData:
		return s.ResetData(ctx, subscriberID)
	case ScopeTelephony:
		return s.ResetTelephony(ctx, subscriberID)
	case ScopeAll:
		return s.ResetAll(ctx, subscriberID)
	}
	return fmt.Errorf("%w: unknown reset scope %q", tracking.ErrInvalidArgument, scope)
}

// CheckSIMChange records the SIM currently in the device and re-arms the stored
// reset alarm. It reports whether the SIM differs from the last one seen.
func (s *ResetService) CheckSIMChange(ctx context.Context, subscriberID int64, iccid string) (bool, error) {
	logCtx := s.logger.WithField("subscriber_id", subscriberID)
	if !netstats.IsValidICCID(iccid) {
		logCtx.Error("SIM check without ICCID: either there is no SIM or the device reported an empty ICCID")
		return false, ErrNoSIM
	}

	sub, err := s.subscriberRepo.GetByID(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	if sub.ICCID.String != iccid {
		sub.ICCID = sql.NullString{String: iccid, Valid: true}
		if err := s.subscriberRepo.Update(ctx, sub); err != nil {
			return false, fmt.Errorf("failed to store current SIM: %w", err)
		}
	}

	st, err := s.Settings(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	changed := st.LastSIM != iccid
	if changed {
		st.LastSIM = iccid
		if err := s.settingsRepo.Save(ctx, st); err != nil {
			return false, fmt.Errorf("failed to store last SIM: %w", err)
		}
		logCtx.WithField("iccid", iccid).Info("SIM change detected")
	}

	if st.NextReset != nil {
		s.alarms.Arm(subscriberID, *st.NextReset)
	}
	return changed, nil
}

// HandleReset runs when a reset alarm fires: all counters are cleared and the
// following reset is scheduled from the stored period. A reset that is no
// longer due, because the alarm and the sweep raced for it, is skipped.
func (s *ResetService) HandleReset(ctx context.Context, subscriberID int64) error {
	_, err := s.handleReset(ctx, subscriberID)
	return err
}

func (s *ResetService) handleReset(ctx context.Context, subscriberID int64) (bool, error) {
	unlock := s.lockSubscriber(subscriberID)
	defer unlock()

	logCtx := s.logger.WithField("subscriber_id", subscriberID)
	st, err := s.settingsRepo.Get(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, idb.ErrSettingsNotFound) {
			logCtx.Debug("No reset stored, nothing to handle")
			return false, nil
		}
		return false, fmt.Errorf("failed to get settings: %w", err)
	}
	if st.NextReset == nil || st.NextReset.After(s.clock()) {
		logCtx.Debug("Reset already handled")
		return false, nil
	}

	logCtx.Info("Automatic reset triggered")
	if err := s.ResetAll(ctx, subscriberID); err != nil {
		logCtx.WithError(err).Error("Automatic reset failed")
		return false, err
	}

	next, err := tracking.NextReset(st.TrackingPeriod, s.clock())
	if err != nil {
		return false, fmt.Errorf("failed to compute following reset: %w", err)
	}
	if err := s.setNextReset(ctx, subscriberID, st.TrackingPeriod, next); err != nil {
		return false, err
	}
	return true, nil
}

// SweepDueResets handles every stored reset of an active subscriber that is
// already due, e.g. alarms missed while the service was down. It returns the
// number of resets performed.
func (s *ResetService) SweepDueResets(ctx context.Context) (int, error) {
	due, err := s.settingsRepo.ListWithNextResetBefore(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to list due resets: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	active, err := activeSubscriberIDs(ctx, s.subscriberRepo)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, st := range due {
		logCtx := s.logger.WithField("subscriber_id", st.SubscriberID)
		if _, ok := active[st.SubscriberID]; !ok {
			logCtx.Debug("Skipping due reset of inactive subscriber")
			continue
		}
		handled, err := s.handleReset(ctx, st.SubscriberID)
		if err != nil {
			logCtx.WithError(err).Warn("Due reset not handled, will retry on next sweep")
			continue
		}
		if handled {
			done++
		}
	}
	return done, nil
}

// RestoreAlarms arms an alarm for every stored future reset.
func (s *ResetService) RestoreAlarms(ctx context.Context) (int, error) {
	scheduled, err := s.settingsRepo.ListScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list scheduled resets: %w", err)
	}

	now := s.clock()
	armed := 0
	for _, st := range scheduled {
		if st.NextReset == nil || !st.NextReset.After(now) {
			continue
		}
		s.alarms.Arm(st.SubscriberID, *st.NextReset)
		armed++
	}
	s.logger.WithField("armed", armed).Info("Reset alarms restored")
	return armed, nil
}

// RecordUsage stores a traffic sample reported by the device, registering the interface on first sight.
func (s *ResetService) RecordUsage(ctx context.Context, subscriberID int64, ifaceID string, typ netstats.Type, rxBytes, txBytes int64) error {
	if ifaceID == "" {
		return fmt.Errorf("%w: interface id is required", tracking.ErrInvalidArgument)
	}
	if rxBytes < 0 || txBytes < 0 {
		return fmt.Errorf("%w: byte counters must not be negative", tracking.ErrInvalidArgument)
	}
	if _, err := s.subscriberRepo.GetByID(ctx, subscriberID); err != nil {
		return err
	}

	iface := &netstats.Interface{ID: ifaceID, SubscriberID: subscriberID, Type: typ}
	if err := s.stats.UpsertInterface(ctx, iface); err != nil {
		return err
	}
	s.registry.Add(*iface)

	return s.stats.RecordSample(ctx, &netstats.Sample{
		InterfaceID:  ifaceID,
		SubscriberID: subscriberID,
		RxBytes:      rxBytes,
		TxBytes:      txBytes,
		SampledAt:    s.clock(),
	})
}

// RecordTelephony adds call seconds and sent messages to the current activity.
func (s *ResetService) RecordTelephony(ctx context.Context, subscriberID int64, callSeconds, smsCount int64) (*settings.Settings, error) {
	if callSeconds < 0 || smsCount < 0 {
		return nil, fmt.Errorf("%w: telephony counters must not be negative", tracking.ErrInvalidArgument)
	}
	st, err := s.Settings(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	activity, err := s.settingsRepo.AddTelephony(ctx, subscriberID, callSeconds, smsCount, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to store telephony activity: %w", err)
	}
	st.Telephony = activity
	return st, nil
}

// SetDataLimit enables the data limit with the given value, or disables it when enabled is false.
func (s *ResetService) SetDataLimit(ctx context.Context, subscriberID int64, enabled bool, value decimal.Decimal, unit settings.DataLimitUnit) (*settings.Settings, error) {
	if enabled && !value.IsPositive() {
		return nil, fmt.Errorf("%w: data limit must be positive", tracking.ErrInvalidArgument)
	}
	st, err := s.Settings(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	st.DataLimitEnabled = enabled
	if enabled {
		st.DataLimitValue = value
		st.DataLimitUnit = unit
		st.DataUsageNotified = false
	}
	if err := s.settingsRepo.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to store data limit: %w", err)
	}
	return st, nil
}
