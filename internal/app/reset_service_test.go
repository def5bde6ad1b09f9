package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/subscriber"
	"costcontrol/internal/domain/tracking"
	idb "costcontrol/internal/infra/database"
	"costcontrol/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testICCID = "8934071100000000001"

type resetFixture struct {
	store    *testutil.Store
	registry *netstats.Registry
	alarms   *testutil.Alarms
	hook     *logtest.Hook
	svc      *ResetService
	sub      *subscriber.Subscriber
	now      time.Time
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	store := testutil.NewStore()
	registry := netstats.NewRegistry(store.Stats())
	alarms := testutil.NewAlarms()
	log, hook := logtest.NewNullLogger()

	f := &resetFixture{
		store:    store,
		registry: registry,
		alarms:   alarms,
		hook:     hook,
		now:      time.Date(2024, time.March, 6, 15, 45, 0, 0, time.UTC), // Wednesday
	}
	f.svc = NewResetService(store.Settings(), store.Subscribers(), store.Stats(), registry, alarms, logrus.NewEntry(log), time.UTC)
	f.svc.now = func() time.Time { return f.now }

	f.sub = store.AddSubscriber(100, "Ana")
	return f
}

// withInterfaces gives the subscriber a wifi interface and a SIM interface with some traffic.
func (f *resetFixture) withInterfaces(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.registry.Load(ctx))

	f.sub.ICCID = sql.NullString{String: testICCID, Valid: true}
	require.NoError(t, f.store.Subscribers().Update(ctx, f.sub))

	require.NoError(t, f.svc.RecordUsage(ctx, f.sub.ID, "wlan0", netstats.TypeWifi, 1000, 500))
	require.NoError(t, f.svc.RecordUsage(ctx, f.sub.ID, testICCID, netstats.TypeMobile, 300, 200))
}

func (f *resetFixture) usage(t *testing.T) int64 {
	t.Helper()
	total, err := f.store.Stats().TotalUsage(context.Background(), f.sub.ID, nil)
	require.NoError(t, err)
	return total
}

func TestUpdateNextReset_MonthlyStoresAndArms(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	next, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Monthly(15))
	require.NoError(t, err)
	want := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, next)
	assert.True(t, want.Equal(*next))

	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, tracking.Monthly(15), st.TrackingPeriod)
	require.NotNil(t, st.NextReset)
	assert.True(t, want.Equal(*st.NextReset))

	at, ok := f.alarms.At(f.sub.ID)
	require.True(t, ok)
	assert.True(t, want.Equal(at))
}

func TestUpdateNextReset_WeeklySameDayRollsAWeek(t *testing.T) {
	f := newResetFixture(t)

	next, err := f.svc.UpdateNextReset(context.Background(), f.sub.ID, tracking.Weekly(int(time.Wednesday)))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 13, 0, 0, 0, 0, time.UTC), *next)
}

func TestUpdateNextReset_NeverDisarms(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Weekly(5))
	require.NoError(t, err)
	_, armed := f.alarms.At(f.sub.ID)
	require.True(t, armed)

	next, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Never())
	require.NoError(t, err)
	assert.Nil(t, next)

	_, armed = f.alarms.At(f.sub.ID)
	assert.False(t, armed)
	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Nil(t, st.NextReset)
	assert.Equal(t, tracking.Never(), st.TrackingPeriod)
}

func TestUpdateNextReset_InvalidArgument(t *testing.T) {
	f := newResetFixture(t)

	_, err := f.svc.UpdateNextReset(context.Background(), f.sub.ID, tracking.Monthly(40))
	assert.ErrorIs(t, err, tracking.ErrInvalidArgument)
	_, armed := f.alarms.At(f.sub.ID)
	assert.False(t, armed)
}

func TestUpdateNextReset_UnknownSubscriber(t *testing.T) {
	f := newResetFixture(t)

	_, err := f.svc.UpdateNextReset(context.Background(), 999, tracking.Monthly(1))
	assert.ErrorIs(t, err, idb.ErrSubscriberNotFound)
}

func TestUpdateNextReset_UsesServiceLocation(t *testing.T) {
	f := newResetFixture(t)
	loc := time.FixedZone("UTC-5", -5*60*60)
	f.svc.location = loc
	// 02:00 UTC on Thursday is still Wednesday evening at UTC-5.
	f.now = time.Date(2024, time.March, 7, 2, 0, 0, 0, time.UTC)

	next, err := f.svc.UpdateNextReset(context.Background(), f.sub.ID, tracking.Weekly(int(time.Thursday)))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 7, 0, 0, 0, 0, loc), *next)
}

func TestResetData_ClearsBothInterfaces(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()
	require.Equal(t, int64(2000), f.usage(t))

	require.NoError(t, f.svc.ResetData(ctx, f.sub.ID))
	assert.Zero(t, f.usage(t))

	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	require.NotNil(t, st.LastDataReset)
	assert.True(t, f.now.Equal(*st.LastDataReset))
	assert.False(t, st.DataUsageNotified)
}

func TestResetData_OneInterfaceFailureDoesNotStopTheOther(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	f.store.ClearErr["wlan0"] = errors.New("stats backend unavailable")

	require.NoError(t, f.svc.ResetData(context.Background(), f.sub.ID))

	// The SIM samples are gone, the wifi ones remain.
	assert.Equal(t, int64(1500), f.usage(t))

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "Error when trying to reset wi-Fi interface" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestResetData_InterfacesNotLoaded(t *testing.T) {
	f := newResetFixture(t)

	err := f.svc.ResetData(context.Background(), f.sub.ID)
	assert.ErrorIs(t, err, netstats.ErrNotLoaded)
}

func TestResetData_WithoutSIMClearsWifiOnly(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	f.sub.ICCID = sql.NullString{}
	require.NoError(t, f.store.Subscribers().Update(ctx, f.sub))

	require.NoError(t, f.svc.ResetData(ctx, f.sub.ID))
	assert.Equal(t, int64(500), f.usage(t))
}

func TestResetTelephony(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordTelephony(ctx, f.sub.ID, 90, 4)
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetTelephony(ctx, f.sub.ID))

	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, settings.TelephonyActivity{CallTime: 0, SMSCount: 0, Timestamp: f.now}, st.Telephony)
	require.NotNil(t, st.LastTelephonyReset)
	assert.True(t, f.now.Equal(*st.LastTelephonyReset))
}

func TestResetAll_StopsWhenDataResetFails(t *testing.T) {
	f := newResetFixture(t)

	err := f.svc.ResetAll(context.Background(), f.sub.ID)
	assert.ErrorIs(t, err, netstats.ErrNotLoaded)

	// Telephony reset never ran, so no settings were written.
	_, err = f.store.Settings().Get(context.Background(), f.sub.ID)
	assert.ErrorIs(t, err, idb.ErrSettingsNotFound)
}

func TestHandleReset_ResetsAndSchedulesFollowingReset(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Monthly(15))
	require.NoError(t, err)

	// Alarm fires at midnight of the 15th.
	f.now = time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.svc.HandleReset(ctx, f.sub.ID))

	assert.Zero(t, f.usage(t))
	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	want := time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, st.NextReset)
	assert.True(t, want.Equal(*st.NextReset))
	require.NotNil(t, st.LastTelephonyReset)

	at, ok := f.alarms.At(f.sub.ID)
	require.True(t, ok)
	assert.True(t, want.Equal(at))
}

func TestSweepDueResets(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Weekly(int(time.Friday)))
	require.NoError(t, err)

	done, err := f.svc.SweepDueResets(ctx)
	require.NoError(t, err)
	assert.Zero(t, done)

	// Service was down over the weekend.
	f.now = time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC)
	done, err = f.svc.SweepDueResets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), *st.NextReset)
}

func countEntries(hook *logtest.Hook, message string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Message == message {
			n++
		}
	}
	return n
}

func TestHandleReset_AlarmAndSweepAtSameInstantResetOnce(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Monthly(15))
	require.NoError(t, err)
	f.now = time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	var (
		wg       sync.WaitGroup
		alarmErr error
		sweepErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		alarmErr = f.svc.HandleReset(ctx, f.sub.ID)
	}()
	go func() {
		defer wg.Done()
		_, sweepErr = f.svc.SweepDueResets(ctx)
	}()
	wg.Wait()
	require.NoError(t, alarmErr)
	require.NoError(t, sweepErr)

	assert.Equal(t, 1, countEntries(f.hook, "Automatic reset triggered"))
	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC), *st.NextReset)
}

func TestHandleReset_NotDueIsNoop(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Monthly(15))
	require.NoError(t, err)
	f.now = time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.svc.HandleReset(ctx, f.sub.ID))

	// Traffic after the reset survives a late duplicate run.
	require.NoError(t, f.svc.RecordUsage(ctx, f.sub.ID, "wlan0", netstats.TypeWifi, 40, 2))
	require.NoError(t, f.svc.HandleReset(ctx, f.sub.ID))
	assert.Equal(t, int64(42), f.usage(t))

	done, err := f.svc.SweepDueResets(ctx)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Equal(t, 1, countEntries(f.hook, "Automatic reset triggered"))
}

func TestSweepDueResets_SkipsInactiveSubscribers(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Weekly(int(time.Friday)))
	require.NoError(t, err)
	f.sub.IsActive = false
	require.NoError(t, f.store.Subscribers().Update(ctx, f.sub))

	f.now = time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC)
	done, err := f.svc.SweepDueResets(ctx)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Equal(t, int64(2000), f.usage(t))
}

func TestRecordTelephony_AccumulatesConcurrentReports(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.Settings(ctx, f.sub.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordTelephony(ctx, f.sub.ID, 10, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.Telephony.CallTime)
	assert.Equal(t, int64(20), st.Telephony.SMSCount)
}

func TestRecordTelephony_StaleSaveKeepsCounters(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	stale, err := f.svc.Settings(ctx, f.sub.ID)
	require.NoError(t, err)
	got, err := f.svc.RecordTelephony(ctx, f.sub.ID, 60, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Telephony.CallTime)

	// A settings update built from an older read must not roll the counters back.
	stale.DataLimitEnabled = true
	require.NoError(t, f.store.Settings().Save(ctx, stale))

	st, err := f.store.Settings().Get(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.True(t, st.DataLimitEnabled)
	assert.Equal(t, int64(60), st.Telephony.CallTime)
	assert.Equal(t, int64(2), st.Telephony.SMSCount)
}

func TestRestoreAlarms_ArmsOnlyFutureResets(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	other := f.store.AddSubscriber(200, "Bo")

	future := f.now.Add(48 * time.Hour)
	past := f.now.Add(-time.Hour)
	for id, at := range map[int64]time.Time{f.sub.ID: future, other.ID: past} {
		st := settings.Defaults(id)
		st.TrackingPeriod = tracking.Weekly(1)
		at := at
		st.NextReset = &at
		require.NoError(t, f.store.Settings().Save(ctx, st))
	}

	armed, err := f.svc.RestoreAlarms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)
	_, ok := f.alarms.At(f.sub.ID)
	assert.True(t, ok)
	_, ok = f.alarms.At(other.ID)
	assert.False(t, ok)
}

func TestCheckSIMChange(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	_, err := f.svc.CheckSIMChange(ctx, f.sub.ID, "")
	assert.ErrorIs(t, err, ErrNoSIM)

	next, err := f.svc.UpdateNextReset(ctx, f.sub.ID, tracking.Monthly(20))
	require.NoError(t, err)
	f.alarms.Disarm(f.sub.ID)

	changed, err := f.svc.CheckSIMChange(ctx, f.sub.ID, testICCID)
	require.NoError(t, err)
	assert.True(t, changed)

	at, ok := f.alarms.At(f.sub.ID)
	require.True(t, ok, "stored reset is re-armed")
	assert.True(t, next.Equal(at))

	sub, err := f.store.Subscribers().GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, testICCID, sub.ICCID.String)

	changed, err = f.svc.CheckSIMChange(ctx, f.sub.ID, testICCID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRecordUsage_Validation(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.RecordUsage(ctx, f.sub.ID, "", netstats.TypeWifi, 1, 1), tracking.ErrInvalidArgument)
	assert.ErrorIs(t, f.svc.RecordUsage(ctx, f.sub.ID, "wlan0", netstats.TypeWifi, -1, 1), tracking.ErrInvalidArgument)
	assert.ErrorIs(t, f.svc.RecordUsage(ctx, 999, "wlan0", netstats.TypeWifi, 1, 1), idb.ErrSubscriberNotFound)
}

func TestRecordUsage_RegistersInterface(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Load(ctx))

	require.NoError(t, f.svc.RecordUsage(ctx, f.sub.ID, "wlan0", netstats.TypeWifi, 10, 20))

	assert.Equal(t, netstats.Found, f.registry.WifiInterface(f.sub.ID).State)
	samples := f.store.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, f.now, samples[0].SampledAt)
}

func TestSetDataLimit(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetDataLimit(ctx, f.sub.ID, true, decimal.Zero, settings.UnitMB)
	assert.ErrorIs(t, err, tracking.ErrInvalidArgument)

	st, err := f.svc.SetDataLimit(ctx, f.sub.ID, true, decimal.RequireFromString("500"), settings.UnitMB)
	require.NoError(t, err)
	assert.True(t, st.DataLimitEnabled)
	assert.True(t, st.DataLimitBytes().Equal(decimal.NewFromInt(500_000_000)))

	st, err = f.svc.SetDataLimit(ctx, f.sub.ID, false, decimal.Zero, "")
	require.NoError(t, err)
	assert.False(t, st.DataLimitEnabled)
	assert.Equal(t, settings.UnitMB, st.DataLimitUnit)
}

func TestParseResetScope(t *testing.T) {
	for in, want := range map[string]ResetScope{"": ScopeAll, "all": ScopeAll, " Data ": ScopeData, "telephony": ScopeTelephony} {
		got, err := ParseResetScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseResetScope("sms")
	assert.ErrorIs(t, err, tracking.ErrInvalidArgument)
}

func TestReset_TelephonyScopeLeavesData(t *testing.T) {
	f := newResetFixture(t)
	f.withInterfaces(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Reset(ctx, f.sub.ID, ScopeTelephony))
	assert.Equal(t, int64(2000), f.usage(t))

	require.NoError(t, f.svc.Reset(ctx, f.sub.ID, ScopeData))
	assert.Zero(t, f.usage(t))
}
