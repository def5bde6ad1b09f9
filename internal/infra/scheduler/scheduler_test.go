package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingResets struct {
	mu    sync.Mutex
	fired []int64
}

func (r *recordingResets) HandleReset(_ context.Context, subscriberID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, subscriberID)
	return nil
}

func (r *recordingResets) SweepDueResets(context.Context) (int, error) { return 0, nil }

func (r *recordingResets) Fired() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.fired...)
}

func newTestScheduler(t *testing.T, specs Specs) *ResetScheduler {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	return NewResetScheduler(time.UTC, specs, logrus.NewEntry(log))
}

func TestOneShotNext(t *testing.T) {
	at := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	s := oneShot{at: at}

	assert.Equal(t, at, s.Next(at.Add(-time.Hour)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(time.Second)).IsZero())
}

func TestArmReplacesAndDisarmRemoves(t *testing.T) {
	s := newTestScheduler(t, Specs{})
	first := time.Now().Add(time.Hour)
	second := first.Add(24 * time.Hour)

	s.Arm(1, first)
	s.Arm(1, second)
	at, ok := s.Pending(1)
	require.True(t, ok)
	assert.Equal(t, second, at)
	assert.Len(t, s.cronEngine.Entries(), 1)

	s.Disarm(1)
	_, ok = s.Pending(1)
	assert.False(t, ok)
	assert.Empty(t, s.cronEngine.Entries())

	// Disarming twice is harmless.
	s.Disarm(1)
}

func TestAlarmFiresOnce(t *testing.T) {
	s := newTestScheduler(t, Specs{})
	resets := &recordingResets{}
	require.NoError(t, s.Start(Jobs{Resets: resets}))
	defer s.Stop()

	s.Arm(7, time.Now().Add(100*time.Millisecond))

	require.Eventually(t, func() bool { return len(resets.Fired()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int64{7}, resets.Fired())

	_, ok := s.Pending(7)
	assert.False(t, ok)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, resets.Fired(), 1)
}

func TestDisarmedAlarmDoesNotFire(t *testing.T) {
	s := newTestScheduler(t, Specs{})
	resets := &recordingResets{}
	require.NoError(t, s.Start(Jobs{Resets: resets}))
	defer s.Stop()

	s.Arm(7, time.Now().Add(150*time.Millisecond))
	s.Disarm(7)

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, resets.Fired())
}

func TestStartRegistersPeriodicJobs(t *testing.T) {
	s := newTestScheduler(t, Specs{UsageCheck: "*/15 * * * *", ResetSweep: "*/5 * * * *"})
	require.NoError(t, s.Start(Jobs{Resets: &recordingResets{}}))
	defer s.Stop()

	assert.Len(t, s.cronEngine.Entries(), 2)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := newTestScheduler(t, Specs{ResetSweep: "every five minutes"})
	err := s.Start(Jobs{})
	assert.ErrorContains(t, err, "reset sweep")
}
