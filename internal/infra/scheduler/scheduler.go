package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ResetHandler performs resets when an alarm fires or a sweep finds overdue ones.
type ResetHandler interface {
	HandleReset(ctx context.Context, subscriberID int64) error
	SweepDueResets(ctx context.Context) (int, error)
}

// UsageChecker sends data limit alerts.
type UsageChecker interface {
	CheckAllDataUsage(ctx context.Context) (int, error)
}

// InterfaceLoader reloads the cached network interfaces.
type InterfaceLoader interface {
	Load(ctx context.Context) error
}

// Jobs are the collaborators the scheduler drives once started.
type Jobs struct {
	Resets     ResetHandler
	Usage      UsageChecker
	Interfaces InterfaceLoader
}

// Specs holds the cron expressions of the periodic jobs. An empty spec disables the job.
type Specs struct {
	UsageCheck       string // e.g. "*/15 * * * *"
	ResetSweep       string // e.g. "*/5 * * * *"
	InterfaceRefresh string // e.g. "*/10 * * * *"
}

const (
	resetTimeout    = 1 * time.Minute
	periodicTimeout = 5 * time.Minute
)

// oneShot fires once at a fixed instant.
type oneShot struct {
	at time.Time
}

func (o oneShot) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	// Zero time keeps the entry from running again.
	return time.Time{}
}

// ResetScheduler keeps at most one reset alarm per subscriber on a cron engine
// and runs the periodic maintenance jobs.
type ResetScheduler struct {
	cronEngine *cron.Cron
	specs      Specs
	logger     *logrus.Entry

	mu     sync.Mutex
	jobs   *Jobs
	seq    uint64
	alarms map[int64]alarm
}

type alarm struct {
	entryID cron.EntryID
	seq     uint64
	at      time.Time
}

func NewResetScheduler(location *time.Location, specs Specs, logger *logrus.Entry) *ResetScheduler {
	if location == nil {
		location = time.Local
	}
	cronLogger := cron.PrintfLogger(logger)
	return &ResetScheduler{
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		specs:  specs,
		logger: logger,
		alarms: make(map[int64]alarm),
	}
}

// Arm replaces the subscriber's alarm with one firing at the given instant.
// An instant that is not in the future never fires; the reset sweep handles it.
func (s *ResetScheduler) Arm(subscriberID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.alarms[subscriberID]; ok {
		s.cronEngine.Remove(existing.entryID)
	}

	s.seq++
	seq := s.seq
	entryID := s.cronEngine.Schedule(oneShot{at: at}, cron.FuncJob(func() {
		s.fire(subscriberID, seq)
	}))
	s.alarms[subscriberID] = alarm{entryID: entryID, seq: seq, at: at}

	s.logger.WithFields(logrus.Fields{
		"subscriber_id": subscriberID,
		"at":            at.Format(time.RFC3339),
	}).Debug("Reset alarm armed")
}

// Disarm removes the subscriber's alarm, if any.
func (s *ResetScheduler) Disarm(subscriberID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.alarms[subscriberID]
	if !ok {
		return
	}
	s.cronEngine.Remove(existing.entryID)
	delete(s.alarms, subscriberID)
	s.logger.WithField("subscriber_id", subscriberID).Debug("Reset alarm disarmed")
}

// Pending returns the instant of the subscriber's armed alarm.
func (s *ResetScheduler) Pending(subscriberID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[subscriberID]
	return a.at, ok
}

func (s *ResetScheduler) fire(subscriberID int64, seq uint64) {
	s.mu.Lock()
	current, ok := s.alarms[subscriberID]
	if !ok || current.seq != seq {
		// Re-armed or disarmed while this run was being dispatched.
		s.mu.Unlock()
		return
	}
	s.cronEngine.Remove(current.entryID)
	delete(s.alarms, subscriberID)
	jobs := s.jobs
	s.mu.Unlock()

	logCtx := s.logger.WithField("subscriber_id", subscriberID)
	if jobs == nil || jobs.Resets == nil {
		logCtx.Warn("Reset alarm fired before the scheduler was started, leaving it to the sweep")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if err := jobs.Resets.HandleReset(ctx, subscriberID); err != nil {
		logCtx.WithError(err).Error("Error during automatic reset")
	}
}

// Start registers the periodic jobs and starts the cron engine.
func (s *ResetScheduler) Start(jobs Jobs) error {
	s.logger.Info("Starting reset scheduler...")

	s.mu.Lock()
	s.jobs = &jobs
	s.mu.Unlock()

	periodic := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"usage check", s.specs.UsageCheck, func(ctx context.Context) error {
			if jobs.Usage == nil {
				return nil
			}
			sent, err := jobs.Usage.CheckAllDataUsage(ctx)
			if sent > 0 {
				s.logger.WithField("alerts", sent).Info("Data usage alerts sent")
			}
			return err
		}},
		{"reset sweep", s.specs.ResetSweep, func(ctx context.Context) error {
			if jobs.Resets == nil {
				return nil
			}
			done, err := jobs.Resets.SweepDueResets(ctx)
			if done > 0 {
				s.logger.WithField("resets", done).Info("Overdue resets handled")
			}
			return err
		}},
		{"interface refresh", s.specs.InterfaceRefresh, func(ctx context.Context) error {
			if jobs.Interfaces == nil {
				return nil
			}
			return jobs.Interfaces.Load(ctx)
		}},
	}

	cronLogger := cron.PrintfLogger(s.logger)
	for _, job := range periodic {
		if job.spec == "" {
			s.logger.Infof("No cron spec for %s job, skipping", job.name)
			continue
		}
		job := job
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() {
			s.logger.Debugf("Cron job triggered: %s", job.name)
			ctx, cancel := context.WithTimeout(context.Background(), periodicTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				s.logger.WithError(err).Errorf("Error during %s", job.name)
			}
		}))
		if _, err := s.cronEngine.AddJob(job.spec, wrapped); err != nil {
			return fmt.Errorf("could not add %s cron job: %w", job.name, err)
		}
	}

	s.cronEngine.Start()
	s.logger.Info("Reset scheduler started with jobs.")
	return nil
}

func (s *ResetScheduler) Stop() {
	s.logger.Info("Stopping reset scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Reset scheduler gracefully stopped.")
}
