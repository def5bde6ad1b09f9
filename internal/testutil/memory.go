// Package testutil provides in-memory repositories and recording collaborators
// for service and transport tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/subscriber"
	"costcontrol/internal/domain/tracking"
	idb "costcontrol/internal/infra/database"
)

// Store implements subscriber.Repository, settings.Repository and
// netstats.Repository in memory. The zero value is not usable; use NewStore.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	subscribers map[int64]*subscriber.Subscriber
	settings    map[int64]*settings.Settings
	interfaces  []netstats.Interface
	samples     []netstats.Sample

	// ClearErr, when set, is returned by ClearStats for the interface ID.
	ClearErr map[string]error
}

func NewStore() *Store {
	return &Store{
		subscribers: make(map[int64]*subscriber.Subscriber),
		settings:    make(map[int64]*settings.Settings),
		ClearErr:    make(map[string]error),
	}
}

// Subscribers, Settings and Stats expose the store through each repository interface.
func (s *Store) Subscribers() subscriber.Repository { return subscriberRepo{s} }
func (s *Store) Settings() settings.Repository     { return settingsRepo{s} }
func (s *Store) Stats() netstats.Repository        { return statsRepo{s} }

// AddSubscriber creates an active subscriber and returns it.
func (s *Store) AddSubscriber(telegramID int64, firstName string) *subscriber.Subscriber {
	sub := &subscriber.Subscriber{TelegramID: telegramID, FirstName: firstName, IsActive: true}
	if err := s.Subscribers().Create(context.Background(), sub); err != nil {
		panic(err)
	}
	return sub
}

// Samples returns a copy of the recorded samples.
func (s *Store) Samples() []netstats.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]netstats.Sample(nil), s.samples...)
}

type subscriberRepo struct{ s *Store }

func (r subscriberRepo) Create(_ context.Context, sub *subscriber.Subscriber) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.subscribers {
		if existing.TelegramID == sub.TelegramID {
			return idb.ErrDuplicateTelegramID
		}
	}
	r.s.nextID++
	sub.ID = r.s.nextID
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	cp := *sub
	r.s.subscribers[sub.ID] = &cp
	return nil
}

func (r subscriberRepo) GetByID(_ context.Context, id int64) (*subscriber.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscribers[id]
	if !ok {
		return nil, idb.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r subscriberRepo) GetByTelegramID(_ context.Context, telegramID int64) (*subscriber.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subscribers {
		if sub.TelegramID == telegramID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, idb.ErrSubscriberNotFound
}

func (r subscriberRepo) Update(_ context.Context, sub *subscriber.Subscriber) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.subscribers[sub.ID]; !ok {
		return idb.ErrSubscriberNotFound
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	r.s.subscribers[sub.ID] = &cp
	return nil
}

func (r subscriberRepo) ListActive(_ context.Context) ([]*subscriber.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*subscriber.Subscriber
	for _, sub := range r.s.subscribers {
		if sub.IsActive {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type settingsRepo struct{ s *Store }

func copySettings(st *settings.Settings) *settings.Settings {
	cp := *st
	return &cp
}

func (r settingsRepo) Get(_ context.Context, subscriberID int64) (*settings.Settings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.settings[subscriberID]
	if !ok {
		return nil, idb.ErrSettingsNotFound
	}
	return copySettings(st), nil
}

func (r settingsRepo) Save(_ context.Context, st *settings.Settings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st.UpdatedAt = time.Now()
	cp := copySettings(st)
	if existing, ok := r.s.settings[st.SubscriberID]; ok {
		cp.Telephony = existing.Telephony
		cp.LastTelephonyReset = existing.LastTelephonyReset
	}
	r.s.settings[st.SubscriberID] = cp
	return nil
}

func (r settingsRepo) AddTelephony(_ context.Context, subscriberID int64, callSeconds, smsCount int64, at time.Time) (settings.TelephonyActivity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.settings[subscriberID]
	if !ok {
		return settings.TelephonyActivity{}, idb.ErrSettingsNotFound
	}
	st.Telephony.CallTime += callSeconds
	st.Telephony.SMSCount += smsCount
	st.Telephony.Timestamp = at
	return st.Telephony, nil
}

func (r settingsRepo) ResetTelephony(_ context.Context, subscriberID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.settings[subscriberID]
	if !ok {
		return idb.ErrSettingsNotFound
	}
	st.Telephony = settings.TelephonyActivity{Timestamp: at}
	st.LastTelephonyReset = &at
	return nil
}

func (r settingsRepo) UpdateNextReset(_ context.Context, subscriberID int64, period tracking.Period, nextReset *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.settings[subscriberID]
	if !ok {
		return idb.ErrSettingsNotFound
	}
	st.TrackingPeriod = period
	st.NextReset = nextReset
	return nil
}

func (r settingsRepo) filter(keep func(*settings.Settings) bool) []*settings.Settings {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*settings.Settings
	for _, st := range r.s.settings {
		if keep(st) {
			out = append(out, copySettings(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out
}

func (r settingsRepo) ListWithNextResetBefore(_ context.Context, t time.Time) ([]*settings.Settings, error) {
	return r.filter(func(st *settings.Settings) bool {
		return st.NextReset != nil && !st.NextReset.After(t)
	}), nil
}

func (r settingsRepo) ListScheduled(_ context.Context) ([]*settings.Settings, error) {
	return r.filter(func(st *settings.Settings) bool { return st.NextReset != nil }), nil
}

func (r settingsRepo) ListWithDataLimit(_ context.Context) ([]*settings.Settings, error) {
	return r.filter(func(st *settings.Settings) bool { return st.DataLimitEnabled }), nil
}

type statsRepo struct{ s *Store }

func (r statsRepo) UpsertInterface(_ context.Context, iface *netstats.Interface) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, known := range r.s.interfaces {
		if known.SubscriberID == iface.SubscriberID && known.ID == iface.ID {
			iface.Type = known.Type
			iface.CreatedAt = known.CreatedAt
			return nil
		}
	}
	iface.CreatedAt = time.Now()
	r.s.interfaces = append(r.s.interfaces, *iface)
	return nil
}

func (r statsRepo) ListInterfaces(_ context.Context) ([]netstats.Interface, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]netstats.Interface(nil), r.s.interfaces...), nil
}

func (r statsRepo) RecordSample(_ context.Context, sample *netstats.Sample) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sample.ID = int64(len(r.s.samples) + 1)
	if sample.SampledAt.IsZero() {
		sample.SampledAt = time.Now()
	}
	r.s.samples = append(r.s.samples, *sample)
	return nil
}

func (r statsRepo) ClearStats(_ context.Context, iface netstats.Interface) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.ClearErr[iface.ID]; err != nil {
		return err
	}
	kept := r.s.samples[:0]
	for _, sample := range r.s.samples {
		if sample.SubscriberID == iface.SubscriberID && sample.InterfaceID == iface.ID {
			continue
		}
		kept = append(kept, sample)
	}
	r.s.samples = kept
	return nil
}

func (r statsRepo) TotalUsage(_ context.Context, subscriberID int64, since *time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, sample := range r.s.samples {
		if sample.SubscriberID != subscriberID {
			continue
		}
		if since != nil && !sample.SampledAt.After(*since) {
			continue
		}
		total += sample.RxBytes + sample.TxBytes
	}
	return total, nil
}

// Alarms records armed alarms per subscriber.
type Alarms struct {
	mu    sync.Mutex
	Armed map[int64]time.Time
}

func NewAlarms() *Alarms { return &Alarms{Armed: make(map[int64]time.Time)} }

func (a *Alarms) Arm(subscriberID int64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Armed[subscriberID] = at
}

func (a *Alarms) Disarm(subscriberID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.Armed, subscriberID)
}

// At returns the armed instant for the subscriber, if any.
func (a *Alarms) At(subscriberID int64) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.Armed[subscriberID]
	return at, ok
}

// Message is a message captured by Notifier.
type Message struct {
	ChatID int64
	Text   string
}

// Notifier records sent messages; Err, when set, fails every send.
type Notifier struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (n *Notifier) SendMessage(chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Messages = append(n.Messages, Message{ChatID: chatID, Text: text})
	return nil
}

// Sent returns a copy of the captured messages.
func (n *Notifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.Messages...)
}
