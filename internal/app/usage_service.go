package app

import (
	"context"
	"fmt"

	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/subscriber"

	"github.com/docker/go-units"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a text message to a Telegram chat.
type Notifier interface {
	SendMessage(recipientChatID int64, text string) error
}

// UsageService raises data usage alerts when a subscriber crosses the configured limit.
type UsageService struct {
	settingsRepo   settings.Repository
	subscriberRepo subscriber.Repository
	stats          netstats.Repository
	notifier       Notifier
	logger         *logrus.Entry
}

func NewUsageService(st settings.Repository, sr subscriber.Repository, stats netstats.Repository, n Notifier, logger *logrus.Entry) *UsageService {
	return &UsageService{
		settingsRepo:   st,
		subscriberRepo: sr,
		stats:          stats,
		notifier:       n,
		logger:         logger,
	}
}

// CheckDataUsageNotification sends a single over-limit alert per tracking
// period. It reports whether an alert was sent.
func (s *UsageService) CheckDataUsageNotification(ctx context.Context, st *settings.Settings, usageBytes int64) (bool, error) {
	if !st.DataLimitEnabled || st.DataUsageNotified {
		return false, nil
	}
	limit := st.DataLimitBytes()
	if decimal.NewFromInt(usageBytes).LessThan(limit) {
		return false, nil
	}

	sub, err := s.subscriberRepo.GetByID(ctx, st.SubscriberID)
	if err != nil {
		return false, fmt.Errorf("failed to get subscriber %d: %w", st.SubscriberID, err)
	}
	if !sub.IsActive {
		return false, nil
	}

	text := fmt.Sprintf("Data usage alert: you have used %s of your %s %s limit.",
		FormatBytes(usageBytes), st.DataLimitValue.String(), st.DataLimitUnit)
	if err := s.notifier.SendMessage(sub.TelegramID, text); err != nil {
		return false, fmt.Errorf("failed to send data usage alert: %w", err)
	}

	st.DataUsageNotified = true
	if err := s.settingsRepo.Save(ctx, st); err != nil {
		return true, fmt.Errorf("failed to mark data usage alert as sent: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"subscriber_id": st.SubscriberID,
		"usage_bytes":   usageBytes,
		"limit_bytes":   limit.String(),
	}).Info("Data usage alert sent")
	return true, nil
}

// CheckAllDataUsage runs the data usage check for every active subscriber with a limit,
// counting traffic since the last data reset. It returns the number of alerts sent.
func (s *UsageService) CheckAllDataUsage(ctx context.Context) (int, error) {
	limited, err := s.settingsRepo.ListWithDataLimit(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscribers with data limit: %w", err)
	}
	if len(limited) == 0 {
		return 0, nil
	}
	active, err := activeSubscriberIDs(ctx, s.subscriberRepo)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, st := range limited {
		logCtx := s.logger.WithField("subscriber_id", st.SubscriberID)
		if _, ok := active[st.SubscriberID]; !ok || st.DataUsageNotified {
			continue
		}
		usage, err := s.stats.TotalUsage(ctx, st.SubscriberID, st.LastDataReset)
		if err != nil {
			logCtx.WithError(err).Error("Failed to compute data usage")
			continue
		}
		notified, err := s.CheckDataUsageNotification(ctx, st, usage)
		if err != nil {
			logCtx.WithError(err).Error("Data usage check failed")
		}
		if notified {
			sent++
		}
	}
	return sent, nil
}

func activeSubscriberIDs(ctx context.Context, repo subscriber.Repository) (map[int64]struct{}, error) {
	subs, err := repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}
	ids := make(map[int64]struct{}, len(subs))
	for _, sub := range subs {
		ids[sub.ID] = struct{}{}
	}
	return ids, nil
}

// FormatBytes renders a byte count with decimal (SI) units, matching the data limit units.
func FormatBytes(n int64) string {
	return units.HumanSize(float64(n))
}
