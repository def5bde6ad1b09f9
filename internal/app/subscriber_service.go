package app

import (
	"context"
	"errors"
	"fmt"

	"costcontrol/internal/domain/settings"
	"costcontrol/internal/domain/subscriber"
	idb "costcontrol/internal/infra/database"

	"github.com/sirupsen/logrus"
)

var ErrSubscriberAlreadyInactive = fmt.Errorf("subscriber is already inactive")

type SubscriberService struct {
	subscriberRepo subscriber.Repository
	settingsRepo   settings.Repository
	logger         *logrus.Entry
}

func NewSubscriberService(sr subscriber.Repository, st settings.Repository, logger *logrus.Entry) *SubscriberService {
	return &SubscriberService{
		subscriberRepo: sr,
		settingsRepo:   st,
		logger:         logger,
	}
}

// Register returns the subscriber for telegramID, creating it with default
// settings on first contact. A deactivated subscriber is reactivated.
func (s *SubscriberService) Register(ctx context.Context, telegramID int64, firstName string) (*subscriber.Subscriber, bool, error) {
	existing, err := s.subscriberRepo.GetByTelegramID(ctx, telegramID)
	if err == nil {
		if !existing.IsActive {
			existing.IsActive = true
			if err := s.subscriberRepo.Update(ctx, existing); err != nil {
				return nil, false, fmt.Errorf("failed to reactivate subscriber: %w", err)
			}
			s.logger.WithField("subscriber_id", existing.ID).Info("Subscriber reactivated")
		}
		return existing, false, nil
	}
	if !errors.Is(err, idb.ErrSubscriberNotFound) {
		return nil, false, fmt.Errorf("failed to check existing subscriber: %w", err)
	}

	newSubscriber := &subscriber.Subscriber{
		TelegramID: telegramID,
		FirstName:  firstName,
		IsActive:   true,
	}
	if err := s.subscriberRepo.Create(ctx, newSubscriber); err != nil {
		if errors.Is(err, idb.ErrDuplicateTelegramID) { // lost a race with a concurrent /start
			existing, getErr := s.subscriberRepo.GetByTelegramID(ctx, telegramID)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to load concurrently created subscriber: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create subscriber in repository: %w", err)
	}

	if err := s.settingsRepo.Save(ctx, settings.Defaults(newSubscriber.ID)); err != nil {
		return nil, false, fmt.Errorf("failed to create default settings: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"subscriber_id": newSubscriber.ID,
		"telegram_id":   telegramID,
	}).Info("Subscriber registered")
	return newSubscriber, true, nil
}

// Lookup returns the subscriber registered for telegramID.
func (s *SubscriberService) Lookup(ctx context.Context, telegramID int64) (*subscriber.Subscriber, error) {
	return s.subscriberRepo.GetByTelegramID(ctx, telegramID)
}

// Deactivate stops tracking for the subscriber with the given Telegram ID.
func (s *SubscriberService) Deactivate(ctx context.Context, telegramID int64) (*subscriber.Subscriber, error) {
	target, err := s.subscriberRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, idb.ErrSubscriberNotFound) {
			return nil, idb.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber by Telegram ID for deactivation: %w", err)
	}

	if !target.IsActive {
		return target, ErrSubscriberAlreadyInactive
	}

	target.IsActive = false
	if err := s.subscriberRepo.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to update subscriber to inactive in repository: %w", err)
	}
	return target, nil
}
