package telegram

import (
	"context"
	"errors"
	"fmt"

	"costcontrol/internal/app"
	"costcontrol/internal/domain/tracking"
	idb "costcontrol/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Stop deactivates the sender and disables their automatic reset.
func (h *Handlers) Stop(ctx context.Context, telegramID int64) string {
	handlerLogger := h.logger.WithFields(logrus.Fields{
		"handler":   "/stop",
		"sender_id": telegramID,
	})

	stopped, err := h.subscribers.Deactivate(ctx, telegramID)
	if err != nil {
		logWithError := handlerLogger.WithError(err)
		switch {
		case errors.Is(err, idb.ErrSubscriberNotFound):
			logWithError.Warn("Subscriber to stop not found")
			return "You are not registered. Send /start to begin tracking."
		case errors.Is(err, app.ErrSubscriberAlreadyInactive):
			logWithError.Warn("Subscriber already inactive")
			return "Tracking is already stopped. Send /start to resume."
		default:
			logWithError.Error("Failed to stop subscriber")
			return "Something went wrong. Please try again later."
		}
	}

	if _, err := h.resets.UpdateNextReset(ctx, stopped.ID, tracking.Never()); err != nil {
		handlerLogger.WithError(err).Error("Failed to disable automatic reset for stopped subscriber")
	}

	handlerLogger.WithField("subscriber_id", stopped.ID).Info("Subscriber stopped tracking")
	return fmt.Sprintf("Tracking stopped, %s. Send /start whenever you want to resume.", stopped.FirstName)
}
