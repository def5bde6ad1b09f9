// internal/infra/telegram/settings_handlers.go
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"costcontrol/internal/domain/tracking"

	"gopkg.in/telebot.v3"
)

const weekdayUnique = "weekday"

var weekdayButton = telebot.Btn{Unique: weekdayUnique}

// weekdayMarkup is the inline weekday picker, one button per day in locale order.
func (h *Handlers) weekdayMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	var row telebot.Row
	for _, day := range WeekdayOrder(h.cfg.WeekStartsOnMonday) {
		row = append(row, markup.Data(day.String()[:3], weekdayUnique, strconv.Itoa(int(day))))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	rows = append(rows, row)
	markup.Inline(rows...)
	return markup
}

// PickWeekday applies the weekday chosen in the picker. data is the button payload.
func (h *Handlers) PickWeekday(ctx context.Context, telegramID int64, data string) string {
	sub, msg := h.activeSubscriber(ctx, telegramID)
	if sub == nil {
		return msg
	}
	period, err := tracking.ParsePeriod(string(tracking.ModeWeekly), data)
	if err != nil {
		return h.errorReply(err, telegramID)
	}
	return h.applyPeriod(ctx, sub, period)
}

func (h *Handlers) registerWeekdayPicker(ctx context.Context, b *telebot.Bot) {
	b.Handle(&weekdayButton, func(c telebot.Context) error {
		data := c.Callback().Data
		logCtx := h.logger.WithField("sender_id", c.Sender().ID).WithField("callback_data", data)
		logCtx.Info("Processing weekday picker callback")

		text := h.PickWeekday(ctx, c.Sender().ID, data)
		if err := c.Respond(); err != nil {
			logCtx.WithError(err).Warn("Failed to acknowledge callback")
		}
		if err := c.Edit(text); err != nil {
			c.Bot().OnError(fmt.Errorf("failed to update weekday picker message: %w", err), c)
			return c.Send(text)
		}
		return nil
	})
}
