// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"costcontrol/internal/app"
	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/domain/subscriber"
	"costcontrol/internal/domain/tracking"
	"costcontrol/internal/infra/config"
	idb "costcontrol/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const helpText = `I keep track of your data, call and SMS usage and reset the counters on a schedule.

/status - show usage, limit and the next reset
/period never - disable automatic resets
/period monthly <1-31> - reset on a day of the month
/period weekly - reset on a day of the week
/limit <value> <MB|GB> - get an alert when data usage reaches the limit
/limit off - disable the data limit alert
/reset [data|telephony|all] - reset the counters now
/stop - stop tracking
/help - show this message`

// Handlers answers the bot commands. Each handler builds its reply from the
// services; the telebot wiring lives in Register.
type Handlers struct {
	subscribers *app.SubscriberService
	resets      *app.ResetService
	stats       netstats.Repository
	cfg         *config.AppConfig
	logger      *logrus.Entry
	now         func() time.Time
}

func NewHandlers(
	subscribers *app.SubscriberService,
	resets *app.ResetService,
	stats netstats.Repository,
	cfg *config.AppConfig,
	logger *logrus.Entry,
) *Handlers {
	return &Handlers{
		subscribers: subscribers,
		resets:      resets,
		stats:       stats,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Register binds the commands and the weekday picker callback to the bot.
func (h *Handlers) Register(ctx context.Context, b *telebot.Bot) {
	reply := func(command string, build func(c telebot.Context) (string, *telebot.ReplyMarkup)) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			h.logger.WithFields(logrus.Fields{
				"command":   command,
				"sender_id": c.Sender().ID,
			}).Info("Processing command")
			text, markup := build(c)
			if markup != nil {
				return c.Send(text, markup)
			}
			return c.Send(text)
		}
	}

	b.Handle("/start", reply("/start", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return h.Start(ctx, c.Sender().ID, c.Sender().FirstName), nil
	}))
	b.Handle("/help", reply("/help", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return helpText, nil
	}))
	b.Handle("/status", reply("/status", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return h.Status(ctx, c.Sender().ID), nil
	}))
	b.Handle("/period", reply("/period", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return h.Period(ctx, c.Sender().ID, c.Args())
	}))
	b.Handle("/limit", reply("/limit", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return h.Limit(ctx, c.Sender().ID, c.Args()), nil
	}))
	b.Handle("/reset", reply("/reset", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return h.Reset(ctx, c.Sender().ID, c.Args()), nil
	}))
	b.Handle("/stop", reply("/stop", func(c telebot.Context) (string, *telebot.ReplyMarkup) {
		return h.Stop(ctx, c.Sender().ID), nil
	}))

	h.registerWeekdayPicker(ctx, b)
}

// Start registers the sender on first contact.
func (h *Handlers) Start(ctx context.Context, telegramID int64, firstName string) string {
	logCtx := h.logger.WithField("sender_id", telegramID)
	sub, created, err := h.subscribers.Register(ctx, telegramID, firstName)
	if err != nil {
		logCtx.WithError(err).Error("Error registering subscriber for /start command")
		return "Something went wrong while registering you. Please try again later."
	}
	if created {
		return fmt.Sprintf("Hi, %s! I will keep track of your usage. Use /period to choose when the counters reset and /help for all commands.", sub.FirstName)
	}
	return fmt.Sprintf("Welcome back, %s! Use /status to see your usage.", sub.FirstName)
}

// Status summarises the subscriber's settings and current usage.
func (h *Handlers) Status(ctx context.Context, telegramID int64) string {
	sub, msg := h.activeSubscriber(ctx, telegramID)
	if sub == nil {
		return msg
	}
	st, err := h.resets.Settings(ctx, sub.ID)
	if err != nil {
		return h.errorReply(err, telegramID)
	}
	usage, err := h.stats.TotalUsage(ctx, sub.ID, st.LastDataReset)
	if err != nil {
		return h.errorReply(err, telegramID)
	}

	now := h.now().In(h.cfg.Location)
	since := sub.CreatedAt.In(h.cfg.Location)
	if st.LastDataReset != nil {
		since = st.LastDataReset.In(h.cfg.Location)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reset period: %s\n", DescribePeriod(st.TrackingPeriod))
	if st.NextReset != nil {
		fmt.Fprintf(&b, "Next reset: %s\n", FormatTimeRange(st.NextReset.In(h.cfg.Location), nil))
	}
	fmt.Fprintf(&b, "Data used (%s): %s\n", FormatTimeRange(since, &now), app.FormatBytes(usage))
	if st.DataLimitEnabled {
		fmt.Fprintf(&b, "Data limit: %s %s\n", st.DataLimitValue.String(), st.DataLimitUnit)
	} else {
		b.WriteString("Data limit: off\n")
	}
	fmt.Fprintf(&b, "Calls: %s, SMS: %d", time.Duration(st.Telephony.CallTime)*time.Second, st.Telephony.SMSCount)
	return b.String()
}

// Period changes the reset period. Weekly without a day answers with the weekday picker.
func (h *Handlers) Period(ctx context.Context, telegramID int64, args []string) (string, *telebot.ReplyMarkup) {
	sub, msg := h.activeSubscriber(ctx, telegramID)
	if sub == nil {
		return msg, nil
	}
	if len(args) == 0 {
		return "Usage: /period never | /period monthly <1-31> | /period weekly", nil
	}
	if strings.EqualFold(args[0], string(tracking.ModeWeekly)) && len(args) == 1 {
		return "On which day of the week should the counters reset?", h.weekdayMarkup()
	}

	value := ""
	if len(args) > 1 {
		value = args[1]
	}
	period, err := tracking.ParsePeriod(args[0], value)
	if err != nil {
		return h.errorReply(err, telegramID), nil
	}
	return h.applyPeriod(ctx, sub, period), nil
}

func (h *Handlers) applyPeriod(ctx context.Context, sub *subscriber.Subscriber, period tracking.Period) string {
	next, err := h.resets.UpdateNextReset(ctx, sub.ID, period)
	if err != nil {
		return h.errorReply(err, sub.TelegramID)
	}
	if next == nil {
		return "Automatic resets are off."
	}
	return fmt.Sprintf("Reset period set to %s. Next reset: %s.", DescribePeriod(period), FormatTimeRange(next.In(h.cfg.Location), nil))
}

// Limit sets or disables the data usage alert.
func (h *Handlers) Limit(ctx context.Context, telegramID int64, args []string) string {
	sub, msg := h.activeSubscriber(ctx, telegramID)
	if sub == nil {
		return msg
	}
	enabled, value, unit, err := ParseLimitArgs(args)
	if err != nil {
		return h.errorReply(err, telegramID) + "\nUsage: /limit <value> <MB|GB> or /limit off"
	}
	st, err := h.resets.SetDataLimit(ctx, sub.ID, enabled, value, unit)
	if err != nil {
		return h.errorReply(err, telegramID)
	}
	if !st.DataLimitEnabled {
		return "Data limit alert is off."
	}
	return fmt.Sprintf("I will alert you when data usage reaches %s %s.", st.DataLimitValue.String(), st.DataLimitUnit)
}

// Reset clears the requested counters now.
func (h *Handlers) Reset(ctx context.Context, telegramID int64, args []string) string {
	sub, msg := h.activeSubscriber(ctx, telegramID)
	if sub == nil {
		return msg
	}
	scopeArg := ""
	if len(args) > 0 {
		scopeArg = args[0]
	}
	scope, err := app.ParseResetScope(scopeArg)
	if err != nil {
		return h.errorReply(err, telegramID) + "\nUsage: /reset [data|telephony|all]"
	}
	if err := h.resets.Reset(ctx, sub.ID, scope); err != nil {
		return h.errorReply(err, telegramID)
	}
	switch scope {
	case app.ScopeData:
		return "Data usage has been reset."
	case app.ScopeTelephony:
		return "Call and SMS counters have been reset."
	default:
		return "All counters have been reset."
	}
}

func (h *Handlers) activeSubscriber(ctx context.Context, telegramID int64) (*subscriber.Subscriber, string) {
	sub, err := h.subscribers.Lookup(ctx, telegramID)
	if err != nil {
		return nil, h.errorReply(err, telegramID)
	}
	if !sub.IsActive {
		return nil, "Tracking is stopped. Send /start to resume."
	}
	return sub, ""
}

// errorReply maps service errors to a message for the user.
func (h *Handlers) errorReply(err error, telegramID int64) string {
	switch {
	case errors.Is(err, idb.ErrSubscriberNotFound):
		return "You are not registered yet. Send /start first."
	case errors.Is(err, tracking.ErrInvalidArgument):
		return "Invalid value: " + strings.TrimPrefix(err.Error(), tracking.ErrInvalidArgument.Error()+": ")
	case errors.Is(err, netstats.ErrNotLoaded):
		return "Network statistics are still loading. Please try again in a moment."
	default:
		h.logger.WithError(err).WithField("sender_id", telegramID).Error("Command failed")
		return "Something went wrong. Please try again later."
	}
}
