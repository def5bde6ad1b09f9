// internal/infra/telegram/client.go
package telegram

import (
	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements app.Notifier using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot     *telebot.Bot
	options *telebot.SendOptions
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b, options: &telebot.SendOptions{DisableWebPagePreview: true}}
}

// SendMessage sends a text message to the subscriber's private chat.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string) error {
	recipient := &telebot.User{ID: recipientChatID}
	_, err := tba.bot.Send(recipient, text, tba.options)
	return err
}
