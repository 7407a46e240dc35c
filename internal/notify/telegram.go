// internal/notify/telegram.go

// Package notify pushes user-facing alerts over Telegram. Only provisioning
// failures are surfaced this way; reconciliation anomalies and tool errors
// stay in the logs.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends alerts to a fixed chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// ProvisioningFailure tells the user their desktop could not be provisioned.
// Delivery failures are logged and swallowed; an unreachable notifier must
// not break the session.
func (t *Telegram) ProvisioningFailure(sessionName string, err error) {
	text := fmt.Sprintf("Desktop provisioning failed for %q: %v\nRefresh the desktop panel to retry.", sessionName, err)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, sendErr := t.bot.Send(msg); sendErr != nil {
		slog.Warn("notify: telegram send failed", "error", sendErr)
	}
}
