// Package changelog carries the ops-facing half of C6: it doesn't touch the
// append-only allocation change log itself (that's store.ChangeStore), it
// watches the scheduler's consecutive-failure counter and pushes a Telegram
// alert when a campaign's cycle is failing repeatedly, mirroring how the
// teacher's notification layer sat beside trading state rather than inside it.
package changelog

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"adbudget/logger"
)

const (
	// AlertFailureThreshold is the number of consecutive cycle failures
	// that triggers an ops notification.
	AlertFailureThreshold = 3
	// ErroredFailureThreshold is the number of consecutive cycle failures
	// that forces a campaign into StatusErrored, pulling it out of the
	// scheduler's active rotation until an operator intervenes.
	ErroredFailureThreshold = 10
)

// AlertSink delivers operator-facing notifications over Telegram. A nil
// *AlertSink is valid and Notify on it is a no-op, so callers can construct
// one unconditionally and skip wiring when no bot token is configured.
type AlertSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewAlertSink builds an AlertSink from a bot token and chat ID. If token is
// empty, it returns a non-nil AlertSink whose Notify calls are silently
// dropped (logged locally instead) — there's no requirement that ops
// alerting be configured for the engine to run.
func NewAlertSink(token string, chatID int64) (*AlertSink, error) {
	if token == "" {
		return &AlertSink{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("changelog: init telegram bot: %w", err)
	}
	return &AlertSink{bot: bot, chatID: chatID}, nil
}

// Notify sends msg to the configured chat. Failures to deliver are logged,
// never returned — an alert-sink outage must never fail a scheduler cycle.
func (s *AlertSink) Notify(msg string) {
	if s == nil {
		return
	}
	if s.bot == nil {
		logger.Warnf("🔔 [alert, no sink configured] %s", msg)
		return
	}
	out := tgbotapi.NewMessage(s.chatID, "⚠️ "+msg)
	if _, err := s.bot.Send(out); err != nil {
		logger.Errorf("changelog: failed to send telegram alert: %v", err)
	}
}
