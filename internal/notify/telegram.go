package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Telegram delivers alerts to a single chat as HTML messages.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegram authorizes the bot and returns the sink.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing telegram bot: %w", err)
	}

	logger := log.With().Str("component", "telegram_sink").Logger()
	logger.Info().Str("username", bot.Self.UserName).Msg("authorized on Telegram")

	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

// Deliver sends one message. The context is accepted for interface
// symmetry; the underlying bot API manages its own request timeout.
func (t *Telegram) Deliver(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}
