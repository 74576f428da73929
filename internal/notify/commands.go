package notify

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/alert"
	"pumpwatch/internal/store"
)

const (
	reportWindow = 24 * time.Hour
	topLimit     = 5
	historyLimit = 10
)

// Commands answers the interactive bot commands (/report, /top, /history)
// from the event store. It shares the alert sink's bot session.
type Commands struct {
	bot    *tgbotapi.BotAPI
	store  store.EventStore
	logger zerolog.Logger
}

// NewCommands creates the command handler on top of an existing Telegram
// sink.
func NewCommands(t *Telegram, st store.EventStore) *Commands {
	return &Commands{
		bot:    t.bot,
		store:  st,
		logger: log.With().Str("component", "telegram_commands").Logger(),
	}
}

// Run consumes bot updates until the context is canceled. Per-command
// failures are logged and the loop keeps serving.
func (c *Commands) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := c.bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			c.handleCommand(ctx, update.Message)
		}
	}
}

func (c *Commands) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	var text string
	var err error

	switch msg.Command() {
	case "report":
		text, err = c.report(ctx)
	case "top":
		text, err = c.top(ctx)
	case "history":
		text, err = c.history(ctx, msg.CommandArguments())
	default:
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Str("command", msg.Command()).Msg("command failed")
		text = "Something went wrong, try again later."
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	if _, err := c.bot.Send(reply); err != nil {
		c.logger.Error().Err(err).Str("command", msg.Command()).Msg("sending reply failed")
	}
}

func (c *Commands) report(ctx context.Context) (string, error) {
	rows, err := c.store.CountByInstrumentSince(ctx, time.Now().Add(-reportWindow))
	if err != nil {
		return "", err
	}
	return alert.ComposeActivityReport(rows), nil
}

func (c *Commands) top(ctx context.Context) (string, error) {
	rows, err := c.store.TopInstruments(ctx, topLimit)
	if err != nil {
		return "", err
	}
	return alert.ComposeTopInstruments(rows), nil
}

func (c *Commands) history(ctx context.Context, args string) (string, error) {
	instrument := strings.ToUpper(strings.TrimSpace(args))
	if instrument == "" {
		return "Usage: /history SYMBOL", nil
	}
	events, err := c.store.RecentEvents(ctx, instrument, historyLimit)
	if err != nil {
		return "", err
	}
	return alert.ComposeHistory(instrument, events), nil
}
