package notify

import (
	"context"
	"errors"
	"fmt"

	"zapis/internal/config"
	"zapis/internal/domain"
	"zapis/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var ErrNoChat = errors.New("recipient has no telegram chat")

// NewBotAPI connects to Telegram. An empty token yields (nil, nil).
func NewBotAPI(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if cfg.BotToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// TelegramSender delivers messages to the customer's chat.
type TelegramSender struct {
	bot domain.TelegramSender
}

func NewTelegramSender(bot domain.TelegramSender) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(_ context.Context, msg *models.Message) error {
	if msg.Recipient == nil || msg.Recipient.TelegramChatID == 0 {
		return ErrNoChat
	}
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Body
	}
	m := tgbotapi.NewMessage(msg.Recipient.TelegramChatID, text)
	if _, err := s.bot.Send(m); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// LogSender writes messages to the log. Used when no channel reaches the customer.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg *models.Message) error {
	recipient := ""
	if msg.Recipient != nil {
		recipient = msg.Recipient.ID
	}
	s.logger.Info().
		Str("recipient", recipient).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("notification")
	return nil
}

// Router picks Telegram for customers with a chat and the fallback for the rest.
type Router struct {
	telegram domain.Sender
	fallback domain.Sender
}

func NewRouter(telegram, fallback domain.Sender) *Router {
	return &Router{telegram: telegram, fallback: fallback}
}

func (r *Router) Send(ctx context.Context, msg *models.Message) error {
	if r.telegram != nil && msg.Recipient != nil && msg.Recipient.TelegramChatID != 0 {
		return r.telegram.Send(ctx, msg)
	}
	return r.fallback.Send(ctx, msg)
}
