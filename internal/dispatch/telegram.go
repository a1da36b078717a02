package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"wakebot/internal/task/engine"
)

type TelegramConfig struct {
	Token string
	// ParseMode is passed to sendMessage, e.g. "Markdown". Empty sends plain text.
	ParseMode string
}

type telegramAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSender delivers to "telegram:<chat id>" addresses.
type TelegramSender struct {
	bot       telegramAPI
	parseMode tele.ParseMode
}

func NewTelegram(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Offline: the bot only sends, so skip getMe at startup and never poll.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, parseMode: tele.ParseMode(cfg.ParseMode)}, nil
}

func (s *TelegramSender) Send(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(target(to), 10, 64)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("%w: telegram chat id %q", ErrBadAddress, target(to)))
	}
	_, err = s.bot.Send(tele.ChatID(id), text, &tele.SendOptions{ParseMode: s.parseMode})
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	switch {
	case errors.As(err, &flood):
		return engine.RetryAfter(fmt.Errorf("telegram: %w", err), time.Duration(flood.RetryAfter)*time.Second)
	case errors.Is(err, tele.ErrChatNotFound), errors.Is(err, tele.ErrBlockedByUser):
		return engine.NoRetry(fmt.Errorf("telegram: %w", err))
	default:
		return fmt.Errorf("telegram: %w", err)
	}
}
