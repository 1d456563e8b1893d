package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig points notifications at the operator's private chat.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramSink pushes notifications to the operator over Telegram, useful
// when the broadcast machine's screen is occupied by the stream itself.
// Send-only: the bot never polls for updates.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify: telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: telegram chat_id is required")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: nil, // send-only
		Client: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: telegram init: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, n Notification) error {
	// telebot has no context-aware send; bound the call ourselves so a hung
	// API exchange cannot wedge the worker past shutdown.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(t.chatID), "*"+n.Title+"*\n"+n.Body, tele.ModeMarkdown)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.New("notify: telegram send timed out")
	}
}
