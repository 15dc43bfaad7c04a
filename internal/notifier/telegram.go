package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Telegram sends messages through a bot to a single chat.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
}

// NewTelegram builds a send-only bot. chatID is the numeric target chat.
func NewTelegram(botToken, chatID, apiURL string, hc *http.Client) (*Telegram, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: chat id %q: %w", chatID, err)
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   botToken,
		Client:  hc,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: id}}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}
