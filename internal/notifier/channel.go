package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Channel delivers one text message to an external chat.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// ChannelConfig selects and configures a Channel.
type ChannelConfig struct {
	// Kind is dingtalk, lark or telegram.
	Kind string
	// Token is the webhook URL, or the bot token for telegram.
	Token string
	// Secret signs webhook calls, or is the chat id for telegram.
	Secret string
	// APIURL overrides the telegram API endpoint.
	APIURL  string
	Timeout time.Duration
}

// NewChannel builds the channel named by cfg.Kind.
func NewChannel(cfg ChannelConfig) (Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notifier: token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := &http.Client{Timeout: timeout}

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "dingtalk":
		return NewDingTalk(cfg.Token, cfg.Secret, hc), nil
	case "lark":
		return NewLark(cfg.Token, cfg.Secret, hc), nil
	case "telegram":
		return NewTelegram(cfg.Token, cfg.Secret, cfg.APIURL, hc)
	default:
		return nil, fmt.Errorf("notifier: unknown channel %q", cfg.Kind)
	}
}
