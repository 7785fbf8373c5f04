// Package telegram sends messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sheetwithoutsheet/swscore"
	"github.com/sheetwithoutsheet/swscore/config"
	"github.com/sheetwithoutsheet/swscore/httpclient"
)

// DefaultAPIBase is the Bot API host.
const DefaultAPIBase = "https://api.telegram.org"

type options struct {
	apiBase    string
	clientOpts []httpclient.Option
}

// Option customizes a Bot.
type Option func(*options)

// WithAPIBase points the bot at another Bot API host, e.g. a local Bot API server.
func WithAPIBase(base string) Option {
	return func(o *options) {
		o.apiBase = strings.TrimRight(base, "/")
	}
}

// WithClientOptions passes options to the HTTP client the bot owns.
func WithClientOptions(opts ...httpclient.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// Bot talks to one bot identity. It owns its HTTP client.
type Bot struct {
	token  string
	api    string
	client *httpclient.Client
}

// New creates a bot for token.
func New(token string, opts ...Option) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, swscore.NewError(swscore.ConfigurationError, errors.New("telegram bot token is required"), nil)
	}
	o := options{apiBase: DefaultAPIBase}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bot{
		token:  token,
		api:    fmt.Sprintf("%s/bot%s", o.apiBase, token),
		client: httpclient.New(o.clientOpts...),
	}, nil
}

// FromEnv creates a bot from TELEGRAM_BOT_TOKEN.
func FromEnv(l *config.Loader, opts ...Option) (*Bot, error) {
	tg, err := l.Telegram()
	if err != nil {
		return nil, err
	}
	return New(tg.Token, opts...)
}

// SendMessage sends text to chatID. extra carries optional sendMessage parameters such as
// parse_mode or disable_notification; it cannot override chat_id or text.
// It returns the API's decoded JSON reply and HTTP status.
func (b *Bot) SendMessage(ctx context.Context, chatID any, text string, extra map[string]any) (any, int, error) {
	params := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		params[k] = v
	}
	params["chat_id"] = chatID
	params["text"] = text
	return b.client.Get(ctx, b.api+"/sendMessage", nil, params)
}

// Close releases the bot's HTTP session.
func (b *Bot) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}
