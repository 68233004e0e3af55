// Package telegram implements the Telegram webhook adapter.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/botgateio/botgate/internal/channel"
)

// Type is the channel type served by this adapter.
const Type = channel.TypeTelegram

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Config is the parsed credential set for one Telegram channel.
type Config struct {
	BotToken    string
	SecretToken string
}

func parseConfig(credentials map[string]any) (Config, error) {
	token := channel.ReadString(credentials, "bot_token", "botToken", "token")
	if token == "" {
		return Config{}, fmt.Errorf("telegram bot_token is required")
	}
	return Config{
		BotToken:    token,
		SecretToken: channel.ReadString(credentials, "secret_token", "secretToken"),
	}, nil
}

// TelegramAdapter talks to the Telegram Bot API. Bot clients are cached per
// token because construction performs a getMe call.
type TelegramAdapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI
}

// NewTelegramAdapter creates the Telegram adapter.
func NewTelegramAdapter(log *slog.Logger) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   map[string]*tgbotapi.BotAPI{},
	}
}

// Type returns the adapter channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns adapter metadata.
func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			Push:      true,
			Streaming: true,
		},
	}
}

func (a *TelegramAdapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bots[token] = bot
	return bot, nil
}

// VerifyRequest checks the webhook secret token header. An unset secret means
// the config was registered without one; the request is accepted as trusted.
func (a *TelegramAdapter) VerifyRequest(cfg channel.ChannelConfig, req channel.WebhookRequest) error {
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	if telegramCfg.SecretToken == "" {
		a.logger.Warn("webhook secret token not configured, accepting request unverified",
			slog.String("config_id", cfg.ID))
		return nil
	}
	if req.Header.Get(secretTokenHeader) != telegramCfg.SecretToken {
		return fmt.Errorf("%w: telegram secret token mismatch", channel.ErrUnauthorized)
	}
	return nil
}

// ParseWebhook converts a Bot API update into the normalized message shape.
// Edited messages, non-message updates, and non-text messages are ignored.
func (a *TelegramAdapter) ParseWebhook(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(req.Body, &update); err != nil {
		a.logger.Debug("ignoring unparseable update", slog.Any("error", err))
		return nil, nil
	}
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return nil, nil
	}
	return &channel.InboundMessage{
		ChannelID:   cfg.ID,
		Channel:     Type,
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		Username:    msg.From.UserName,
		Content:     msg.Text,
		MessageID:   strconv.Itoa(msg.MessageID),
		ReplyTarget: strconv.FormatInt(msg.Chat.ID, 10),
		ReceivedAt:  time.Now(),
	}, nil
}

// SendText sends one message to the chat identified by target.
func (a *TelegramAdapter) SendText(ctx context.Context, cfg channel.ChannelConfig, target, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be a chat id: %w", err)
	}
	bot, err := a.getOrCreateBot(telegramCfg.BotToken)
	if err != nil {
		return err
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	return nil
}

// ShouldStreamResponse reports that Telegram responses are streamed via
// message edits.
func (a *TelegramAdapter) ShouldStreamResponse(_ channel.InboundMessage) bool {
	return true
}

// OpenStream starts an edit-based streaming session targeting the chat the
// message came from.
func (a *TelegramAdapter) OpenStream(_ context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) (channel.OutboundStream, error) {
	target := msg.ReplyTarget
	if target == "" {
		target = msg.UserID
	}
	return &outboundStream{
		adapter: a,
		cfg:     cfg,
		target:  target,
	}, nil
}

// RegisterWebhook points the bot's webhook at url, attaching the configured
// secret token when present.
func (a *TelegramAdapter) RegisterWebhook(ctx context.Context, cfg channel.ChannelConfig, url string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(telegramCfg.BotToken)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", telegramCfg.SecretToken)
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}
