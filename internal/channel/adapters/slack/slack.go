// Package slack implements the Slack Events API adapter.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/botgateio/botgate/internal/channel"
)

// Type is the channel type served by this adapter.
const Type = channel.TypeSlack

// Config is the parsed credential set for one Slack channel.
type Config struct {
	BotToken      string
	SigningSecret string
}

func parseConfig(credentials map[string]any) (Config, error) {
	token := channel.ReadString(credentials, "bot_token", "botToken", "token")
	if token == "" {
		return Config{}, fmt.Errorf("slack bot_token is required")
	}
	return Config{
		BotToken:      token,
		SigningSecret: channel.ReadString(credentials, "signing_secret", "signingSecret"),
	}, nil
}

// SlackAdapter talks to the Slack Web and Events APIs.
type SlackAdapter struct {
	logger *slog.Logger
}

// NewSlackAdapter creates the Slack adapter.
func NewSlackAdapter(log *slog.Logger) *SlackAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &SlackAdapter{
		logger: log.With(slog.String("adapter", "slack")),
	}
}

// Type returns the adapter channel type.
func (a *SlackAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns adapter metadata.
func (a *SlackAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Slack",
		Capabilities: channel.Capabilities{
			Push:      true,
			Handshake: true,
		},
	}
}

// VerifyRequest checks the request signature against the signing secret. A
// config without a signing secret is accepted as trusted.
func (a *SlackAdapter) VerifyRequest(cfg channel.ChannelConfig, req channel.WebhookRequest) error {
	slackCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	if slackCfg.SigningSecret == "" {
		a.logger.Warn("signing secret not configured, accepting request unverified",
			slog.String("config_id", cfg.ID))
		return nil
	}
	verifier, err := slack.NewSecretsVerifier(req.Header, slackCfg.SigningSecret)
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrUnauthorized, err)
	}
	if _, err := verifier.Write(req.Body); err != nil {
		return err
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrUnauthorized, err)
	}
	return nil
}

// HandleHandshake answers the Events API url_verification challenge.
func (a *SlackAdapter) HandleHandshake(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.WebhookResponse, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(req.Body), slackevents.OptionNoVerifyToken())
	if err != nil || event.Type != slackevents.URLVerification {
		return nil, nil
	}
	var challenge slackevents.ChallengeResponse
	if err := json.Unmarshal(req.Body, &challenge); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return channel.TextResponse(challenge.Challenge), nil
}

// ParseWebhook normalizes Events API callbacks. Bot messages, message
// subtypes, and non-message events are ignored.
func (a *SlackAdapter) ParseWebhook(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.InboundMessage, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(req.Body), slackevents.OptionNoVerifyToken())
	if err != nil {
		a.logger.Debug("ignoring unparseable event", slog.Any("error", err))
		return nil, nil
	}
	if event.Type != slackevents.CallbackEvent {
		return nil, nil
	}
	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msg.BotID != "" || msg.SubType != "" || msg.Text == "" {
		return nil, nil
	}
	return &channel.InboundMessage{
		ChannelID:   cfg.ID,
		Channel:     Type,
		UserID:      msg.User,
		Content:     msg.Text,
		MessageID:   msg.TimeStamp,
		ReplyTarget: msg.Channel,
		ReceivedAt:  time.Now(),
	}, nil
}

// SendText posts one message to the channel identified by target.
func (a *SlackAdapter) SendText(ctx context.Context, cfg channel.ChannelConfig, target, text string) error {
	slackCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	client := slack.New(slackCfg.BotToken)
	if _, _, err := client.PostMessageContext(ctx, target, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	return nil
}
