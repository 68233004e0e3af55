// Package discord implements the Discord interactions-endpoint adapter.
package discord

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/botgateio/botgate/internal/channel"
)

// Type is the channel type served by this adapter.
const Type = channel.TypeDiscord

// Config is the parsed credential set for one Discord channel.
type Config struct {
	BotToken  string
	PublicKey string
}

func parseConfig(credentials map[string]any) (Config, error) {
	token := channel.ReadString(credentials, "bot_token", "botToken", "token")
	if token == "" {
		return Config{}, fmt.Errorf("discord bot_token is required")
	}
	return Config{
		BotToken:  token,
		PublicKey: channel.ReadString(credentials, "public_key", "publicKey"),
	}, nil
}

// DiscordAdapter receives interaction webhooks and pushes messages through
// the Discord REST API. Sessions are cached per token.
type DiscordAdapter struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*discordgo.Session
}

// NewDiscordAdapter creates the Discord adapter.
func NewDiscordAdapter(log *slog.Logger) *DiscordAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordAdapter{
		logger:   log.With(slog.String("adapter", "discord")),
		sessions: map[string]*discordgo.Session{},
	}
}

// Type returns the adapter channel type.
func (a *DiscordAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns adapter metadata.
func (a *DiscordAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.Capabilities{
			Push:      true,
			Handshake: true,
		},
	}
}

func (a *DiscordAdapter) getOrCreateSession(token string) (*discordgo.Session, error) {
	a.mu.RLock()
	session, ok := a.sessions[token]
	a.mu.RUnlock()
	if ok {
		return session, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if session, ok := a.sessions[token]; ok {
		return session, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	a.sessions[token] = session
	return session, nil
}

// VerifyRequest checks the interaction signature against the application
// public key. A config without a public key is accepted as trusted.
func (a *DiscordAdapter) VerifyRequest(cfg channel.ChannelConfig, req channel.WebhookRequest) error {
	discordCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	if discordCfg.PublicKey == "" {
		a.logger.Warn("public key not configured, accepting request unverified",
			slog.String("config_id", cfg.ID))
		return nil
	}
	key, err := hex.DecodeString(discordCfg.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("discord public_key is not a valid ed25519 key")
	}
	httpReq := &http.Request{
		Header: req.Header,
		Body:   io.NopCloser(bytes.NewReader(req.Body)),
	}
	if !discordgo.VerifyInteraction(httpReq, ed25519.PublicKey(key)) {
		return fmt.Errorf("%w: discord interaction signature mismatch", channel.ErrUnauthorized)
	}
	return nil
}

// HandleHandshake answers the interaction PING with a PONG.
func (a *DiscordAdapter) HandleHandshake(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.WebhookResponse, error) {
	var interaction discordgo.Interaction
	if err := json.Unmarshal(req.Body, &interaction); err != nil {
		return nil, nil
	}
	if interaction.Type != discordgo.InteractionPing {
		return nil, nil
	}
	return channel.JSONResponse(discordgo.InteractionResponse{
		Type: discordgo.InteractionResponsePong,
	})
}

// ParseWebhook normalizes application-command interactions. The command's
// string options become the message content.
func (a *DiscordAdapter) ParseWebhook(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.InboundMessage, error) {
	var interaction discordgo.Interaction
	if err := json.Unmarshal(req.Body, &interaction); err != nil {
		a.logger.Debug("ignoring unparseable interaction", slog.Any("error", err))
		return nil, nil
	}
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return nil, nil
	}

	user := interaction.User
	if user == nil && interaction.Member != nil {
		user = interaction.Member.User
	}
	if user == nil || user.Bot {
		return nil, nil
	}

	data := interaction.ApplicationCommandData()
	var parts []string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			parts = append(parts, opt.StringValue())
		}
	}
	content := strings.TrimSpace(strings.Join(parts, " "))
	if content == "" {
		return nil, nil
	}
	return &channel.InboundMessage{
		ChannelID:   cfg.ID,
		Channel:     Type,
		UserID:      user.ID,
		Username:    user.Username,
		Content:     content,
		MessageID:   interaction.ID,
		ReplyTarget: interaction.ChannelID,
		ReceivedAt:  time.Now(),
	}, nil
}

// SendText sends one message to the channel identified by target.
func (a *DiscordAdapter) SendText(ctx context.Context, cfg channel.ChannelConfig, target, text string) error {
	discordCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	session, err := a.getOrCreateSession(discordCfg.BotToken)
	if err != nil {
		return err
	}
	if _, err := session.ChannelMessageSend(target, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	return nil
}
