// Package channel provides the unified abstraction for messaging providers.
// It defines the normalized message shape, the adapter contract, and a
// registry for provider adapters such as Telegram, WeCom, Slack, and Discord.
package channel

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ChannelType identifies a messaging provider (e.g., "telegram", "wecom_app").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Supported channel types.
const (
	TypeTelegram     ChannelType = "telegram"
	TypeWeComWebhook ChannelType = "wecom_webhook"
	TypeWeComSmart   ChannelType = "wecom_smart_bot"
	TypeWeComApp     ChannelType = "wecom_app"
	TypeSlack        ChannelType = "slack"
	TypeDiscord      ChannelType = "discord"
)

// ChannelConfig holds one provider integration: credentials and per-provider
// settings. Disabled: true means the webhook rejects traffic for this config.
type ChannelConfig struct {
	ID          string         `json:"id"`
	ChannelType ChannelType    `json:"channel_type"`
	Credentials map[string]any `json:"credentials"`
	Settings    map[string]any `json:"settings"`
	Disabled    bool           `json:"disabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// InboundMessage is the normalized shape every provider event is converted to.
// Consumed once by the dispatcher; never persisted by the gateway.
type InboundMessage struct {
	ChannelID    string      `json:"channel_id"`
	Channel      ChannelType `json:"channel"`
	UserID       string      `json:"user_id"`
	Username     string      `json:"username,omitempty"`
	Content      string      `json:"content"`
	MessageID    string      `json:"message_id"`
	ReplyTarget  string      `json:"reply_target"`
	IsStreamPoll bool        `json:"is_stream_poll"`
	StreamID     string      `json:"stream_id,omitempty"`
	ReceivedAt   time.Time   `json:"received_at"`
}

// WebhookRequest is the provider-agnostic view of one inbound HTTP request.
// The body is fully read before adapters see it.
type WebhookRequest struct {
	Method string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// QueryParam returns the trimmed query value for key.
func (r WebhookRequest) QueryParam(key string) string {
	return strings.TrimSpace(r.Query.Get(key))
}

// WebhookResponse is a synchronous response returned verbatim to the calling
// platform (handshake echoes, poll replies, provider-specific acks).
type WebhookResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// TextResponse builds a plain-text webhook response.
func TextResponse(body string) *WebhookResponse {
	return &WebhookResponse{
		Status:      http.StatusOK,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(body),
	}
}

// JSONResponse builds an application/json webhook response.
func JSONResponse(payload any) (*WebhookResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &WebhookResponse{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        body,
	}, nil
}
