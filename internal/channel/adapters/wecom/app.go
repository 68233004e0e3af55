package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/botgateio/botgate/internal/channel"
	wecomproto "github.com/botgateio/botgate/internal/wecom"
)

// AppType is the channel type for enterprise-app push messaging.
const AppType = channel.TypeWeComApp

const appSendURL = "https://qyapi.weixin.qq.com/cgi-bin/message/send?access_token=%s"

type appConfig struct {
	CorpID         string
	CorpSecret     string
	AgentID        int64
	Token          string
	EncodingAESKey string
}

func parseAppConfig(credentials map[string]any) (appConfig, error) {
	cfg := appConfig{
		CorpID:         channel.ReadString(credentials, "corp_id", "corpId", "corpid"),
		CorpSecret:     channel.ReadString(credentials, "corp_secret", "corpSecret", "corpsecret"),
		Token:          channel.ReadString(credentials, "token"),
		EncodingAESKey: channel.ReadString(credentials, "encoding_aes_key", "encodingAesKey", "aes_key"),
	}
	if cfg.CorpID == "" || cfg.CorpSecret == "" {
		return appConfig{}, fmt.Errorf("wecom app corp_id and corp_secret are required")
	}
	agentID := channel.ReadString(credentials, "agent_id", "agentId", "agentid")
	if agentID != "" {
		parsed, err := strconv.ParseInt(agentID, 10, 64)
		if err != nil {
			return appConfig{}, fmt.Errorf("wecom app agent_id must be numeric: %w", err)
		}
		cfg.AgentID = parsed
	}
	return cfg, nil
}

// appEnvelope is the encrypted XML callback body.
type appEnvelope struct {
	XMLName xml.Name `xml:"xml"`
	Encrypt string   `xml:"Encrypt"`
}

// appMessage is the decrypted XML callback payload.
type appMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	MsgID        string   `xml:"MsgId"`
}

// AppAdapter talks to the WeCom enterprise-app API. Inbound callbacks arrive
// in the XML flavor of the encrypted envelope; outbound messages are pushed
// through message/send with a cached access token.
type AppAdapter struct {
	logger *slog.Logger
	client *http.Client
	tokens *tokenCache
}

// NewAppAdapter creates the enterprise-app adapter.
func NewAppAdapter(log *slog.Logger) *AppAdapter {
	if log == nil {
		log = slog.Default()
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return &AppAdapter{
		logger: log.With(slog.String("adapter", "wecom_app")),
		client: client,
		tokens: newTokenCache(client),
	}
}

// Type returns the adapter channel type.
func (a *AppAdapter) Type() channel.ChannelType {
	return AppType
}

// Descriptor returns adapter metadata.
func (a *AppAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        AppType,
		DisplayName: "WeCom App",
		Capabilities: channel.Capabilities{
			Push:      true,
			Handshake: true,
		},
	}
}

// crypt builds the envelope codec. Enterprise apps verify the receive id
// against the corp id.
func (a *AppAdapter) crypt(cfg channel.ChannelConfig) (*wecomproto.Crypt, appConfig, error) {
	appCfg, err := parseAppConfig(cfg.Credentials)
	if err != nil {
		return nil, appConfig{}, err
	}
	if appCfg.Token == "" || appCfg.EncodingAESKey == "" {
		return nil, appConfig{}, fmt.Errorf("wecom app token and encoding_aes_key are required for callbacks")
	}
	crypt, err := wecomproto.NewCrypt(appCfg.Token, appCfg.EncodingAESKey, appCfg.CorpID)
	if err != nil {
		return nil, appConfig{}, err
	}
	return crypt, appCfg, nil
}

// VerifyRequest validates the callback signature.
func (a *AppAdapter) VerifyRequest(cfg channel.ChannelConfig, req channel.WebhookRequest) error {
	crypt, _, err := a.crypt(cfg)
	if err != nil {
		return err
	}
	signature := req.QueryParam("msg_signature")
	timestamp := req.QueryParam("timestamp")
	nonce := req.QueryParam("nonce")

	if req.Method == http.MethodGet {
		if _, err := crypt.VerifyURL(signature, timestamp, nonce, req.QueryParam("echostr")); err != nil {
			return fmt.Errorf("%w: %w", channel.ErrUnauthorized, err)
		}
		return nil
	}

	var envelope appEnvelope
	if err := xml.Unmarshal(req.Body, &envelope); err != nil {
		return fmt.Errorf("%w: invalid encrypted body", channel.ErrUnauthorized)
	}
	if !crypt.ValidateSignature(signature, timestamp, nonce, envelope.Encrypt) {
		return fmt.Errorf("%w: %w", channel.ErrUnauthorized, wecomproto.ErrInvalidSignature)
	}
	return nil
}

// HandleHandshake answers the GET echo verification with the decrypted
// echostr plaintext.
func (a *AppAdapter) HandleHandshake(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.WebhookResponse, error) {
	if req.Method != http.MethodGet || req.QueryParam("echostr") == "" {
		return nil, nil
	}
	crypt, _, err := a.crypt(cfg)
	if err != nil {
		return nil, err
	}
	plain, err := crypt.VerifyURL(
		req.QueryParam("msg_signature"),
		req.QueryParam("timestamp"),
		req.QueryParam("nonce"),
		req.QueryParam("echostr"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", channel.ErrUnauthorized, err)
	}
	return channel.TextResponse(plain), nil
}

// ParseWebhook decrypts the XML callback and normalizes text messages.
func (a *AppAdapter) ParseWebhook(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.InboundMessage, error) {
	crypt, _, err := a.crypt(cfg)
	if err != nil {
		return nil, err
	}
	var envelope appEnvelope
	if err := xml.Unmarshal(req.Body, &envelope); err != nil {
		a.logger.Debug("ignoring non-envelope body", slog.String("config_id", cfg.ID))
		return nil, nil
	}
	plain, err := crypt.DecryptVerified(
		req.QueryParam("msg_signature"),
		req.QueryParam("timestamp"),
		req.QueryParam("nonce"),
		envelope.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypt callback: %w", err)
	}
	var msg appMessage
	if err := xml.Unmarshal(plain, &msg); err != nil {
		a.logger.Debug("ignoring unparseable payload", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, nil
	}
	if msg.MsgType != "text" || msg.Content == "" {
		return nil, nil
	}
	return &channel.InboundMessage{
		ChannelID:   cfg.ID,
		Channel:     AppType,
		UserID:      msg.FromUserName,
		Content:     msg.Content,
		MessageID:   msg.MsgID,
		ReplyTarget: msg.FromUserName,
		ReceivedAt:  time.Now(),
	}, nil
}

// SendText pushes a text message to the target user through the app. Unlike
// the group robot, send failures surface to the caller.
func (a *AppAdapter) SendText(ctx context.Context, cfg channel.ChannelConfig, target, text string) error {
	appCfg, err := parseAppConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	token, err := a.tokens.Get(ctx, appCfg.CorpID, appCfg.CorpSecret)
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	if target == "" {
		target = "@all"
	}
	payload := map[string]any{
		"touser":  target,
		"msgtype": "text",
		"agentid": appCfg.AgentID,
		"text":    map[string]string{"content": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(appSendURL, token), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: decode send response: %w", channel.ErrDelivery, err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("%w: message/send errcode %d: %s", channel.ErrDelivery, result.ErrCode, result.ErrMsg)
	}
	return nil
}
