package wecom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/botgateio/botgate/internal/channel"
	"github.com/botgateio/botgate/internal/streambuf"
	wecomproto "github.com/botgateio/botgate/internal/wecom"
)

// SmartBotType is the channel type for the smart-bot passive-reply protocol.
const SmartBotType = channel.TypeWeComSmart

type smartBotConfig struct {
	Token          string
	EncodingAESKey string
}

func parseSmartBotConfig(credentials map[string]any) (smartBotConfig, error) {
	cfg := smartBotConfig{
		Token:          channel.ReadString(credentials, "token"),
		EncodingAESKey: channel.ReadString(credentials, "encoding_aes_key", "encodingAesKey", "aes_key"),
	}
	if cfg.Token == "" || cfg.EncodingAESKey == "" {
		return smartBotConfig{}, fmt.Errorf("wecom smart bot token and encoding_aes_key are required")
	}
	return cfg, nil
}

// SmartBotAdapter implements the WeCom smart-bot callback protocol. Every
// payload travels inside the encrypted envelope; responses are delivered
// passively through the platform's stream polls, never by direct push.
type SmartBotAdapter struct {
	logger  *slog.Logger
	streams streambuf.Store
}

// NewSmartBotAdapter creates the smart-bot adapter backed by the given
// stream buffer.
func NewSmartBotAdapter(log *slog.Logger, streams streambuf.Store) *SmartBotAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &SmartBotAdapter{
		logger:  log.With(slog.String("adapter", "wecom_smart_bot")),
		streams: streams,
	}
}

// Type returns the adapter channel type.
func (a *SmartBotAdapter) Type() channel.ChannelType {
	return SmartBotType
}

// Descriptor returns adapter metadata.
func (a *SmartBotAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        SmartBotType,
		DisplayName: "WeCom Smart Bot",
		Capabilities: channel.Capabilities{
			Streaming: true,
			PollReply: true,
			Handshake: true,
		},
	}
}

// crypt builds the envelope codec for one config. Smart bots carry an empty
// receive id. A malformed EncodingAESKey fails here, before any payload is
// touched.
func (a *SmartBotAdapter) crypt(cfg channel.ChannelConfig) (*wecomproto.Crypt, error) {
	smartCfg, err := parseSmartBotConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	return wecomproto.NewCrypt(smartCfg.Token, smartCfg.EncodingAESKey, "")
}

// VerifyRequest validates the callback signature over the echostr (GET) or
// the encrypted body (POST).
func (a *SmartBotAdapter) VerifyRequest(cfg channel.ChannelConfig, req channel.WebhookRequest) error {
	crypt, err := a.crypt(cfg)
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

	var encrypted wecomproto.EncryptedRequest
	if err := json.Unmarshal(req.Body, &encrypted); err != nil {
		return fmt.Errorf("%w: invalid encrypted body", channel.ErrUnauthorized)
	}
	if !crypt.ValidateSignature(signature, timestamp, nonce, encrypted.Encrypt) {
		return fmt.Errorf("%w: %w", channel.ErrUnauthorized, wecomproto.ErrInvalidSignature)
	}
	return nil
}

// HandleHandshake answers the GET echo verification with the decrypted
// echostr plaintext.
func (a *SmartBotAdapter) HandleHandshake(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.WebhookResponse, error) {
	if req.Method != http.MethodGet || req.QueryParam("echostr") == "" {
		return nil, nil
	}
	crypt, err := a.crypt(cfg)
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

// ParseWebhook decrypts the callback and normalizes it. Text messages mint a
// fresh stream id and register it in the stream buffer; stream messages are
// polls for an existing id. Other message kinds are ignored.
func (a *SmartBotAdapter) ParseWebhook(cfg channel.ChannelConfig, req channel.WebhookRequest) (*channel.InboundMessage, error) {
	crypt, err := a.crypt(cfg)
	if err != nil {
		return nil, err
	}
	var encrypted wecomproto.EncryptedRequest
	if err := json.Unmarshal(req.Body, &encrypted); err != nil {
		a.logger.Debug("ignoring non-envelope body", slog.String("config_id", cfg.ID))
		return nil, nil
	}
	plain, err := crypt.DecryptVerified(
		req.QueryParam("msg_signature"),
		req.QueryParam("timestamp"),
		req.QueryParam("nonce"),
		encrypted.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypt callback: %w", err)
	}
	msg, err := wecomproto.ParseMessage(plain)
	if err != nil {
		a.logger.Debug("ignoring unparseable payload", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, nil
	}

	switch msg.MsgType {
	case wecomproto.MsgTypeText:
		streamID := uuid.NewString()
		a.streams.Init(streamID)
		return &channel.InboundMessage{
			ChannelID:   cfg.ID,
			Channel:     SmartBotType,
			UserID:      msg.From.UserID,
			Content:     msg.Text.Content,
			MessageID:   msg.MsgID,
			ReplyTarget: streamID,
			StreamID:    streamID,
			ReceivedAt:  time.Now(),
		}, nil
	case wecomproto.MsgTypeStream:
		return &channel.InboundMessage{
			ChannelID:    cfg.ID,
			Channel:      SmartBotType,
			UserID:       msg.From.UserID,
			MessageID:    msg.MsgID,
			IsStreamPoll: true,
			StreamID:     msg.Stream.ID,
			ReceivedAt:   time.Now(),
		}, nil
	default:
		return nil, nil
	}
}

// BuildAck returns the encrypted first stream frame. The platform starts
// polling with the returned stream id.
func (a *SmartBotAdapter) BuildAck(cfg channel.ChannelConfig, msg channel.InboundMessage) (*channel.WebhookResponse, error) {
	return a.encryptedStreamFrame(cfg, msg.StreamID, "", false)
}

// ShouldStreamResponse reports that smart-bot responses stream through the
// buffer.
func (a *SmartBotAdapter) ShouldStreamResponse(_ channel.InboundMessage) bool {
	return true
}

// OpenStream returns a producer handle writing into the stream buffer. The
// platform pulls the accumulating snapshot through its poll webhook.
func (a *SmartBotAdapter) OpenStream(_ context.Context, _ channel.ChannelConfig, msg channel.InboundMessage) (channel.OutboundStream, error) {
	if msg.StreamID == "" {
		return nil, fmt.Errorf("%w: message has no stream id", channel.ErrStreamingNotSupported)
	}
	return &bufferStream{store: a.streams, streamID: msg.StreamID}, nil
}

// BuildPollResponse renders the encrypted stream frame for the current
// buffer snapshot.
func (a *SmartBotAdapter) BuildPollResponse(cfg channel.ChannelConfig, msg channel.InboundMessage, content string, finished bool) (*channel.WebhookResponse, error) {
	return a.encryptedStreamFrame(cfg, msg.StreamID, content, finished)
}

func (a *SmartBotAdapter) encryptedStreamFrame(cfg channel.ChannelConfig, streamID, content string, finished bool) (*channel.WebhookResponse, error) {
	crypt, err := a.crypt(cfg)
	if err != nil {
		return nil, err
	}
	resp, err := crypt.EncryptResponse(wecomproto.NewStreamReply(streamID, content, finished))
	if err != nil {
		return nil, fmt.Errorf("encrypt stream frame: %w", err)
	}
	return channel.JSONResponse(resp)
}

// bufferStream adapts the stream buffer to the OutboundStream contract.
type bufferStream struct {
	store    streambuf.Store
	streamID string
}

func (s *bufferStream) Push(_ context.Context, delta string) error {
	s.store.Append(s.streamID, delta)
	return nil
}

func (s *bufferStream) Close(_ context.Context, final string) error {
	if entry, ok := s.store.Get(s.streamID); ok && entry.Content == "" && final != "" {
		s.store.Append(s.streamID, final)
	}
	s.store.MarkFinished(s.streamID)
	return nil
}
