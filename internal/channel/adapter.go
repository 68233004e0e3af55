package channel

import (
	"context"
)

// Adapter is the base interface every provider adapter must implement.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Descriptor holds read-only metadata for a registered channel type.
// It contains no behavior; all behavior is expressed through optional
// interfaces.
type Descriptor struct {
	Type         ChannelType
	DisplayName  string
	Capabilities Capabilities
}

// Capabilities describes what delivery mechanisms a provider supports.
type Capabilities struct {
	Push      bool
	Streaming bool
	PollReply bool
	Handshake bool
}

// WebhookReceiver verifies and parses inbound webhook requests.
// ParseWebhook returns (nil, nil) for events the gateway does not handle;
// it errors only on transport-level failures, never on irrelevant payloads.
type WebhookReceiver interface {
	VerifyRequest(cfg ChannelConfig, req WebhookRequest) error
	ParseWebhook(cfg ChannelConfig, req WebhookRequest) (*InboundMessage, error)
}

// HandshakeResponder answers platform registration challenges (WeCom echostr,
// Slack url_verification, Discord PING). A nil response means the request is
// not a handshake.
type HandshakeResponder interface {
	HandleHandshake(cfg ChannelConfig, req WebhookRequest) (*WebhookResponse, error)
}

// TextSender pushes a single outbound text message to a delivery target.
type TextSender interface {
	SendText(ctx context.Context, cfg ChannelConfig, target, text string) error
}

// AckBuilder supplies a provider-specific synchronous acknowledgement for a
// parsed message. Providers without one get the generic processing ack.
type AckBuilder interface {
	BuildAck(cfg ChannelConfig, msg InboundMessage) (*WebhookResponse, error)
}

// StreamSender is an adapter capable of incremental response delivery.
type StreamSender interface {
	ShouldStreamResponse(msg InboundMessage) bool
	OpenStream(ctx context.Context, cfg ChannelConfig, msg InboundMessage) (OutboundStream, error)
}

// OutboundStream is a live outbound streaming session. Push receives deltas;
// Close receives the complete final text and must make it visible even when
// every intermediate Push was skipped or failed.
type OutboundStream interface {
	Push(ctx context.Context, delta string) error
	Close(ctx context.Context, final string) error
}

// PollResponder renders the provider's poll-reply shape from the current
// stream snapshot. Called on the synchronous poll path only.
type PollResponder interface {
	BuildPollResponse(cfg ChannelConfig, msg InboundMessage, content string, finished bool) (*WebhookResponse, error)
}
