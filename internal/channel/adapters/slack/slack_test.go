package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/botgateio/botgate/internal/channel"
)

func testConfig(signingSecret string) channel.ChannelConfig {
	credentials := map[string]any{"bot_token": "xoxb-test"}
	if signingSecret != "" {
		credentials["signing_secret"] = signingSecret
	}
	return channel.ChannelConfig{
		ID:          "cfg-slack",
		ChannelType: Type,
		Credentials: credentials,
	}
}

func signedRequest(secret string, body string) channel.WebhookRequest {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)

	header := http.Header{}
	header.Set("X-Slack-Request-Timestamp", timestamp)
	header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return channel.WebhookRequest{
		Method: http.MethodPost,
		Header: header,
		Body:   []byte(body),
	}
}

func TestVerifyRequestSignature(t *testing.T) {
	t.Parallel()

	adapter := NewSlackAdapter(nil)
	cfg := testConfig("sss")
	body := `{"type":"event_callback"}`

	if err := adapter.VerifyRequest(cfg, signedRequest("sss", body)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := adapter.VerifyRequest(cfg, signedRequest("wrong", body)); !errors.Is(err, channel.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRequestWithoutSecretIsTrusted(t *testing.T) {
	t.Parallel()

	adapter := NewSlackAdapter(nil)
	req := channel.WebhookRequest{Header: http.Header{}, Body: []byte(`{}`)}
	if err := adapter.VerifyRequest(testConfig(""), req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestHandleHandshakeChallenge(t *testing.T) {
	t.Parallel()

	adapter := NewSlackAdapter(nil)
	body := `{"type":"url_verification","challenge":"chal-123","token":"tok"}`

	resp, err := adapter.HandleHandshake(testConfig(""), channel.WebhookRequest{Body: []byte(body)})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if resp == nil || string(resp.Body) != "chal-123" {
		t.Fatalf("expected challenge echo, got %+v", resp)
	}
}

func TestHandleHandshakeIgnoresCallbacks(t *testing.T) {
	t.Parallel()

	adapter := NewSlackAdapter(nil)
	body := `{"type":"event_callback","event":{"type":"message","text":"hi"}}`

	resp, err := adapter.HandleHandshake(testConfig(""), channel.WebhookRequest{Body: []byte(body)})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response, got %+v", resp)
	}
}

func TestParseWebhookMessageEvent(t *testing.T) {
	t.Parallel()

	adapter := NewSlackAdapter(nil)
	body := `{
		"type": "event_callback",
		"event": {
			"type": "message",
			"user": "U123",
			"text": "hello",
			"ts": "1700000000.000100",
			"channel": "C456"
		}
	}`

	msg, err := adapter.ParseWebhook(testConfig(""), channel.WebhookRequest{Body: []byte(body)})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg == nil {
		t.Fatalf("expected message")
	}
	if msg.UserID != "U123" || msg.Content != "hello" || msg.ReplyTarget != "C456" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.MessageID != "1700000000.000100" {
		t.Fatalf("unexpected message id: %q", msg.MessageID)
	}
}

func TestParseWebhookIgnoresBotAndSubtypeMessages(t *testing.T) {
	t.Parallel()

	adapter := NewSlackAdapter(nil)
	cfg := testConfig("")
	cases := map[string]string{
		"bot message":  `{"type":"event_callback","event":{"type":"message","bot_id":"B1","text":"hi","channel":"C1"}}`,
		"edit subtype": `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","text":"hi","channel":"C1"}}`,
		"reaction":     `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`,
		"malformed":    `{"type":`,
	}
	for name, body := range cases {
		msg, err := adapter.ParseWebhook(cfg, channel.WebhookRequest{Body: []byte(body)})
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", name, err)
		}
		if msg != nil {
			t.Fatalf("%s: expected nil message, got %+v", name, msg)
		}
	}
}
