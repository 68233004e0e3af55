package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/botgateio/botgate/internal/channel"
	"github.com/botgateio/botgate/internal/streambuf"
)

type fakeQueue struct {
	enqueued []channel.InboundMessage
}

func (q *fakeQueue) Enqueue(_ context.Context, _ channel.ChannelConfig, msg channel.InboundMessage) {
	q.enqueued = append(q.enqueued, msg)
}

type fakeReceiver struct {
	verifyErr   error
	parseMsg    *channel.InboundMessage
	parseErr    error
	verifyCalls int
	parseCalls  int
	seenBodyLen int
}

func (f *fakeReceiver) Type() channel.ChannelType { return "fake" }
func (f *fakeReceiver) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: "fake"}
}
func (f *fakeReceiver) VerifyRequest(_ channel.ChannelConfig, req channel.WebhookRequest) error {
	f.verifyCalls++
	f.seenBodyLen = len(req.Body)
	return f.verifyErr
}
func (f *fakeReceiver) ParseWebhook(_ channel.ChannelConfig, _ channel.WebhookRequest) (*channel.InboundMessage, error) {
	f.parseCalls++
	return f.parseMsg, f.parseErr
}

type fakeFullAdapter struct {
	fakeReceiver
	handshakeResp *channel.WebhookResponse
	ackResp       *channel.WebhookResponse
	ackErr        error
	pollContent   string
	pollFinished  bool
}

func (f *fakeFullAdapter) HandleHandshake(_ channel.ChannelConfig, _ channel.WebhookRequest) (*channel.WebhookResponse, error) {
	return f.handshakeResp, nil
}
func (f *fakeFullAdapter) BuildAck(_ channel.ChannelConfig, _ channel.InboundMessage) (*channel.WebhookResponse, error) {
	return f.ackResp, f.ackErr
}
func (f *fakeFullAdapter) BuildPollResponse(_ channel.ChannelConfig, _ channel.InboundMessage, content string, finished bool) (*channel.WebhookResponse, error) {
	f.pollContent = content
	f.pollFinished = finished
	return channel.TextResponse(content), nil
}

func newTestHandler(t *testing.T, adapter channel.Adapter, cfg channel.ChannelConfig, queue MessageQueue) (*echo.Echo, streambuf.Store) {
	t.Helper()
	store := channel.NewMemoryConfigStore()
	if cfg.ID != "" {
		if _, err := store.UpsertConfig(context.Background(), cfg); err != nil {
			t.Fatalf("seed config: %v", err)
		}
	}
	registry := channel.NewRegistry()
	if adapter != nil {
		registry.MustRegister(adapter)
	}
	streams := streambuf.NewMemoryStore()
	handler := NewWebhookHandler(nil, store, registry, streams, queue)

	e := echo.New()
	handler.Register(e)
	return e, streams
}

func perform(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhookUnknownChannel(t *testing.T) {
	t.Parallel()

	e, _ := newTestHandler(t, &fakeReceiver{}, channel.ChannelConfig{}, &fakeQueue{})
	rec := perform(e, http.MethodPost, "/channels/webhook/missing", "{}")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebhookDisabledChannel(t *testing.T) {
	t.Parallel()

	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake", Disabled: true}
	e, _ := newTestHandler(t, &fakeReceiver{}, cfg, &fakeQueue{})
	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookVerificationFailure(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiver{verifyErr: channel.ErrUnauthorized}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, &fakeQueue{})
	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookHandshakeShortCircuits(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	adapter := &fakeFullAdapter{handshakeResp: channel.TextResponse("echo-plain")}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, queue)

	rec := perform(e, http.MethodGet, "/channels/webhook/c1?echostr=x", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "echo-plain" {
		t.Fatalf("expected handshake echo, got %d %q", rec.Code, rec.Body.String())
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("handshake must not enqueue work")
	}
}

func TestWebhookParseFailure(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiver{parseErr: errors.New("bad envelope")}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, &fakeQueue{})
	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookIgnoredUpdate(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, &fakeReceiver{}, cfg, queue)
	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ignored" {
		t.Fatalf("expected ignored status, got %v", body)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("ignored update must not enqueue work")
	}
}

func TestWebhookEnqueuesAndAcks(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	msg := &channel.InboundMessage{ChannelID: "c1", Channel: "fake", UserID: "u1", Content: "hi"}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, &fakeReceiver{parseMsg: msg}, cfg, queue)

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "processing" {
		t.Fatalf("expected processing status, got %v", body)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].Content != "hi" {
		t.Fatalf("expected one enqueued message, got %v", queue.enqueued)
	}
}

func TestWebhookCustomAck(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	adapter := &fakeFullAdapter{
		fakeReceiver: fakeReceiver{parseMsg: &channel.InboundMessage{Content: "hi", StreamID: "s1"}},
		ackResp:      channel.TextResponse("ack-frame"),
	}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, queue)

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusOK || rec.Body.String() != "ack-frame" {
		t.Fatalf("expected custom ack, got %d %q", rec.Code, rec.Body.String())
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected enqueued message")
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	adapter := &fakeReceiver{parseMsg: &channel.InboundMessage{Content: "hi"}}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, queue)

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", strings.Repeat("x", maxBodySize+4096))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if adapter.verifyCalls != 0 || adapter.parseCalls != 0 {
		t.Fatalf("oversized body must not reach the adapter, got verify=%d parse=%d",
			adapter.verifyCalls, adapter.parseCalls)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("oversized body must not enqueue work")
	}
}

func TestWebhookBodyAtLimitIsAccepted(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiver{}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, &fakeQueue{})

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", strings.Repeat("x", maxBodySize))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if adapter.seenBodyLen != maxBodySize {
		t.Fatalf("expected the full body to reach the adapter, saw %d bytes", adapter.seenBodyLen)
	}
}

func TestWebhookAckFailureDoesNotEnqueue(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	adapter := &fakeFullAdapter{
		fakeReceiver: fakeReceiver{parseMsg: &channel.InboundMessage{Content: "hi", StreamID: "s1"}},
		ackErr:       errors.New("encrypt failed"),
	}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, queue)

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("failed ack must not leave the message enqueued, got %v", queue.enqueued)
	}
}

func TestWebhookPollReturnsSnapshot(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	adapter := &fakeFullAdapter{
		fakeReceiver: fakeReceiver{parseMsg: &channel.InboundMessage{IsStreamPoll: true, StreamID: "s1"}},
	}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, streams := newTestHandler(t, adapter, cfg, queue)

	streams.Init("s1")
	streams.Append("s1", "partial ")

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if adapter.pollContent != "partial " || adapter.pollFinished {
		t.Fatalf("unexpected poll snapshot %q finished=%v", adapter.pollContent, adapter.pollFinished)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("poll must not enqueue work")
	}
}

func TestWebhookPollUnknownStreamFinishes(t *testing.T) {
	t.Parallel()

	adapter := &fakeFullAdapter{
		fakeReceiver: fakeReceiver{parseMsg: &channel.InboundMessage{IsStreamPoll: true, StreamID: "gone"}},
	}
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fake"}
	e, _ := newTestHandler(t, adapter, cfg, &fakeQueue{})

	rec := perform(e, http.MethodPost, "/channels/webhook/c1", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if adapter.pollContent != "" || !adapter.pollFinished {
		t.Fatalf("expected empty finished frame, got %q finished=%v", adapter.pollContent, adapter.pollFinished)
	}
}
