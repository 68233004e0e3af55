package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/botgateio/botgate/internal/channel"
)

type fakePushAdapter struct {
	sent    []string
	targets []string
	sendErr error
}

func (f *fakePushAdapter) Type() channel.ChannelType { return "fakepush" }
func (f *fakePushAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: "fakepush", Capabilities: channel.Capabilities{Push: true}}
}
func (f *fakePushAdapter) SendText(_ context.Context, _ channel.ChannelConfig, target, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.targets = append(f.targets, target)
	f.sent = append(f.sent, text)
	return nil
}

type fakeStream struct {
	pushes []string
	final  string
	closed bool
}

func (s *fakeStream) Push(_ context.Context, delta string) error {
	s.pushes = append(s.pushes, delta)
	return nil
}
func (s *fakeStream) Close(_ context.Context, final string) error {
	s.final = final
	s.closed = true
	return nil
}

type fakeStreamAdapter struct {
	stream *fakeStream
}

func (f *fakeStreamAdapter) Type() channel.ChannelType { return "fakestream" }
func (f *fakeStreamAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: "fakestream", Capabilities: channel.Capabilities{Streaming: true}}
}
func (f *fakeStreamAdapter) ShouldStreamResponse(_ channel.InboundMessage) bool { return true }
func (f *fakeStreamAdapter) OpenStream(_ context.Context, _ channel.ChannelConfig, _ channel.InboundMessage) (channel.OutboundStream, error) {
	return f.stream, nil
}

func deltaChan(deltas ...string) <-chan string {
	ch := make(chan string, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

func TestDeliverPushAccumulates(t *testing.T) {
	t.Parallel()

	adapter := &fakePushAdapter{}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	deliverer := NewDeliverer(nil, registry)

	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fakepush"}
	msg := channel.InboundMessage{ReplyTarget: "room-1", UserID: "u1"}
	if err := deliverer.Deliver(context.Background(), cfg, msg, deltaChan("hello ", "world\n")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(adapter.sent) != 1 || adapter.sent[0] != "hello world" {
		t.Fatalf("expected single accumulated send, got %v", adapter.sent)
	}
	if adapter.targets[0] != "room-1" {
		t.Fatalf("expected reply target, got %q", adapter.targets[0])
	}
}

func TestDeliverPushSkipsEmptyResponse(t *testing.T) {
	t.Parallel()

	adapter := &fakePushAdapter{}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	deliverer := NewDeliverer(nil, registry)

	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fakepush"}
	if err := deliverer.Deliver(context.Background(), cfg, channel.InboundMessage{UserID: "u1"}, deltaChan(" \n")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(adapter.sent) != 0 {
		t.Fatalf("expected no send for empty response, got %v", adapter.sent)
	}
}

func TestDeliverStreamingPushesAndCloses(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{}
	registry := channel.NewRegistry()
	registry.MustRegister(&fakeStreamAdapter{stream: stream})
	deliverer := NewDeliverer(nil, registry)

	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fakestream"}
	if err := deliverer.Deliver(context.Background(), cfg, channel.InboundMessage{UserID: "u1"}, deltaChan("hello ", "world")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(stream.pushes) != 2 {
		t.Fatalf("expected 2 pushes, got %v", stream.pushes)
	}
	if !stream.closed || stream.final != "hello world" {
		t.Fatalf("expected close with full text, got %+v", stream)
	}
}

func TestDeliverFailsWithoutSender(t *testing.T) {
	t.Parallel()

	deliverer := NewDeliverer(nil, channel.NewRegistry())
	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "unknown"}
	if err := deliverer.Deliver(context.Background(), cfg, channel.InboundMessage{}, deltaChan("hi")); err == nil {
		t.Fatalf("expected error for channel without sender")
	}
}

func TestNotifyErrorUsesSender(t *testing.T) {
	t.Parallel()

	adapter := &fakePushAdapter{}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	deliverer := NewDeliverer(nil, registry)

	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fakepush"}
	deliverer.NotifyError(context.Background(), cfg, channel.InboundMessage{UserID: "u1"}, errors.New("boom"))
	if len(adapter.sent) != 1 {
		t.Fatalf("expected one error notification, got %v", adapter.sent)
	}
}

func TestNotifyErrorClosesStream(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{}
	registry := channel.NewRegistry()
	registry.MustRegister(&fakeStreamAdapter{stream: stream})
	deliverer := NewDeliverer(nil, registry)

	cfg := channel.ChannelConfig{ID: "c1", ChannelType: "fakestream"}
	deliverer.NotifyError(context.Background(), cfg, channel.InboundMessage{}, errors.New("boom"))
	if !stream.closed || stream.final == "" {
		t.Fatalf("expected stream closed with error text, got %+v", stream)
	}
}
