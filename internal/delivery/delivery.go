// Package delivery routes generated responses back to the channel an inbound
// message came from.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/botgateio/botgate/internal/channel"
)

// Deliverer picks the delivery strategy for a channel: streaming when the
// adapter supports it and wants it for the message, a single push otherwise.
type Deliverer struct {
	logger   *slog.Logger
	registry *channel.Registry
}

// NewDeliverer creates the deliverer.
func NewDeliverer(log *slog.Logger, registry *channel.Registry) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{
		logger:   log.With(slog.String("component", "delivery")),
		registry: registry,
	}
}

// Deliver consumes the delta stream and forwards it to the channel. The
// stream path pushes deltas as they arrive and closes with the full text;
// the push path accumulates everything and sends once.
func (d *Deliverer) Deliver(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, deltas <-chan string) error {
	if streamSender, ok := d.registry.GetStreamSender(cfg.ChannelType); ok && streamSender.ShouldStreamResponse(msg) {
		return d.deliverStreaming(ctx, streamSender, cfg, msg, deltas)
	}
	return d.deliverPush(ctx, cfg, msg, deltas)
}

func (d *Deliverer) deliverStreaming(ctx context.Context, streamSender channel.StreamSender, cfg channel.ChannelConfig, msg channel.InboundMessage, deltas <-chan string) error {
	stream, err := streamSender.OpenStream(ctx, cfg, msg)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	var full strings.Builder
	for delta := range deltas {
		full.WriteString(delta)
		if err := stream.Push(ctx, delta); err != nil {
			// The final Close still carries the complete text.
			d.logger.Warn("stream push failed",
				slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	}
	if err := stream.Close(ctx, strings.TrimSpace(full.String())); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

func (d *Deliverer) deliverPush(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, deltas <-chan string) error {
	var full strings.Builder
	for delta := range deltas {
		full.WriteString(delta)
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return nil
	}
	sender, ok := d.registry.GetSender(cfg.ChannelType)
	if !ok {
		return fmt.Errorf("channel type %s cannot deliver responses", cfg.ChannelType)
	}
	if err := sender.SendText(ctx, cfg, d.target(msg), text); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

// NotifyError tells the user that generation failed. Best effort: failures
// are logged, never returned.
func (d *Deliverer) NotifyError(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, cause error) {
	text := "Sorry, something went wrong while generating a response. Please try again."
	d.logger.Error("response generation failed",
		slog.String("config_id", cfg.ID),
		slog.String("channel", string(cfg.ChannelType)),
		slog.Any("error", cause))

	if streamSender, ok := d.registry.GetStreamSender(cfg.ChannelType); ok && streamSender.ShouldStreamResponse(msg) {
		stream, err := streamSender.OpenStream(ctx, cfg, msg)
		if err == nil {
			if err := stream.Close(ctx, text); err != nil {
				d.logger.Warn("error notification failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
			}
			return
		}
	}
	sender, ok := d.registry.GetSender(cfg.ChannelType)
	if !ok {
		return
	}
	if err := sender.SendText(ctx, cfg, d.target(msg), text); err != nil {
		d.logger.Warn("error notification failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
	}
}

func (d *Deliverer) target(msg channel.InboundMessage) string {
	if msg.ReplyTarget != "" {
		return msg.ReplyTarget
	}
	return msg.UserID
}
