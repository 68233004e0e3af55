// Package gateway exposes the webhook ingress endpoint and the asynchronous
// processing pipeline behind it.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/botgateio/botgate/internal/channel"
	"github.com/botgateio/botgate/internal/streambuf"
)

const maxBodySize = 1 << 20

// MessageQueue schedules asynchronous processing of inbound messages.
type MessageQueue interface {
	Enqueue(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage)
}

// WebhookHandler is the single ingress endpoint for all channel webhooks.
type WebhookHandler struct {
	logger   *slog.Logger
	store    channel.ConfigStore
	registry *channel.Registry
	streams  streambuf.Store
	queue    MessageQueue
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(log *slog.Logger, store channel.ConfigStore, registry *channel.Registry, streams streambuf.Store, queue MessageQueue) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:   log.With(slog.String("component", "webhook")),
		store:    store,
		registry: registry,
		streams:  streams,
		queue:    queue,
	}
}

// Register mounts the webhook routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/channels/webhook/:channel_id", h.handleWebhook)
	e.POST("/channels/webhook/:channel_id", h.handleWebhook)
}

func (h *WebhookHandler) handleWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	channelID := c.Param("channel_id")

	cfg, err := h.store.GetConfig(ctx, channelID)
	if err != nil {
		if errors.Is(err, channel.ErrChannelConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		h.logger.Error("config lookup failed", slog.String("channel_id", channelID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "config lookup failed")
	}
	if cfg.Disabled {
		return echo.NewHTTPError(http.StatusForbidden, "channel is disabled")
	}

	receiver, ok := h.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel does not accept webhooks")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > maxBodySize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}
	req := channel.WebhookRequest{
		Method: c.Request().Method,
		Query:  c.QueryParams(),
		Header: c.Request().Header,
		Body:   body,
	}

	if err := receiver.VerifyRequest(cfg, req); err != nil {
		h.logger.Warn("webhook verification failed",
			slog.String("channel_id", channelID),
			slog.String("channel", string(cfg.ChannelType)),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, "verification failed")
	}

	if responder, ok := h.registry.GetHandshakeResponder(cfg.ChannelType); ok {
		resp, err := responder.HandleHandshake(cfg, req)
		if err != nil {
			if errors.Is(err, channel.ErrUnauthorized) {
				return echo.NewHTTPError(http.StatusUnauthorized, "handshake verification failed")
			}
			return echo.NewHTTPError(http.StatusBadRequest, "handshake failed")
		}
		if resp != nil {
			return writeResponse(c, resp)
		}
	}

	msg, err := receiver.ParseWebhook(cfg, req)
	if err != nil {
		h.logger.Warn("webhook parse failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if msg == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	if msg.IsStreamPoll {
		return h.handlePoll(c, cfg, *msg)
	}

	// Build the ack before enqueueing: an ack failure makes the platform
	// retry, and the retry must not find the message already in flight.
	var ack *channel.WebhookResponse
	if builder, ok := h.registry.GetAckBuilder(cfg.ChannelType); ok {
		ack, err = builder.BuildAck(cfg, *msg)
		if err != nil {
			h.logger.Error("ack build failed", slog.String("channel_id", channelID), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to build ack")
		}
	}

	h.queue.Enqueue(ctx, cfg, *msg)

	if ack != nil {
		return writeResponse(c, ack)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processing"})
}

// handlePoll answers a stream poll synchronously with the current buffer
// snapshot. An unknown or expired stream terminates the poll loop with an
// empty finished frame.
func (h *WebhookHandler) handlePoll(c echo.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error {
	responder, ok := h.registry.GetPollResponder(cfg.ChannelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "channel does not support polling")
	}
	content, finished := "", true
	if entry, found := h.streams.Get(msg.StreamID); found {
		content, finished = entry.Content, entry.Finished
	}
	resp, err := responder.BuildPollResponse(cfg, msg, content, finished)
	if err != nil {
		h.logger.Error("poll response build failed",
			slog.String("channel_id", cfg.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build poll response")
	}
	return writeResponse(c, resp)
}

func writeResponse(c echo.Context, resp *channel.WebhookResponse) error {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(status, contentType, resp.Body)
}
