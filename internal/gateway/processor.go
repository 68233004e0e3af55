package gateway

import (
	"context"
	"log/slog"

	"github.com/botgateio/botgate/internal/channel"
	"github.com/botgateio/botgate/internal/delivery"
	"github.com/botgateio/botgate/internal/upstream"
)

// Processor runs response generation and delivery off the webhook request
// path.
type Processor struct {
	logger    *slog.Logger
	responder upstream.Responder
	deliverer *delivery.Deliverer
	pool      *Pool
}

// NewProcessor creates the processor with its own worker pool.
func NewProcessor(log *slog.Logger, responder upstream.Responder, deliverer *delivery.Deliverer, workers, queueSize int) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:    log.With(slog.String("component", "processor")),
		responder: responder,
		deliverer: deliverer,
		pool:      NewPool(log, workers, queueSize),
	}
}

// Start launches the workers.
func (p *Processor) Start() {
	p.pool.Start()
}

// Stop drains pending work and waits for in-flight tasks.
func (p *Processor) Stop() {
	p.pool.Stop()
}

// Enqueue schedules processing of one inbound message. The task outlives the
// webhook request, so it is detached from the request's cancellation.
func (p *Processor) Enqueue(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) {
	taskCtx := context.WithoutCancel(ctx)
	p.pool.Enqueue(func() {
		p.process(taskCtx, cfg, msg)
	})
}

func (p *Processor) process(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) {
	deltas, err := p.responder.Respond(ctx, upstream.Request{
		Channel:   string(msg.Channel),
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		MessageID: msg.MessageID,
	})
	if err != nil {
		p.deliverer.NotifyError(ctx, cfg, msg, err)
		return
	}
	if err := p.deliverer.Deliver(ctx, cfg, msg, deltas); err != nil {
		p.logger.Error("response delivery failed",
			slog.String("config_id", cfg.ID),
			slog.String("channel", string(cfg.ChannelType)),
			slog.Any("error", err))
	}
}
