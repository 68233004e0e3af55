// Package wecom implements the three WeCom adapters: the group-robot webhook
// push, the smart-bot passive-reply protocol, and the enterprise-app push.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/botgateio/botgate/internal/channel"
)

// RobotType is the channel type for group-robot webhook pushes.
const RobotType = channel.TypeWeComWebhook

const robotWebhookURL = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=%s"

type robotConfig struct {
	WebhookURL string
	Key        string
}

func parseRobotConfig(credentials map[string]any) (robotConfig, error) {
	cfg := robotConfig{
		WebhookURL: channel.ReadString(credentials, "webhook_url", "webhookUrl"),
		Key:        channel.ReadString(credentials, "key", "webhook_key"),
	}
	if cfg.WebhookURL == "" && cfg.Key == "" {
		return robotConfig{}, fmt.Errorf("wecom robot webhook_url or key is required")
	}
	return cfg, nil
}

func (c robotConfig) url() string {
	if c.WebhookURL != "" {
		return c.WebhookURL
	}
	return fmt.Sprintf(robotWebhookURL, c.Key)
}

// RobotAdapter pushes markdown messages to a WeCom group-robot webhook.
// Delivery is fire-and-forget: the webhook has no reply channel, so send
// failures are logged and swallowed.
type RobotAdapter struct {
	logger *slog.Logger
	client *http.Client
}

// NewRobotAdapter creates the group-robot adapter.
func NewRobotAdapter(log *slog.Logger) *RobotAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &RobotAdapter{
		logger: log.With(slog.String("adapter", "wecom_webhook")),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Type returns the adapter channel type.
func (a *RobotAdapter) Type() channel.ChannelType {
	return RobotType
}

// Descriptor returns adapter metadata.
func (a *RobotAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        RobotType,
		DisplayName: "WeCom Group Robot",
		Capabilities: channel.Capabilities{
			Push: true,
		},
	}
}

// SendText posts a markdown message to the configured webhook. The target is
// implicit in the webhook URL; the argument is ignored.
func (a *RobotAdapter) SendText(ctx context.Context, cfg channel.ChannelConfig, _ string, text string) error {
	robotCfg, err := parseRobotConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]string{"content": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, robotCfg.url(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("robot webhook push failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.ErrCode != 0 {
		a.logger.Warn("robot webhook push rejected",
			slog.String("config_id", cfg.ID),
			slog.Int("errcode", result.ErrCode),
			slog.String("errmsg", result.ErrMsg))
	}
	return nil
}
