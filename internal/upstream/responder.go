// Package upstream talks to the bot service that generates responses for
// inbound messages.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Request is the generation request sent for one inbound message.
type Request struct {
	Channel   string `json:"channel"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
}

// Responder produces a response stream for an inbound message. The returned
// channel yields text deltas and is closed when the response is complete.
type Responder interface {
	Respond(ctx context.Context, req Request) (<-chan string, error)
}

// HTTPResponder streams responses from the bot service over HTTP. The service
// answers POST /respond with a chunked text/plain body; each chunk is
// forwarded as a delta.
type HTTPResponder struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

// NewHTTPResponder creates a responder for the service at baseURL.
func NewHTTPResponder(log *slog.Logger, baseURL string, timeout time.Duration) *HTTPResponder {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPResponder{
		logger:  log.With(slog.String("component", "upstream")),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Respond posts the request and streams the response body line by line.
func (r *HTTPResponder) Respond(ctx context.Context, req Request) (<-chan string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/respond", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	deltas := make(chan string)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		for {
			chunk, err := reader.ReadString('\n')
			if chunk != "" {
				select {
				case deltas <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					r.logger.Warn("upstream stream interrupted", slog.Any("error", err))
				}
				return
			}
		}
	}()
	return deltas, nil
}
