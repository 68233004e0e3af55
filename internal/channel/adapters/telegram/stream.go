package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/botgateio/botgate/internal/channel"
)

// Edits are rate limited to one per second and only issued when the content
// changed since the last successful edit.
const editThrottle = time.Second

const finalEditMaxRetries = 3

type outboundStream struct {
	adapter *TelegramAdapter
	cfg     channel.ChannelConfig
	target  string

	// Overridable in tests to exercise the stream logic without the Bot API.
	sendFunc func(target, text string) (chatID int64, msgID int, err error)
	editFunc func(chatID int64, msgID int, text string) error

	closed       atomic.Bool
	mu           sync.Mutex
	buf          strings.Builder
	chatID       int64
	msgID        int
	edited       bool
	lastEdited   string
	lastEditedAt time.Time
}

// Push accumulates the delta and updates the placeholder message, subject to
// the edit throttle.
func (s *outboundStream) Push(ctx context.Context, delta string) error {
	if s.closed.Load() {
		return fmt.Errorf("telegram stream is closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if delta == "" {
		return nil
	}
	s.mu.Lock()
	s.buf.WriteString(delta)
	content := s.buf.String()
	s.mu.Unlock()

	if err := s.ensureMessage(content); err != nil {
		return err
	}
	return s.editMessage(content)
}

// Close guarantees the final text is visible: a last edit when a placeholder
// exists, or a fresh message when no edit ever succeeded.
func (s *outboundStream) Close(ctx context.Context, final string) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	if strings.TrimSpace(final) == "" {
		final = s.buf.String()
	}
	chatID := s.chatID
	msgID := s.msgID
	edited := s.edited
	lastEdited := s.lastEdited
	s.mu.Unlock()

	final = strings.TrimSpace(final)
	if final == "" {
		return nil
	}
	if msgID == 0 {
		_, _, err := s.send(final)
		return err
	}
	if final == lastEdited {
		return nil
	}

	var editErr error
	for attempt := 0; attempt < finalEditMaxRetries; attempt++ {
		editErr = s.edit(chatID, msgID, final)
		if editErr == nil {
			s.mu.Lock()
			s.edited = true
			s.lastEdited = final
			s.mu.Unlock()
			return nil
		}
		if !isTooManyRequests(editErr) {
			break
		}
		d := retryAfter(editErr)
		if d <= 0 {
			d = time.Duration(attempt+1) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	s.adapter.logger.Warn("final stream edit failed",
		slog.String("config_id", s.cfg.ID), slog.Any("error", editErr))
	if !edited {
		// Nothing useful ever reached the user; resend as a new message.
		_, _, sendErr := s.send(final)
		return sendErr
	}
	return nil
}

func (s *outboundStream) ensureMessage(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgID != 0 {
		return nil
	}
	text := strings.TrimSpace(content)
	if text == "" {
		text = "..."
	}
	chatID, msgID, err := s.send(text)
	if err != nil {
		return err
	}
	s.chatID = chatID
	s.msgID = msgID
	s.lastEdited = text
	s.lastEditedAt = time.Now()
	return nil
}

func (s *outboundStream) editMessage(content string) error {
	s.mu.Lock()
	chatID := s.chatID
	msgID := s.msgID
	lastEdited := s.lastEdited
	lastEditedAt := s.lastEditedAt
	s.mu.Unlock()
	if msgID == 0 {
		return nil
	}
	text := strings.TrimSpace(content)
	if text == "" || text == lastEdited {
		return nil
	}
	if time.Since(lastEditedAt) < editThrottle {
		return nil
	}
	if err := s.edit(chatID, msgID, text); err != nil {
		if isTooManyRequests(err) {
			d := retryAfter(err)
			if d <= 0 {
				d = editThrottle
			}
			s.mu.Lock()
			s.lastEditedAt = time.Now().Add(d)
			s.mu.Unlock()
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.edited = true
	s.lastEdited = text
	s.lastEditedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *outboundStream) send(text string) (int64, int, error) {
	if s.sendFunc != nil {
		return s.sendFunc(s.target, text)
	}
	telegramCfg, err := parseConfig(s.cfg.Credentials)
	if err != nil {
		return 0, 0, err
	}
	chatID, err := strconv.ParseInt(s.target, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram target must be a chat id: %w", err)
	}
	bot, err := s.adapter.getOrCreateBot(telegramCfg.BotToken)
	if err != nil {
		return 0, 0, err
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	return sent.Chat.ID, sent.MessageID, nil
}

func (s *outboundStream) edit(chatID int64, msgID int, text string) error {
	if s.editFunc != nil {
		return s.editFunc(chatID, msgID, text)
	}
	telegramCfg, err := parseConfig(s.cfg.Credentials)
	if err != nil {
		return err
	}
	bot, err := s.adapter.getOrCreateBot(telegramCfg.BotToken)
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("%w: %w", channel.ErrDelivery, err)
	}
	return nil
}

func isTooManyRequests(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 429
}

func retryAfter(err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}
