package channel

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfigStore is an in-process ConfigStore for single-instance runs and
// tests.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]ChannelConfig
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		configs: map[string]ChannelConfig{},
	}
}

// GetConfig loads one config by id.
func (s *MemoryConfigStore) GetConfig(_ context.Context, id string) (ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[strings.TrimSpace(id)]
	if !ok {
		return ChannelConfig{}, ErrChannelConfigNotFound
	}
	return cfg, nil
}

// ListConfigsByType returns all configs for a channel type.
func (s *MemoryConfigStore) ListConfigsByType(_ context.Context, channelType ChannelType) ([]ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []ChannelConfig
	for _, cfg := range s.configs {
		if cfg.ChannelType == channelType {
			items = append(items, cfg)
		}
	}
	return items, nil
}

// UpsertConfig inserts or updates a config. A blank id creates a new one.
func (s *MemoryConfigStore) UpsertConfig(_ context.Context, cfg ChannelConfig) (ChannelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
		cfg.CreatedAt = now
	} else if existing, ok := s.configs[cfg.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

// SetDisabled flips the disabled flag on one config.
func (s *MemoryConfigStore) SetDisabled(_ context.Context, id string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[strings.TrimSpace(id)]
	if !ok {
		return ErrChannelConfigNotFound
	}
	cfg.Disabled = disabled
	cfg.UpdatedAt = time.Now()
	s.configs[cfg.ID] = cfg
	return nil
}

// DeleteConfig removes a config.
func (s *MemoryConfigStore) DeleteConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := s.configs[id]; !ok {
		return ErrChannelConfigNotFound
	}
	delete(s.configs, id)
	return nil
}
