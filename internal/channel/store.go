package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConfigStore persists channel configurations.
type ConfigStore interface {
	GetConfig(ctx context.Context, id string) (ChannelConfig, error)
	ListConfigsByType(ctx context.Context, channelType ChannelType) ([]ChannelConfig, error)
	UpsertConfig(ctx context.Context, cfg ChannelConfig) (ChannelConfig, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
	DeleteConfig(ctx context.Context, id string) error
}

// OpenPool connects a pgx pool and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return pool, nil
}

// Store is the Postgres-backed ConfigStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Postgres channel-config store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("component", "channel_store")),
	}
}

const configColumns = "id, channel_type, credentials, settings, disabled, created_at, updated_at"

// GetConfig loads one config by id.
func (s *Store) GetConfig(ctx context.Context, id string) (ChannelConfig, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+configColumns+" FROM channel_configs WHERE id = $1", strings.TrimSpace(id))
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChannelConfig{}, ErrChannelConfigNotFound
	}
	return cfg, err
}

// ListConfigsByType returns all configs for a channel type.
func (s *Store) ListConfigsByType(ctx context.Context, channelType ChannelType) ([]ChannelConfig, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+configColumns+" FROM channel_configs WHERE channel_type = $1 ORDER BY created_at",
		channelType.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ChannelConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cfg)
	}
	return items, rows.Err()
}

// UpsertConfig inserts or updates a config. A blank id creates a new one.
func (s *Store) UpsertConfig(ctx context.Context, cfg ChannelConfig) (ChannelConfig, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	credentials, err := json.Marshal(orEmptyMap(cfg.Credentials))
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("marshal credentials: %w", err)
	}
	settings, err := json.Marshal(orEmptyMap(cfg.Settings))
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("marshal settings: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO channel_configs (id, channel_type, credentials, settings, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			channel_type = EXCLUDED.channel_type,
			credentials = EXCLUDED.credentials,
			settings = EXCLUDED.settings,
			disabled = EXCLUDED.disabled,
			updated_at = now()
		RETURNING `+configColumns,
		cfg.ID, cfg.ChannelType.String(), credentials, settings, cfg.Disabled)
	return scanConfig(row)
}

// SetDisabled flips the disabled flag on one config.
func (s *Store) SetDisabled(ctx context.Context, id string, disabled bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE channel_configs SET disabled = $2, updated_at = now() WHERE id = $1",
		strings.TrimSpace(id), disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelConfigNotFound
	}
	return nil
}

// DeleteConfig removes a config.
func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM channel_configs WHERE id = $1", strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelConfigNotFound
	}
	return nil
}

func scanConfig(row pgx.Row) (ChannelConfig, error) {
	var (
		cfg         ChannelConfig
		channelType string
		credentials []byte
		settings    []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(&cfg.ID, &channelType, &credentials, &settings, &cfg.Disabled, &createdAt, &updatedAt); err != nil {
		return ChannelConfig{}, err
	}
	cfg.ChannelType = ChannelType(channelType)
	cfg.CreatedAt = createdAt
	cfg.UpdatedAt = updatedAt

	var err error
	if cfg.Credentials, err = DecodeConfigMap(credentials); err != nil {
		return ChannelConfig{}, err
	}
	if cfg.Settings, err = DecodeConfigMap(settings); err != nil {
		return ChannelConfig{}, err
	}
	return cfg, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
