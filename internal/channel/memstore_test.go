package channel

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryConfigStoreCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryConfigStore()

	created, err := store.UpsertConfig(ctx, ChannelConfig{
		ChannelType: TypeTelegram,
		Credentials: map[string]any{"bot_token": "t1"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := store.GetConfig(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ReadString(got.Credentials, "bot_token") != "t1" {
		t.Fatalf("unexpected credentials: %+v", got.Credentials)
	}

	if err := store.SetDisabled(ctx, created.ID, true); err != nil {
		t.Fatalf("set disabled: %v", err)
	}
	got, _ = store.GetConfig(ctx, created.ID)
	if !got.Disabled {
		t.Fatalf("expected disabled config")
	}

	items, err := store.ListConfigsByType(ctx, TypeTelegram)
	if err != nil || len(items) != 1 {
		t.Fatalf("unexpected list result: %v %d", err, len(items))
	}

	if err := store.DeleteConfig(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetConfig(ctx, created.ID); !errors.Is(err, ErrChannelConfigNotFound) {
		t.Fatalf("expected ErrChannelConfigNotFound, got %v", err)
	}
}

func TestMemoryConfigStoreNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryConfigStore()
	if _, err := store.GetConfig(ctx, "missing"); !errors.Is(err, ErrChannelConfigNotFound) {
		t.Fatalf("expected ErrChannelConfigNotFound, got %v", err)
	}
	if err := store.SetDisabled(ctx, "missing", true); !errors.Is(err, ErrChannelConfigNotFound) {
		t.Fatalf("expected ErrChannelConfigNotFound, got %v", err)
	}
	if err := store.DeleteConfig(ctx, "missing"); !errors.Is(err, ErrChannelConfigNotFound) {
		t.Fatalf("expected ErrChannelConfigNotFound, got %v", err)
	}
}
